package api

import "strings"

// Viewer is what the navigation guard knows about the caller.
type Viewer struct {
	SignedIn   bool
	IsAdmin    bool
	NeedsSetup bool
}

// ResolveRoute returns the page a browser navigating to path should end up
// on, following redirects until the result is stable.
func ResolveRoute(path string, v Viewer) string {
	path = cleanPath(path)
	for i := 0; i < 4; i++ {
		next := redirect(path, v)
		if next == path {
			break
		}
		path = next
	}
	return path
}

func redirect(path string, v Viewer) string {
	switch path {
	case "/":
		if v.SignedIn {
			return "/dashboard"
		}
		return "/"
	case "/dashboard":
		if !v.SignedIn {
			return "/"
		}
		if v.NeedsSetup {
			return "/options"
		}
		return path
	case "/options", "/profile":
		if !v.SignedIn {
			return "/"
		}
		return path
	case "/admin":
		if !v.SignedIn {
			return "/"
		}
		if !v.IsAdmin {
			return "/dashboard"
		}
		return path
	default:
		return "/"
	}
}

func cleanPath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
