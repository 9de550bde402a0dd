package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// RoleChecker decides administrator rights from the current policy.
type RoleChecker interface {
	IsAdmin(email string) bool
}

// Middleware guards routes with session tokens.
type Middleware struct {
	issuer  *Issuer
	revoked Revocations
}

func NewMiddleware(issuer *Issuer, revoked Revocations) *Middleware {
	return &Middleware{issuer: issuer, revoked: revoked}
}

// RequireSession enforces a valid, unrevoked access token. The token comes
// from the Authorization bearer header, or from the access_token query
// parameter when allowQuery is set (browsers cannot set headers on WebSockets).
func (m *Middleware) RequireSession(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.authenticate(c, allowQuery)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OptionalSession stores claims when a valid token is present and lets the
// request through either way.
func (m *Middleware) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := m.authenticate(c, false); ok {
			c.Set(claimsKey, claims)
		}
		c.Next()
	}
}

func (m *Middleware) authenticate(c *gin.Context, allowQuery bool) (Claims, bool) {
	tokenStr := bearer(c.GetHeader("Authorization"))
	if tokenStr == "" && allowQuery {
		tokenStr = c.Query("access_token")
	}
	if tokenStr == "" {
		return Claims{}, false
	}
	claims, err := m.issuer.Parse(tokenStr, TypeAccess)
	if err != nil {
		return Claims{}, false
	}
	if m.revoked != nil {
		revoked, err := m.revoked.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil || revoked {
			return Claims{}, false
		}
	}
	return claims, true
}

// RequireAdmin must run after RequireSession. It asks the policy on every
// request, so a demoted administrator loses access before the token expires.
func RequireAdmin(roles RoleChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !roles.IsAdmin(claims.Email) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator access required"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireSession or OptionalSession.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func bearer(header string) string {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}
