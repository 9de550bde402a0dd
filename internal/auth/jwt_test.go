package auth

import (
	"errors"
	"testing"
	"time"

	"servicehours/internal/config"
)

func newTestIssuer() *Issuer {
	return NewIssuer(config.AuthConfig{
		JWTIssuer:     "servicehours",
		JWTSigningKey: "test-signing-key-for-unit-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
}

func TestIssueAndParse(t *testing.T) {
	iss := newTestIssuer()

	pair, err := iss.Issue("uid-1", "021bim01@sxc.edu.np", "student")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	access, err := iss.Parse(pair.AccessToken, TypeAccess)
	if err != nil {
		t.Fatalf("Parse access: %v", err)
	}
	if access.Subject != "uid-1" || access.Email != "021bim01@sxc.edu.np" || access.Role != "student" {
		t.Errorf("claims = %+v", access)
	}
	if access.Issuer != "servicehours" || access.ID == "" {
		t.Errorf("registered claims = %+v", access.RegisteredClaims)
	}

	refresh, err := iss.Parse(pair.RefreshToken, TypeRefresh)
	if err != nil {
		t.Fatalf("Parse refresh: %v", err)
	}
	if refresh.ID == access.ID {
		t.Error("access and refresh share a token id")
	}
	if ttl := time.Until(refresh.ExpiresAt.Time); ttl < 6*24*time.Hour || ttl > 8*24*time.Hour {
		t.Errorf("refresh ttl = %v", ttl)
	}
}

func TestParseRejects(t *testing.T) {
	iss := newTestIssuer()
	pair, _ := iss.Issue("uid-1", "a@sxc.edu.np", "student")

	if _, err := iss.Parse(pair.RefreshToken, TypeAccess); !errors.Is(err, ErrWrongType) {
		t.Errorf("refresh as access: err = %v", err)
	}
	if _, err := iss.Parse("invalid.token.string", TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v", err)
	}

	other := NewIssuer(config.AuthConfig{JWTIssuer: "servicehours", JWTSigningKey: "a-different-signing-key", AccessTTL: time.Minute})
	if _, err := other.Parse(pair.AccessToken, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong key: err = %v", err)
	}

	foreign := NewIssuer(config.AuthConfig{JWTIssuer: "someone-else", JWTSigningKey: "test-signing-key-for-unit-tests", AccessTTL: time.Minute})
	if _, err := iss.Parse(mustIssue(t, foreign).AccessToken, TypeAccess); err == nil {
		t.Error("foreign issuer accepted")
	}
}

func TestParseExpired(t *testing.T) {
	iss := newTestIssuer()
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	pair := mustIssue(t, iss)

	iss.now = time.Now
	if _, err := iss.Parse(pair.AccessToken, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v", err)
	}
}

func mustIssue(t *testing.T, iss *Issuer) TokenPair {
	t.Helper()
	pair, err := iss.Issue("uid-1", "a@sxc.edu.np", "student")
	if err != nil {
		t.Fatal(err)
	}
	return pair
}
