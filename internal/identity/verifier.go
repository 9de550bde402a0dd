package identity

import (
	"context"
	"strings"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"

	"servicehours/internal/apperr"
)

// Principal is the identity the provider vouched for.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Verifier checks a provider ID token.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Principal, error)
}

// GoogleVerifier verifies Google ID tokens against the configured client ids.
type GoogleVerifier struct {
	clientIDs []string
	check     func(idToken string, audience []string) error
	decode    func(idToken string) (*googleAuthIDTokenVerifier.ClaimSet, error)
}

func NewGoogleVerifier(clientIDs []string) *GoogleVerifier {
	v := &googleAuthIDTokenVerifier.Verifier{}
	return &GoogleVerifier{
		clientIDs: clientIDs,
		check:     v.VerifyIDToken,
		decode:    googleAuthIDTokenVerifier.Decode,
	}
}

func (g *GoogleVerifier) Verify(_ context.Context, idToken string) (Principal, error) {
	if len(g.clientIDs) == 0 {
		return Principal{}, &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "google sign-in is not configured"}
	}
	if err := g.check(idToken, g.clientIDs); err != nil {
		return Principal{}, &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "google sign-in could not be verified", Cause: err}
	}
	claims, err := g.decode(idToken)
	if err != nil {
		return Principal{}, &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "google token could not be decoded", Cause: err}
	}
	if claims.Sub == "" || claims.Email == "" {
		return Principal{}, &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "google token lacks subject or email"}
	}
	if !claims.EmailVerified {
		return Principal{}, &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "google has not verified this email address"}
	}
	return Principal{
		UID:         claims.Sub,
		Email:       strings.ToLower(claims.Email),
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}
