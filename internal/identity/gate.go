package identity

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/auth"
	"servicehours/internal/students"
)

// Onboarding provisions the record of a first-time principal.
type Onboarding interface {
	Provision(ctx context.Context, p students.Profile, isAdmin bool) (students.Record, bool, error)
}

// PolicySource returns the policy in force.
type PolicySource interface {
	Current() Policy
}

// Session is the outcome of a successful sign-in.
type Session struct {
	Principal  Principal       `json:"principal"`
	Student    students.Record `json:"student"`
	IsAdmin    bool            `json:"is_admin"`
	NeedsSetup bool            `json:"needs_setup"`
	Tokens     auth.TokenPair  `json:"tokens"`
}

// SignInInput is what the client sends after the provider popup closes.
type SignInInput struct {
	IDToken  string
	PhotoURL string
}

// Gate turns provider sign-ins into sessions.
type Gate struct {
	verifier   Verifier
	policies   PolicySource
	onboarding Onboarding
	tokens     *auth.Issuer
	revoked    auth.Revocations
	logger     *zap.Logger
}

func NewGate(v Verifier, policies PolicySource, onboarding Onboarding, tokens *auth.Issuer, revoked auth.Revocations, logger *zap.Logger) *Gate {
	return &Gate{
		verifier:   v,
		policies:   policies,
		onboarding: onboarding,
		tokens:     tokens,
		revoked:    revoked,
		logger:     logger,
	}
}

// SignIn verifies the token, applies the policy, provisions the record and
// issues a session. Nothing is written unless the policy admits the email.
func (g *Gate) SignIn(ctx context.Context, in SignInInput) (Session, error) {
	if strings.TrimSpace(in.IDToken) == "" {
		return Session{}, apperr.Validation("id_token is required")
	}
	principal, err := g.verifier.Verify(ctx, in.IDToken)
	if err != nil {
		if !errors.Is(err, apperr.ErrAuthProviderFailure) {
			err = &apperr.Error{Kind: apperr.ErrAuthProviderFailure, Message: "sign-in failed", Cause: err}
		}
		g.logger.Warn("provider sign-in failed", zap.Error(err))
		return Session{}, err
	}
	if principal.PhotoURL == "" {
		principal.PhotoURL = strings.TrimSpace(in.PhotoURL)
	}

	policy := g.policies.Current()
	if !policy.Admits(principal.Email) {
		g.logger.Warn("sign-in rejected by domain policy", zap.String("email", principal.Email))
		return Session{}, &apperr.Error{
			Kind:    apperr.ErrAuthDomainRejected,
			Message: "please sign in with your institutional email address",
		}
	}
	role := policy.RoleOf(principal.Email)
	isAdmin := role == RoleAdmin

	rec, created, err := g.onboarding.Provision(ctx, students.Profile{
		UID:      principal.UID,
		Email:    principal.Email,
		Name:     principal.DisplayName,
		PhotoURL: principal.PhotoURL,
	}, isAdmin)
	if err != nil {
		g.logger.Error("provisioning failed", zap.String("uid", principal.UID), zap.Error(err))
		return Session{}, err
	}

	pair, err := g.tokens.Issue(principal.UID, principal.Email, string(role))
	if err != nil {
		return Session{}, apperr.Write("issue session", err)
	}
	g.logger.Info("signed in",
		zap.String("uid", principal.UID),
		zap.String("role", string(role)),
		zap.Bool("first_sign_in", created),
	)
	return Session{
		Principal:  principal,
		Student:    rec,
		IsAdmin:    isAdmin,
		NeedsSetup: !isAdmin && !rec.HasCompletedSetup,
		Tokens:     pair,
	}, nil
}

// Refresh exchanges a refresh token for a new pair and revokes the old one.
// The policy is applied again, so a removed address cannot renew.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := g.tokens.Parse(refreshToken, auth.TypeRefresh)
	if err != nil {
		return auth.TokenPair{}, &apperr.Error{Kind: apperr.ErrUnauthenticated, Message: "invalid refresh token", Cause: err}
	}
	if g.revoked != nil {
		revoked, err := g.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return auth.TokenPair{}, apperr.Write("check revocation", err)
		}
		if revoked {
			return auth.TokenPair{}, &apperr.Error{Kind: apperr.ErrUnauthenticated, Message: "session has ended"}
		}
	}

	policy := g.policies.Current()
	if !policy.Admits(claims.Email) {
		return auth.TokenPair{}, &apperr.Error{Kind: apperr.ErrAuthDomainRejected, Message: "this address may no longer sign in"}
	}
	pair, err := g.tokens.Issue(claims.Subject, claims.Email, string(policy.RoleOf(claims.Email)))
	if err != nil {
		return auth.TokenPair{}, apperr.Write("issue session", err)
	}
	if err := g.revoke(ctx, claims); err != nil {
		return auth.TokenPair{}, err
	}
	return pair, nil
}

// SignOut ends the session by revoking every given token until it expires.
func (g *Gate) SignOut(ctx context.Context, tokens ...auth.Claims) error {
	for _, c := range tokens {
		if err := g.revoke(ctx, c); err != nil {
			return err
		}
	}
	if len(tokens) > 0 {
		g.logger.Info("signed out", zap.String("uid", tokens[0].Subject))
	}
	return nil
}

func (g *Gate) revoke(ctx context.Context, c auth.Claims) error {
	if g.revoked == nil || c.ID == "" || c.ExpiresAt == nil {
		return nil
	}
	if err := g.revoked.Revoke(ctx, c.ID, c.ExpiresAt.Time); err != nil {
		return apperr.Write("revoke session", err)
	}
	return nil
}

// ParseRefresh returns the claims of a refresh token, for sign-out.
func (g *Gate) ParseRefresh(token string) (auth.Claims, error) {
	return g.tokens.Parse(token, auth.TypeRefresh)
}
