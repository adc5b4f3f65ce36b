// Package auth runs the organisation and token handshake with the gateway
// and owns the resulting credential.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// Gateway is the part of the gateway client the session needs.
type Gateway interface {
	CreateOrganisation(ctx context.Context) (string, error)
	ExchangeToken(ctx context.Context, apiKey string) (string, error)
}

// Credential is the current API key and bearer token.
type Credential struct {
	APIKey      string
	BearerToken string
	// ExpiresAt is read from the token's exp claim when it is a JWT.
	ExpiresAt time.Time
}

// Authenticated reports whether a bearer token is present.
func (c Credential) Authenticated() bool {
	return c.BearerToken != ""
}

// Expired reports whether the token carries an expiry before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Session holds a single credential. Writers replace it wholesale.
type Session struct {
	gateway Gateway
	logger  *logger.Logger

	mu   sync.RWMutex
	cred Credential
}

// NewSession creates an unauthenticated session.
func NewSession(gateway Gateway, log *logger.Logger) *Session {
	return &Session{
		gateway: gateway,
		logger:  log.WithComponent("auth"),
	}
}

// CreateOrganization creates an organisation and stores its API key.
// Any previous token is discarded.
func (s *Session) CreateOrganization(ctx context.Context) (string, error) {
	ctx = logger.WithOperation(ctx, "create_organisation")

	apiKey, err := s.gateway.CreateOrganisation(ctx)
	if err != nil {
		s.logger.ErrorCtx(ctx, "organisation creation failed", err)
		return "", err
	}

	s.mu.Lock()
	s.cred = Credential{APIKey: apiKey}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "organisation created")
	return apiKey, nil
}

// ExchangeToken trades apiKey for a bearer token and stores both.
// An empty key fails without contacting the gateway.
func (s *Session) ExchangeToken(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", apperrors.NewAuthError(apperrors.ErrCodeMissingAPIKey, "api key is required", false, nil)
	}
	ctx = logger.WithOperation(ctx, "exchange_token")

	token, err := s.gateway.ExchangeToken(ctx, apiKey)
	if err != nil {
		s.logger.ErrorCtx(ctx, "token exchange failed", err)
		return "", err
	}

	cred := Credential{APIKey: apiKey, BearerToken: token, ExpiresAt: tokenExpiry(token)}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	if cred.ExpiresAt.IsZero() {
		s.logger.InfoContext(ctx, "bearer token acquired")
	} else {
		s.logger.InfoContext(ctx, "bearer token acquired", "expires_at", cred.ExpiresAt)
	}
	return token, nil
}

// Authenticate creates an organisation and exchanges its key for a token.
// A failure in the first step is returned unchanged.
func (s *Session) Authenticate(ctx context.Context) (string, error) {
	apiKey, err := s.CreateOrganization(ctx)
	if err != nil {
		return "", err
	}
	return s.ExchangeToken(ctx, apiKey)
}

// Token returns the current bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.BearerToken
}

// Credential returns a copy of the current credential.
func (s *Session) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Restore installs a previously obtained token without contacting the gateway.
func (s *Session) Restore(apiKey, token string) {
	s.mu.Lock()
	s.cred = Credential{APIKey: apiKey, BearerToken: token, ExpiresAt: tokenExpiry(token)}
	s.mu.Unlock()
}

// Reset drops the credential.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cred = Credential{}
	s.mu.Unlock()
}

// tokenExpiry reads exp without verifying the signature; the gateway is the verifier.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
