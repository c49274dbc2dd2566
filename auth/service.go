package auth

import (
	"context"
	"time"

	"airlock.evalgo.org/common"
)

// Service ties credential verification, session tokens, and the
// capability cache together.
type Service struct {
	authenticator Authenticator
	tokens        *TokenService
	cache         CapabilityCache
}

// NewService creates the identity service.
func NewService(authenticator Authenticator, tokens *TokenService, cache CapabilityCache) *Service {
	return &Service{authenticator: authenticator, tokens: tokens, cache: cache}
}

// Tokens exposes the session token service for middleware wiring.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login verifies credentials, caches the resolved capability view, and
// mints a session token.
func (s *Service) Login(ctx context.Context, username, token string) (*User, string, error) {
	user, err := s.authenticator.Authenticate(ctx, username, token)
	if err != nil {
		return nil, "", err
	}
	if err := s.cache.Set(ctx, user); err != nil {
		common.Logger.WithError(err).WithField("user", username).
			Warn("failed to cache capability view")
	}
	session, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, session, nil
}

// Resolve turns validated session claims into the acting user. A cached
// capability view wins because it may be fresher than the one embedded
// at login; on a miss the claims themselves are authoritative for the
// rest of the token lifetime.
func (s *Service) Resolve(ctx context.Context, claims *Claims) (*User, error) {
	cached, err := s.cache.Get(ctx, claims.Username)
	if err != nil {
		common.Logger.WithError(err).WithField("user", claims.Username).
			Warn("authz cache read failed, using token claims")
	}
	if cached != nil {
		return cached, nil
	}

	workspaces := make(map[string]WorkspaceDetails, len(claims.Workspaces))
	for _, name := range claims.Workspaces {
		workspaces[name] = WorkspaceDetails{}
	}
	user := &User{
		ID:            claims.UserID,
		Username:      claims.Username,
		Workspaces:    workspaces,
		OutputChecker: claims.OutputChecker,
		ResolvedAt:    time.Now().UTC(),
	}
	if err := s.cache.Set(ctx, user); err != nil {
		common.Logger.WithError(err).WithField("user", claims.Username).
			Warn("failed to cache capability view")
	}
	return user, nil
}
