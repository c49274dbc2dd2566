package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the session token claims. The capability view is embedded
// so request handling does not re-resolve identity on every call; the
// authz cache refreshes it when stale.
type Claims struct {
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	OutputChecker bool     `json:"output_checker"`
	Workspaces    []string `json:"workspaces"`
	jwt.RegisteredClaims
}

// TokenService mints and validates session tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
}

// NewTokenService creates a token service. The lifetime mirrors the
// original eight-week session age unless configured otherwise.
func NewTokenService(secret string, lifetime time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		lifetime: lifetime,
		issuer:   "airlock.evalgo.org",
	}
}

// Secret exposes the signing key for the echo-jwt middleware.
func (s *TokenService) Secret() []byte { return s.secret }

// GenerateToken mints a session token for a resolved user.
func (s *TokenService) GenerateToken(user *User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:        user.ID,
		Username:      user.Username,
		OutputChecker: user.OutputChecker,
		Workspaces:    user.WorkspaceNames(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a session token and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredToken
	}
	return claims, nil
}
