package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator verifies credentials and resolves the user's capability
// view. Implementations: the dev users file below and the Jobs site API
// client.
type Authenticator interface {
	Authenticate(ctx context.Context, username, token string) (*User, error)
}

// devUserRecord is one entry of the dev users JSON file:
//
//	{"alice": {"token": "...", "details": {"output_checker": true,
//	    "workspaces": {"ws1": {"project_name": "P1"}}}}}
//
// The token is either a bcrypt hash or a plaintext secret.
type devUserRecord struct {
	Token   string `json:"token"`
	Details struct {
		OutputChecker bool                        `json:"output_checker"`
		Workspaces    map[string]WorkspaceDetails `json:"workspaces"`
	} `json:"details"`
}

// DevUsersAuthenticator authenticates against a local JSON file. It
// stands in for the Jobs site API in development and test deployments
// and must not be configured together with a Jobs API token.
type DevUsersAuthenticator struct {
	users map[string]devUserRecord
}

// NewDevUsersAuthenticator loads the dev users file.
func NewDevUsersAuthenticator(path string) (*DevUsersAuthenticator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dev users file: %w", err)
	}
	users := map[string]devUserRecord{}
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("failed to parse dev users file %s: %w", path, err)
	}
	return &DevUsersAuthenticator{users: users}, nil
}

// Authenticate checks the username and token against the file.
func (a *DevUsersAuthenticator) Authenticate(_ context.Context, username, token string) (*User, error) {
	record, ok := a.users[username]
	if !ok {
		return nil, ErrLoginFailed
	}
	if !tokenMatches(record.Token, token) {
		return nil, ErrLoginFailed
	}

	workspaces := record.Details.Workspaces
	if workspaces == nil {
		workspaces = map[string]WorkspaceDetails{}
	}
	return &User{
		ID:            username,
		Username:      username,
		Workspaces:    workspaces,
		OutputChecker: record.Details.OutputChecker,
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// tokenMatches compares the stored token against the presented one.
// Stored bcrypt hashes are verified with bcrypt; anything else is a
// plaintext secret compared in constant time.
func tokenMatches(stored, presented string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// HashToken bcrypt-hashes a token for storage in a dev users file.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
