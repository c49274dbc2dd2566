package auth

import "errors"

var (
	// ErrLoginFailed means the credentials were rejected.
	ErrLoginFailed = errors.New("login failed")

	// ErrInvalidToken means the session token failed validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken means the session token has expired.
	ErrExpiredToken = errors.New("token expired")
)
