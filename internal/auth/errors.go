// Package auth implements the two Anaplan authentication protocols (HTTP
// Basic and CA certificate challenge-response) and the shared session that
// holds the current AuthToken.
package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, auth.ErrInvalidPrivateKey) to check.
var (
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrInvalidPrivateKey     = errors.New("auth: invalid private key")
	ErrIncompleteCredentials = errors.New(
		"auth: either certificate and private key or email and password must be provided")
)

// KeyError describes why certificate or private key material could not be
// loaded. It always matches ErrInvalidPrivateKey via errors.Is.
type KeyError struct {
	Reason string
	Err    error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: invalid private key: %s: %v", e.Reason, e.Err)
	}

	return "auth: invalid private key: " + e.Reason
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// Is reports KeyError as ErrInvalidPrivateKey regardless of the wrapped cause.
func (e *KeyError) Is(target error) bool {
	return target == ErrInvalidPrivateKey
}

// StatusError is returned when the authentication endpoint answers with a
// non-2xx status other than 401.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("auth: authentication endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}
