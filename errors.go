package anaplan

import (
	"github.com/tonimelisma/anaplan-go/internal/api"
	"github.com/tonimelisma/anaplan-go/internal/auth"
)

// Sentinel errors. Use errors.Is(err, anaplan.ErrUnknownIdentifier) to check.
var (
	ErrInvalidCredentials    = auth.ErrInvalidCredentials
	ErrInvalidPrivateKey     = auth.ErrInvalidPrivateKey
	ErrIncompleteCredentials = auth.ErrIncompleteCredentials

	ErrUnknownIdentifier = api.ErrUnknownIdentifier
	ErrActionFailed      = api.ErrActionFailed
	ErrBadRequest        = api.ErrBadRequest
	ErrUnauthorized      = api.ErrUnauthorized
	ErrForbidden         = api.ErrForbidden
	ErrConflict          = api.ErrConflict
	ErrThrottled         = api.ErrThrottled
	ErrServerError       = api.ErrServerError
)

// Structured errors. Use errors.As to inspect them.
type (
	// APIError is a non-2xx response from the API.
	APIError = api.APIError
	// ActionError is a task that completed without success.
	ActionError = api.ActionError
	// ChunkError names the chunk that failed an upload.
	ChunkError = api.ChunkError
	// KeyError explains why a private key could not be used.
	KeyError = auth.KeyError
	// AuthStatusError is an unexpected status from the authentication endpoint.
	AuthStatusError = auth.StatusError
)
