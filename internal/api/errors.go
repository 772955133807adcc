// Package api provides an HTTP client for the Anaplan Integration API v2:
// authenticated requests with one-shot reauthentication, action invocation and
// task polling, chunked file upload, and the read-only listing endpoints.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification and domain failures.
// Use errors.Is(err, api.ErrUnknownIdentifier) to check.
var (
	ErrBadRequest        = errors.New("api: bad request")
	ErrUnauthorized      = errors.New("api: unauthorized")
	ErrForbidden         = errors.New("api: forbidden")
	ErrUnknownIdentifier = errors.New("api: unknown identifier")
	ErrConflict          = errors.New("api: conflict")
	ErrThrottled         = errors.New("api: throttled")
	ErrServerError       = errors.New("api: server error")
	ErrActionFailed      = errors.New("api: action completed with errors")
)

// APIError wraps a sentinel error with the HTTP status, the request that
// produced it, and the response body for debugging.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	return fmt.Sprintf("api: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ActionError reports a task that reached a terminal state without success.
// It matches ErrActionFailed via errors.Is.
type ActionError struct {
	ActionID ActionID
	TaskID   string
	State    TaskState
	Details  []TaskDetail
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("api: task '%s' of action %d completed with errors (state %s)", e.TaskID, e.ActionID, e.State)

	if len(e.Details) > 0 && e.Details[0].Message != "" {
		msg += ": " + e.Details[0].Message
	}

	return msg
}

func (e *ActionError) Unwrap() error {
	return ErrActionFailed
}

// ChunkError identifies the chunk whose transmission failed an upload.
type ChunkError struct {
	FileID int64
	Index  int
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("api: uploading chunk %d of file %d: %v", e.Index, e.FileID, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrUnknownIdentifier
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
