package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Issuer mints a brand-new token. *Authenticator is the production implementation.
type Issuer interface {
	Authenticate(ctx context.Context) (string, error)
}

// Session holds the current AuthToken shared by every request of a client.
// The token is replaced wholesale on refresh and never partially updated.
type Session struct {
	mu    sync.RWMutex
	token string

	issuer Issuer
	group  singleflight.Group
	logger *slog.Logger

	// onChange is called after each new token is stored, outside the lock.
	onChange func(token string)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithInitialToken seeds the session with a previously issued token, e.g. one
// restored from a token cache. Its validity is discovered on first use.
func WithInitialToken(token string) SessionOption {
	return func(s *Session) {
		s.token = token
	}
}

// WithTokenChange registers fn to observe every newly issued token.
func WithTokenChange(fn func(token string)) SessionOption {
	return func(s *Session) {
		s.onChange = fn
	}
}

// NewSession creates a session backed by issuer.
func NewSession(issuer Issuer, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{issuer: issuer, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Token returns the current token, authenticating first if none was issued yet.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()

	if tok != "" {
		return tok, nil
	}

	return s.Refresh(ctx, "")
}

// Refresh replaces the token that a caller saw rejected (stale). Concurrent
// callers share one authentication round-trip. If the current token already
// differs from stale, another caller refreshed it and it is returned as is.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	v, err, shared := s.group.Do("refresh", func() (any, error) {
		s.mu.RLock()
		current := s.token
		s.mu.RUnlock()

		if current != "" && current != stale {
			return current, nil
		}

		tok, err := s.issuer.Authenticate(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()

		if s.onChange != nil {
			s.onChange(tok)
		}

		return tok, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: refreshing token: %w", err)
	}

	if shared {
		s.logger.Debug("token refresh shared with concurrent caller")
	}

	tok, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("auth: unexpected refresh result %T", v)
	}

	return tok, nil
}
