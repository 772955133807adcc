package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWorkspace = "ws1"
	testModel     = "model1"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeTokens issues "tok-1" first and "tok-N+1" after the Nth refresh.
type fakeTokens struct {
	mu         sync.Mutex
	current    string
	refreshes  int
	refreshErr error
	tokenErr   error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{current: "tok-1"}
}

func (f *fakeTokens) Token(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tokenErr != nil {
		return "", f.tokenErr
	}

	return f.current, nil
}

func (f *fakeTokens) Refresh(_ context.Context, stale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshErr != nil {
		return "", f.refreshErr
	}

	if f.current != stale {
		return f.current, nil
	}

	f.refreshes++
	f.current = fmt.Sprintf("tok-%d", f.refreshes+1)

	return f.current, nil
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refreshes
}

// newTestClient creates a Client pointing at the given httptest server
// with instant poll sleeps for fast tests.
func newTestClient(t *testing.T, url string, tokens TokenSource, opts Options) *Client {
	t.Helper()

	if opts.WorkspaceID == "" {
		opts.WorkspaceID = testWorkspace
	}

	if opts.ModelID == "" {
		opts.ModelID = testModel
	}

	c := NewClient(url, http.DefaultClient, tokens, testLogger(t), opts)
	c.sleepFunc = noopSleep

	return c
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AnaplanAuthToken tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, newFakeTokens(), Options{})
	resp, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/workspaces"})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"value":"ok"}`, string(body))
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrUnknownIdentifier},
		{"conflict", http.StatusConflict, ErrConflict},
		{"throttled", http.StatusTooManyRequests, ErrThrottled},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"unavailable", http.StatusServiceUnavailable, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("details"))
			}))
			defer srv.Close()

			tokens := newFakeTokens()
			client := newTestClient(t, srv.URL, tokens, Options{})
			_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "/x", apiErr.Path)
			assert.Equal(t, "details", apiErr.Message)

			assert.Equal(t, int32(1), calls.Load(), "only 401 is retried")
			assert.Zero(t, tokens.refreshCount())
		})
	}
}

func TestDo_UnclassifiedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, newFakeTokens(), Options{})
	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Nil(t, apiErr.Err)
	assert.Contains(t, apiErr.Error(), "HTTP 418")
}

func TestDo_ReauthenticatesOnceOn401(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		auths  []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(body))
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()

		if r.Header.Get("Authorization") != "AnaplanAuthToken tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := newFakeTokens()
	client := newTestClient(t, srv.URL, tokens, Options{})

	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/x",
		Body:   []byte(`{"chunkCount":3}`),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, tokens.refreshCount())
	assert.Equal(t, []string{"AnaplanAuthToken tok-1", "AnaplanAuthToken tok-2"}, auths)
	assert.Equal(t, []string{`{"chunkCount":3}`, `{"chunkCount":3}`}, bodies, "retry resends the identical body")
}

func TestDo_SecondUnauthorizedPropagates(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := newFakeTokens()
	client := newTestClient(t, srv.URL, tokens, Options{})

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, tokens.refreshCount())
}

func TestDo_RefreshFailureIsReturned(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	errBadCreds := errors.New("invalid credentials")
	tokens := newFakeTokens()
	tokens.refreshErr = errBadCreds

	client := newTestClient(t, srv.URL, tokens, Options{})

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBadCreds)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load(), "no retry without a new token")
}

func TestDo_TokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	tokens := newFakeTokens()
	tokens.tokenErr = errors.New("cannot authenticate")

	client := newTestClient(t, srv.URL, tokens, Options{})
	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obtaining token")
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL, newFakeTokens(), Options{})
	_, err := client.Do(ctx, Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ContentTypeAndLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentTypeGzip, r.Header.Get("Content-Type"))
		assert.Equal(t, int64(5), r.ContentLength)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, newFakeTokens(), Options{})
	resp, err := client.Do(context.Background(), Request{
		Method:      http.MethodPut,
		Path:        "/x",
		Body:        []byte("hello"),
		ContentType: contentTypeGzip,
	})
	require.NoError(t, err)
	resp.Body.Close()
}

// countingLimiter records how many bodies pass through it.
type countingLimiter struct {
	wraps atomic.Int32
}

func (l *countingLimiter) WrapReader(_ context.Context, r io.Reader) io.Reader {
	l.wraps.Add(1)
	return r
}

func TestDo_LimiterWrapsBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	client := newTestClient(t, srv.URL, newFakeTokens(), Options{Limiter: limiter})

	resp, err := client.Do(context.Background(), Request{Method: http.MethodPut, Path: "/x", Body: []byte("payload")})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), limiter.wraps.Load(), "bodiless requests are not throttled")
}

func TestModelPath_Escapes(t *testing.T) {
	c := NewClient("", nil, newFakeTokens(), nil, Options{WorkspaceID: "a b", ModelID: "m/1"})
	assert.Equal(t, "/workspaces/a%20b/models/m%2F1/files/7", c.modelPath("files", "7"))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", nil, newFakeTokens(), nil, Options{})
	assert.Equal(t, defaultPollDelay, c.pollDelay)
	assert.Equal(t, defaultWorkers, c.workers)
	assert.Equal(t, int64(defaultChunkSize), c.chunkSize)
	assert.IsType(t, NopRecorder{}, c.recorder)
}

func TestTimeSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, timeSleep(context.Background(), time.Millisecond))
}
