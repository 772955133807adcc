package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/anaplan-go/internal/tokenfile"
)

const (
	// maxAttempts bounds every request to one reauthentication retry.
	maxAttempts      = 2
	userAgent        = "anaplan-go/0.1"
	contentTypeJSON  = "application/json"
	defaultPollDelay = time.Second
	defaultWorkers   = 4
	defaultChunkSize = 25_000_000
	defaultLocale    = "en_US"
	maxErrorBody     = 64 << 10
)

// TokenSource provides the current auth token and replaces a token the
// server rejected. Defined at the consumer per Go convention "accept
// interfaces, return structs". *auth.Session is the production implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// BodyLimiter throttles request bodies. *bandwidth.Limiter implements it.
type BodyLimiter interface {
	WrapReader(ctx context.Context, r io.Reader) io.Reader
}

// Options carries the model coordinates and tuning of a Client.
type Options struct {
	WorkspaceID string
	ModelID     string

	// PollDelay is the fixed wait between task status polls. Zero or less
	// selects the 1s default.
	PollDelay time.Duration

	// UploadWorkers bounds concurrent chunk uploads. 1 uploads sequentially.
	UploadWorkers int

	// ChunkSize is the raw (pre-compression) size of each upload chunk.
	// Zero or less selects the 25MB default.
	ChunkSize int64

	Limiter  BodyLimiter
	Recorder Recorder
}

// Request is one API call. Body is a byte slice so every attempt sends an
// identical payload.
type Request struct {
	Method      string
	Path        string // appended to the base URL
	Body        []byte
	ContentType string
	Accept      string
}

// outcome classifies a single attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeAuthExpired
	outcomeFailure
)

func classifyOutcome(code int) outcome {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return outcomeSuccess
	case code == http.StatusUnauthorized:
		return outcomeAuthExpired
	default:
		return outcomeFailure
	}
}

// Client is an HTTP client for one Anaplan model. It handles request
// construction, authentication with one-shot reauthentication, and error
// classification. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger

	workspaceID string
	modelID     string
	pollDelay   time.Duration
	workers     int
	chunkSize   int64
	limiter     BodyLimiter
	recorder    Recorder

	// sleepFunc waits between task polls. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// newUploadID names upload runs for logs and the recorder.
	newUploadID func() string
}

// NewClient creates an API client. baseURL is typically
// "https://api.anaplan.com/2/0".
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if opts.PollDelay <= 0 {
		opts.PollDelay = defaultPollDelay
	}

	if opts.UploadWorkers < 1 {
		opts.UploadWorkers = defaultWorkers
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		tokens:      tokens,
		logger:      logger,
		workspaceID: opts.WorkspaceID,
		modelID:     opts.ModelID,
		pollDelay:   opts.PollDelay,
		workers:     opts.UploadWorkers,
		chunkSize:   opts.ChunkSize,
		limiter:     opts.Limiter,
		recorder:    opts.Recorder,
		sleepFunc:   timeSleep,
		newUploadID: newUploadID,
	}
}

// WorkspaceID returns the workspace this client addresses.
func (c *Client) WorkspaceID() string { return c.workspaceID }

// ModelID returns the model this client addresses.
func (c *Client) ModelID() string { return c.modelID }

// Do executes a request. A 401 on the first attempt refreshes the token and
// re-issues the request once; a 401 on the second attempt is returned. Any
// other non-2xx status is returned as *APIError without a retry. The caller
// is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	target := c.baseURL + r.Path

	for attempt := 1; ; attempt++ {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("api: %s %s: obtaining token: %w", r.Method, r.Path, err)
		}

		resp, err := c.doOnce(ctx, r, target, tok)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			return nil, fmt.Errorf("api: %s %s: %w", r.Method, r.Path, err)
		}

		switch classifyOutcome(resp.StatusCode) {
		case outcomeSuccess:
			c.logger.Debug("request succeeded",
				slog.String("method", r.Method),
				slog.String("path", r.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)

			return resp, nil

		case outcomeAuthExpired:
			if attempt >= maxAttempts {
				return nil, c.responseError(r, resp)
			}

			drain(resp)

			c.logger.Warn("token rejected, reauthenticating",
				slog.String("method", r.Method),
				slog.String("path", r.Path),
			)

			if _, err := c.tokens.Refresh(ctx, tok); err != nil {
				return nil, fmt.Errorf("api: %s %s: reauthenticating: %w", r.Method, r.Path, err)
			}

		case outcomeFailure:
			return nil, c.responseError(r, resp)
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, r Request, target, tok string) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
		if c.limiter != nil {
			body = c.limiter.WrapReader(ctx, body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.ContentLength = int64(len(r.Body))

	tokenfile.NewToken(tok).SetAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	if r.Body != nil {
		contentType := r.ContentType
		if contentType == "" {
			contentType = contentTypeJSON
		}

		req.Header.Set("Content-Type", contentType)
	}

	if r.Accept != "" {
		req.Header.Set("Accept", r.Accept)
	}

	return c.httpClient.Do(req)
}

// responseError consumes an error response and builds the *APIError for it.
func (c *Client) responseError(r Request, resp *http.Response) error {
	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Debug("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", resp.StatusCode),
	)

	return &APIError{
		StatusCode: resp.StatusCode,
		Method:     r.Method,
		Path:       r.Path,
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Accept: contentTypeJSON})
	if err != nil {
		return err
	}

	return decodeBody(resp, path, out)
}

// postJSON issues a POST with a JSON body and decodes the response into out.
// out may be nil when the response body is irrelevant.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("api: encoding request for %s: %w", path, err)
	}

	resp, err := c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        payload,
		ContentType: contentTypeJSON,
		Accept:      contentTypeJSON,
	})
	if err != nil {
		return err
	}

	if out == nil {
		drain(resp)
		return nil
	}

	return decodeBody(resp, path, out)
}

func decodeBody(resp *http.Response, path string, out any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding response from %s: %w", path, err)
	}

	return nil
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// modelPath returns the path of the client's model, followed by the escaped
// segments.
func (c *Client) modelPath(segments ...string) string {
	p := "/workspaces/" + url.PathEscape(c.workspaceID) + "/models/" + url.PathEscape(c.modelID)
	for _, s := range segments {
		p += "/" + url.PathEscape(s)
	}

	return p
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
