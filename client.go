// Package anaplan is a client for the Anaplan Integration API v2. It
// authenticates with a password or a CA certificate, reauthenticates
// transparently when a token expires, runs imports, exports, processes and
// other actions to completion, and uploads file content in concurrent
// gzip-compressed chunks.
package anaplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tonimelisma/anaplan-go/internal/api"
	"github.com/tonimelisma/anaplan-go/internal/auth"
	"github.com/tonimelisma/anaplan-go/internal/bandwidth"
	"github.com/tonimelisma/anaplan-go/internal/config"
	"github.com/tonimelisma/anaplan-go/internal/ledger"
	"github.com/tonimelisma/anaplan-go/internal/tokenfile"
)

// Endpoint defaults.
const (
	DefaultAuthURL = auth.DefaultURL
	DefaultBaseURL = "https://api.anaplan.com/2/0"
	DefaultTimeout = 30 * time.Second
)

// Options configures New. WorkspaceID, ModelID and Credentials are required.
type Options struct {
	WorkspaceID string
	ModelID     string
	Credentials Credentials

	AuthURL string // DefaultAuthURL when empty
	BaseURL string // DefaultBaseURL when empty

	// HTTPClient is used for every request. When nil, a client with
	// Timeout is created.
	HTTPClient *http.Client
	Timeout    time.Duration

	PollDelay time.Duration // between task status polls, default 1s

	// Sequential uploads one chunk at a time. Otherwise up to UploadWorkers
	// chunks are in flight.
	Sequential     bool
	UploadWorkers  int
	ChunkSize      int64  // raw bytes per chunk, default 25MB
	BandwidthLimit string // e.g. "5MB/s"; empty or "0" is unlimited

	// TokenCache persists the most recent token across processes.
	TokenCache string
	// LedgerPath enables the SQLite run journal.
	LedgerPath string

	// SkipVerify skips the model reachability check during New.
	SkipVerify bool

	Logger *slog.Logger
}

// Client is an authenticated client for one model. Safe for concurrent use.
type Client struct {
	api    *api.Client
	ledger *ledger.Ledger
	logger *slog.Logger
}

// New creates a client and, unless SkipVerify is set, authenticates and
// checks that the workspace and model exist.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.WorkspaceID == "" || opts.ModelID == "" {
		return nil, errors.New("anaplan: workspace and model id are required")
	}

	if opts.Credentials.Kind() == 0 {
		return nil, ErrIncompleteCredentials
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limiter, err := bandwidth.New(opts.BandwidthLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("anaplan: %w", err)
	}

	var (
		issuer      auth.Issuer = auth.NewAuthenticator(opts.Credentials, opts.AuthURL, httpClient, logger)
		sessionOpts []auth.SessionOption
	)

	if cache := newTokenCache(opts, logger); cache != nil {
		issuer = &forgetOnRejection{issuer: issuer, cache: cache}
		sessionOpts = cache.sessionOptions()
	}

	session := auth.NewSession(issuer, logger, sessionOpts...)

	c := &Client{logger: logger}

	apiOpts := api.Options{
		WorkspaceID:   opts.WorkspaceID,
		ModelID:       opts.ModelID,
		PollDelay:     opts.PollDelay,
		UploadWorkers: opts.UploadWorkers,
		ChunkSize:     opts.ChunkSize,
	}

	if opts.Sequential {
		apiOpts.UploadWorkers = 1
	}

	if limiter != nil {
		apiOpts.Limiter = limiter
	}

	if opts.LedgerPath != "" {
		l, err := ledger.Open(ctx, opts.LedgerPath, logger)
		if err != nil {
			return nil, fmt.Errorf("anaplan: %w", err)
		}

		c.ledger = l
		apiOpts.Recorder = l
	}

	c.api = api.NewClient(baseURL, httpClient, session, logger, apiOpts)

	if !opts.SkipVerify {
		if err := c.api.VerifyModel(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}

	logger.Info("client ready",
		slog.String("workspace_id", opts.WorkspaceID),
		slog.String("model_id", opts.ModelID),
		slog.String("credentials", opts.Credentials.String()),
	)

	return c, nil
}

// NewFromConfig creates a client from a resolved configuration. A nil
// logger is built from the config's logging settings and writes to stderr.
func NewFromConfig(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = config.NewLogger(cfg.LoggingConfig, os.Stderr)
	}

	var keyPassword []byte
	if cfg.PrivateKeyPassword != "" {
		keyPassword = []byte(cfg.PrivateKeyPassword)
	}

	creds, err := auth.Select(cfg.UserEmail, cfg.Password,
		auth.PathOrPEM(cfg.Certificate), auth.PathOrPEM(cfg.PrivateKey), keyPassword)
	if err != nil {
		return nil, fmt.Errorf("anaplan: %w", err)
	}

	return New(ctx, Options{
		WorkspaceID:    cfg.WorkspaceID,
		ModelID:        cfg.ModelID,
		Credentials:    creds,
		AuthURL:        cfg.AuthURL,
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.TimeoutDuration(),
		PollDelay:      cfg.PollDelay(),
		Sequential:     !cfg.UploadParallel,
		UploadWorkers:  cfg.Workers(),
		ChunkSize:      cfg.ChunkSizeBytes(),
		BandwidthLimit: cfg.BandwidthLimit,
		TokenCache:     cfg.TokenCache,
		LedgerPath:     cfg.LedgerPath,
		Logger:         logger,
	})
}

// tokenCache persists the session token for one principal. Cache problems
// are logged and never fatal.
type tokenCache struct {
	path      string
	principal string
	logger    *slog.Logger
}

func newTokenCache(opts Options, logger *slog.Logger) *tokenCache {
	if opts.TokenCache == "" {
		return nil
	}

	principal, err := opts.Credentials.Principal()
	if err != nil {
		logger.Warn("token cache disabled", slog.String("error", err.Error()))
		return nil
	}

	return &tokenCache{path: opts.TokenCache, principal: principal, logger: logger}
}

// sessionOptions seeds the session from the cache and saves every new token
// back to it.
func (tc *tokenCache) sessionOptions() []auth.SessionOption {
	var sessionOpts []auth.SessionOption

	cached, err := tokenfile.LoadFor(tc.path, tc.principal)
	if err != nil {
		tc.logger.Warn("ignoring unreadable token cache",
			slog.String("path", tc.path),
			slog.String("error", err.Error()),
		)
	}

	if cached != "" {
		tc.logger.Debug("using cached token", slog.String("path", tc.path))
		sessionOpts = append(sessionOpts, auth.WithInitialToken(cached))
	}

	return append(sessionOpts, auth.WithTokenChange(tc.save))
}

func (tc *tokenCache) save(token string) {
	if err := tokenfile.SaveFor(tc.path, tc.principal, token); err != nil {
		tc.logger.Warn("saving token cache failed",
			slog.String("path", tc.path),
			slog.String("error", err.Error()),
		)
	}
}

func (tc *tokenCache) forget() {
	if err := tokenfile.Remove(tc.path); err != nil {
		tc.logger.Warn("removing token cache failed",
			slog.String("path", tc.path),
			slog.String("error", err.Error()),
		)

		return
	}

	tc.logger.Info("token cache removed after rejected credentials", slog.String("path", tc.path))
}

// forgetOnRejection drops the cached token when the endpoint rejects the
// credentials, so later processes do not start from a token of a revoked login.
type forgetOnRejection struct {
	issuer auth.Issuer
	cache  *tokenCache
}

func (f *forgetOnRejection) Authenticate(ctx context.Context) (string, error) {
	tok, err := f.issuer.Authenticate(ctx)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		f.cache.forget()
	}

	return tok, err
}

// Close releases the run journal, if one is open.
func (c *Client) Close() error {
	if c.ledger == nil {
		return nil
	}

	return c.ledger.Close()
}

// WorkspaceID returns the workspace the client addresses.
func (c *Client) WorkspaceID() string { return c.api.WorkspaceID() }

// ModelID returns the model the client addresses.
func (c *Client) ModelID() string { return c.api.ModelID() }

// VerifyModel checks that the workspace and model exist.
func (c *Client) VerifyModel(ctx context.Context) error {
	return c.api.VerifyModel(ctx)
}

// RunAction invokes an action and waits for its task to finish. A task that
// completes without success returns the task and an *ActionError.
func (c *Client) RunAction(ctx context.Context, id ActionID) (*Task, error) {
	return c.api.RunAction(ctx, id)
}

// InvokeAction starts an action without waiting for it.
func (c *Client) InvokeAction(ctx context.Context, id ActionID) (*Task, error) {
	return c.api.InvokeAction(ctx, id)
}

// TaskStatus fetches the status of a task spawned by action id.
func (c *Client) TaskStatus(ctx context.Context, id ActionID, taskID string) (*TaskStatus, error) {
	return c.api.TaskStatus(ctx, id, taskID)
}

// UploadFile replaces the content of an import data file.
func (c *Client) UploadFile(ctx context.Context, fileID int64, content []byte) (*UploadResult, error) {
	return c.api.UploadFile(ctx, fileID, content)
}

// UploadAndImport uploads content to fileID and then runs importID.
func (c *Client) UploadAndImport(ctx context.Context, fileID int64, content []byte, importID ActionID) (*Task, error) {
	if _, err := c.api.UploadFile(ctx, fileID, content); err != nil {
		return nil, err
	}

	return c.api.RunAction(ctx, importID)
}

// RunExport runs an export and downloads the file it produced.
func (c *Client) RunExport(ctx context.Context, exportID ActionID) ([]byte, error) {
	if _, err := c.api.RunAction(ctx, exportID); err != nil {
		return nil, err
	}

	return c.api.GetFile(ctx, int64(exportID))
}

// GetFile downloads the content of a file.
func (c *Client) GetFile(ctx context.Context, fileID int64) ([]byte, error) {
	return c.api.GetFile(ctx, fileID)
}

// ListWorkspaces returns every visible workspace.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return c.api.ListWorkspaces(ctx)
}

// ListModels returns every visible model.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	return c.api.ListModels(ctx)
}

// ListActions returns the model's other actions.
func (c *Client) ListActions(ctx context.Context) ([]Action, error) {
	return c.api.ListActions(ctx)
}

// ListImports returns the model's imports.
func (c *Client) ListImports(ctx context.Context) ([]Import, error) {
	return c.api.ListImports(ctx)
}

// ListExports returns the model's exports.
func (c *Client) ListExports(ctx context.Context) ([]Export, error) {
	return c.api.ListExports(ctx)
}

// ListProcesses returns the model's processes.
func (c *Client) ListProcesses(ctx context.Context) ([]Process, error) {
	return c.api.ListProcesses(ctx)
}

// ListFiles returns the model's files.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	return c.api.ListFiles(ctx)
}

// ListLists returns the model's lists.
func (c *Client) ListLists(ctx context.Context) ([]List, error) {
	return c.api.ListLists(ctx)
}

// errNoLedger is returned by journal queries when LedgerPath was not set.
var errNoLedger = errors.New("anaplan: run ledger is not enabled")

// TaskRun returns the journal entry of a task.
func (c *Client) TaskRun(ctx context.Context, taskID string) (*TaskRun, error) {
	if c.ledger == nil {
		return nil, errNoLedger
	}

	return c.ledger.Task(ctx, taskID)
}

// RecentTaskRuns returns up to limit journal entries, newest first.
func (c *Client) RecentTaskRuns(ctx context.Context, limit int) ([]TaskRun, error) {
	if c.ledger == nil {
		return nil, errNoLedger
	}

	return c.ledger.RecentTasks(ctx, limit)
}

// UploadRecord returns the journal entry of an upload.
func (c *Client) UploadRecord(ctx context.Context, uploadID string) (*UploadRecord, error) {
	if c.ledger == nil {
		return nil, errNoLedger
	}

	return c.ledger.Upload(ctx, uploadID)
}
