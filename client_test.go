package anaplan

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/anaplan-go/internal/tokenfile"
)

const (
	testWorkspace = "8a81b09d599f3c6e0159f605d22e4518"
	testModel     = "FC2A1E3B8E4B4A1F9D5A0E5F07AB4C21"
	testEmail     = "planner@example.com"
	testPassword  = "s3cret"

	testImportID ActionID = 112_000_000_001
	testExportID ActionID = 116_000_000_002
	testFileID   int64    = 113_000_000_012
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeAnaplan serves the authentication endpoint under /token and the API
// under /api. Only tokens it has minted are accepted.
type fakeAnaplan struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	authCalls int
	valid     map[string]bool
	models    map[string]bool
	chunks    map[int][]byte
	declared  int
	exportCSV []byte
	rejectPwd bool
}

func newFakeAnaplan(t *testing.T) *fakeAnaplan {
	t.Helper()

	f := &fakeAnaplan{
		t:         t,
		valid:     map[string]bool{},
		models:    map[string]bool{testWorkspace + "/" + testModel: true},
		chunks:    map[int][]byte{},
		exportCSV: []byte("Name,Value\nA,1\n"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token/authenticate", f.authenticate)
	mux.HandleFunc("/api/", f.api)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeAnaplan) authURL() string { return f.srv.URL + "/token/authenticate" }
func (f *fakeAnaplan) baseURL() string { return f.srv.URL + "/api" }

func (f *fakeAnaplan) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.authCalls
}

func (f *fakeAnaplan) authenticate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCalls++

	email, password, ok := r.BasicAuth()
	if !ok || email != testEmail || password != testPassword || f.rejectPwd {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := fmt.Sprintf("tok-%d", f.authCalls)
	f.valid[token] = true

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"SUCCESS","tokenInfo":{"tokenValue":%q}}`, token)
}

func (f *fakeAnaplan) api(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "AnaplanAuthToken ")
	if !f.valid[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/workspaces/"), "/")
	if len(parts) < 3 || parts[1] != "models" || !f.models[parts[0]+"/"+parts[2]] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rest := parts[3:]
	w.Header().Set("Content-Type", "application/json")

	switch {
	case len(rest) == 1 && rest[0] == "currentPeriod":
		fmt.Fprint(w, `{"currentPeriod":{"periodText":"Mar 26"}}`)

	case len(rest) == 3 && rest[2] == "tasks" && r.Method == http.MethodPost:
		fmt.Fprintf(w, `{"task":{"taskId":"T-%s","taskState":"NOT_STARTED"}}`, rest[1])

	case len(rest) == 4 && rest[2] == "tasks":
		fmt.Fprintf(w, `{"task":{"taskId":%q,"taskState":"COMPLETE","progress":1,`+
			`"result":{"successful":true,"details":[{"type":"rowsProcessed","localMessageText":"3 rows","occurrences":3}]}}}`,
			rest[3])

	case len(rest) == 2 && rest[0] == "files" && r.Method == http.MethodPost:
		var body struct {
			ChunkCount int `json:"chunkCount"`
		}

		if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.declared = body.ChunkCount
		fmt.Fprintf(w, `{"file":{"id":%s,"chunkCount":%d}}`, rest[1], body.ChunkCount)

	case len(rest) == 2 && rest[0] == "files" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(f.exportCSV)

	case len(rest) == 4 && rest[2] == "chunks" && r.Method == http.MethodPut:
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(f.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(zr)
		if !assert.NoError(f.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var index int
		_, _ = fmt.Sscanf(rest[3], "%d", &index)
		f.chunks[index] = data
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func basicCreds(t *testing.T) Credentials {
	t.Helper()

	creds, err := BasicCredentials(testEmail, testPassword)
	require.NoError(t, err)

	return creds
}

func (f *fakeAnaplan) options(t *testing.T) Options {
	return Options{
		WorkspaceID: testWorkspace,
		ModelID:     testModel,
		Credentials: basicCreds(t),
		AuthURL:     f.authURL(),
		BaseURL:     f.baseURL(),
		PollDelay:   time.Millisecond,
		Logger:      testLogger(t),
	}
}

func TestNew_VerifiesModel(t *testing.T) {
	f := newFakeAnaplan(t)

	c, err := New(context.Background(), f.options(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, testWorkspace, c.WorkspaceID())
	assert.Equal(t, testModel, c.ModelID())
	assert.Equal(t, 1, f.authCount())
}

func TestNew_UnknownModel(t *testing.T) {
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.ModelID = "0000"

	_, err := New(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestNew_InvalidCredentials(t *testing.T) {
	f := newFakeAnaplan(t)
	f.rejectPwd = true

	_, err := New(context.Background(), f.options(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNew_RequiresIdentifiers(t *testing.T) {
	_, err := New(context.Background(), Options{Credentials: basicCreds(t)})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{WorkspaceID: testWorkspace, ModelID: testModel})
	assert.ErrorIs(t, err, ErrIncompleteCredentials)
}

func TestNew_InvalidBandwidthLimit(t *testing.T) {
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.BandwidthLimit = "fast"

	_, err := New(context.Background(), opts)
	assert.Error(t, err)
	assert.Zero(t, f.authCount())
}

func TestNew_SkipVerifyDefersAuthentication(t *testing.T) {
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.SkipVerify = true

	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Zero(t, f.authCount())

	_, err = c.RunAction(context.Background(), testImportID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.authCount())
}

func TestRunAction_RecordedInLedger(t *testing.T) {
	ctx := context.Background()
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.LedgerPath = filepath.Join(t.TempDir(), "runs.db")

	c, err := New(ctx, opts)
	require.NoError(t, err)
	defer c.Close()

	task, err := c.RunAction(ctx, testImportID)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, task.Phase)
	assert.True(t, task.Successful)

	run, err := c.TaskRun(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, testImportID, run.ActionID)
	assert.Equal(t, FamilyImports, run.Family)
	require.NotNil(t, run.Successful)
	assert.True(t, *run.Successful)
	require.Len(t, run.Details, 1)
	assert.Equal(t, 3, run.Details[0].Occurrences)

	runs, err := c.RecentTaskRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLedgerQueries_Disabled(t *testing.T) {
	f := newFakeAnaplan(t)

	c, err := New(context.Background(), f.options(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TaskRun(context.Background(), "T1")
	assert.ErrorIs(t, err, errNoLedger)

	_, err = c.RecentTaskRuns(context.Background(), 1)
	assert.ErrorIs(t, err, errNoLedger)

	_, err = c.UploadRecord(context.Background(), "U1")
	assert.ErrorIs(t, err, errNoLedger)
}

func TestUploadAndImport(t *testing.T) {
	ctx := context.Background()
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.ChunkSize = 10
	opts.UploadWorkers = 2
	opts.LedgerPath = filepath.Join(t.TempDir(), "runs.db")

	c, err := New(ctx, opts)
	require.NoError(t, err)
	defer c.Close()

	content := []byte("Name,Value\nA,1\nB,2\nC,3\n")

	result, err := c.UploadFile(ctx, testFileID, content)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)

	f.mu.Lock()
	assert.Equal(t, 3, f.declared)
	var got []byte
	for i := range 3 {
		got = append(got, f.chunks[i]...)
	}
	f.mu.Unlock()
	assert.Equal(t, content, got)

	rec, err := c.UploadRecord(ctx, result.UploadID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ChunksDone)
	assert.Equal(t, "complete", rec.Status)

	task, err := c.UploadAndImport(ctx, testFileID, content, testImportID)
	require.NoError(t, err)
	assert.True(t, task.Successful)
}

func TestRunExport(t *testing.T) {
	f := newFakeAnaplan(t)

	c, err := New(context.Background(), f.options(t))
	require.NoError(t, err)
	defer c.Close()

	data, err := c.RunExport(context.Background(), testExportID)
	require.NoError(t, err)
	assert.Equal(t, f.exportCSV, data)
}

func TestTokenCache_ReusedAcrossClients(t *testing.T) {
	ctx := context.Background()
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.TokenCache = filepath.Join(t.TempDir(), "token.json")

	c, err := New(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.Equal(t, 1, f.authCount())

	c, err = New(ctx, opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, f.authCount(), "cached token must be reused")
}

func TestTokenCache_StaleTokenReplaced(t *testing.T) {
	ctx := context.Background()
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.TokenCache = filepath.Join(t.TempDir(), "token.json")

	principal, err := opts.Credentials.Principal()
	require.NoError(t, err)
	require.NoError(t, tokenfile.SaveFor(opts.TokenCache, principal, "expired"))

	c, err := New(ctx, opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, f.authCount())

	cached, err := tokenfile.LoadFor(opts.TokenCache, principal)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cached)
}

func TestTokenCache_RemovedWhenCredentialsRejected(t *testing.T) {
	f := newFakeAnaplan(t)
	f.rejectPwd = true

	opts := f.options(t)
	opts.TokenCache = filepath.Join(t.TempDir(), "token.json")

	principal, err := opts.Credentials.Principal()
	require.NoError(t, err)
	require.NoError(t, tokenfile.SaveFor(opts.TokenCache, principal, "expired"))

	_, err = New(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = os.Stat(opts.TokenCache)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTokenCache_OtherPrincipalIgnored(t *testing.T) {
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.TokenCache = filepath.Join(t.TempDir(), "token.json")

	f.mu.Lock()
	f.valid["someone-elses"] = true
	f.mu.Unlock()

	require.NoError(t, tokenfile.SaveFor(opts.TokenCache, "basic:other@example.com", "someone-elses"))

	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, f.authCount())
}

func TestTokenCache_UnreadableFileNotFatal(t *testing.T) {
	f := newFakeAnaplan(t)
	opts := f.options(t)
	opts.TokenCache = filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(opts.TokenCache, []byte("{not json"), 0o600))

	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, f.authCount())
}

func TestNewFromConfig(t *testing.T) {
	f := newFakeAnaplan(t)
	dir := t.TempDir()

	for _, name := range []string{
		"ANAPLAN_CONFIG", "ANAPLAN_EMAIL", "ANAPLAN_PASSWORD", "ANAPLAN_CERTIFICATE",
		"ANAPLAN_PRIVATE_KEY", "ANAPLAN_PRIVATE_KEY_PASSWORD", "ANAPLAN_WORKSPACE_ID", "ANAPLAN_MODEL_ID",
	} {
		t.Setenv(name, "")
	}

	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
workspace_id = %q
model_id = %q
auth_url = %q
base_url = %q
user_email = %q
password = %q
status_poll_delay = "10ms"
upload_parallel = false
upload_chunk_size = "1KB"
ledger_path = %q
log_level = "debug"
`, testWorkspace, testModel, f.authURL(), f.baseURL(), testEmail, testPassword, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	c, err := NewFromConfig(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	defer c.Close()

	task, err := c.RunAction(context.Background(), testImportID)
	require.NoError(t, err)

	_, err = c.TaskRun(context.Background(), task.ID)
	assert.NoError(t, err)
}

func TestNewFromConfig_EnvCredentials(t *testing.T) {
	f := newFakeAnaplan(t)

	t.Setenv("ANAPLAN_CONFIG", "")
	t.Setenv("ANAPLAN_EMAIL", testEmail)
	t.Setenv("ANAPLAN_PASSWORD", testPassword)
	t.Setenv("ANAPLAN_WORKSPACE_ID", testWorkspace)
	t.Setenv("ANAPLAN_MODEL_ID", testModel)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf("auth_url = %q\nbase_url = %q\n", f.authURL(), f.baseURL())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	c, err := NewFromConfig(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestRunAction_InvalidIdentifierSendsNothing(t *testing.T) {
	f := newFakeAnaplan(t)

	c, err := New(context.Background(), f.options(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RunAction(context.Background(), ActionID(42))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
