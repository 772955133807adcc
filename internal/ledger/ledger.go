// Package ledger keeps a SQLite journal of task runs and file uploads. It
// implements api.Recorder, so a client records every invocation, poll, and
// chunk acknowledgement as it happens, and the journal can be queried later.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/anaplan-go/internal/api"
)

// ErrNotFound is returned by lookups for an unknown task or upload.
var ErrNotFound = errors.New("ledger: not found")

// Upload statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// stateInvoked is recorded until the first poll reports a server state.
const stateInvoked = "INVOKED"

// Ledger is a SQLite-backed api.Recorder. Safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ api.Recorder = (*Ledger)(nil)

// TaskRun is one recorded task.
type TaskRun struct {
	TaskID      string
	ActionID    api.ActionID
	Family      api.Family
	State       api.TaskState
	Successful  *bool // nil until complete
	Polls       int
	Progress    float64
	InvokedAt   time.Time
	CompletedAt *time.Time
	Details     []api.TaskDetail
}

// UploadRecord is one recorded upload.
type UploadRecord struct {
	UploadID   string
	FileID     int64
	ChunkCount int
	ChunksDone int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: chunk acknowledgements from concurrent uploads
	// serialize on one connection instead of contending for the lock.
	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db, path, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger opened",
		slog.String("db_path", path),
		slog.Int64("schema_version", version),
	)

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing: %w", err)
	}

	return nil
}

// TaskInvoked records a newly spawned task.
func (l *Ledger) TaskInvoked(ctx context.Context, task api.Task, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO task_runs (task_id, action_id, family, state, invoked_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO NOTHING`,
		task.ID, int64(task.ActionID), string(task.Family), stateInvoked, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording task %s: %w", task.ID, err)
	}

	return nil
}

// TaskPolled records the latest observed state of a task.
func (l *Ledger) TaskPolled(ctx context.Context, st api.TaskStatus) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE task_runs SET state = ?, progress = ?, polls = polls + 1 WHERE task_id = ?`,
		string(st.State), st.Progress, st.TaskID,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording poll of task %s: %w", st.TaskID, err)
	}

	return nil
}

// TaskFinished records the outcome and result details of a task.
func (l *Ledger) TaskFinished(ctx context.Context, task api.Task, st api.TaskStatus, at time.Time) error {
	details, err := json.Marshal(st.Details())
	if err != nil {
		return fmt.Errorf("ledger: encoding details of task %s: %w", task.ID, err)
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE task_runs SET state = ?, successful = ?, completed_at = ?, details = ? WHERE task_id = ?`,
		string(st.State), task.Successful, at.UnixNano(), string(details), task.ID,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording completion of task %s: %w", task.ID, err)
	}

	return nil
}

// UploadStarted records the start of an upload and its declared chunk count.
func (l *Ledger) UploadStarted(ctx context.Context, run api.UploadRun) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO uploads (upload_id, file_id, chunk_count, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.FileID, run.ChunkCount, StatusRunning, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording upload %s: %w", run.ID, err)
	}

	return nil
}

// ChunkUploaded counts one acknowledged chunk.
func (l *Ledger) ChunkUploaded(ctx context.Context, uploadID string, index int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE uploads SET chunks_done = chunks_done + 1 WHERE upload_id = ?`, uploadID)
	if err != nil {
		return fmt.Errorf("ledger: recording chunk %d of upload %s: %w", index, uploadID, err)
	}

	return nil
}

// UploadFinished records the final status of an upload.
func (l *Ledger) UploadFinished(ctx context.Context, uploadID string, uploadErr error, at time.Time) error {
	status := StatusComplete

	var msg sql.NullString
	if uploadErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: uploadErr.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, error = ?, finished_at = ? WHERE upload_id = ?`,
		status, msg, at.UnixNano(), uploadID,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording end of upload %s: %w", uploadID, err)
	}

	return nil
}

const taskColumns = `task_id, action_id, family, state, successful, polls, progress,
	invoked_at, completed_at, details`

// Task returns the recorded run of taskID.
func (l *Ledger) Task(ctx context.Context, taskID string) (*TaskRun, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_runs WHERE task_id = ?`, taskID)

	run, err := scanTaskRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: task %s: %w", taskID, ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// RecentTasks returns up to limit task runs, most recently invoked first.
func (l *Ledger) RecentTasks(ctx context.Context, limit int) ([]TaskRun, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM task_runs ORDER BY invoked_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRun

	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: listing tasks: %w", err)
	}

	return out, nil
}

// Upload returns the recorded upload with uploadID.
func (l *Ledger) Upload(ctx context.Context, uploadID string) (*UploadRecord, error) {
	var (
		rec        UploadRecord
		errMsg     sql.NullString
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := l.db.QueryRowContext(ctx,
		`SELECT upload_id, file_id, chunk_count, chunks_done, status, error, started_at, finished_at
		 FROM uploads WHERE upload_id = ?`, uploadID,
	).Scan(&rec.UploadID, &rec.FileID, &rec.ChunkCount, &rec.ChunksDone, &rec.Status, &errMsg, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: upload %s: %w", uploadID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("ledger: reading upload %s: %w", uploadID, err)
	}

	rec.Error = errMsg.String
	rec.StartedAt = time.Unix(0, startedAt)
	rec.FinishedAt = timePtr(finishedAt)

	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTaskRun(s scanner) (*TaskRun, error) {
	var (
		run         TaskRun
		actionID    int64
		family      string
		state       string
		successful  sql.NullBool
		invokedAt   int64
		completedAt sql.NullInt64
		details     sql.NullString
	)

	err := s.Scan(&run.TaskID, &actionID, &family, &state, &successful, &run.Polls, &run.Progress,
		&invokedAt, &completedAt, &details)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("ledger: reading task run: %w", err)
	}

	run.ActionID = api.ActionID(actionID)
	run.Family = api.Family(family)
	run.State = api.TaskState(state)
	run.InvokedAt = time.Unix(0, invokedAt)
	run.CompletedAt = timePtr(completedAt)

	if successful.Valid {
		ok := successful.Bool
		run.Successful = &ok
	}

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &run.Details); err != nil {
			return nil, fmt.Errorf("ledger: decoding details of task %s: %w", run.TaskID, err)
		}
	}

	return &run, nil
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.Unix(0, v.Int64)

	return &t
}
