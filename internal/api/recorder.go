package api

import (
	"context"
	"log/slog"
	"time"
)

// UploadRun describes one invocation of UploadFile as seen by a Recorder.
type UploadRun struct {
	ID         string
	FileID     int64
	ChunkCount int
	StartedAt  time.Time
}

// Recorder observes task and upload lifecycles, e.g. to keep a run journal.
// Errors are logged and never fail the operation being observed.
type Recorder interface {
	TaskInvoked(ctx context.Context, task Task, at time.Time) error
	TaskPolled(ctx context.Context, status TaskStatus) error
	TaskFinished(ctx context.Context, task Task, status TaskStatus, at time.Time) error

	UploadStarted(ctx context.Context, run UploadRun) error
	ChunkUploaded(ctx context.Context, uploadID string, index int) error
	UploadFinished(ctx context.Context, uploadID string, uploadErr error, at time.Time) error
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) TaskInvoked(context.Context, Task, time.Time) error { return nil }

func (NopRecorder) TaskPolled(context.Context, TaskStatus) error { return nil }

func (NopRecorder) TaskFinished(context.Context, Task, TaskStatus, time.Time) error { return nil }

func (NopRecorder) UploadStarted(context.Context, UploadRun) error { return nil }

func (NopRecorder) ChunkUploaded(context.Context, string, int) error { return nil }

func (NopRecorder) UploadFinished(context.Context, string, error, time.Time) error { return nil }

// record logs a failed recorder call at Warn. The observed operation carries on.
func (c *Client) record(event string, err error) {
	if err != nil {
		c.logger.Warn("recording event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
