package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	contentTypeGzip   = "application/x-gzip"
	contentTypeOctets = "application/octet-stream"
)

// Chunk is one contiguous slice of an upload. Data aliases the content
// passed to SplitChunks.
type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
}

// UploadJob is the deterministic partition of one file's content.
type UploadJob struct {
	FileID    int64
	ChunkSize int64
	Chunks    []Chunk
}

// ChunkCount is the number declared to the server before any chunk is sent.
func (j *UploadJob) ChunkCount() int {
	return len(j.Chunks)
}

// UploadResult summarizes a completed upload.
type UploadResult struct {
	UploadID   string
	FileID     int64
	ChunkCount int
	Bytes      int64
}

// SplitChunks partitions content into chunks of size bytes. Chunk i covers
// [i*size, min((i+1)*size, len(content))); empty content yields no chunks.
func SplitChunks(content []byte, size int64) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("api: chunk size must be positive, got %d", size)
	}

	n := int64(len(content))

	count := n / size
	if n%size != 0 {
		count++
	}

	chunks := make([]Chunk, 0, count)

	for i := range count {
		off := i * size
		// n-off cannot overflow, unlike off+size for sizes near MaxInt64.
		end := off + min(size, n-off)
		chunks = append(chunks, Chunk{Index: int(i), Offset: off, Data: content[off:end]})
	}

	return chunks, nil
}

// NewUploadJob partitions content for fileID.
func NewUploadJob(fileID int64, content []byte, chunkSize int64) (*UploadJob, error) {
	chunks, err := SplitChunks(content, chunkSize)
	if err != nil {
		return nil, err
	}

	return &UploadJob{FileID: fileID, ChunkSize: chunkSize, Chunks: chunks}, nil
}

// UploadFile replaces the content of an import data file. The chunk count is
// declared first; then every chunk is gzip-compressed and sent exactly once,
// up to the configured number at a time. After the first chunk failure no
// further chunks start, chunks already in flight finish, and the failure is
// returned as *ChunkError. Chunks already accepted are not rolled back.
func (c *Client) UploadFile(ctx context.Context, fileID int64, content []byte) (*UploadResult, error) {
	job, err := NewUploadJob(fileID, content, c.chunkSize)
	if err != nil {
		return nil, err
	}

	run := UploadRun{ID: c.newUploadID(), FileID: fileID, ChunkCount: job.ChunkCount(), StartedAt: time.Now()}

	c.logger.Info("upload starting",
		slog.String("upload_id", run.ID),
		slog.Int64("file_id", fileID),
		slog.Int("chunks", run.ChunkCount),
		slog.Int("bytes", len(content)),
	)

	c.record("upload_started", c.recorder.UploadStarted(ctx, run))

	err = c.upload(ctx, run.ID, job)

	c.record("upload_finished", c.recorder.UploadFinished(ctx, run.ID, err, time.Now()))

	if err != nil {
		c.logger.Error("upload failed",
			slog.String("upload_id", run.ID),
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	c.logger.Info("upload complete",
		slog.String("upload_id", run.ID),
		slog.Int64("file_id", fileID),
		slog.Int("chunks", run.ChunkCount),
	)

	return &UploadResult{UploadID: run.ID, FileID: fileID, ChunkCount: run.ChunkCount, Bytes: int64(len(content))}, nil
}

func (c *Client) upload(ctx context.Context, uploadID string, job *UploadJob) error {
	if err := c.declareChunkCount(ctx, job.FileID, job.ChunkCount()); err != nil {
		return err
	}

	var (
		g      errgroup.Group
		failed atomic.Bool
	)

	g.SetLimit(c.workers)

	for _, ch := range job.Chunks {
		// Go blocks while all workers are busy, so this sees failures from
		// chunks that finished in the meantime.
		if failed.Load() || ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if failed.Load() {
				return nil
			}

			if err := c.uploadChunk(ctx, job.FileID, ch); err != nil {
				failed.Store(true)

				return &ChunkError{FileID: job.FileID, Index: ch.Index, Err: err}
			}

			c.record("chunk_uploaded", c.recorder.ChunkUploaded(ctx, uploadID, ch.Index))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api: upload of file %d canceled: %w", job.FileID, err)
	}

	return nil
}

func (c *Client) declareChunkCount(ctx context.Context, fileID int64, count int) error {
	path := c.modelPath("files", strconv.FormatInt(fileID, 10))

	var resp chunkCountResponse
	if err := c.postJSON(ctx, path, chunkCountRequest{ChunkCount: count}, &resp); err != nil {
		return fmt.Errorf("api: declaring %d chunks for file %d: %w", count, fileID, err)
	}

	if resp.File != nil && resp.File.ChunkCount != nil && *resp.File.ChunkCount != count {
		c.logger.Warn("server reports a different chunk count",
			slog.Int64("file_id", fileID),
			slog.Int("declared", count),
			slog.Int("reported", *resp.File.ChunkCount),
		)
	}

	return nil
}

func (c *Client) uploadChunk(ctx context.Context, fileID int64, ch Chunk) error {
	body, err := compress(ch.Data)
	if err != nil {
		return err
	}

	resp, err := c.Do(ctx, Request{
		Method:      http.MethodPut,
		Path:        c.modelPath("files", strconv.FormatInt(fileID, 10), "chunks", strconv.Itoa(ch.Index)),
		Body:        body,
		ContentType: contentTypeGzip,
	})
	if err != nil {
		return err
	}

	drain(resp)

	c.logger.Debug("chunk uploaded",
		slog.Int64("file_id", fileID),
		slog.Int("index", ch.Index),
		slog.Int("raw_bytes", len(ch.Data)),
		slog.Int("sent_bytes", len(body)),
	)

	return nil
}

// compress gzips one chunk immediately before transmission.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("api: compressing chunk: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("api: compressing chunk: %w", err)
	}

	return buf.Bytes(), nil
}

// GetFile downloads the content of a file.
func (c *Client) GetFile(ctx context.Context, fileID int64) ([]byte, error) {
	path := c.modelPath("files", strconv.FormatInt(fileID, 10))

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Accept: contentTypeOctets})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: reading file %d: %w", fileID, err)
	}

	return data, nil
}

func newUploadID() string {
	return uuid.NewString()
}
