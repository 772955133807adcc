// Package bandwidth provides a token-bucket rate limiter shared by every
// concurrent chunk transfer of a client.
package bandwidth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/anaplan-go/internal/config"
)

// burstMultiplier controls the token bucket burst size relative to the per-second rate.
const burstMultiplier = 2

// Limiter caps aggregate upload throughput. A nil *Limiter is unlimited.
type Limiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a limiter from a rate string such as "5MB/s". Returns nil for
// "0" or "" (unlimited).
func New(limit string, logger *slog.Logger) (*Limiter, error) {
	bytesPerSec, err := ParseRate(limit)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: parse limit %q: %w", limit, err)
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter = unlimited
	}

	if logger == nil {
		logger = slog.Default()
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("bandwidth: limiter created",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst), logger: logger}, nil
}

// ParseRate parses "5MB/s", "100KB/s", "0" into bytes per second.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	normalized := s
	if strings.HasSuffix(strings.ToLower(normalized), "/s") {
		normalized = normalized[:len(normalized)-len("/s")]
	}

	n, err := config.ParseSize(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate %q: %w", s, err)
	}

	return n, nil
}

// WrapReader returns a rate-limited reader. A nil Limiter returns r unchanged.
func (l *Limiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &limitedReader{r: r, limiter: l.limiter, ctx: ctx}
}

// limitedReader blocks after each read until the limiter admits the bytes consumed.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a request larger than the burst, which WaitN would reject.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
