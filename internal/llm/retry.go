package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryableError indicates a transient failure (rate limiting or a server error).
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(min(max(attempt, 0), 5))) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Retry runs fn until it succeeds, returns a non-retryable error, or maxRetries
// retries have been spent. wait defaults to Backoff.
func Retry(ctx context.Context, maxRetries int, wait func(int) time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if wait == nil {
		wait = Backoff
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !IsRetryable(err) || attempt >= maxRetries {
			return err
		}
		d := wait(attempt)
		logger.Warn("llm.retry", "attempt", attempt+1, "max", maxRetries, "delay_ms", d.Milliseconds(), "error", err)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
