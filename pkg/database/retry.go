package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// connectAttempts is how often a store is dialed at startup before giving up.
const connectAttempts = 3

// backoff returns the wait before the next attempt: base doubled per attempt
// with ±25% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	jitter := time.Duration(float64(d) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
	return d + jitter
}

// retry calls fn up to connectAttempts times, sleeping between failures. The
// last error is returned wrapped with what.
func retry(ctx context.Context, what string, base time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error {
	return retryWhen(ctx, what, base, logger, nil, fn)
}

// retryWhen is retry restricted to errors accepted by retryable. Any other
// error is returned unwrapped at once. A nil retryable retries everything.
func retryWhen(ctx context.Context, what string, base time.Duration, logger *slog.Logger, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == connectAttempts-1 {
			break
		}
		wait := backoff(base, attempt)
		if logger != nil {
			logger.Warn(what+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", connectAttempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: context canceled during retry: %w", what, ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, connectAttempts, err)
}
