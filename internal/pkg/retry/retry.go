// Package retry runs an operation a bounded number of times with backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls a retry loop.
type Config struct {
	Attempts   int           // total attempts, at least 1
	Backoff    time.Duration // wait after the first failure
	MaxBackoff time.Duration // cap for the doubled backoff; 0 means no cap
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. fn receives the 1-based attempt number. The last error
// is returned.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, operation string, fn func(attempt int) error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "operation", operation, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("operation failed, retrying", "operation", operation, "attempt", attempt, "max_attempts", attempts, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}
