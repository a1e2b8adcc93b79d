package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds tuning knobs for a [RetryExecutor].
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial call, so
	// an operation runs at most MaxRetries+1 times. Default: 3.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Default: 1s.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay after each retry. Default: 2.0.
	BackoffFactor float64

	// Retryable classifies errors. When non-nil, an error for which it
	// returns false aborts the retry loop immediately. When nil, every error
	// is retried.
	Retryable func(error) bool

	// OnRetry, if non-nil, is called before each retry wait with the error
	// that triggered it and the attempt number (1-based).
	OnRetry func(err error, attempt int)
}

// RetryExecutor retries an operation with exponential backoff.
type RetryExecutor struct {
	cfg RetryConfig
}

// NewRetryExecutor creates a [RetryExecutor] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewRetryExecutor(cfg RetryConfig) *RetryExecutor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	return &RetryExecutor{cfg: cfg}
}

// Execute runs fn, retrying on failure with exponential backoff until it
// succeeds, the retry budget is exhausted, a non-retryable error occurs, or
// ctx is cancelled. The last error is returned on exhaustion; context
// cancellation during a wait returns ctx.Err().
func (r *RetryExecutor) Execute(ctx context.Context, fn func() error) error {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if r.cfg.Retryable != nil && !r.cfg.Retryable(lastErr) {
			return lastErr
		}

		if attempt == r.cfg.MaxRetries {
			slog.Error("operation failed after retries",
				"retries", r.cfg.MaxRetries,
				"error", lastErr)
			return lastErr
		}

		slog.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", r.cfg.MaxRetries,
			"delay", delay,
			"error", lastErr)

		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(lastErr, attempt+1)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * r.cfg.BackoffFactor)
	}

	// Unreachable; the loop always returns.
	return fmt.Errorf("retry: %w", lastErr)
}
