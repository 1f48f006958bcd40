// Package retry runs operations with exponential backoff.
//
// The decision to retry is delegated to apperrors.IsRetryable; this package
// is the only place in the application that sleeps between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
)

// Default backoff parameters.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultFactor       = 2.0
)

// Config controls the backoff policy.
type Config struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every delay.
	MaxDelay time.Duration

	// Factor multiplies the delay after each retry.
	Factor float64

	// OnRetry, if set, is called before sleeping with the error that caused
	// the retry, the attempt number that failed (starting at 1) and the delay.
	OnRetry func(err error, attempt int, delay time.Duration)

	// Logger receives retry diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Factor:       DefaultFactor,
	}
}

// Validate checks the configuration and returns a configuration error if a
// value is out of range.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return apperrors.Config(fmt.Sprintf("retry max attempts must be >= 1, got %d", c.MaxAttempts))
	case c.InitialDelay < 0:
		return apperrors.Config(fmt.Sprintf("retry initial delay must be >= 0, got %s", c.InitialDelay))
	case c.MaxDelay < c.InitialDelay:
		return apperrors.Config(fmt.Sprintf("retry max delay %s must be >= initial delay %s", c.MaxDelay, c.InitialDelay))
	case c.Factor < 1:
		return apperrors.Config(fmt.Sprintf("retry factor must be >= 1, got %v", c.Factor))
	}
	return nil
}

// Delay returns the pause after the given failed attempt:
// min(InitialDelay * Factor^(attempt-1), MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// Do calls op until it succeeds, returns a non-retryable error, or
// MaxAttempts tries have been made. The last error is returned unchanged.
// If ctx is done while sleeping, ctx.Err() is returned.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := cfg.Validate(); err != nil {
		return zero, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.DebugContext(ctx, "operation succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}

		if attempt >= cfg.MaxAttempts || !apperrors.IsRetryable(err) {
			return zero, err
		}

		delay := cfg.Delay(attempt)
		logger.DebugContext(ctx, "retrying operation after delay",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err)

		if cfg.OnRetry != nil {
			cfg.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
