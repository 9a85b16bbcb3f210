package retry

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, randomization applied to each delay
}

// DefaultConfig returns defaults for database operations:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig is used while waiting for the database at process start.
func StartupConfig() *Config {
	return &Config{
		MaxRetries:   8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (c *Config) backOff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; build a fresh one per call.
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialDelay
	eb.MaxInterval = c.MaxDelay
	eb.Multiplier = c.Multiplier
	eb.RandomizationFactor = c.JitterFactor
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, c.MaxRetries), ctx)
}

// DoWithResult executes fn and returns both result and error.
// Returns the last error after all retries are exhausted and respects
// context cancellation during waits.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return backoff.RetryWithData(fn, cfg.backOff(ctx))
}

// DoWithResultIfRetryable retries only transient failures; anything else,
// such as bad credentials or an unknown database, returns at once.
func DoWithResultIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return DoWithResult(ctx, cfg, func() (T, error) {
		v, err := fn()
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	})
}

// IsRetryable reports whether err looks like a transient connection failure
// rather than a permanent one (bad credentials, bad SQL, constraint violation).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"too many connections",
		"the database system is starting up",
		"deadlock",
		"network is unreachable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
