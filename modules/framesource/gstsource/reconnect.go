package gstsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReconnectConfig sets the exponential backoff used while opening.
type ReconnectConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// DefaultReconnectConfig is 5 retries starting at 1s, capped at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// openWithRetry calls open until it succeeds, retries run out or ctx ends.
// It returns the number of failed attempts alongside the result.
func openWithRetry(ctx context.Context, cfg ReconnectConfig, open func(context.Context) error) (int, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		err := open(ctx)
		if err == nil {
			return attempts, nil
		}

		attempts++
		slog.Error("gstsource: open failed", "error", err, "attempt", attempts)
		if attempts > cfg.MaxRetries {
			return attempts, fmt.Errorf("gstsource: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := backoff(attempts, cfg)
		slog.Warn("gstsource: retrying open",
			"attempt", attempts,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		}
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
