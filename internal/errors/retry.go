package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"smartsched/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"` // retries after the first call
	BaseDelay    time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor" mapstructure:"jitter_factor"` // 0.25 = ±25%
}

// DefaultRetryConfig suits interactive calls: a user is waiting on the turn.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff while it fails transiently.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	_, err := RetryWithResultAndLog(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

// RetryWithResult executes a function that returns a result with retry logic
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithResultAndLog(ctx, config, fn, nil)
}

// RetryWithResultAndLog is RetryWithResult with a caller-provided logger.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zeroValue T

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zeroValue, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("Attempt %d/%d failed: %v", attempt+1, config.MaxAttempts+1, err)

		if !IsTransient(err) {
			return zeroValue, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("Max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zeroValue, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zeroValue, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns baseDelay * 2^attempt with jitter, capped at MaxDelay.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
