package backup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/localrivet/dbseed/internal/storage"
)

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

func WithRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < cfg.MaxAttempts {
			logger.Warn("operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"error", err,
				"next_wait", wait,
			)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}

			wait = time.Duration(float64(wait) * cfg.Multiplier)
			if wait > cfg.MaxWait {
				wait = cfg.MaxWait
			}
		}
	}

	return zero, lastErr
}

var nonRetryableErrors = []string{
	"permission denied",
	"access denied",
	"authentication failed",
	"invalid password",
	"unknown database",
	"no such bucket",
	"invalidaccesskeyid",
	"signaturedoesnotmatch",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, storage.ErrInvalidPath) || errors.Is(err, storage.ErrNotFound) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range nonRetryableErrors {
		if strings.Contains(errStr, s) {
			return false
		}
	}

	return true
}
