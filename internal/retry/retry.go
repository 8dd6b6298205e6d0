package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
)

// Do runs fn with bounded exponential-backoff retries. The retryable
// callback decides which errors are worth another attempt; context errors
// never are. Retrying is a collaborator-client concern, the engine loop
// itself never retries.
func Do(ctx context.Context, cfg config.RetryConfig, logger *zap.Logger, operation string, retryable func(error) bool, fn func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := cfg.MinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		latency := time.Since(start)
		if err == nil {
			if attempt > 1 {
				logger.Info("call succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", latency),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) || attempt >= maxAttempts {
			logger.Error("call failed",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		logger.Warn("call failed, waiting to retry",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
