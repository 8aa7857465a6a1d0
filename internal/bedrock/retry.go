package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/quarry-ai/quarry/internal/log"
)

// RetryConfig configures the retry behavior for Bedrock calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for Bedrock API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableCodes are service error codes worth retrying.
var retryableCodes = map[string]bool{
	"ThrottlingException":         true,
	"TooManyRequestsException":    true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
	"ModelNotReadyException":      true,
}

// retryableError determines if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.ErrorCode()]
	}

	// Transport-level failures don't carry a service code.
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "timeout", "temporary", "unavailable", "429", "500", "502", "503", "504"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// withRetry executes fn with exponential backoff retry.
// The rate limiter, when set, paces EACH attempt, not just the first.
func withRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	limiter *rate.Limiter,
	logger log.Logger,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			logger.Debug("invocation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return result, nil
		}

		lastErr = err

		// Non-retryable error - fail immediately
		if !retryableError(err) {
			return zero, err
		}

		// Last attempt - don't sleep
		if attempt == cfg.MaxRetries {
			break
		}

		logger.Debug("retrying after error",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("after %d retries (elapsed: %v): %w",
		cfg.MaxRetries, time.Since(start), lastErr)
}
