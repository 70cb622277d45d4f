package rpcutil

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/meterly/gateway/internal/logger"
)

// RetryConfig defines retry behavior for RPC and upstream HTTP
// operations: up to maxRetries extra attempts, doubling baseDelay each
// time. When jitter is set, each computed delay is randomized in
// [delay/2, delay] rather than used verbatim, so a burst of
// simultaneously-retrying requests doesn't resynchronize on every
// backoff step (spec §4.P's "jittered" backoff).
type RetryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	jitter     bool
}

// NewRetryConfig builds a jittered retry policy: maxRetries additional
// attempts beyond the first, doubling baseDelay each time.
func NewRetryConfig(maxRetries int, baseDelay time.Duration) RetryConfig {
	return RetryConfig{maxRetries: maxRetries, baseDelay: baseDelay, jitter: true}
}

// defaultRetryConfig returns sensible defaults for RPC retries.
func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
	}
}

// WithRetry wraps an RPC operation with retry logic using exponential backoff.
// It retries on transient errors like network issues and rate limits.
func WithRetry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return WithRetryCustom(ctx, defaultRetryConfig(), operation)
}

// WithRetryCustom allows custom retry configuration.
func WithRetryCustom[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return result, err
		}

		// Check if error is retryable
		if !isRetryableError(err) {
			return result, err
		}

		// Last attempt - don't sleep
		if attempt == cfg.maxRetries {
			break
		}

		// Exponential backoff: baseDelay, 2x, 4x, ...
		delay := cfg.baseDelay * time.Duration(1<<uint(attempt))
		if cfg.jitter {
			delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		}
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.maxRetries+1).
			Dur("retry_delay", delay).
			Msg("rpc.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
			// Continue to next attempt
		}
	}

	return result, err
}

// isRetryableError determines if an error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "network") {
		return true
	}

	// Rate limiting
	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle") {
		return true
	}

	// Server errors (5xx)
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}

	return false
}
