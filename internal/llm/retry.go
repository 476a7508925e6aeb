// ABOUTME: Bounded exponential-backoff wrapper around a Generator
// ABOUTME: Only retryable failures are retried; the caller's context bounds the whole call

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/2389/solipcord/internal/metrics"
)

// RetryPolicy configures backoff: delay = min(BaseDelay * 2^attempt, MaxDelay).
//
// With defaults (3 attempts, 1s base):
//
//	Attempt 1 fails: wait 1s
//	Attempt 2 fails: wait 2s
//	Attempt 3 fails: give up
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 1s base delay capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait after the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Retrying wraps a Generator with RetryPolicy.
type Retrying struct {
	next   Generator
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetrying wraps next. A policy with MaxAttempts < 1 makes a single attempt.
func NewRetrying(next Generator, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrying{
		next:   next,
		policy: policy,
		logger: logger.With("component", "llm-retry"),
	}
}

// Generate calls the wrapped generator until it succeeds, fails permanently,
// runs out of attempts, or ctx is done.
func (r *Retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		res, err := r.next.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := r.policy.Delay(attempt)
		metrics.BackendRetries.Inc()
		r.logger.Warn("generation failed, retrying",
			"persona", req.PersonaName,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting to retry: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}
