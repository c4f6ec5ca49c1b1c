// Package resilience implements the failure/resilience layer: retry delay
// computation (C3) and the per-action circuit breaker (C4).
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/reactorhq/reactor/internal/workflow"
)

var errProbe = errors.New("resilience: probe attempt")

// Delay computes the sleep duration before attempt n (0-indexed retries, so
// attempt 0 is the first retry), per the formula in §3:
//
//	delay = min(base_delay * factor^n, max_delay) * (1 + U(-jitter, +jitter))
//
// It builds a fresh backoff.ExponentialBackOff from the policy (direct field
// assignment, the library's own construction idiom) and drives it through
// backoff.Retry with a probe operation that fails exactly attempt+1 times,
// capturing the delay backoff.Retry itself computed via WithNotify. This
// keeps jitter generation backed by the real dependency's algorithm instead
// of a hand-rolled reimplementation.
func Delay(policy workflow.RetryPolicy, attempt int) time.Duration {
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(policy.BaseDelayMs) * time.Millisecond
	eb.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
	eb.Multiplier = factor
	eb.RandomizationFactor = policy.Jitter
	eb.Reset()

	tries := 0
	notifyCount := 0
	var captured time.Duration

	operation := func() (struct{}, error) {
		tries++
		if tries <= attempt+1 {
			return struct{}{}, errProbe
		}
		return struct{}{}, nil
	}

	_, _ = backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempt+2)),
		backoff.WithNotify(func(_ error, d time.Duration) {
			notifyCount++
			if notifyCount == attempt+1 {
				captured = d
			}
		}),
	)

	if captured < 0 {
		captured = 0
	}
	return captured
}

// ShouldRetry reports whether a failed action-step attempt should be
// retried, per §4.3: disabled when max_retries is 0, and bounded so total
// attempts never exceed max_retries+1 (S5).
func ShouldRetry(policy *workflow.RetryPolicy, retryCount int, retryable bool) bool {
	if policy == nil || !retryable {
		return false
	}
	return retryCount < policy.MaxRetries
}
