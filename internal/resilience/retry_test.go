package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reactorhq/reactor/internal/workflow"
)

func TestDelayExactExponentialWithNoJitter(t *testing.T) {
	p := workflow.RetryPolicy{MaxRetries: 3, BaseDelayMs: 1000, MaxDelayMs: 30000, BackoffFactor: 2, Jitter: 0}

	cases := map[int]int64{0: 1000, 1: 2000, 2: 4000}
	for attempt, wantMs := range cases {
		got := Delay(p, attempt)
		assert.Equalf(t, wantMs, got.Milliseconds(), "delay(%d)", attempt)
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	p := workflow.RetryPolicy{MaxRetries: 10, BaseDelayMs: 1000, MaxDelayMs: 5000, BackoffFactor: 2, Jitter: 0}
	got := Delay(p, 5)
	assert.Equal(t, int64(5000), got.Milliseconds())
}

func TestShouldRetryRespectsMaxRetries(t *testing.T) {
	p := &workflow.RetryPolicy{MaxRetries: 2}
	assert.True(t, ShouldRetry(p, 0, true), "expected retry at count 0")
	assert.True(t, ShouldRetry(p, 1, true), "expected retry at count 1")
	assert.False(t, ShouldRetry(p, 2, true), "expected no retry once count reaches max_retries")
}

func TestShouldRetryDisabledWhenNotRetryable(t *testing.T) {
	p := &workflow.RetryPolicy{MaxRetries: 3}
	assert.False(t, ShouldRetry(p, 0, false), "non-retryable failure must not retry")
}

func TestShouldRetryDisabledWhenMaxRetriesZero(t *testing.T) {
	p := &workflow.RetryPolicy{MaxRetries: 0}
	assert.False(t, ShouldRetry(p, 0, true), "max_retries=0 must disable retries")
}
