package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigex/internal/domain/model"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		errText   string
		transient bool
	}{
		{"request timeout after 30s", true},
		{"Gateway returned status 502", true},
		{"read tcp: connection reset by peer", true},
		{"dial tcp: connection refused", true},
		{"venue responded: Service Unavailable", true},
		{"socket hang up", true},
		{"network is unreachable", true},
		{"context deadline exceeded", true},
		{"insufficient funds for order", false},
		{"invalid market BTCX", false},
		{"Agent not approved for account 0xabc", false},
		{"order size below minimum", false},
	}

	for _, c := range cases {
		assert.Equal(t, c.transient, IsTransient(c.errText), "errText=%q", c.errText)
	}
}

func TestClassifyPermanentFailure(t *testing.T) {
	sig := &model.Signal{ID: "s1", CreatedAt: time.Now(), ExecutionStatus: model.StatusPending}

	d := Classify(sig, "insufficient funds for order", time.Now(), DefaultRetryPolicy())

	assert.Equal(t, model.StatusFailed, d.Status)
	assert.Equal(t, "insufficient funds for order", d.Result)
	assert.Equal(t, "insufficient funds for order", d.LastError)
	assert.Zero(t, d.RetryCount)
}

func TestClassifyFirstTransientFailure(t *testing.T) {
	sig := &model.Signal{ID: "s1", CreatedAt: time.Now(), ExecutionStatus: model.StatusPending}

	d := Classify(sig, "request timeout", time.Now(), DefaultRetryPolicy())

	assert.Equal(t, model.StatusRetryPending, d.Status)
	assert.Equal(t, 1, d.RetryCount)
	assert.Equal(t, "RETRYABLE: request timeout | RETRY #1", d.Result)
}

// Mirrors the escalation path: timeout, then 500, then a third failure that
// exceeds the max retry count.
func TestClassifyRetryEscalation(t *testing.T) {
	policy := DefaultRetryPolicy()
	now := time.Now()
	sig := &model.Signal{ID: "s1", CreatedAt: now, ExecutionStatus: model.StatusPending}

	d1 := Classify(sig, "request timeout", now, policy)
	require.Equal(t, model.StatusRetryPending, d1.Status)
	require.Equal(t, 1, d1.RetryCount)

	sig.ExecutionStatus = d1.Status
	sig.RetryCount = d1.RetryCount

	d2 := Classify(sig, "venue returned status 500", now.Add(time.Minute), policy)
	require.Equal(t, model.StatusRetryPending, d2.Status)
	require.Equal(t, 2, d2.RetryCount)
	assert.Equal(t, "RETRYABLE: venue returned status 500 | RETRY #2", d2.Result)

	sig.ExecutionStatus = d2.Status
	sig.RetryCount = d2.RetryCount

	d3 := Classify(sig, "connection reset by peer", now.Add(2*time.Minute), policy)
	assert.Equal(t, model.StatusFailed, d3.Status)
	assert.Contains(t, d3.Result, "Max retries (2) exceeded")
}

func TestClassifyRetryWindowExpired(t *testing.T) {
	now := time.Now()
	sig := &model.Signal{
		ID:              "s1",
		CreatedAt:       now.Add(-25 * time.Hour),
		ExecutionStatus: model.StatusRetryPending,
		RetryCount:      1,
	}

	d := Classify(sig, "request timeout", now, DefaultRetryPolicy())

	assert.Equal(t, model.StatusFailed, d.Status)
	assert.Contains(t, d.Result, "signal older than 24h")
}

// Age wins over attempt count: an over-age signal fails on the timeout reason
// even when it still has attempts left.
func TestClassifyAgeBeatsAttemptCount(t *testing.T) {
	now := time.Now()
	sig := &model.Signal{
		ID:              "s1",
		CreatedAt:       now.Add(-30 * time.Hour),
		ExecutionStatus: model.StatusRetryPending,
		RetryCount:      1,
	}

	d := Classify(sig, "request timeout", now, DefaultRetryPolicy())

	assert.Equal(t, model.StatusFailed, d.Status)
	assert.Contains(t, d.Result, "Retry timeout")
	assert.NotContains(t, d.Result, "Max retries")
}

func TestExpiredReason(t *testing.T) {
	assert.Equal(t, "Retry timeout (signal older than 24h)", ExpiredReason(24*time.Hour))
}
