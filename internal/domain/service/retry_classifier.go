package service

import (
	"fmt"
	"strings"
	"time"

	"sigex/internal/domain/model"
)

// RetryPolicy bounds the retry window for transient failures.
type RetryPolicy struct {
	MaxRetries int           // attempts after the first failure
	MaxAge     time.Duration // measured from signal creation
}

// DefaultRetryPolicy matches the platform defaults: two retries inside 24h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, MaxAge: 24 * time.Hour}
}

// RetryDecision 分类结果：要么进入 RETRY_PENDING，要么终态 FAILED。
type RetryDecision struct {
	Status     model.ExecutionStatus
	RetryCount int
	Result     string // human-readable executionResult text
	LastError  string
}

// transientSignatures 瞬时基础设施故障的特征串，全部小写匹配。
// 不在列表中的错误一律视为永久业务失败。
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"http 500",
	"http 502",
	"http 503",
	"http 504",
	"connection reset",
	"connection refused",
	"econnreset",
	"econnrefused",
	"service unavailable",
	"socket hang up",
	"network",
	"fetch failed",
	"backend unavailable",
	"no such host",
	"eof",
}

// IsTransient classifies a raw error string against the fixed signature set.
func IsTransient(errText string) bool {
	lower := strings.ToLower(errText)
	for _, sig := range transientSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Classify decides the next state for a failed signal.
//
// Rules, in order:
//  1. permanent error -> FAILED, error stored verbatim
//  2. first transient failure -> RETRY_PENDING, attempt 1
//  3. transient but signal older than policy.MaxAge -> FAILED (no more attempts)
//  4. transient but attempts exhausted -> FAILED
//  5. otherwise -> RETRY_PENDING with incremented attempt count
//
// The caller must never invoke Classify on a terminal signal.
func Classify(sig *model.Signal, errText string, now time.Time, policy RetryPolicy) RetryDecision {
	if !IsTransient(errText) {
		return RetryDecision{
			Status:    model.StatusFailed,
			Result:    errText,
			LastError: errText,
		}
	}

	if sig.ExecutionStatus == model.StatusRetryPending {
		if now.Sub(sig.CreatedAt) > policy.MaxAge {
			reason := fmt.Sprintf("Retry timeout (signal older than %s)", formatAge(policy.MaxAge))
			return RetryDecision{
				Status:     model.StatusFailed,
				RetryCount: sig.RetryCount,
				Result:     reason,
				LastError:  errText,
			}
		}
		if sig.RetryCount >= policy.MaxRetries {
			reason := fmt.Sprintf("Max retries (%d) exceeded: %s", policy.MaxRetries, errText)
			return RetryDecision{
				Status:     model.StatusFailed,
				RetryCount: sig.RetryCount,
				Result:     reason,
				LastError:  errText,
			}
		}
		n := sig.RetryCount + 1
		return RetryDecision{
			Status:     model.StatusRetryPending,
			RetryCount: n,
			Result:     fmt.Sprintf("RETRYABLE: %s | RETRY #%d", errText, n),
			LastError:  errText,
		}
	}

	return RetryDecision{
		Status:     model.StatusRetryPending,
		RetryCount: 1,
		Result:     fmt.Sprintf("RETRYABLE: %s | RETRY #1", errText),
		LastError:  errText,
	}
}

// ExpiredReason is the terminal reason for signals swept out of the retry
// window before any dispatch attempt.
func ExpiredReason(maxAge time.Duration) string {
	return fmt.Sprintf("Retry timeout (signal older than %s)", formatAge(maxAge))
}

func formatAge(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return d.String()
}
