package embed

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/genai"
)

// RetryConfig configures the retry behavior for embedding API calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableCodes are HTTP status codes worth retrying.
var retryableCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error(). String matching is the
// fallback for transport errors that never reach an APIError.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource exhausted"},
	{"unavailable", "overloaded", "internal error"},
	{"connection reset", "timeout", "temporary"},
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.Code]
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// NextDelay returns the backoff before retry number attempt (zero-based):
// base doubled attempt times, capped at max, then jittered across
// [d/2, d) so concurrent clients hitting the same limit do not retry
// in lockstep.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return jitter(d)
}

// jitter spreads a delay across [delay/2, delay).
func jitter(delay time.Duration) time.Duration {
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half)
}
