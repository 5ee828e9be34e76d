package schema

import (
	"math"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 1
	DefaultBaseDelay   = 0.0
	DefaultMultiplier  = 1.0
	DefaultMaxDelay    = 60.0
)

// RetryPolicy controls per-step retry behavior. Delays are expressed in
// seconds; the delay is applied after a failed attempt and before the next
// one, never after the final attempt.
type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelay   float64 `json:"base_delay"`
	Multiplier  float64 `json:"multiplier"`
	MaxDelay    float64 `json:"max_delay"`
}

// NewRetryPolicy creates a RetryPolicy, clamping out-of-range values to the
// documented minimums.
func NewRetryPolicy(maxAttempts int, baseDelay, multiplier, maxDelay float64) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		MaxDelay:    maxDelay,
	}
}

// DefaultRetryPolicy returns the no-retry default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay computes the backoff after a failed attempt (1-based):
// min(baseDelay * multiplier^(attempt-1), maxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := p.BaseDelay * math.Pow(p.Multiplier, float64(attempt-1))
	if seconds > p.MaxDelay {
		seconds = p.MaxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}
