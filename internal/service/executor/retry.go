package executor

import (
	"math"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultBackoffFactor  = 2.0
)

// RetryPolicy decides whether and after what delay a failed attempt is repeated.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Retryable overrides the default kind filter when set.
	Retryable func(FailureKind) bool
}

// DefaultRetryPolicy retries transient, timeout and rate-limited failures three times in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Multiplier:     defaultBackoffFactor,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultBackoffFactor
	}
	return p
}

// ShouldRetry reports whether a failure of kind k may be attempted again.
func (p RetryPolicy) ShouldRetry(k FailureKind) bool {
	if p.Retryable != nil {
		return p.Retryable(k)
	}
	switch k {
	case KindTimeout, KindTransient, KindRateLimited:
		return true
	}
	return false
}

// Backoff returns the delay before attempt n+1 after n failed attempts.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1))
	return time.Duration(math.Min(d, float64(p.MaxBackoff)))
}
