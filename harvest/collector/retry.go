package collector

import (
	"time"
)

// RetryPolicy is the single backoff policy shared by all paging calls.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 250 * time.Millisecond,
	}
}

// Backoff returns the exponential delay for the given zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Linear returns a linearly growing delay, used for non-rate-limit retries.
func (p RetryPolicy) Linear(attempt int) time.Duration {
	return p.BaseBackoff * time.Duration(attempt+1)
}

func (p RetryPolicy) normalized() RetryPolicy {
	out := p
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultRetryPolicy().MaxRetries
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = DefaultRetryPolicy().BaseBackoff
	}
	return out
}
