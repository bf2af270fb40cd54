package infra

import (
	"time"
)

// Backoff computes capped exponential retry delays for oracle reconnects.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s doubling up to 60s.
var DefaultBackoff = Backoff{Base: time.Second, Max: 60 * time.Second}

// Delay returns Base * 2^attempt, capped at Max. Negative attempts return Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}
	// 2^30 seconds is already far beyond any sane cap.
	if attempt > 30 {
		return b.Max
	}

	d := b.Base * time.Duration(1<<attempt)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// CalculateBackoff uses DefaultBackoff.
func CalculateBackoff(retryCount int) time.Duration {
	return DefaultBackoff.Delay(retryCount)
}
