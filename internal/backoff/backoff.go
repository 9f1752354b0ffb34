// Package backoff computes retry delays. Strategies are stateless and
// safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns the wait before the retry following failure number
	// retryCount (0 for the first failure).
	Delay(retryCount int) time.Duration
}

// Exponential doubles the delay with every failed attempt:
// Initial * 2^retryCount, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, max time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: max}
}

func (e *Exponential) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(retryCount)))
	if e.Max > 0 && (d > e.Max || d <= 0) {
		return e.Max
	}
	return d
}
