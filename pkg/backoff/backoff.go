// Package backoff provides redelivery delay strategies for scheduled
// retries. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed: attempt 1
// is the first retry after the initial failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Fixed returns the same delay for every attempt.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

func (f *Fixed) Delay(_ int) time.Duration { return f.Interval }

// Exponential doubles the delay each attempt:
// Delay = min(Initial * 2^(attempt-1), Max). Max <= 0 means uncapped.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy capped at max.
func NewExponential(initial, max time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: max}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Default is the queue's standard redelivery policy: exponential with 1s
// initial delay capped at 1m.
func Default() Strategy {
	return NewExponential(time.Second, time.Minute)
}

// FromSpec builds a strategy from a serialized spec. Unrecognized types
// fall back to exponential, which keeps redelivery safe for jobs enqueued
// by newer producers.
func FromSpec(typ string, delay time.Duration) Strategy {
	if typ == "fixed" {
		return NewFixed(delay)
	}
	return NewExponential(delay, time.Minute)
}
