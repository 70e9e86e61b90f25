package reminders

import (
	"math"
	"time"
)

// BackoffPolicy controls retries of failed provider sends.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff starts at one minute, doubles, caps at one hour and gives up
// after five attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{BaseDelay: time.Minute, Multiplier: 2, MaxDelay: time.Hour, MaxAttempts: 5}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	d := DefaultBackoff()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Delay returns the wait after the given number of failed attempts (1-based).
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether no retry is left after attempts failures.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return attempts >= p.normalized().MaxAttempts
}
