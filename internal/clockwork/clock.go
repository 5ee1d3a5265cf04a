// Package clockwork provides the monotonic time source used throughout the
// arbitrage core (C1). Every component that compares timestamps or checks
// freshness takes a Clock instead of calling time.Now directly, so tests
// can inject deterministic time.
package clockwork

import "time"

// Clock abstracts wall-clock access.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by time.Now.
type Real struct{}

// NewReal returns a Clock backed by the system clock.
func NewReal() Real { return Real{} }

// Now returns the current time. The value keeps Go's monotonic clock
// reading, so durations between two readings ignore wall-clock steps.
func (Real) Now() time.Time { return time.Now() }

// Fake is a Clock whose value is advanced manually, for deterministic
// tests of freshness windows, TTLs, and backoff timing.
type Fake struct {
	t time.Time
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) { f.t = t }
