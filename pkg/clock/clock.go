// Package clock provides a deterministic time source for the pipeline.
//
// Every time-dependent stage (expiry, freshness, DND, fatigue windows,
// SimHash prune, deferral scheduling) takes a Clock instead of calling
// time.Now() directly, so tests can pin "now" and assert exact
// boundaries instead of racing the wall clock.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the actual system time. Use only at cmd/ entry points.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always returns the same instant. Use in tests.
type Fixed struct {
	T time.Time
}

func (c Fixed) Now() time.Time { return c.T }

// Func wraps a function as a Clock, for tests that need time to move.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// NewReal returns a Clock backed by the system clock.
func NewReal() Clock { return Real{} }

// NewFixed returns a Clock pinned to t.
func NewFixed(t time.Time) Clock { return Fixed{T: t} }

var (
	_ Clock = Real{}
	_ Clock = Fixed{}
	_ Clock = Func(nil)
)
