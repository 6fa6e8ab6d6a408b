// Package score provides decimal-backed arithmetic for the composite
// scorer, the same way the donor reached for shopspring/decimal to
// avoid float64 precision loss when combining prices — here it's
// priority/event-type/channel/freshness weights and the fatigue/AI
// adjustments instead of trade prices, but the failure mode
// (0.1 + 0.2 != 0.3) is the same, and clamping needs to be exact at
// the integer boundaries the spec defines.
package score

import (
	"github.com/shopspring/decimal"
)

// Accumulator sums signed integer signals through decimal arithmetic
// and clamps the result into [lo, hi].
type Accumulator struct {
	total decimal.Decimal
}

// NewAccumulator starts an accumulator at zero.
func NewAccumulator() *Accumulator {
	return &Accumulator{total: decimal.Zero}
}

// Add adds an integer signal (a base-score term, a penalty, an AI
// adjustment) to the running total.
func (a *Accumulator) Add(term int) *Accumulator {
	a.total = a.total.Add(decimal.NewFromInt(int64(term)))
	return a
}

// Sub subtracts an integer signal from the running total.
func (a *Accumulator) Sub(term int) *Accumulator {
	a.total = a.total.Sub(decimal.NewFromInt(int64(term)))
	return a
}

// Clamp returns the running total bounded to [lo, hi], truncated to int.
func (a *Accumulator) Clamp(lo, hi int) int {
	v := a.total.IntPart()
	if v < int64(lo) {
		return lo
	}
	if v > int64(hi) {
		return hi
	}
	return int(v)
}

// Int returns the running total truncated to int, unclamped.
func (a *Accumulator) Int() int {
	return int(a.total.IntPart())
}

// Clamp is a standalone helper for single-value bounding, used by
// stages that compute one number rather than accumulating several.
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
