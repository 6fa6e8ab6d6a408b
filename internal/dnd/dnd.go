// Package dnd implements the do-not-disturb gate (spec.md §4.4): a
// quiet-hours window that defers notifications to the next morning
// boundary instead of delivering them overnight.
package dnd

import (
	"fmt"
	"time"

	"github.com/notifyhub/prioritycore/pkg/clock"
)

// Window is a quiet-hours window in local wall-clock hours, [0,24).
// StartHour may be greater than EndHour to express an overnight span
// (the default 23:00-08:00).
type Window struct {
	StartHour int
	EndHour   int
}

// DefaultWindow is spec.md §4.4's default: 23:00 to 08:00.
var DefaultWindow = Window{StartHour: 23, EndHour: 8}

// Result is the gate's verdict for one event.
type Result struct {
	InDND  bool
	Window string
}

// Gate evaluates the DND window against the clock's current hour.
type Gate struct {
	clock  clock.Clock
	window Window
}

// New builds a Gate using DefaultWindow.
func New(c clock.Clock) *Gate {
	return &Gate{clock: c, window: DefaultWindow}
}

// NewWithWindow builds a Gate with a custom window, for tenants that
// configure their own quiet hours.
func NewWithWindow(c clock.Clock, w Window) *Gate {
	return &Gate{clock: c, window: w}
}

// Check reports whether now falls inside the configured window.
func (g *Gate) Check() Result {
	now := g.clock.Now()
	hour := now.Hour()

	var inDND bool
	if g.window.StartHour > g.window.EndHour {
		// overnight span, e.g. 23:00-08:00
		inDND = hour >= g.window.StartHour || hour < g.window.EndHour
	} else {
		inDND = hour >= g.window.StartHour && hour < g.window.EndHour
	}

	return Result{
		InDND:  inDND,
		Window: fmt.Sprintf("%02d:00-%02d:00", g.window.StartHour, g.window.EndHour),
	}
}

// NextBoundary returns the next wall-clock instant at EndHour:00,
// strictly in the future: today if the current hour is before
// EndHour, otherwise tomorrow.
func (g *Gate) NextBoundary() time.Time {
	now := g.clock.Now()
	boundary := time.Date(now.Year(), now.Month(), now.Day(), g.window.EndHour, 0, 0, 0, now.Location())
	if !boundary.After(now) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}
