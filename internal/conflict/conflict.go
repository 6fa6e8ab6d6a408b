// Package conflict implements the conflict resolver (spec.md §4.8).
// Grounded on internal/risk/calculator.go's CheckOrderRisk — a fixed
// sequence of checks evaluated in order, first failure wins. Here the
// "checks" are urgency-vs-fatigue collisions instead of position and
// margin limits, but the shape (return on first match, fall through
// to "no violation" otherwise) is the same.
package conflict

import (
	"time"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/fatigue"
)

// noisySources is the static set named in spec.md §4.8 rule 2.
var noisySources = map[string]bool{
	"marketing-svc":    true,
	"promo-service":    true,
	"analytics-alerts": true,
	"noisy-svc":        true,
	"bulk-sender":      true,
}

// shortDefer is the deferral window applied by every resolved rule
// that defers (all but the MEDIUM + MAXED suppression).
const shortDefer = 15 * time.Minute

// Resolution is the conflict resolver's outcome.
type Resolution struct {
	Resolved   bool
	Decision   domain.DecisionKind
	Reason     string
	ScheduleAt *time.Time
}

// Resolve applies the four ordered rules from spec.md §4.8 against
// the event's priority hint, final score, fatigue level, and source.
// Returns Resolved=false if none match, meaning the decision boundary
// (§4.9) should apply instead.
func Resolve(e domain.Event, finalScore int, level fatigue.Level, now time.Time) Resolution {
	switch {
	case e.PriorityHint == domain.PriorityHigh && level == fatigue.LevelMaxed:
		at := now.Add(shortDefer)
		return Resolution{
			Resolved:   true,
			Decision:   domain.DecisionLater,
			Reason:     "conflict: HIGH priority collided with MAXED fatigue, deferred",
			ScheduleAt: &at,
		}

	case e.PriorityHint == domain.PriorityHigh && level == fatigue.LevelHigh && noisySources[e.Source]:
		at := now.Add(shortDefer)
		return Resolution{
			Resolved:   true,
			Decision:   domain.DecisionLater,
			Reason:     "conflict: HIGH priority from noisy source collided with HIGH fatigue, deferred",
			ScheduleAt: &at,
		}

	case e.PriorityHint == domain.PriorityMedium && level == fatigue.LevelMaxed:
		return Resolution{
			Resolved: true,
			Decision: domain.DecisionNever,
			Reason:   "conflict: MEDIUM priority suppressed under MAXED fatigue",
		}

	case e.PriorityHint == domain.PriorityLow && finalScore >= 60 && level == fatigue.LevelMaxed:
		at := now.Add(shortDefer)
		return Resolution{
			Resolved:   true,
			Decision:   domain.DecisionLater,
			Reason:     "conflict: LOW priority scored high under MAXED fatigue, deferred rather than dropped",
			ScheduleAt: &at,
		}
	}

	return Resolution{Resolved: false}
}
