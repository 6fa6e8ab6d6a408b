// Package scorer implements the composite scorer (spec.md §4.5):
// base score from static tables plus freshness, then combined with
// fatigue penalty and AI adjustment into a clamped final score.
// Grounded on pkg/score.Accumulator for the decimal-safe arithmetic,
// the same way the donor leans on shopspring/decimal rather than raw
// floats for anything that feeds a decision.
package scorer

import (
	"time"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/pkg/score"
)

var priorityBase = map[domain.Priority]int{
	domain.PriorityCritical: 40,
	domain.PriorityHigh:     25,
	domain.PriorityMedium:   15,
	domain.PriorityLow:      5,
}

const defaultPriorityBase = 10

var eventTypeBase = map[string]int{
	"security_alert":  30,
	"direct_message":  25,
	"payment_alert":   28,
	"reminder":        20,
	"system_alert":    18,
	"system_update":   10,
	"promotion":       5,
	"low_value_promo": 2,
	"digest":          3,
}

const defaultEventTypeBase = 5

var channelBase = map[domain.Channel]int{
	domain.ChannelSMS:   10,
	domain.ChannelPush:  8,
	domain.ChannelEmail: 5,
	domain.ChannelInApp: 3,
}

const defaultChannelBase = 3

const maxBaseScore = 75

// ComputeBase returns the base score in [0, 75] per spec.md §4.5.
func ComputeBase(e domain.Event, now time.Time) int {
	acc := score.NewAccumulator()

	pb, ok := priorityBase[e.PriorityHint]
	if !ok {
		pb = defaultPriorityBase
	}
	acc.Add(pb)

	etb, ok := eventTypeBase[e.EventType]
	if !ok {
		etb = defaultEventTypeBase
	}
	acc.Add(etb)

	cb, ok := channelBase[e.Channel]
	if !ok {
		cb = defaultChannelBase
	}
	acc.Add(cb)

	acc.Add(freshness(e.Timestamp, now))

	return acc.Clamp(0, maxBaseScore)
}

// freshness scores how recently the event was timestamped. A zero
// Timestamp is treated as missing per spec.md §4.5. Unreachable from
// the real pipeline path — domain.Event.Normalize defaults a zero
// Timestamp to now before ComputeBase ever runs — but kept for direct
// callers (and exercised that way in tests).
func freshness(ts, now time.Time) int {
	if ts.IsZero() {
		return 5
	}
	age := now.Sub(ts)
	switch {
	case age < time.Minute:
		return 10
	case age < 5*time.Minute:
		return 8
	case age < 15*time.Minute:
		return 5
	case age < time.Hour:
		return 2
	default:
		return 0
	}
}

// Final combines base, fatigue penalty, and AI adjustment into the
// clamped [0,100] final score used by the decision boundary.
func Final(base, fatiguePenalty, aiAdjustment int) int {
	acc := score.NewAccumulator()
	acc.Add(base)
	acc.Sub(fatiguePenalty)
	acc.Add(aiAdjustment)
	return acc.Clamp(0, 100)
}
