// Package fatigue implements the sliding-window fatigue accountant
// (spec.md §4.6). Grounded on internal/positions/tracker.go's
// per-user bucketed state, but the event log there (in-memory slice +
// msgClient.Publish) becomes Redis ordered sets here so windows
// survive process restarts and are shared across instances.
package fatigue

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/kvstore"
	"github.com/notifyhub/prioritycore/pkg/clock"
)

// Level labels the fatigue penalty.
type Level string

const (
	LevelLow     Level = "LOW"
	LevelMedium  Level = "MEDIUM"
	LevelHigh    Level = "HIGH"
	LevelMaxed   Level = "MAXED"
	LevelUnknown Level = "UNKNOWN"
)

// Caps holds the limits for the three sliding windows. Only Total
// feeds the penalty; PerSource and Promo are carried but not checked
// by this package. A zero value passed to NewWithCaps yields the
// package defaults.
type Caps struct {
	Total     int
	PerSource int
	Promo     int
}

// DefaultCaps matches spec.md §4.6: total=5/hour, per-source=2/hour,
// promo=1/4hours.
var DefaultCaps = Caps{Total: 5, PerSource: 2, Promo: 1}

const (
	totalWindow = time.Hour
	promoWindow = 4 * time.Hour
	counterTTL  = 4 * time.Hour
)

var promoEventTypes = map[string]bool{"promotion": true, "low_value_promo": true}

// Status is the outcome of a fatigue read for one counter.
type Status struct {
	Count   int
	Penalty int
	Level   Level
}

// Accountant records per-user notification frequency in three windows
// (total, per-source, promo) and derives a penalty to subtract from the
// composite score from the total window against Caps.Total. The
// per-source and promo counters are recorded but never compared
// against a cap.
type Accountant struct {
	store kvstore.Store
	clock clock.Clock
	caps  Caps
}

// New builds an Accountant over store using the default caps.
func New(store kvstore.Store, c clock.Clock) *Accountant {
	return &Accountant{store: store, clock: c, caps: DefaultCaps}
}

// NewWithCaps builds an Accountant with custom caps, for tests and
// tenants that need tighter or looser limits than the defaults.
func NewWithCaps(store kvstore.Store, c clock.Clock, caps Caps) *Accountant {
	if caps == (Caps{}) {
		caps = DefaultCaps
	}
	return &Accountant{store: store, clock: c, caps: caps}
}

// Evaluate reads the total-counter window for e.UserID and derives
// the penalty and level. Read failure fails open per spec.md §4.6:
// {count:0, penalty:0, level:UNKNOWN}.
func (a *Accountant) Evaluate(ctx context.Context, e domain.Event) Status {
	key := totalKey(e.UserID)
	now := a.clock.Now().UnixMilli()
	windowStart := now - totalWindow.Milliseconds()

	count, err := a.store.ZRangeByScoreCount(ctx, key, windowStart, now)
	if err != nil {
		log.Printf("fatigue: total counter read failed for %s, failing open: %v", e.UserID, err)
		return Status{Count: 0, Penalty: 0, Level: LevelUnknown}
	}

	ratio := float64(count) / float64(a.caps.Total)
	penalty := penaltyFor(ratio, count)
	return Status{Count: count, Penalty: penalty, Level: levelFor(penalty)}
}

// penaltyFor evaluates the ratio thresholds highest-first so a count
// that clears multiple bands lands on the strictest one that applies.
func penaltyFor(ratio float64, count int) int {
	switch {
	case ratio >= 1.0:
		return 30
	case ratio >= 0.8:
		return 20
	case ratio >= 0.5:
		return 10
	case count >= 2:
		return 5
	default:
		return 0
	}
}

func levelFor(penalty int) Level {
	switch {
	case penalty == 0:
		return LevelLow
	case penalty <= 10:
		return LevelMedium
	case penalty <= 20:
		return LevelHigh
	default:
		return LevelMaxed
	}
}

// RecordDelivery updates the three counters. Called only on NOW/LATER
// outcomes and the CRITICAL short-circuit (invariant I3); never for
// expired, duplicate, or rule-suppressed events. Write failures are
// logged and swallowed.
func (a *Accountant) RecordDelivery(ctx context.Context, e domain.Event) {
	now := a.clock.Now().UnixMilli()
	// The random suffix keeps members unique when two deliveries land in
	// the same millisecond; otherwise the second ZAdd would overwrite the
	// first and the window would undercount.
	member := fmt.Sprintf("%d:%s:%d", now, e.EventType, rand.Int63())

	a.bump(ctx, totalKey(e.UserID), now, member, totalWindow)
	a.bump(ctx, sourceKey(e.UserID, e.Source), now, member, totalWindow)

	if promoEventTypes[e.EventType] {
		a.bump(ctx, promoKey(e.UserID), now, member, promoWindow)
	}
}

func (a *Accountant) bump(ctx context.Context, key string, nowMS int64, member string, window time.Duration) {
	if err := a.store.ZAdd(ctx, key, nowMS, member); err != nil {
		log.Printf("fatigue: failed to record counter %s: %v", key, err)
		return
	}
	if err := a.store.Expire(ctx, key, counterTTL); err != nil {
		log.Printf("fatigue: failed to set TTL on %s: %v", key, err)
	}
	cutoff := nowMS - window.Milliseconds()
	if err := a.store.ZRemByScore(ctx, key, 0, cutoff); err != nil {
		log.Printf("fatigue: failed to prune counter %s: %v", key, err)
	}
}

func totalKey(userID string) string         { return "freq:" + userID + ":total" }
func sourceKey(userID, source string) string { return "freq:" + userID + ":" + source }
func promoKey(userID string) string          { return "freq:" + userID + ":promo" }
