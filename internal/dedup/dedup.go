// Package dedup implements the exact-plus-near-duplicate detector
// (spec.md §4.2). Grounded on internal/portfolio/manager.go's
// cache-aside shape (check a fast path, fall through, store the
// result back) — here the fast path is three KV probes instead of a
// local map then Redis then Postgres.
package dedup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/kvstore"
	"github.com/notifyhub/prioritycore/pkg/clock"
	"github.com/notifyhub/prioritycore/pkg/hashutil"
)

// MatchType identifies which of the three checks caught a duplicate.
type MatchType string

const (
	MatchExactKey        MatchType = "EXACT_KEY"
	MatchExactFingerprint MatchType = "EXACT_FINGERPRINT"
	MatchNearDuplicate    MatchType = "NEAR_DUPLICATE"
)

// Result is CheckDuplicate's outcome.
type Result struct {
	IsDuplicate bool
	Type        MatchType
	Detail      string
}

// NearDupWindow is the simhash sliding window spec.md §4.2 specifies
// as 600 seconds. StoreFingerprint's prune applies it correctly as
// milliseconds (see the Open Question #2 note there — the documented source bug multiplied this by 1000 a second
// time, disabling pruning for ~7 days; that bug is NOT reproduced here).
const NearDupWindow = 600 // seconds

const (
	transactionalTTLSeconds = 600
	promoTTLSeconds         = 86400
)

var promoEventTypes = map[string]bool{
	"promotion":       true,
	"low_value_promo": true,
}

// Deduplicator implements the three-check duplicate detector.
type Deduplicator struct {
	store kvstore.Store
	clock clock.Clock
}

// New builds a Deduplicator over the given KV store and clock.
func New(store kvstore.Store, c clock.Clock) *Deduplicator {
	return &Deduplicator{store: store, clock: c}
}

// CheckDuplicate runs the three checks in order: EXACT_KEY,
// EXACT_FINGERPRINT, NEAR_DUPLICATE. Any KV fault on read is treated
// as "not a duplicate" (fail-open), logged and swallowed — it never
// surfaces as an error to the pipeline.
func (d *Deduplicator) CheckDuplicate(ctx context.Context, e domain.Event) Result {
	if e.DedupeKey != "" {
		key := "dedup:key:" + e.DedupeKey
		if _, found, err := d.get(ctx, key); err != nil {
			log.Printf("dedup: EXACT_KEY probe failed, treating as not-duplicate: %v", err)
		} else if found {
			return Result{IsDuplicate: true, Type: MatchExactKey, Detail: key}
		}
	}

	fp := hashutil.Fingerprint(e.UserID, e.EventType, e.Message, e.Source)
	fpKey := "dedup:fp:" + fp
	if _, found, err := d.get(ctx, fpKey); err != nil {
		log.Printf("dedup: EXACT_FINGERPRINT probe failed, treating as not-duplicate: %v", err)
	} else if found {
		return Result{IsDuplicate: true, Type: MatchExactFingerprint, Detail: fp}
	}

	if len(e.Message) < 10 {
		return Result{IsDuplicate: false}
	}

	simKey := fmt.Sprintf("sim:%s:%s", e.UserID, e.EventType)
	current := hashutil.SimHash(e.Message)

	members, err := d.store.ZRangeAll(ctx, simKey)
	if err != nil {
		log.Printf("dedup: NEAR_DUPLICATE read failed, treating as not-duplicate: %v", err)
		return Result{IsDuplicate: false}
	}

	for _, m := range members {
		stored := hashutil.ParseSimHash(m)
		if hashutil.Hamming(current, stored) < 5 {
			return Result{
				IsDuplicate: true,
				Type:        MatchNearDuplicate,
				Detail:      "hamming<5 vs stored hash " + m,
			}
		}
	}

	return Result{IsDuplicate: false}
}

func (d *Deduplicator) get(ctx context.Context, key string) (string, bool, error) {
	return d.store.Get(ctx, key)
}

// StoreFingerprint writes the exact-key/fingerprint/simhash records.
// Called only on non-suppressed outcomes per invariant I3. Any KV
// write fault is logged and swallowed; the pipeline never retries.
func (d *Deduplicator) StoreFingerprint(ctx context.Context, e domain.Event) {
	ttl := transactionalTTLSeconds
	if promoEventTypes[e.EventType] {
		ttl = promoTTLSeconds
	}
	ttlDur := time.Duration(ttl) * time.Second

	fp := hashutil.Fingerprint(e.UserID, e.EventType, e.Message, e.Source)
	if err := d.store.Set(ctx, "dedup:fp:"+fp, "1", ttlDur); err != nil {
		log.Printf("dedup: failed to store fingerprint: %v", err)
	}

	if e.DedupeKey != "" {
		if err := d.store.Set(ctx, "dedup:key:"+e.DedupeKey, "1", ttlDur); err != nil {
			log.Printf("dedup: failed to store dedupe key: %v", err)
		}
	}

	simKey := fmt.Sprintf("sim:%s:%s", e.UserID, e.EventType)
	nowMS := d.clock.Now().UnixMilli()
	h := hashutil.SimHash(e.Message)

	if err := d.store.ZAdd(ctx, simKey, nowMS, hashutil.FormatSimHash(h)); err != nil {
		log.Printf("dedup: failed to store simhash: %v", err)
		return
	}
	if err := d.store.Expire(ctx, simKey, time.Duration(NearDupWindow)*time.Second); err != nil {
		log.Printf("dedup: failed to set simhash TTL: %v", err)
	}

	// Correct 10-minute prune cutoff. spec.md §9 Open Question #2
	// documents a source bug where NEAR_DUP_WINDOW (already seconds)
	// was multiplied by 1000 a second time here, yielding a cutoff
	// ~7 days in the past and effectively disabling pruning. That bug
	// is not reproduced: the cutoff below is a genuine 600,000ms window.
	cutoff := nowMS - NearDupWindow*1000
	if err := d.store.ZRemByScore(ctx, simKey, 0, cutoff); err != nil {
		log.Printf("dedup: failed to prune simhash window: %v", err)
	}
}

