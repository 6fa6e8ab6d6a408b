// Package kvstore defines the KV adapter the deduplicator and fatigue
// accountant consume (spec.md §6), generalized from the donor's direct
// *redis.Client usage in internal/portfolio/manager.go into a small
// interface over sorted sets plus plain keys.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrFault is wrapped around any underlying client error so callers
// can tell "the store faulted" from "the key was absent" without
// depending on a specific client's error type.
var ErrFault = errors.New("kvstore: operation failed")

// Store is the KV surface the core depends on. Every method can fail;
// per-component failure policy (fail-open on read, swallow on write)
// lives in the callers (internal/dedup, internal/fatigue), not here.
type Store interface {
	// Get returns the value and true if present, ("", false) if
	// absent, or a non-nil error on a store fault.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key with a TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// ZAdd inserts (member, scoreMS) into the sorted set at key.
	ZAdd(ctx context.Context, key string, scoreMS int64, member string) error

	// ZRangeAll returns every member in the sorted set at key, in
	// score order.
	ZRangeAll(ctx context.Context, key string) ([]string, error)

	// ZRangeByScoreCount counts members scored in [min, max].
	ZRangeByScoreCount(ctx context.Context, key string, min, max int64) (int, error)

	// ZRemByScore removes members scored in [min, max].
	ZRemByScore(ctx context.Context, key string, min, max int64) error

	// Expire sets (or refreshes) a key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
