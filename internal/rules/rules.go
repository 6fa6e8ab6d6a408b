// Package rules implements the hot-reloadable rules matcher
// (spec.md §4.3). Grounded on internal/alerts/engine.go's
// RWMutex-guarded in-memory cache refreshed from durable storage; the
// "loadAlerts from postgres" path there becomes a 30s poll of etcd,
// and concurrent reload triggers are coalesced with
// golang.org/x/sync/singleflight the way a busy alert engine would
// otherwise hammer its backing store on every price tick.
package rules

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/singleflight"

	"github.com/notifyhub/prioritycore/internal/domain"
)

// ReloadInterval is the poll cadence spec.md §4.3 specifies.
const ReloadInterval = 30 * time.Second

// rulesKey is the single etcd key holding the current rule set as a
// JSON array. A real deployment might shard this per tenant; the core
// only needs one global rule set.
const rulesKey = "/notifyhub/rules"

// Store is the subset of an etcd client the matcher depends on,
// narrowed so tests can fake it without a live cluster.
type Store interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// Matcher caches rules in process memory, refreshing from Store every
// ReloadInterval. On read failure, the last good snapshot stays live.
type Matcher struct {
	store Store

	mu    sync.RWMutex
	rules []domain.Rule

	group singleflight.Group

	stopCh chan struct{}
	once   sync.Once
}

// New wraps an etcd client. Call Start to begin the background reload
// loop; the matcher is safe to use immediately with an empty rule set
// until the first load completes.
func New(store Store) *Matcher {
	return &Matcher{store: store, stopCh: make(chan struct{})}
}

// NewFromClientV3 dials endpoints and wraps the resulting client.
func NewFromClientV3(endpoints []string, dialTimeout time.Duration) (*Matcher, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return New(client), nil
}

// Start loads the rule set once and launches the background reload
// ticker. Safe to call once per Matcher.
func (m *Matcher) Start(ctx context.Context) {
	m.reload(ctx)
	go m.reloadLoop(ctx)
}

// Stop ends the background reload loop.
func (m *Matcher) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Matcher) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reload(ctx)
		}
	}
}

// reload fetches the current rule set, coalescing concurrent callers
// (the ticker and any manual admin-triggered reload) into one etcd
// round trip via singleflight.
func (m *Matcher) reload(ctx context.Context) {
	_, _, _ = m.group.Do("reload", func() (interface{}, error) {
		resp, err := m.store.Get(ctx, rulesKey)
		if err != nil {
			log.Printf("rules: reload failed, keeping last snapshot: %v", err)
			return nil, err
		}
		if len(resp.Kvs) == 0 {
			return nil, nil
		}

		var loaded []domain.Rule
		if err := json.Unmarshal(resp.Kvs[0].Value, &loaded); err != nil {
			log.Printf("rules: reload produced unparseable rule set, keeping last snapshot: %v", err)
			return nil, err
		}

		sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Priority > loaded[j].Priority })

		m.mu.Lock()
		m.rules = loaded
		m.mu.Unlock()
		return nil, nil
	})
}

// TriggerReload forces an out-of-band refresh, e.g. from an admin
// endpoint. Coalesced with any reload already in flight.
func (m *Matcher) TriggerReload(ctx context.Context) {
	m.reload(ctx)
}

// MatchRules returns the rules whose conditions all match e, sorted
// by priority descending (ties preserve the backing store's order,
// since reload already sorted the snapshot once).
func (m *Matcher) MatchRules(e domain.Event) []domain.Rule {
	m.mu.RLock()
	snapshot := m.rules
	m.mu.RUnlock()

	var matched []domain.Rule
	for _, r := range snapshot {
		if !r.Enabled {
			continue
		}
		if r.Matches(e) {
			matched = append(matched, r)
		}
	}
	return matched
}

// FirstSuppress returns the first SUPPRESS-action rule in matched, if
// any, per spec.md §4.3's SUPPRESS short-circuit.
func FirstSuppress(matched []domain.Rule) (domain.Rule, bool) {
	for _, r := range matched {
		if r.Action == domain.RuleActionSuppress {
			return r, true
		}
	}
	return domain.Rule{}, false
}
