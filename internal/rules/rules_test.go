package rules_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/rules"
)

type fakeStore struct {
	resp *clientv3.GetResponse
	err  error
}

func (f *fakeStore) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	return f.resp, f.err
}

func respFor(t *testing.T, rs []domain.Rule) *clientv3.GetResponse {
	t.Helper()
	data, err := json.Marshal(rs)
	require.NoError(t, err)
	return &clientv3.GetResponse{Kvs: []*mvccpb.KeyValue{{Value: data}}}
}

func TestMatchRules_WildcardAndExactConditions(t *testing.T) {
	rs := []domain.Rule{
		{RuleID: "r1", Condition: domain.RuleCondition{EventType: "promotion"}, Action: domain.RuleActionSuppress, Priority: 10, Enabled: true},
		{RuleID: "r2", Condition: domain.RuleCondition{EventType: "*"}, Action: domain.RuleActionDefer, Priority: 1, Enabled: true},
	}
	store := &fakeStore{resp: respFor(t, rs)}
	m := rules.New(store)
	m.Start(context.Background())
	defer m.Stop()

	matched := m.MatchRules(domain.Event{EventType: "promotion"})
	require.Len(t, matched, 2)
	assert.Equal(t, "r1", matched[0].RuleID) // priority descending
	assert.Equal(t, "r2", matched[1].RuleID)
}

func TestMatchRules_DisabledRuleExcluded(t *testing.T) {
	rs := []domain.Rule{
		{RuleID: "r1", Condition: domain.RuleCondition{EventType: "promotion"}, Action: domain.RuleActionSuppress, Priority: 10, Enabled: false},
	}
	store := &fakeStore{resp: respFor(t, rs)}
	m := rules.New(store)
	m.Start(context.Background())
	defer m.Stop()

	matched := m.MatchRules(domain.Event{EventType: "promotion"})
	assert.Empty(t, matched)
}

func TestFirstSuppress(t *testing.T) {
	matched := []domain.Rule{
		{RuleID: "r1", Action: domain.RuleActionDefer},
		{RuleID: "r2", Action: domain.RuleActionSuppress},
	}
	r, ok := rules.FirstSuppress(matched)
	require.True(t, ok)
	assert.Equal(t, "r2", r.RuleID)

	_, ok = rules.FirstSuppress([]domain.Rule{{RuleID: "r1", Action: domain.RuleActionDefer}})
	assert.False(t, ok)
}

func TestReload_KeepsLastSnapshotOnFailure(t *testing.T) {
	good := []domain.Rule{
		{RuleID: "r1", Condition: domain.RuleCondition{EventType: "reminder"}, Action: domain.RuleActionDefer, Priority: 1, Enabled: true},
	}
	store := &fakeStore{resp: respFor(t, good)}
	m := rules.New(store)
	m.Start(context.Background())
	defer m.Stop()

	require.Len(t, m.MatchRules(domain.Event{EventType: "reminder"}), 1)

	store.err = assertErr
	m.TriggerReload(context.Background())

	assert.Len(t, m.MatchRules(domain.Event{EventType: "reminder"}), 1)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }
