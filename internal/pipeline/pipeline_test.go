package pipeline_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/prioritycore/internal/aienrich"
	"github.com/notifyhub/prioritycore/internal/audit"
	"github.com/notifyhub/prioritycore/internal/dedup"
	"github.com/notifyhub/prioritycore/internal/dnd"
	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/fatigue"
	"github.com/notifyhub/prioritycore/internal/kvstore"
	"github.com/notifyhub/prioritycore/internal/pipeline"
	"github.com/notifyhub/prioritycore/pkg/clock"
)

var auditIDPattern = regexp.MustCompile(`^aud_[0-9a-f]{8}$`)

type noopRules struct{}

func (noopRules) MatchRules(e domain.Event) []domain.Rule { return nil }

type recordingAudit struct {
	records []domain.AuditRecord
}

func (r *recordingAudit) Write(ctx context.Context, rec domain.AuditRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type recordingScheduler struct {
	calls int
}

func (r *recordingScheduler) ScheduleDeferred(ctx context.Context, e domain.Event, scheduleAt time.Time, auditID string) error {
	r.calls++
	return nil
}

// newTestOrchestrator wires the real DND gate to a fixed clock; tests
// that aren't about DND pin it to noonClock, outside the default
// 23:00-08:00 window.
func newTestOrchestrator(now time.Time) (*pipeline.Orchestrator, *recordingAudit, *recordingScheduler) {
	c := clock.NewFixed(now)
	store := kvstore.NewMemStore()
	d := dedup.New(store, c)
	fa := fatigue.New(store, c)
	g := dnd.New(c)
	ai := aienrich.New("")
	al := &recordingAudit{}
	sc := &recordingScheduler{}

	orch := pipeline.New(c, d, noopRules{}, g, fa, ai, al, sc)
	return orch, al, sc
}

func noonClock() time.Time {
	return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
}

func TestEvaluate_CriticalShortCircuitsToNow(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{
		UserID:       "u1",
		EventType:    "security_alert",
		PriorityHint: domain.PriorityCritical,
		Message:      "account compromised, act now",
	}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNow, d.Decision)
	assert.Equal(t, 97, d.Score)
	assert.Contains(t, d.Reason, "CRITICAL")
	assert.Regexp(t, auditIDPattern, d.AuditID)
}

func TestEvaluate_ExpiryPrecedesCritical(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	past := noonClock().Add(-time.Hour)
	e := domain.Event{
		UserID:       "u1",
		EventType:    "security_alert",
		PriorityHint: domain.PriorityCritical,
		ExpiresAt:    &past,
	}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNever, d.Decision)
	assert.Equal(t, 0, d.Score)
	assert.Regexp(t, regexp.MustCompile(`(?i)expired`), d.Reason)
}

func TestEvaluate_CriticalBypassesDedup(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{
		UserID:       "u1",
		EventType:    "security_alert",
		PriorityHint: domain.PriorityCritical,
		Message:      "account compromised",
	}

	first, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNow, first.Decision)

	// Same event again: a non-CRITICAL duplicate would be NEVER'd,
	// but CRITICAL always sends per spec.md §9 Open Question #4.
	second, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNow, second.Decision)
}

func TestEvaluate_DuplicateNonCriticalIsNever(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{
		UserID:       "u1",
		EventType:    "direct_message",
		PriorityHint: domain.PriorityHigh,
		Channel:      domain.ChannelPush,
		Message:      "You have a new message from Alex about tomorrow's plans",
		Timestamp:    noonClock(),
	}

	first, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.NotEqual(t, domain.DecisionNever, first.Decision)

	second, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNever, second.Decision)
	assert.Regexp(t, regexp.MustCompile(`(?i)duplicate`), second.Reason)
}

func TestEvaluate_HighPriorityFreshDirectMessageIsNow(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{
		UserID:       "u1",
		EventType:    "direct_message",
		PriorityHint: domain.PriorityHigh,
		Channel:      domain.ChannelPush,
		Message:      "hello there, quick question about the project plan",
		Timestamp:    noonClock(),
	}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNow, d.Decision)
	assert.GreaterOrEqual(t, d.Score, 60)
}

func TestEvaluate_ScoreAlwaysWithinBounds(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{UserID: "u1", EventType: "low_value_promo", PriorityHint: domain.PriorityLow}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.Score, 0)
	assert.LessOrEqual(t, d.Score, 100)
}

func TestEvaluate_ScheduleAtNonNilIffLater(t *testing.T) {
	orch, _, _ := newTestOrchestrator(noonClock())
	e := domain.Event{UserID: "u1", EventType: "reminder", PriorityHint: domain.PriorityMedium}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	if d.Decision == domain.DecisionLater {
		assert.NotNil(t, d.ScheduleAt)
	} else {
		assert.Nil(t, d.ScheduleAt)
	}
}

func TestEvaluate_AuditRecordWrittenForEveryCall(t *testing.T) {
	orch, al, _ := newTestOrchestrator(noonClock())
	e := domain.Event{UserID: "u1", EventType: "reminder", PriorityHint: domain.PriorityMedium}

	_, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, al.records, 1)
	assert.Regexp(t, auditIDPattern, al.records[0].AuditID)
}

// TestEvaluate_AuditRecordWrittenOnEveryShortCircuit guards invariant
// I2 (an audit record is written before Evaluate returns) across the
// three paths that return before reaching the decision boundary:
// CRITICAL, duplicate, and rule-SUPPRESS.
func TestEvaluate_AuditRecordWrittenOnEveryShortCircuit(t *testing.T) {
	t.Run("CRITICAL short-circuit", func(t *testing.T) {
		orch, al, _ := newTestOrchestrator(noonClock())
		e := domain.Event{UserID: "u1", EventType: "security_alert", PriorityHint: domain.PriorityCritical}

		_, err := orch.Evaluate(context.Background(), e)
		require.NoError(t, err)
		require.Len(t, al.records, 1)
		assert.Equal(t, domain.DecisionNow, al.records[0].Decision)
	})

	t.Run("duplicate guard", func(t *testing.T) {
		orch, al, _ := newTestOrchestrator(noonClock())
		e := domain.Event{
			UserID: "u1", EventType: "direct_message", PriorityHint: domain.PriorityHigh,
			Channel: domain.ChannelPush, Message: "hello there, first send", Timestamp: noonClock(),
		}

		_, err := orch.Evaluate(context.Background(), e)
		require.NoError(t, err)
		_, err = orch.Evaluate(context.Background(), e)
		require.NoError(t, err)

		require.Len(t, al.records, 2)
		assert.Equal(t, domain.DecisionNever, al.records[1].Decision)
	})

	t.Run("rule SUPPRESS short-circuit", func(t *testing.T) {
		c := clock.NewFixed(noonClock())
		store := kvstore.NewMemStore()
		al := &recordingAudit{}
		suppressing := suppressAllRules{}
		orch := pipeline.New(c, dedup.New(store, c), suppressing, dnd.New(c), fatigue.New(store, c), aienrich.New(""), al, nil)

		e := domain.Event{UserID: "u1", EventType: "promotion", PriorityHint: domain.PriorityLow}
		d, err := orch.Evaluate(context.Background(), e)
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNever, d.Decision)
		require.Len(t, al.records, 1)
		assert.Contains(t, al.records[0].Reason, "Suppressed")
	})
}

type suppressAllRules struct{}

func (suppressAllRules) MatchRules(e domain.Event) []domain.Rule {
	return []domain.Rule{{RuleID: "r-suppress-all", Action: domain.RuleActionSuppress, Enabled: true}}
}

func TestEvaluate_LaterDecisionSubmitsDeferredDispatch(t *testing.T) {
	orch, _, sc := newTestOrchestrator(noonClock())
	e := domain.Event{UserID: "u1", EventType: "low_value_promo", PriorityHint: domain.PriorityLow}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	if d.Decision == domain.DecisionLater {
		assert.Equal(t, 1, sc.calls)
	} else {
		assert.Equal(t, 0, sc.calls)
	}
}

func TestEvaluate_DNDWindowDefersEvenHighScore(t *testing.T) {
	midnight := time.Date(2026, 7, 30, 2, 0, 0, 0, time.UTC)
	orch, _, _ := newTestOrchestrator(midnight)
	e := domain.Event{
		UserID:       "u1",
		EventType:    "direct_message",
		PriorityHint: domain.PriorityHigh,
		Channel:      domain.ChannelPush,
		Message:      "hello there, quick question about the project plan",
		Timestamp:    midnight,
	}

	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionLater, d.Decision)
	assert.Equal(t, 35, d.Score)
	require.NotNil(t, d.ScheduleAt)
	assert.Equal(t, 8, d.ScheduleAt.Hour())
}

func TestEvaluate_AuditWriteFailureDoesNotSurfaceToCaller(t *testing.T) {
	c := clock.NewFixed(noonClock())
	store := kvstore.NewMemStore()
	orch := pipeline.New(c, dedup.New(store, c), noopRules{}, dnd.New(c), fatigue.New(store, c), aienrich.New(""), faultingAudit{}, nil)

	e := domain.Event{UserID: "u1", EventType: "reminder", PriorityHint: domain.PriorityMedium}
	d, err := orch.Evaluate(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Decision)
}

type faultingAudit struct{}

func (faultingAudit) Write(ctx context.Context, rec domain.AuditRecord) error {
	return assertErr
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

var _ audit.Writer = faultingAudit{}

// panickingRules simulates an unexpected runtime fault inside Stage 4
// (rule matching), the case the failsafe envelope has to recover
// from. Only reached for non-CRITICAL events, since Stage 2
// short-circuits CRITICAL before Stage 4 runs.
type panickingRules struct{}

func (panickingRules) MatchRules(e domain.Event) []domain.Rule {
	panic("boom: rule matcher exploded")
}

func TestEvaluate_NonCriticalPanicSurfacesAsError(t *testing.T) {
	c := clock.NewFixed(noonClock())
	store := kvstore.NewMemStore()
	al := &recordingAudit{}
	orch := pipeline.New(c, dedup.New(store, c), panickingRules{}, dnd.New(c), fatigue.New(store, c), aienrich.New(""), al, nil)

	e := domain.Event{UserID: "u1", EventType: "reminder", PriorityHint: domain.PriorityHigh}
	d, err := orch.Evaluate(context.Background(), e)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, domain.Decision{}, d)

	require.Len(t, al.records, 1)
	assert.Equal(t, domain.DecisionNever, al.records[0].Decision)
	assert.Contains(t, al.records[0].Reason, "error:")
}

// panickingStore simulates an unexpected runtime fault in the dedup
// fingerprint write Stage 2 makes before the CRITICAL short-circuit
// reaches finalize. finalize itself never touches the store, so
// recoverToFailsafe's subsequent call to it doesn't re-trigger this.
type panickingStore struct {
	kvstore.Store
}

func (panickingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	panic("boom: store exploded")
}

func TestEvaluate_CriticalPanicStillFailsSafeToNow(t *testing.T) {
	c := clock.NewFixed(noonClock())
	store := panickingStore{Store: kvstore.NewMemStore()}
	al := &recordingAudit{}
	orch := pipeline.New(c, dedup.New(store, c), noopRules{}, dnd.New(c), fatigue.New(store, c), aienrich.New(""), al, nil)

	e := domain.Event{UserID: "u1", EventType: "security_alert", PriorityHint: domain.PriorityCritical}
	d, err := orch.Evaluate(context.Background(), e)

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNow, d.Decision)
	assert.Equal(t, 90, d.Score)
	assert.Contains(t, d.Reason, "FAILSAFE")

	require.Len(t, al.records, 1)
	assert.Equal(t, domain.DecisionNow, al.records[0].Decision)
	assert.Equal(t, "true", al.records[0].Stages["failsafe"])
}
