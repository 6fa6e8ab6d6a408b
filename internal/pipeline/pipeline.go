// Package pipeline implements the orchestrator: the single
// Evaluate(event) -> Decision entry point that runs the pipeline's
// nine stages in order and guarantees exactly one decision per event,
// with an audit record always written before returning.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/notifyhub/prioritycore/internal/aienrich"
	"github.com/notifyhub/prioritycore/internal/audit"
	"github.com/notifyhub/prioritycore/internal/conflict"
	"github.com/notifyhub/prioritycore/internal/dedup"
	"github.com/notifyhub/prioritycore/internal/dispatch"
	"github.com/notifyhub/prioritycore/internal/dnd"
	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/fatigue"
	"github.com/notifyhub/prioritycore/internal/metrics"
	"github.com/notifyhub/prioritycore/internal/rules"
	"github.com/notifyhub/prioritycore/internal/scorer"
	"github.com/notifyhub/prioritycore/pkg/clock"
	"github.com/notifyhub/prioritycore/pkg/messaging"
)

// RuleMatcher is the narrow slice of rules.Matcher the pipeline needs.
type RuleMatcher interface {
	MatchRules(e domain.Event) []domain.Rule
}

// Orchestrator wires the nine stages from spec.md §4.10 into the
// single Evaluate entry point.
type Orchestrator struct {
	clock     clock.Clock
	dedup     *dedup.Deduplicator
	rules     RuleMatcher
	dnd       *dnd.Gate
	fatigue   *fatigue.Accountant
	ai        *aienrich.Client
	auditLog  audit.Writer
	scheduler dispatch.Scheduler
	metrics   *metrics.Sink
	auditBus  *messaging.Client
}

// SetMetrics attaches an InfluxDB sink for decision/fault telemetry.
// Optional: an Orchestrator with no sink attached records nothing.
func (o *Orchestrator) SetMetrics(sink *metrics.Sink) {
	o.metrics = sink
}

// SetAuditBus attaches the NATS client finalize mirrors every audit
// record onto (messaging.SubjectAudit), which internal/streaming tails
// out to connected WebSocket operators. Optional: without it, nothing
// is published and the stream endpoint simply stays quiet.
func (o *Orchestrator) SetAuditBus(bus *messaging.Client) {
	o.auditBus = bus
}

// New wires every collaborator stage needs. Any of dedup/rules/dnd/
// fatigue/ai/auditLog/scheduler may be nil only in tests that don't
// exercise the corresponding stage; production wiring (cmd/notifyd)
// always supplies all seven.
func New(
	c clock.Clock,
	d *dedup.Deduplicator,
	r RuleMatcher,
	g *dnd.Gate,
	f *fatigue.Accountant,
	ai *aienrich.Client,
	auditLog audit.Writer,
	scheduler dispatch.Scheduler,
) *Orchestrator {
	return &Orchestrator{
		clock:     c,
		dedup:     d,
		rules:     r,
		dnd:       g,
		fatigue:   f,
		ai:        ai,
		auditLog:  auditLog,
		scheduler: scheduler,
		metrics:   metrics.NoopSink(),
	}
}

// evalState accumulates per-stage diagnostics for the audit record as
// Evaluate walks the pipeline, the "straight-line fold" spec.md §9
// calls for instead of exception-driven control flow.
type evalState struct {
	event        domain.Event
	auditID      string
	stages       map[string]string
	rulesMatched []string
	startedAt    time.Time
}

// Evaluate runs the full pipeline for one event. It never panics
// under normal operation; any error returned here is a non-CRITICAL
// fault surfaced to the caller per spec.md §7 (CRITICAL faults are
// caught by recoverToFailsafe before reaching the caller).
func (o *Orchestrator) Evaluate(ctx context.Context, rawEvent domain.Event) (decision domain.Decision, err error) {
	now := o.clock.Now()
	e := rawEvent.Normalize(now)

	st := &evalState{
		event:     e,
		auditID:   domain.NewAuditID(),
		stages:    make(map[string]string),
		startedAt: now,
	}

	// Stage 1: Expiry Guard. Checked before the failsafe recover wraps
	// around, since expiry takes precedence even over CRITICAL (P7).
	if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
		st.stages["expiry"] = "expired"
		return o.finalize(ctx, st, domain.Decision{
			Decision: domain.DecisionNever,
			Score:    0,
			Reason:   "expired: expires_at is in the past",
			AuditID:  st.auditID,
		})
	}
	st.stages["expiry"] = "ok"

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			if st.event.PriorityHint == domain.PriorityCritical {
				decision, err = o.recoverToFailsafe(ctx, st, cause)
				return
			}
			decision, err = o.surfaceFault(ctx, st, cause)
		}
	}()

	return o.evaluateAfterExpiry(ctx, st)
}

// evaluateAfterExpiry runs stages 2-10. Any error it returns is
// treated by Evaluate's caller contract: non-CRITICAL faults surface,
// CRITICAL faults are caught one level up via recoverToFailsafe — but
// since this function itself can't panic-recover around its own
// caller, Evaluate also wraps synchronous errors from this call.
func (o *Orchestrator) evaluateAfterExpiry(ctx context.Context, st *evalState) (domain.Decision, error) {
	d, err := o.runStages(ctx, st)
	if err != nil {
		if st.event.PriorityHint == domain.PriorityCritical {
			return o.recoverToFailsafe(ctx, st, err)
		}
		return o.surfaceFault(ctx, st, err)
	}
	return d, nil
}

func (o *Orchestrator) runStages(ctx context.Context, st *evalState) (domain.Decision, error) {
	e := st.event
	now := o.clock.Now()

	// Stage 2: CRITICAL short-circuit. Runs before the dedup guard per
	// the Open Question #4 resolution: a duplicate CRITICAL event still
	// sends (safety over tidiness), which requires CRITICAL to be
	// checked before stage 3 rather than after it.
	if e.PriorityHint == domain.PriorityCritical {
		st.stages["dedup"] = "bypassed (CRITICAL)"
		if o.dedup != nil {
			o.dedup.StoreFingerprint(ctx, e)
		}
		if o.fatigue != nil {
			o.fatigue.RecordDelivery(ctx, e)
		}
		return o.finalize(ctx, st, domain.Decision{
			Decision: domain.DecisionNow,
			Score:    97,
			Reason:   "CRITICAL priority_hint short-circuits to NOW",
			AuditID:  st.auditID,
		})
	}

	// Stage 3: Dedup Guard. A duplicate never touches counters/
	// fingerprints again (I3) but still gets an audit record (I2), so
	// this goes through finalize directly rather than a bare return.
	if o.dedup != nil {
		result := o.dedup.CheckDuplicate(ctx, e)
		if result.IsDuplicate {
			st.stages["dedup"] = fmt.Sprintf("duplicate: %s (%s)", result.Type, result.Detail)
			return o.finalize(ctx, st, domain.Decision{
				Decision: domain.DecisionNever,
				Score:    0,
				Reason:   fmt.Sprintf("Duplicate event: %s", result.Type),
				AuditID:  st.auditID,
			})
		}
		st.stages["dedup"] = "not a duplicate"
	}

	// Stage 4: Rule match + SUPPRESS short-circuit.
	var matched []domain.Rule
	if o.rules != nil {
		matched = o.rules.MatchRules(e)
		for _, r := range matched {
			st.rulesMatched = append(st.rulesMatched, r.RuleID)
		}
		if suppress, ok := rules.FirstSuppress(matched); ok {
			st.stages["rules"] = fmt.Sprintf("suppressed by rule %s", suppress.RuleID)
			return o.finalize(ctx, st, domain.Decision{
				Decision: domain.DecisionNever,
				Score:    0,
				Reason:   fmt.Sprintf("Suppressed by rule %s", suppress.RuleID),
				AuditID:  st.auditID,
			})
		}
		st.stages["rules"] = fmt.Sprintf("%d matched, no SUPPRESS", len(matched))
		// TODO: DEFER, SEND_NOW, and CAP rule actions are annotated in
		// rules_matched but not enforced as short-circuits here. See
		// spec.md §9 Open Question #1 — observed behavior preserved
		// as-is pending a decision on whether that's a gap to close.
	}

	// Stage 5: DND gate.
	if o.dnd != nil {
		if result := o.dnd.Check(); result.InDND {
			at := o.dnd.NextBoundary()
			st.stages["dnd"] = fmt.Sprintf("in window %s", result.Window)
			return o.finalizeNonTerminal(ctx, st, domain.Decision{
				Decision:   domain.DecisionLater,
				Score:      35,
				Reason:     fmt.Sprintf("Deferred: in do-not-disturb window %s", result.Window),
				ScheduleAt: &at,
				AuditID:    st.auditID,
			})
		}
		st.stages["dnd"] = "outside window"
	}

	// Stage 6: Base score.
	base := scorer.ComputeBase(e, now)
	st.stages["scorer"] = fmt.Sprintf("base=%d", base)

	// Stage 7: Fatigue penalty.
	fatiguePenalty := 0
	fatigueLevel := fatigue.LevelUnknown
	if o.fatigue != nil {
		status := o.fatigue.Evaluate(ctx, e)
		fatiguePenalty = status.Penalty
		fatigueLevel = status.Level
		st.stages["fatigue"] = fmt.Sprintf("count=%d penalty=%d level=%s", status.Count, status.Penalty, status.Level)
	}

	// Stage 8: AI adjustment.
	aiAdjustment := 0
	if o.ai != nil {
		adj, err := o.ai.GetAiScore(ctx, e)
		if err != nil {
			st.stages["ai"] = fmt.Sprintf("SKIPPED (%v)", err)
			if o.metrics != nil {
				o.metrics.RecordStageFault(ctx, "ai", err.Error())
			}
		} else {
			aiAdjustment = adj
			st.stages["ai"] = fmt.Sprintf("adjustment=%d", adj)
		}
	}

	finalScore := scorer.Final(base, fatiguePenalty, aiAdjustment)

	// Stage 9: Conflict resolver.
	res := conflict.Resolve(e, finalScore, fatigueLevel, now)
	if res.Resolved {
		st.stages["conflict"] = res.Reason
		return o.finalizeNonTerminal(ctx, st, domain.Decision{
			Decision:   res.Decision,
			Score:      finalScore,
			Reason:     res.Reason,
			ScheduleAt: res.ScheduleAt,
			AuditID:    st.auditID,
		})
	}
	st.stages["conflict"] = "no conflict"

	// Stage 10: Decision boundary.
	return o.finalizeNonTerminal(ctx, st, o.boundary(e, finalScore, now))
}

// boundary applies spec.md §4.9's thresholds.
func (o *Orchestrator) boundary(e domain.Event, finalScore int, now time.Time) domain.Decision {
	switch {
	case finalScore >= 60:
		return domain.Decision{
			Decision: domain.DecisionNow,
			Score:    finalScore,
			Reason:   "Score above NOW threshold",
			AuditID:  "",
		}
	case finalScore >= 30:
		at := o.optimalWindow(e, now)
		return domain.Decision{
			Decision:   domain.DecisionLater,
			Score:      finalScore,
			Reason:     "Score in deferral band",
			ScheduleAt: &at,
			AuditID:    "",
		}
	default:
		return domain.Decision{
			Decision: domain.DecisionNever,
			Score:    finalScore,
			Reason:   "Score below NEVER threshold",
			AuditID:  "",
		}
	}
}

var lowPriorityWindowTypes = map[string]bool{
	"promotion":       true,
	"low_value_promo": true,
	"system_update":   true,
}

// optimalWindow picks a deferral instant per spec.md §4.9: uniform in
// [2h,5h] for low-priority bulk event types, [15m,45m] otherwise.
// Evaluate is called concurrently from many request handlers (spec.md
// §5), so this uses the package-level math/rand functions rather than
// a shared *rand.Rand — they're internally mutex-guarded.
func (o *Orchestrator) optimalWindow(e domain.Event, now time.Time) time.Time {
	if lowPriorityWindowTypes[e.EventType] {
		span := 3 * time.Hour
		offset := 2*time.Hour + time.Duration(rand.Int63n(int64(span)))
		return now.Add(offset)
	}
	span := 30 * time.Minute
	offset := 15*time.Minute + time.Duration(rand.Int63n(int64(span)))
	return now.Add(offset)
}

// finalizeNonTerminal routes a mid-pipeline decision through the
// same finalize path terminal stages use, recording counters on
// every outcome that consumes user attention (NOW, LATER) before
// finalize writes the audit record.
func (o *Orchestrator) finalizeNonTerminal(ctx context.Context, st *evalState, d domain.Decision) (domain.Decision, error) {
	if d.Decision != domain.DecisionNever {
		if o.dedup != nil {
			o.dedup.StoreFingerprint(ctx, st.event)
		}
		if o.fatigue != nil {
			o.fatigue.RecordDelivery(ctx, st.event)
		}
	}
	return o.finalize(ctx, st, d)
}

// finalize writes the audit record and submits deferred dispatch,
// per spec.md §4.1. Always runs, even on the failsafe path, to
// preserve invariant I2.
func (o *Orchestrator) finalize(ctx context.Context, st *evalState, d domain.Decision) (domain.Decision, error) {
	d.AuditID = st.auditID

	rec := domain.AuditRecord{
		AuditID:      st.auditID,
		EventID:      st.event.DedupeKey,
		UserID:       st.event.UserID,
		EventType:    st.event.EventType,
		Decision:     d.Decision,
		Score:        d.Score,
		Reason:       d.Reason,
		Stages:       st.stages,
		RulesMatched: st.rulesMatched,
		ScheduleAt:   d.ScheduleAt,
		CreatedAt:    o.clock.Now(),
	}

	if o.auditLog != nil {
		if err := o.auditLog.Write(ctx, rec); err != nil {
			log.Printf("pipeline: audit write failed for %s, continuing: %v", st.auditID, err)
		}
	}

	if o.auditBus != nil {
		env := messaging.AuditEnvelope{
			AuditID:   rec.AuditID,
			UserID:    rec.UserID,
			EventType: rec.EventType,
			Decision:  string(rec.Decision),
			Score:     rec.Score,
			Reason:    rec.Reason,
			CreatedAt: rec.CreatedAt,
		}
		if err := o.auditBus.Publish(messaging.SubjectAudit, env); err != nil {
			log.Printf("pipeline: audit stream publish failed for %s, continuing: %v", st.auditID, err)
		}
	}

	if d.Decision == domain.DecisionLater && d.ScheduleAt != nil && o.scheduler != nil {
		if err := o.scheduler.ScheduleDeferred(ctx, st.event, *d.ScheduleAt, st.auditID); err != nil {
			log.Printf("pipeline: deferred dispatch submission failed for %s, continuing: %v", st.auditID, err)
		}
	}

	if o.metrics != nil {
		o.metrics.RecordDecision(ctx, st.event, d, o.clock.Now().Sub(st.startedAt))
	}

	return d, nil
}

// recoverToFailsafe implements the failsafe envelope from spec.md
// §4.1: any fault from stages 2-9 with priority_hint=CRITICAL yields
// a synthetic NOW, never a dropped CRITICAL event (invariant I4).
func (o *Orchestrator) recoverToFailsafe(ctx context.Context, st *evalState, cause error) (domain.Decision, error) {
	log.Printf("pipeline: failsafe invoked for %s after fault: %v", st.auditID, cause)
	st.stages["failsafe"] = "true"

	d := domain.Decision{
		Decision: domain.DecisionNow,
		Score:    90,
		Reason:   "FAILSAFE: pipeline error — CRITICAL sent NOW",
		AuditID:  st.auditID,
	}
	return o.finalize(ctx, st, d)
}

// surfaceFault handles a non-CRITICAL fault from stages 2-9: spec.md
// §4.1/§7 say the fault is surfaced to the caller rather than papered
// over with a synthetic decision (that relief is reserved for
// CRITICAL, per I4). An audit record is still written so the fault is
// visible in the trail, but its contents are discarded here — the
// caller gets the zero Decision plus the error itself, a 500-class
// fault rather than a NOW/LATER/NEVER classification.
func (o *Orchestrator) surfaceFault(ctx context.Context, st *evalState, cause error) (domain.Decision, error) {
	log.Printf("pipeline: non-CRITICAL fault surfaced for %s: %v", st.auditID, cause)
	st.stages["failsafe"] = "false (non-CRITICAL fault surfaced)"

	_, _ = o.finalize(ctx, st, domain.Decision{
		Decision: domain.DecisionNever,
		Score:    0,
		Reason:   fmt.Sprintf("error: %v", cause),
		AuditID:  st.auditID,
	})

	return domain.Decision{}, cause
}
