// Package domain defines the Event, Decision, AuditRecord, and Rule
// types the pipeline operates over — narrowed from the donor's
// shared/events.Event/RiskAlertEvent family down to the single event
// kind this core classifies.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the caller-supplied urgency hint.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Channel is the delivery channel the caller intends to use.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in-app"
)

// DecisionKind is one of the three terminal outcomes Evaluate can emit.
type DecisionKind string

const (
	DecisionNow   DecisionKind = "NOW"
	DecisionLater DecisionKind = "LATER"
	DecisionNever DecisionKind = "NEVER"
)

// Event is the input to the pipeline.
type Event struct {
	UserID       string                 `json:"user_id"`
	EventType    string                 `json:"event_type"`
	Message      string                 `json:"message"`
	Source       string                 `json:"source"`
	PriorityHint Priority               `json:"priority_hint"`
	Channel      Channel                `json:"channel"`
	Timestamp    time.Time              `json:"timestamp"`
	DedupeKey    string                 `json:"dedupe_key,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Normalize fills in the field defaults spec.md §3 requires, mutating
// a copy. It does not validate — that's the caller's job (input
// validity is a pre-core, 400-class concern per spec.md §7).
func (e Event) Normalize(now time.Time) Event {
	if e.Source == "" {
		e.Source = "unknown"
	}
	if e.PriorityHint == "" {
		e.PriorityHint = PriorityMedium
	}
	if e.Channel == "" {
		e.Channel = ChannelPush
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}

// Valid reports whether the event carries the fields spec.md §3
// requires. UserID and EventType are mandatory; everything else
// defaults via Normalize.
func (e Event) Valid() error {
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	return nil
}

// Decision is the pipeline's caller-facing output. schedule_at is
// non-nil iff Decision == DecisionLater (a failsafe may emit NOW with
// a nil ScheduleAt; see spec.md §3 Invariant and P3).
type Decision struct {
	Decision   DecisionKind `json:"decision"`
	Score      int          `json:"score"`
	Reason     string       `json:"reason"`
	ScheduleAt *time.Time   `json:"schedule_at,omitempty"`
	AuditID    string       `json:"audit_id"`
}

// AuditRecord is the append-only record written once per Evaluate call.
type AuditRecord struct {
	AuditID      string            `json:"audit_id"`
	EventID      string            `json:"event_id"`
	UserID       string            `json:"user_id"`
	EventType    string            `json:"event_type"`
	Decision     DecisionKind      `json:"decision"`
	Score        int               `json:"score"`
	Reason       string            `json:"reason"`
	Stages       map[string]string `json:"stages"`
	RulesMatched []string          `json:"rules_matched"`
	ScheduleAt   *time.Time        `json:"schedule_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RuleAction is the action a matched rule carries.
type RuleAction string

const (
	RuleActionDefer    RuleAction = "DEFER"
	RuleActionSuppress RuleAction = "SUPPRESS"
	RuleActionSendNow  RuleAction = "SEND_NOW"
	RuleActionCap      RuleAction = "CAP"
)

// RuleCondition matches an Event field-by-field. An empty string or
// "*" matches anything in that field.
type RuleCondition struct {
	EventType string `json:"event_type,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Source    string `json:"source,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// RuleCap bounds an action's frequency.
type RuleCap struct {
	Count  int           `json:"count"`
	Window time.Duration `json:"window"`
}

// Rule is one hot-reloadable matching rule.
type Rule struct {
	RuleID    string        `json:"rule_id"`
	Condition RuleCondition `json:"condition"`
	Action    RuleAction    `json:"action"`
	MaxPer    *RuleCap      `json:"max_per,omitempty"`
	Priority  int           `json:"priority"`
	Enabled   bool          `json:"enabled"`
}

// matchField reports whether a rule field matches an event field:
// empty or "*" matches anything.
func matchField(ruleField, eventField string) bool {
	return ruleField == "" || ruleField == "*" || ruleField == eventField
}

// Matches reports whether the rule's condition matches the event.
func (r Rule) Matches(e Event) bool {
	return matchField(r.Condition.EventType, e.EventType) &&
		matchField(r.Condition.Channel, string(e.Channel)) &&
		matchField(r.Condition.Source, e.Source) &&
		matchField(r.Condition.Priority, string(e.PriorityHint))
}

// NewAuditID produces an audit_id matching /^aud_[0-9a-f]{8}$/: the
// prefix plus the first 8 hex characters of a fresh UUID, per spec.md §6.
func NewAuditID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "aud_" + id[:8]
}
