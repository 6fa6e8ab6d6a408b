package messaging

import "time"

// Subjects the pipeline's collaborators publish/subscribe on.
const (
	SubjectDeferred = "notify.deferred" // internal/dispatch publishes ScheduleDeferred submissions
	SubjectAudit    = "notify.audit"    // internal/pipeline mirrors written AuditRecords for live tailing
)

// DeferredEnvelope is published to SubjectDeferred once per LATER decision.
type DeferredEnvelope struct {
	AuditID     string                 `json:"audit_id"`
	UserID      string                 `json:"user_id"`
	EventType   string                 `json:"event_type"`
	ScheduleAt  time.Time              `json:"schedule_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	PublishedAt time.Time              `json:"published_at"`
}

// AuditEnvelope is published to SubjectAudit after every Evaluate call,
// independent of whether the audit store write itself succeeded.
type AuditEnvelope struct {
	AuditID   string    `json:"audit_id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Decision  string    `json:"decision"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
