// Package dispatch implements the deferred-dispatch interface: the
// pipeline's finalize routine submits (event, schedule_at, audit_id)
// here whenever it resolves to LATER. Grounded on
// internal/orders/service.go's Submit — persist, then publish —
// with the order book replaced by pkg/messaging's deferred-delivery
// subject.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/pkg/messaging"
)

// Scheduler accepts deferred notifications for later redelivery.
type Scheduler interface {
	ScheduleDeferred(ctx context.Context, e domain.Event, scheduleAt time.Time, auditID string) error
}

// Store persists deferred notifications in Postgres and publishes a
// NATS envelope that a separate redelivery worker consumes at
// scheduleAt.
type Store struct {
	db  *sql.DB
	bus *messaging.Client
}

// NewStore wires a Postgres connection and a messaging client.
func NewStore(db *sql.DB, bus *messaging.Client) *Store {
	return &Store{db: db, bus: bus}
}

// ScheduleDeferred persists the deferred record and publishes it to
// pkg/messaging.SubjectDeferred. A persist or publish failure is
// returned to the caller; the pipeline's finalize logs it and still
// returns the LATER decision.
func (s *Store) ScheduleDeferred(ctx context.Context, e domain.Event, scheduleAt time.Time, auditID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deferred_notifications
			(audit_id, user_id, event_type, message, source, schedule_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		auditID, e.UserID, e.EventType, e.Message, e.Source, scheduleAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("dispatch: persist deferred record: %w", err)
	}

	env := messaging.DeferredEnvelope{
		AuditID:     auditID,
		UserID:      e.UserID,
		EventType:   e.EventType,
		ScheduleAt:  scheduleAt,
		Metadata:    e.Metadata,
		PublishedAt: time.Now(),
	}
	if err := s.bus.Publish(messaging.SubjectDeferred, env); err != nil {
		return fmt.Errorf("dispatch: publish deferred envelope: %w", err)
	}
	return nil
}

const schemaStatement = `
CREATE TABLE IF NOT EXISTS deferred_notifications (
	audit_id    TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	message     TEXT NOT NULL,
	source      TEXT NOT NULL,
	schedule_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS deferred_notifications_schedule_at_idx ON deferred_notifications (schedule_at);
`

// EnsureSchema creates the deferred-notifications table if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaStatement)
	return err
}

var _ Scheduler = (*Store)(nil)
