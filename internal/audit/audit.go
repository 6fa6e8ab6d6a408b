// Package audit implements the append-only audit trail (spec.md §3
// AuditRecord, invariant I2). Grounded on internal/ledger/ledger.go's
// database/sql + lib/pq persistence shape — an audit record here
// plays the same append-only role an Entry plays in a ledger.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/notifyhub/prioritycore/internal/domain"
)

// Writer persists AuditRecords. Exists separately from Store so the
// pipeline orchestrator can depend on the narrow write path.
type Writer interface {
	Write(ctx context.Context, rec domain.AuditRecord) error
}

// Store is a Postgres-backed Writer plus lookups for operational
// tooling (e.g. an admin endpoint to inspect a user's recent decisions).
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using the lib/pq driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing *sql.DB, for callers that already manage
// a connection pool shared with other components.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Write inserts one audit record. Called exactly once per Evaluate
// call per invariant I2, including on the failsafe path.
func (s *Store) Write(ctx context.Context, rec domain.AuditRecord) error {
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("audit: marshal stages: %w", err)
	}
	rulesMatched, err := json.Marshal(rec.RulesMatched)
	if err != nil {
		return fmt.Errorf("audit: marshal rules_matched: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records
			(audit_id, event_id, user_id, event_type, decision, score, reason, stages, rules_matched, schedule_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.AuditID, rec.EventID, rec.UserID, rec.EventType, string(rec.Decision),
		rec.Score, rec.Reason, stages, rulesMatched, rec.ScheduleAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// RecentForUser returns the user's most recent audit records, newest
// first, for operational inspection.
func (s *Store) RecentForUser(ctx context.Context, userID string, limit int) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT audit_id, event_id, user_id, event_type, decision, score, reason, stages, rules_matched, schedule_at, created_at
		 FROM audit_records WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var decision string
		var stagesRaw, rulesRaw []byte
		var scheduleAt sql.NullTime

		if err := rows.Scan(&rec.AuditID, &rec.EventID, &rec.UserID, &rec.EventType,
			&decision, &rec.Score, &rec.Reason, &stagesRaw, &rulesRaw, &scheduleAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}

		rec.Decision = domain.DecisionKind(decision)
		_ = json.Unmarshal(stagesRaw, &rec.Stages)
		_ = json.Unmarshal(rulesRaw, &rec.RulesMatched)
		if scheduleAt.Valid {
			t := scheduleAt.Time
			rec.ScheduleAt = &t
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Writer = (*Store)(nil)

// schemaStatement is the DDL cmd/notifyd applies on startup if the
// table does not exist yet.
const schemaStatement = `
CREATE TABLE IF NOT EXISTS audit_records (
	audit_id      TEXT PRIMARY KEY,
	event_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	decision      TEXT NOT NULL,
	score         INT NOT NULL,
	reason        TEXT NOT NULL,
	stages        JSONB NOT NULL,
	rules_matched JSONB NOT NULL,
	schedule_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_records_user_id_created_at_idx ON audit_records (user_id, created_at DESC);
`

// EnsureSchema creates the audit table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaStatement)
	return err
}
