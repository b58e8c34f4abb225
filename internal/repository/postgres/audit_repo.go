package postgres

import (
	"context"
	"encoding/json"

	"github.com/autobooknft/egi-reservations/internal/audit"
)

// AuditRepo stores audit entries in the audit_log table.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit sink backed by PostgreSQL.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

var _ audit.Sink = (*AuditRepo)(nil)

// Write inserts one entry.
func (r *AuditRepo) Write(ctx context.Context, e audit.Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO audit_log (kind, actor, payload, occurred_at) VALUES ($1,$2,$3,$4)`
	_, err = r.db.Pool.Exec(ctx, q, string(e.Kind), e.Actor, raw, e.OccurredAt)
	return err
}
