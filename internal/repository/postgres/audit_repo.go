package postgres

import (
	"context"

	"github.com/and161185/alurea-fulfillment/internal/model"
)

// AuditRepo implements repository.AuditRepository.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one audit row.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	const q = `INSERT INTO audit_log (action, performed_by, target, details) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, e.Action, e.PerformedBy, e.Target, e.Details)
	return err
}
