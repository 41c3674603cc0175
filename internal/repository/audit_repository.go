package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/makerere-aits/aits-api/internal/models"
)

// AuditRepository reads the append-only audit ledger. Writes happen only
// inside the issue lifecycle transactions; entries are never updated or
// deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// ListForIssue returns an issue's ledger entries ordered by timestamp ascending.
func (r *AuditRepository) ListForIssue(ctx context.Context, issueID string) ([]models.AuditLogDetail, error) {
	const query = `SELECT al.id, al.issue_id, al.actor_id, al.action, al.old_value, al.new_value, al.created_at,
        u.full_name AS actor_name
        FROM audit_logs al JOIN users u ON u.id = al.actor_id
        WHERE al.issue_id = $1 ORDER BY al.created_at ASC`
	var entries []models.AuditLogDetail
	if err := r.db.SelectContext(ctx, &entries, query, issueID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
