package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/database"
)

// AuditRepository provides PostgreSQL-backed append-only audit storage
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append stores the entry and fills in its ID
func (r *AuditRepository) Append(ctx context.Context, entry *database.AuditEntry) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO audit_entries (identity_id, username, attempt_id, outcome, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		entry.IdentityID,
		entry.Username,
		entry.AttemptID,
		string(entry.Outcome),
		entry.Reason,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, most recent first, optionally filtered by identity
func (r *AuditRepository) Recent(ctx context.Context, limit int, identityID string) ([]database.AuditEntry, error) {
	query := `
		SELECT id, identity_id, username, attempt_id, outcome, reason, created_at
		FROM audit_entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	args := []any{limit}
	if identityID != "" {
		query = `
			SELECT id, identity_id, username, attempt_id, outcome, reason, created_at
			FROM audit_entries
			WHERE identity_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`
		args = append(args, identityID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []database.AuditEntry
	for rows.Next() {
		var e database.AuditEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Username, &e.AttemptID, &outcome, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Outcome = database.Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
