package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
)

// FailureRepository provides PostgreSQL-backed login failure and lockout storage
type FailureRepository struct {
	pool *Pool
}

// NewFailureRepository creates a new PostgreSQL failure repository
func NewFailureRepository(pool *Pool) *FailureRepository {
	return &FailureRepository{pool: pool}
}

var _ database.FailureStore = (*FailureRepository)(nil)

// RecordFailure stores one failed biometric attempt
func (r *FailureRepository) RecordFailure(ctx context.Context, identityID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO login_failures (identity_id, failed_at) VALUES ($1, $2)", identityID, at)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

// CountSince returns the number of failures recorded at or after since
func (r *FailureRepository) CountSince(ctx context.Context, identityID string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_failures
		WHERE identity_id = $1 AND failed_at >= $2
	`, identityID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count login failures: %w", err)
	}
	return count, nil
}

// Lock rejects attempts for the identity until the given time
func (r *FailureRepository) Lock(ctx context.Context, identityID string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lockouts (identity_id, locked_until)
		VALUES ($1, $2)
		ON CONFLICT (identity_id) DO UPDATE SET locked_until = EXCLUDED.locked_until
	`, identityID, until)
	if err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	return nil
}

// LockedUntil returns the lockout end, zero if the identity is not locked
func (r *FailureRepository) LockedUntil(ctx context.Context, identityID string) (time.Time, error) {
	var until time.Time
	err := r.pool.QueryRow(ctx, "SELECT locked_until FROM lockouts WHERE identity_id = $1", identityID).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get lockout: %w", err)
	}
	return until, nil
}

// Reset clears failures and lockout of an identity
func (r *FailureRepository) Reset(ctx context.Context, identityID string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM login_failures WHERE identity_id = $1", identityID); err != nil {
		return fmt.Errorf("delete login failures: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM lockouts WHERE identity_id = $1", identityID); err != nil {
		return fmt.Errorf("delete lockout: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteBefore removes failures and lockouts that ended before the given time
func (r *FailureRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	failures, err := r.pool.Exec(ctx, "DELETE FROM login_failures WHERE failed_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("delete stale login failures: %w", err)
	}
	lockouts, err := r.pool.Exec(ctx, "DELETE FROM lockouts WHERE locked_until < $1", before)
	if err != nil {
		return 0, fmt.Errorf("delete stale lockouts: %w", err)
	}
	n1, err := failures.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	n2, err := lockouts.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n1 + n2, nil
}
