package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/database"
)

// OTPRepository provides PostgreSQL-backed one-time passcode storage
type OTPRepository struct {
	pool *Pool
}

// NewOTPRepository creates a new PostgreSQL OTP repository
func NewOTPRepository(pool *Pool) *OTPRepository {
	return &OTPRepository{pool: pool}
}

// Replace stores otp as the only outstanding passcode of its identity.
// The upsert keyed by identity_id makes issuance atomic.
func (r *OTPRepository) Replace(ctx context.Context, otp *database.OTP) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO otps (id, identity_id, code_hash, issued_at, expires_at, attempts_remaining)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_id) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			attempts_remaining = EXCLUDED.attempts_remaining
	`, otp.ID, otp.IdentityID, otp.CodeHash, otp.IssuedAt, otp.ExpiresAt, otp.AttemptsRemaining)
	if err != nil {
		return fmt.Errorf("replace otp: %w", err)
	}
	return nil
}

// Get returns the outstanding passcode of an identity, returns nil if none
func (r *OTPRepository) Get(ctx context.Context, identityID string) (*database.OTP, error) {
	if _, err := uuid.Parse(identityID); err != nil {
		return nil, nil
	}

	var o database.OTP
	err := r.pool.QueryRow(ctx, `
		SELECT id, identity_id, code_hash, issued_at, expires_at, attempts_remaining
		FROM otps
		WHERE identity_id = $1
	`, identityID).Scan(&o.ID, &o.IdentityID, &o.CodeHash, &o.IssuedAt, &o.ExpiresAt, &o.AttemptsRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	return &o, nil
}

// DecrementAttempts lowers the remaining attempts and returns the new value.
// Returns 0 when the passcode is gone or already exhausted.
func (r *OTPRepository) DecrementAttempts(ctx context.Context, otpID string) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx, `
		UPDATE otps
		SET attempts_remaining = attempts_remaining - 1
		WHERE id = $1 AND attempts_remaining > 0
		RETURNING attempts_remaining
	`, otpID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("decrement otp attempts: %w", err)
	}
	return remaining, nil
}

// Consume deletes the passcode; returns false if it was already consumed or replaced
func (r *OTPRepository) Consume(ctx context.Context, otpID string) (bool, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM otps WHERE id = $1", otpID)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes expired or exhausted passcodes and returns the count deleted
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM otps WHERE expires_at <= $1 OR attempts_remaining <= 0", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
