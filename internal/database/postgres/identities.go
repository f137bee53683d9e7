package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed identity and descriptor storage
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// GetIdentity retrieves an identity by ID, returns nil if not found
func (r *IdentityRepository) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, username, email, created_at
		FROM identities
		WHERE id = $1
	`, id)
	return scanIdentity(row)
}

// GetIdentityByUsername retrieves an identity by its canonical username
func (r *IdentityRepository) GetIdentityByUsername(ctx context.Context, username string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, email, created_at
		FROM identities
		WHERE username_key = $1
	`, facematch.CanonicalUsername(username))
	return scanIdentity(row)
}

// UsernameOrEmailTaken reports whether the username or email is already enrolled
func (r *IdentityRepository) UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	err := r.pool.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM identities WHERE username_key = $1),
			EXISTS(SELECT 1 FROM identities WHERE email_key = $2)
	`, facematch.CanonicalUsername(username), facematch.CanonicalEmail(email)).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("check identity uniqueness: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

// ListIdentities returns identities ordered by creation time
func (r *IdentityRepository) ListIdentities(ctx context.Context, limit, offset int) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, username, email, created_at
		FROM identities
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []database.Identity
	for rows.Next() {
		var i database.Identity
		if err := rows.Scan(&i.ID, &i.Username, &i.Email, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// CountIdentities returns the total number of enrolled identities
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// CreateIdentity stores an identity together with its first descriptor in one transaction
func (r *IdentityRepository) CreateIdentity(
	ctx context.Context, identity database.Identity, first database.StoredDescriptor,
) (*database.StoredDescriptor, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, username, username_key, email, email_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		identity.ID,
		identity.Username,
		facematch.CanonicalUsername(identity.Username),
		identity.Email,
		facematch.CanonicalEmail(identity.Email),
		identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert identity %s: %w", identity.Username, apperr.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}

	first.IdentityID = identity.ID
	stored, err := insertDescriptor(ctx, tx, first)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, nil
}

// AddDescriptor stores a descriptor and evicts the oldest ones beyond maxPerIdentity
func (r *IdentityRepository) AddDescriptor(
	ctx context.Context, d database.StoredDescriptor, maxPerIdentity int,
) (*database.StoredDescriptor, []int64, error) {
	if _, err := uuid.Parse(d.IdentityID); err != nil {
		return nil, nil, apperr.ErrIdentityNotFound
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent additions for the same identity.
	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM identities WHERE id = $1 FOR UPDATE", d.IdentityID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperr.ErrIdentityNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock identity: %w", err)
	}

	stored, err := insertDescriptor(ctx, tx, d)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM descriptors
		WHERE id IN (
			SELECT id FROM descriptors
			WHERE identity_id = $1
			ORDER BY id DESC
			OFFSET $2
		)
		RETURNING id
	`, d.IdentityID, maxPerIdentity)
	if err != nil {
		return nil, nil, fmt.Errorf("evict descriptors: %w", err)
	}
	evicted, err := scanIDs(rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, evicted, nil
}

// DeleteIdentity removes an identity; descriptors, OTPs, sessions and failures cascade
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// GetDescriptors returns the descriptors of an identity, oldest first
func (r *IdentityRepository) GetDescriptors(ctx context.Context, identityID string) ([]database.StoredDescriptor, error) {
	if _, err := uuid.Parse(identityID); err != nil {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, descriptor, quality, created_at
		FROM descriptors
		WHERE identity_id = $1
		ORDER BY id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()
	return scanDescriptors(rows)
}

// GetAllDescriptors returns every stored descriptor
func (r *IdentityRepository) GetAllDescriptors(ctx context.Context) ([]database.StoredDescriptor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, descriptor, quality, created_at
		FROM descriptors
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query all descriptors: %w", err)
	}
	defer rows.Close()
	return scanDescriptors(rows)
}

// DescriptorStats returns count and max ID of the descriptor table
func (r *IdentityRepository) DescriptorStats(ctx context.Context) (database.DescriptorStats, error) {
	var stats database.DescriptorStats
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM descriptors").
		Scan(&stats.Count, &stats.MaxID)
	if err != nil {
		return stats, fmt.Errorf("descriptor stats: %w", err)
	}
	return stats, nil
}

func insertDescriptor(ctx context.Context, tx *sql.Tx, d database.StoredDescriptor) (*database.StoredDescriptor, error) {
	vec := pgvector.NewVector([]float32(d.Descriptor))
	err := tx.QueryRowContext(ctx, `
		INSERT INTO descriptors (identity_id, descriptor, quality, created_at)
		VALUES ($1, $2::vector, $3, $4)
		RETURNING id
	`, d.IdentityID, vec, d.Quality, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("insert descriptor: %w", err)
	}
	return &d, nil
}

func scanIdentity(row *sql.Row) (*database.Identity, error) {
	var i database.Identity
	err := row.Scan(&i.ID, &i.Username, &i.Email, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &i, nil
}

func scanDescriptors(rows *sql.Rows) ([]database.StoredDescriptor, error) {
	var descriptors []database.StoredDescriptor
	for rows.Next() {
		var d database.StoredDescriptor
		var vec pgvector.Vector
		if err := rows.Scan(&d.ID, &d.IdentityID, &vec, &d.Quality, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		d.Descriptor = facematch.Descriptor(vec.Slice())
		descriptors = append(descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return descriptors, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
