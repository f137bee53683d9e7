package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/lib/pq"
)

const testIdentityID = "3b241101-e2bb-4255-8caf-4136c566a962"

func newPoolWithMock(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPoolFromDB(db, nil), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateIdentity_Success(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO identities`).
		WithArgs(testIdentityID, "Böb", "bob", "Bob@Example.com", "bob@example.com", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO descriptors`).
		WithArgs(testIdentityID, sqlmock.AnyArg(), 0.9, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	stored, err := repo.CreateIdentity(context.Background(),
		database.Identity{ID: testIdentityID, Username: "Böb", Email: "Bob@Example.com", CreatedAt: now},
		database.StoredDescriptor{Descriptor: facematch.Descriptor{1, 2, 3}, Quality: 0.9, CreatedAt: now},
	)
	if err != nil {
		t.Fatalf("CreateIdentity error: %v", err)
	}
	if stored.ID != 7 {
		t.Errorf("expected descriptor ID 7, got %d", stored.ID)
	}
	if stored.IdentityID != testIdentityID {
		t.Errorf("expected identity %s, got %s", testIdentityID, stored.IdentityID)
	}
	expectationsMet(t, mock)
}

func TestCreateIdentity_Duplicate(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO identities`).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.CreateIdentity(context.Background(),
		database.Identity{ID: testIdentityID, Username: "bob", Email: "bob@example.com"},
		database.StoredDescriptor{Descriptor: facematch.Descriptor{1}},
	)
	if !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCreateIdentity_DescriptorInsertFailsRollsBack(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO identities`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO descriptors`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.CreateIdentity(context.Background(),
		database.Identity{ID: testIdentityID, Username: "bob", Email: "bob@example.com"},
		database.StoredDescriptor{Descriptor: facematch.Descriptor{1}},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	expectationsMet(t, mock)
}

func TestAddDescriptor_EvictsOldest(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM identities WHERE id = \$1 FOR UPDATE`).
		WithArgs(testIdentityID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testIdentityID))
	mock.ExpectQuery(`INSERT INTO descriptors`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))
	mock.ExpectQuery(`DELETE FROM descriptors`).
		WithArgs(testIdentityID, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	stored, evicted, err := repo.AddDescriptor(context.Background(),
		database.StoredDescriptor{IdentityID: testIdentityID, Descriptor: facematch.Descriptor{1, 2}}, 5)
	if err != nil {
		t.Fatalf("AddDescriptor error: %v", err)
	}
	if stored.ID != 6 {
		t.Errorf("expected ID 6, got %d", stored.ID)
	}
	if len(evicted) != 1 || evicted[0] != 1 {
		t.Errorf("expected evicted [1], got %v", evicted)
	}
	expectationsMet(t, mock)
}

func TestAddDescriptor_UnknownIdentity(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(testIdentityID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, _, err := repo.AddDescriptor(context.Background(),
		database.StoredDescriptor{IdentityID: testIdentityID, Descriptor: facematch.Descriptor{1}}, 5)
	if !errors.Is(err, apperr.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetIdentity_InvalidUUID(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	got, err := repo.GetIdentity(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil identity, got %+v", got)
	}
	expectationsMet(t, mock)
}

func TestGetIdentityByUsername_UsesCanonicalKey(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)
	now := time.Now()

	mock.ExpectQuery(`WHERE username_key = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "created_at"}).
			AddRow(testIdentityID, "Bob", "bob@example.com", now))

	got, err := repo.GetIdentityByUsername(context.Background(), "  BOB ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != testIdentityID {
		t.Fatalf("unexpected identity: %+v", got)
	}
	expectationsMet(t, mock)
}

func TestGetIdentityByUsername_NotFound(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectQuery(`WHERE username_key = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetIdentityByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGetDescriptors_ParsesVectors(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)
	now := time.Now()

	mock.ExpectQuery(`FROM descriptors\s+WHERE identity_id = \$1\s+ORDER BY id`).
		WithArgs(testIdentityID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity_id", "descriptor", "quality", "created_at"}).
			AddRow(int64(1), testIdentityID, "[1,0,0]", 0.8, now).
			AddRow(int64(2), testIdentityID, "[0,1,0]", 0.9, now))

	got, err := repo.GetDescriptors(context.Background(), testIdentityID)
	if err != nil {
		t.Fatalf("GetDescriptors error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(got))
	}
	if got[1].Descriptor[1] != 1 {
		t.Errorf("unexpected descriptor: %v", got[1].Descriptor)
	}
	expectationsMet(t, mock)
}

func TestDescriptorStats(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(MAX\(id\), 0\) FROM descriptors`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(int64(3), int64(9)))

	stats, err := repo.DescriptorStats(context.Background())
	if err != nil {
		t.Fatalf("DescriptorStats error: %v", err)
	}
	if stats.Count != 3 || stats.MaxID != 9 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDeleteIdentity(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewIdentityRepository(pool)

	mock.ExpectExec(`DELETE FROM identities WHERE id = \$1`).
		WithArgs(testIdentityID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteIdentity(context.Background(), testIdentityID)
	if err != nil {
		t.Fatalf("DeleteIdentity error: %v", err)
	}
	if deleted {
		t.Error("expected false for missing identity")
	}
}

func TestAuditAppend_FillsID(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewAuditRepository(pool)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO audit_entries`).
		WithArgs(database.UnknownIdentity, "ghost", "att-1", "failure", "not_enrolled", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry := &database.AuditEntry{
		IdentityID: database.UnknownIdentity,
		Username:   "ghost",
		AttemptID:  "att-1",
		Outcome:    database.OutcomeFailure,
		Reason:     "not_enrolled",
		Timestamp:  now,
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if entry.ID != 42 {
		t.Errorf("expected ID 42, got %d", entry.ID)
	}
}

func TestAuditRecent_FilterByIdentity(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewAuditRepository(pool)
	now := time.Now()

	mock.ExpectQuery(`WHERE identity_id = \$2\s+ORDER BY created_at DESC, id DESC`).
		WithArgs(10, testIdentityID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity_id", "username", "attempt_id", "outcome", "reason", "created_at"}).
			AddRow(int64(2), testIdentityID, "bob", "a2", "success", "otp_verified", now).
			AddRow(int64(1), testIdentityID, "bob", "a1", "failure", "below_threshold", now))

	entries, err := repo.Recent(context.Background(), 10, testIdentityID)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(entries) != 2 || entries[0].Outcome != database.OutcomeSuccess {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestOTPReplace_Upserts(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewOTPRepository(pool)

	mock.ExpectExec(`ON CONFLICT \(identity_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Replace(context.Background(), &database.OTP{
		ID:                "0b6e8b3c-4b6d-4d0c-9b4f-0d7a3f6a6b01",
		IdentityID:        testIdentityID,
		CodeHash:          []byte("hash"),
		AttemptsRemaining: 3,
	})
	if err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestOTPDecrementAttempts(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewOTPRepository(pool)

	mock.ExpectQuery(`UPDATE otps`).
		WithArgs("otp-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts_remaining"}).AddRow(2))
	mock.ExpectQuery(`UPDATE otps`).
		WithArgs("otp-gone").
		WillReturnError(sql.ErrNoRows)

	remaining, err := repo.DecrementAttempts(context.Background(), "otp-1")
	if err != nil || remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d (%v)", remaining, err)
	}
	remaining, err = repo.DecrementAttempts(context.Background(), "otp-gone")
	if err != nil || remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d (%v)", remaining, err)
	}
}

func TestOTPConsume(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewOTPRepository(pool)

	mock.ExpectExec(`DELETE FROM otps WHERE id = \$1`).
		WithArgs("otp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM otps WHERE id = \$1`).
		WithArgs("otp-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Consume(context.Background(), "otp-1")
	if err != nil || !ok {
		t.Fatalf("expected first consume to succeed, got %v (%v)", ok, err)
	}
	ok, err = repo.Consume(context.Background(), "otp-1")
	if err != nil || ok {
		t.Fatalf("expected second consume to report false, got %v (%v)", ok, err)
	}
}

func TestSessionGet_NotFound(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewSessionRepository(pool)

	mock.ExpectQuery(`FROM sessions`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil session, got %+v", s)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewSessionRepository(pool)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
}

func TestFailureLockedUntil_NotLocked(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewFailureRepository(pool)

	mock.ExpectQuery(`SELECT locked_until FROM lockouts`).
		WithArgs(testIdentityID).
		WillReturnError(sql.ErrNoRows)

	until, err := repo.LockedUntil(context.Background(), testIdentityID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !until.IsZero() {
		t.Errorf("expected zero time, got %v", until)
	}
}

func TestFailureReset_Transactional(t *testing.T) {
	pool, mock := newPoolWithMock(t)
	repo := NewFailureRepository(pool)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM login_failures WHERE identity_id = \$1`).
		WithArgs(testIdentityID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM lockouts WHERE identity_id = \$1`).
		WithArgs(testIdentityID).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := repo.Reset(context.Background(), testIdentityID); err == nil {
		t.Fatal("expected error")
	}
	expectationsMet(t, mock)
}
