// Package audit records authentication attempts in an append-only log.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"go.uber.org/zap"
)

// Log writes audit entries to a store. Timestamps of recorded entries never
// decrease, so ordering by timestamp matches insertion order.
type Log struct {
	store database.AuditStore
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New creates an audit log on top of store.
func New(store database.AuditStore, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{store: store, log: log, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Record appends entry. A missing identity is recorded as database.UnknownIdentity.
// Persistence failures are returned as a retryable apperr.StorageError.
func (l *Log) Record(ctx context.Context, entry database.AuditEntry) (database.AuditEntry, error) {
	if entry.IdentityID == "" {
		entry.IdentityID = database.UnknownIdentity
	}
	if !entry.Outcome.Valid() {
		entry.Outcome = database.OutcomeError
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	if ts.Before(l.last) {
		ts = l.last
	}
	entry.Timestamp = ts

	if err := l.store.Append(ctx, &entry); err != nil {
		l.log.Error("audit append failed",
			zap.String("attempt_id", entry.AttemptID),
			zap.String("outcome", string(entry.Outcome)),
			zap.Error(err),
		)
		return entry, apperr.Storage("audit append", err)
	}
	l.last = ts

	l.log.Debug("audit entry recorded",
		zap.Int64("id", entry.ID),
		zap.String("identity_id", entry.IdentityID),
		zap.String("outcome", string(entry.Outcome)),
		zap.String("reason", entry.Reason),
	)
	return entry, nil
}

// ClampLimit bounds an audit query limit to [1, constants.MaxAuditLimit].
// Zero or negative limits select constants.DefaultAuditLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return constants.DefaultAuditLimit
	case limit > constants.MaxAuditLimit:
		return constants.MaxAuditLimit
	}
	return limit
}

// QueryRecent returns the most recent entries first, optionally filtered by identity.
func (l *Log) QueryRecent(ctx context.Context, limit int, identityID string) ([]database.AuditEntry, error) {
	entries, err := l.store.Recent(ctx, ClampLimit(limit), identityID)
	if err != nil {
		return nil, apperr.Storage("audit query", err)
	}
	return entries, nil
}
