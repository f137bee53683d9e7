package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to identities and their descriptors
type IdentityReader interface {
	// GetIdentity retrieves an identity by ID, returns nil if not found
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// GetIdentityByUsername retrieves an identity by username, returns nil if not found.
	// Usernames are compared by their canonical form (see facematch.CanonicalUsername).
	GetIdentityByUsername(ctx context.Context, username string) (*Identity, error)
	// UsernameOrEmailTaken reports which of the two values is already enrolled (case-insensitive)
	UsernameOrEmailTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	// ListIdentities returns identities ordered by creation time
	ListIdentities(ctx context.Context, limit, offset int) ([]Identity, error)
	// CountIdentities returns the total number of enrolled identities
	CountIdentities(ctx context.Context) (int, error)
}

// DescriptorReader provides read-only access to stored descriptors
type DescriptorReader interface {
	// GetDescriptors returns the descriptors of an identity, oldest first
	GetDescriptors(ctx context.Context, identityID string) ([]StoredDescriptor, error)
	// GetAllDescriptors returns every stored descriptor (used to build the identification index)
	GetAllDescriptors(ctx context.Context) ([]StoredDescriptor, error)
	// DescriptorStats returns count and max ID, used to detect a stale index
	DescriptorStats(ctx context.Context) (DescriptorStats, error)
}

// IdentityWriter provides write access to identities and descriptors
type IdentityWriter interface {
	IdentityReader
	DescriptorReader

	// CreateIdentity stores an identity together with its first descriptor in one transaction.
	// Returns apperr.ErrDuplicate if the username or email is already taken.
	CreateIdentity(ctx context.Context, identity Identity, first StoredDescriptor) (*StoredDescriptor, error)

	// AddDescriptor stores a descriptor and evicts the oldest ones beyond maxPerIdentity.
	// Returns the IDs of the evicted descriptors.
	AddDescriptor(ctx context.Context, d StoredDescriptor, maxPerIdentity int) (*StoredDescriptor, []int64, error)

	// DeleteIdentity removes an identity and everything it owns except audit entries.
	// Returns false if the identity did not exist.
	DeleteIdentity(ctx context.Context, id string) (bool, error)
}

// AuditStore persists audit entries as an append-only log
type AuditStore interface {
	// Append stores the entry and fills in its ID
	Append(ctx context.Context, entry *AuditEntry) error
	// Recent returns up to limit entries, most recent first, optionally filtered by identity
	Recent(ctx context.Context, limit int, identityID string) ([]AuditEntry, error)
}

// SessionStore persists issued sessions
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	// Get retrieves a session by ID, returns nil if not found. Expiry is checked by the caller.
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions that expired before now and returns the count deleted
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPStore persists outstanding one-time passcodes, at most one per identity
type OTPStore interface {
	// Replace atomically invalidates any outstanding passcode of the identity and stores otp
	Replace(ctx context.Context, otp *OTP) error
	// Get returns the outstanding passcode of an identity, returns nil if none
	Get(ctx context.Context, identityID string) (*OTP, error)
	// DecrementAttempts lowers the remaining attempts of the passcode and returns the new value
	DecrementAttempts(ctx context.Context, otpID string) (int, error)
	// Consume deletes the passcode; returns false if it was already consumed or replaced
	Consume(ctx context.Context, otpID string) (bool, error)
	// DeleteExpired removes passcodes that expired before now and returns the count deleted
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// FailureStore tracks failed biometric attempts and lockouts per identity
type FailureStore interface {
	RecordFailure(ctx context.Context, identityID string, at time.Time) error
	// CountSince returns the number of failures recorded at or after since
	CountSince(ctx context.Context, identityID string, since time.Time) (int, error)
	// Lock rejects attempts for the identity until the given time
	Lock(ctx context.Context, identityID string, until time.Time) error
	// LockedUntil returns the lockout end, zero if the identity is not locked
	LockedUntil(ctx context.Context, identityID string) (time.Time, error)
	// Reset clears failures and lockout after a successful match
	Reset(ctx context.Context, identityID string) error
	// DeleteBefore removes failures recorded before the given time and expired lockouts
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
