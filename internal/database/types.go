package database

import (
	"time"

	"github.com/kozaktomas/face-auth/internal/facematch"
)

// UnknownIdentity is recorded in audit entries when the claimed username is not enrolled.
const UnknownIdentity = "unknown"

// Identity represents an enrolled user. Identity fields never change after enrollment.
type Identity struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// StoredDescriptor represents a face descriptor owned by one identity
type StoredDescriptor struct {
	ID         int64
	IdentityID string
	Descriptor facematch.Descriptor
	Quality    float64 // detector quality the capture was accepted with
	CreatedAt  time.Time
}

// DescriptorStats summarizes the descriptor table for index staleness checks
type DescriptorStats struct {
	Count int64
	MaxID int64
}

// Outcome is the result class of an audited attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeError:
		return true
	}
	return false
}

// AuditEntry is a single append-only record of an authentication attempt
type AuditEntry struct {
	ID         int64
	IdentityID string // UnknownIdentity when the claimed username is not enrolled
	Username   string // username as claimed by the caller
	AttemptID  string
	Outcome    Outcome
	Reason     string
	Timestamp  time.Time
}

// Session is issued after both the biometric match and the second factor succeed.
type Session struct {
	ID                   string
	IdentityID           string
	IssuedAt             time.Time
	ExpiresAt            time.Time
	SecondFactorVerified bool
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OTP is a one-time passcode awaiting verification. Only the bcrypt hash of the
// code is stored.
type OTP struct {
	ID                string
	IdentityID        string
	CodeHash          []byte
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// Expired reports whether the passcode can no longer be used at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
