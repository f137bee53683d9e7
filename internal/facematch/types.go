// Package facematch provides deterministic face descriptor matching shared by the
// enrollment and login flows.
package facematch

import "time"

// DefaultDescriptorLength is the length of descriptors produced by the embedding server.
const DefaultDescriptorLength = 128

// DefaultThreshold is the minimum score for a match to be accepted.
const DefaultThreshold = 0.85

// Descriptor is a fixed-length face embedding.
type Descriptor []float32

// Capture is a descriptor together with the quality score reported by the
// detector that produced it.
type Capture struct {
	Descriptor Descriptor
	Quality    float64
}

// Reason explains why a match was accepted or rejected.
type Reason string

const (
	ReasonAccepted       Reason = "accepted"
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonNotEnrolled    Reason = "not_enrolled"
)

// MatchResult is the outcome of comparing a candidate against enrolled descriptors.
// It is never persisted; the audit log records its outcome.
type MatchResult struct {
	IdentityID string // empty when nothing matched
	Score      float64
	Accepted   bool
	Reason     Reason
	Timestamp  time.Time
}
