// Package auth drives face login attempts from capture through the one-time
// passcode to an issued session.
package auth

import (
	"sync"
	"time"
)

// State is the position of a login attempt in the authentication flow.
type State string

const (
	StateIdle                 State = "idle"
	StateCaptureRequested     State = "capture_requested"
	StateMatching             State = "matching"
	StateMatchFailed          State = "match_failed"
	StateAwaitingSecondFactor State = "awaiting_second_factor"
	StateAuthenticated        State = "authenticated"
	StateSessionActive        State = "session_active"
	StateLoggedOut            State = "logged_out"
	StateExpired              State = "expired"
	StateLockedOut            State = "locked_out"
	StateAborted              State = "aborted"
)

// Action is the next request a client may make for an attempt.
type Action string

const (
	ActionStart   Action = "start"
	ActionCapture Action = "capture"
	ActionOTP     Action = "otp"
	ActionWait    Action = "wait"
	ActionLogout  Action = "logout"
	ActionNone    Action = "none"
)

// NextAction returns what the client is expected to do in state s.
func (s State) NextAction() Action {
	switch s {
	case StateIdle:
		return ActionStart
	case StateCaptureRequested, StateMatchFailed:
		return ActionCapture
	case StateMatching, StateAuthenticated:
		return ActionWait
	case StateAwaitingSecondFactor:
		return ActionOTP
	case StateSessionActive:
		return ActionLogout
	case StateLockedOut, StateLoggedOut, StateExpired, StateAborted:
		return ActionStart
	}
	return ActionNone
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateLoggedOut, StateExpired, StateLockedOut, StateAborted:
		return true
	}
	return false
}

// acceptsCapture reports whether a capture may be submitted in s.
func (s State) acceptsCapture() bool {
	return s == StateCaptureRequested || s == StateMatchFailed
}

// Attempt is a snapshot of a login attempt returned to callers.
type Attempt struct {
	ID         string    `json:"attempt_id"`
	Username   string    `json:"username"`
	State      State     `json:"state"`
	NextAction Action    `json:"next_action"`
	Captures   int       `json:"captures"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// attempt is the mutable login attempt owned by the Manager. Every field after
// mu is guarded by it.
type attempt struct {
	id        string
	username  string
	createdAt time.Time
	expiresAt time.Time

	mu         sync.Mutex
	identityID string
	email      string
	state      State
	otpID      string
	sessionID  string
	captures   int
	timedOut   bool
}

func (a *attempt) snapshot() Attempt {
	return Attempt{
		ID:         a.id,
		Username:   a.username,
		State:      a.state,
		NextAction: a.state.NextAction(),
		Captures:   a.captures,
		CreatedAt:  a.createdAt,
		ExpiresAt:  a.expiresAt,
	}
}
