package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"go.uber.org/zap"
)

// LoginHandler handles the face login flow and sessions
type LoginHandler struct {
	auth     *auth.Manager
	sessions *middleware.SessionAuth
	log      *zap.Logger
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(m *auth.Manager, sa *middleware.SessionAuth, log *zap.Logger) *LoginHandler {
	return &LoginHandler{auth: m, sessions: sa, log: log}
}

type startRequest struct {
	Username string `json:"username"`
}

// Start opens a login attempt for a username
func (h *LoginHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	attempt, err := h.auth.Start(r.Context(), req.Username)
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, attempt)
}

type loginCaptureRequest struct {
	AttemptID string `json:"attempt_id"`
	captureRequest
}

// Capture submits a face capture for an attempt
func (h *LoginHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req loginCaptureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AttemptID == "" {
		respondError(w, http.StatusBadRequest, "attempt_id is required")
		return
	}

	capture, isDescriptor, err := req.toCapture()
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	var attempt auth.Attempt
	if isDescriptor {
		attempt, err = h.auth.SubmitCapture(r.Context(), req.AttemptID, capture)
	} else {
		attempt, err = h.auth.SubmitImage(r.Context(), req.AttemptID, req.Image)
	}
	if err != nil {
		respondAttemptError(w, h.log, r, attempt, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

type otpRequest struct {
	AttemptID string `json:"attempt_id"`
	Code      string `json:"code"`
}

// SessionResponse describes an active session
type SessionResponse struct {
	IdentityID           string      `json:"identity_id"`
	IssuedAt             time.Time   `json:"issued_at"`
	ExpiresAt            time.Time   `json:"expires_at"`
	SecondFactorVerified bool        `json:"second_factor_verified"`
	State                auth.State  `json:"state"`
	NextAction           auth.Action `json:"next_action"`
}

func newSessionResponse(s *database.Session) SessionResponse {
	return SessionResponse{
		IdentityID:           s.IdentityID,
		IssuedAt:             s.IssuedAt,
		ExpiresAt:            s.ExpiresAt,
		SecondFactorVerified: s.SecondFactorVerified,
		State:                auth.StateSessionActive,
		NextAction:           auth.StateSessionActive.NextAction(),
	}
}

// OTPResponse is returned when the second factor succeeded
type OTPResponse struct {
	auth.Attempt
	Token   string          `json:"token"`
	Session SessionResponse `json:"session"`
}

// VerifyOTP checks the passcode of an attempt and issues a session token
func (h *LoginHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AttemptID == "" {
		respondError(w, http.StatusBadRequest, "attempt_id is required")
		return
	}

	attempt, session, err := h.auth.VerifyOTP(r.Context(), req.AttemptID, req.Code)
	if err != nil {
		respondAttemptError(w, h.log, r, attempt, err)
		return
	}

	tokenString, err := h.sessions.Issue(session)
	if err != nil {
		h.log.Error("failed to sign session token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessions.SetSessionCookie(w, r, tokenString, session.ExpiresAt)

	respondJSON(w, http.StatusOK, OTPResponse{
		Attempt: attempt,
		Token:   tokenString,
		Session: newSessionResponse(session),
	})
}

// Status returns the state of an attempt
func (h *LoginHandler) Status(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.auth.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		respondAttemptError(w, h.log, r, attempt, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

// Abort cancels an attempt that has not produced a session
func (h *LoginHandler) Abort(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.auth.Abort(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		respondAttemptError(w, h.log, r, attempt, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

// LogoutResponse is returned by logout
type LogoutResponse struct {
	State      auth.State  `json:"state"`
	NextAction auth.Action `json:"next_action"`
}

// Logout destroys the current session. Logging out without a session succeeds.
func (h *LoginHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.sessions.SessionIDFromRequest(r)
	if err == nil {
		err = h.auth.Logout(r.Context(), sessionID)
	}
	if err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
		respondAppError(w, h.log, r, err)
		return
	}

	h.sessions.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, LogoutResponse{
		State:      auth.StateLoggedOut,
		NextAction: auth.StateLoggedOut.NextAction(),
	})
}

// Session returns the session of the request. Requires RequireSession.
func (h *LoginHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(session))
}
