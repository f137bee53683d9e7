package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/token"
)

const sessionCookieName = "face_auth_session"

// SessionValidator resolves a session ID to a live session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*database.Session, error)
}

// SessionAuth carries session tokens in cookies or bearer headers. Tokens are
// signed JWTs whose ID is the stored session ID.
type SessionAuth struct {
	issuer    *token.Issuer
	validator SessionValidator
}

// NewSessionAuth creates a session authenticator
func NewSessionAuth(issuer *token.Issuer, validator SessionValidator) *SessionAuth {
	return &SessionAuth{issuer: issuer, validator: validator}
}

// Issue signs a token for session.
func (sa *SessionAuth) Issue(session *database.Session) (string, error) {
	return sa.issuer.Sign(session.ID, session.IdentityID, session.IssuedAt, session.ExpiresAt, session.SecondFactorVerified)
}

// SetSessionCookie sets the session cookie on the response
func (sa *SessionAuth) SetSessionCookie(w http.ResponseWriter, r *http.Request, tokenString string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

// ClearSessionCookie removes the session cookie
func (sa *SessionAuth) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// SessionIDFromRequest extracts and verifies the session token of a request.
// The cookie is tried first, then the Authorization header.
func (sa *SessionAuth) SessionIDFromRequest(r *http.Request) (string, error) {
	var raw string
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		raw = cookie.Value
	} else if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		raw = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if raw == "" {
		return "", apperr.ErrSessionNotFound
	}

	sessionID, err := sa.issuer.Parse(raw)
	if err != nil {
		return "", apperr.ErrSessionNotFound
	}
	return sessionID, nil
}

// SessionFromRequest returns the live session of a request.
func (sa *SessionAuth) SessionFromRequest(r *http.Request) (*database.Session, error) {
	sessionID, err := sa.SessionIDFromRequest(r)
	if err != nil {
		return nil, err
	}
	return sa.validator.ValidateSession(r.Context(), sessionID)
}

// isSecureRequest reports whether the request reached us over HTTPS.
func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
