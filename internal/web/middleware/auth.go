package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const sessionContextKey contextKey = "session"

// RequireSession is middleware that requires a valid session
func RequireSession(sa *SessionAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sa.SessionFromRequest(r)
			if err != nil {
				if errors.Is(err, apperr.ErrSessionNotFound) {
					http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				} else {
					http.Error(w, `{"error": "session store unavailable"}`, http.StatusServiceUnavailable)
				}
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext retrieves the session from the request context
func GetSessionFromContext(ctx context.Context) *database.Session {
	session, ok := ctx.Value(sessionContextKey).(*database.Session)
	if !ok {
		return nil
	}
	return session
}

// SetSessionInContext adds a session to the context.
// This is primarily for testing - use RequireSession middleware in production.
func SetSessionInContext(ctx context.Context, session *database.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// RequireAdmin is middleware that checks HTTP Basic credentials against the
// configured administrator. Administrative routes are disabled when no
// administrator is configured.
func RequireAdmin(admin config.AdminConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !admin.Enabled() {
				http.Error(w, `{"error": "admin access is not configured"}`, http.StatusForbidden)
				return
			}
			username, password, ok := r.BasicAuth()
			if !ok || !checkAdmin(admin, username, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="face-auth admin"`)
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkAdmin(admin config.AdminConfig, username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(admin.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}
