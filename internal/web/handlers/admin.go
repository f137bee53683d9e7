package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/audit"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/kozaktomas/face-auth/internal/extractor"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"go.uber.org/zap"
)

// IdentityStore is the read access the admin endpoints need
type IdentityStore interface {
	database.IdentityReader
	database.DescriptorReader
}

// AdminHandler handles administrative endpoints
type AdminHandler struct {
	audit      *audit.Log
	enroll     *enroll.Manager
	auth       *auth.Manager
	identities IdentityStore
	index      *database.DescriptorIndex
	extractor  extractor.Extractor
	log        *zap.Logger
}

// AdminDeps groups the collaborators of AdminHandler
type AdminDeps struct {
	Audit      *audit.Log
	Enroll     *enroll.Manager
	Auth       *auth.Manager
	Identities IdentityStore
	Index      *database.DescriptorIndex
	Extractor  extractor.Extractor // optional, enables image identification
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(deps AdminDeps, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		audit:      deps.Audit,
		enroll:     deps.Enroll,
		auth:       deps.Auth,
		identities: deps.Identities,
		index:      deps.Index,
		extractor:  deps.Extractor,
		log:        log,
	}
}

// AuditEntryResponse represents an audit entry
type AuditEntryResponse struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	Username   string    `json:"username,omitempty"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditResponse lists audit entries, most recent first
type AuditResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	Count   int                  `json:"count"`
}

// Audit returns recent audit entries, optionally filtered by identity
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	entries, err := h.audit.QueryRecent(r.Context(), limit, r.URL.Query().Get("identity"))
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	resp := AuditResponse{Entries: make([]AuditEntryResponse, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryResponse{
			ID:         e.ID,
			IdentityID: e.IdentityID,
			Username:   e.Username,
			AttemptID:  e.AttemptID,
			Outcome:    string(e.Outcome),
			Reason:     e.Reason,
			Timestamp:  e.Timestamp,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// IdentitiesResponse is a page of identities
type IdentitiesResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// ListIdentities returns enrolled identities page by page
func (h *AdminHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultHandlerPageSize
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= constants.DefaultHandlerPageSize {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	identities, err := h.identities.ListIdentities(r.Context(), limit, offset)
	if err != nil {
		respondAppError(w, h.log, r, apperr.Storage("list identities", err))
		return
	}
	total, err := h.identities.CountIdentities(r.Context())
	if err != nil {
		respondAppError(w, h.log, r, apperr.Storage("count identities", err))
		return
	}

	resp := IdentitiesResponse{Identities: make([]IdentityResponse, 0, len(identities)), Total: total, Limit: limit, Offset: offset}
	for i := range identities {
		resp.Identities = append(resp.Identities, newIdentityResponse(&identities[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// DeleteIdentity removes an identity with its descriptors and sessions
func (h *AdminHandler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.enroll.DeleteIdentity(r.Context(), id); err != nil {
		respondAppError(w, h.log, r, err)
		return
	}
	h.log.Info("identity deleted by admin", zap.String("identity_id", sanitizeForLog(id)))
	w.WriteHeader(http.StatusNoContent)
}

// IdentifyResponse is the 1:N identification result. Scores are only shown to
// administrators.
type IdentifyResponse struct {
	IdentityID string  `json:"identity_id,omitempty"`
	Username   string  `json:"username,omitempty"`
	Score      float64 `json:"score"`
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason"`
}

// Identify searches all enrolled identities for the best match of a capture
func (h *AdminHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	capture, isDescriptor, err := req.toCapture()
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}
	if !isDescriptor {
		capture, err = h.extract(r.Context(), req.Image)
		if err != nil {
			respondAppError(w, h.log, r, err)
			return
		}
	}
	if err := facematch.Validate(capture.Descriptor, h.auth.Config().DescriptorLength); err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	if err := h.index.Sync(r.Context(), h.identities); err != nil {
		respondAppError(w, h.log, r, apperr.Storage("sync descriptor index", err))
		return
	}
	result, err := h.index.Identify(capture.Descriptor)
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	resp := IdentifyResponse{
		IdentityID: result.IdentityID,
		Score:      result.Score,
		Accepted:   result.Accepted,
		Reason:     string(result.Reason),
	}
	if result.Accepted {
		identity, err := h.identities.GetIdentity(r.Context(), result.IdentityID)
		if err != nil {
			respondAppError(w, h.log, r, apperr.Storage("load identity", err))
			return
		}
		if identity != nil {
			resp.Username = identity.Username
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) extract(ctx context.Context, image []byte) (facematch.Capture, error) {
	if h.extractor == nil {
		return facematch.Capture{}, fmt.Errorf("%w: no extractor configured", apperr.ErrCaptureUnavailable)
	}
	return h.extractor.Extract(ctx, image)
}

// StatsResponse summarizes the state of the service
type StatsResponse struct {
	Identities     int        `json:"identities"`
	Descriptors    int64      `json:"descriptors"`
	ActiveAttempts int        `json:"active_attempts"`
	IndexedAt      *time.Time `json:"indexed_at,omitempty"`
}

// Stats returns identity and attempt counters
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identities, err := h.identities.CountIdentities(r.Context())
	if err != nil {
		respondAppError(w, h.log, r, apperr.Storage("count identities", err))
		return
	}
	stats, err := h.identities.DescriptorStats(r.Context())
	if err != nil {
		respondAppError(w, h.log, r, apperr.Storage("descriptor stats", err))
		return
	}

	resp := StatsResponse{
		Identities:     identities,
		Descriptors:    stats.Count,
		ActiveAttempts: h.auth.Active(),
	}
	if _, builtAt := h.index.Stats(); !builtAt.IsZero() {
		resp.IndexedAt = &builtAt
	}
	respondJSON(w, http.StatusOK, resp)
}

// Sweep removes expired sessions, passcodes and attempts immediately
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.auth.Sweep(r.Context())
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
