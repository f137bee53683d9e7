package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"go.uber.org/zap"
)

// EnrollHandler handles enrollment endpoints
type EnrollHandler struct {
	enroll *enroll.Manager
	log    *zap.Logger
}

// NewEnrollHandler creates a new enrollment handler
func NewEnrollHandler(m *enroll.Manager, log *zap.Logger) *EnrollHandler {
	return &EnrollHandler{enroll: m, log: log}
}

// IdentityResponse represents an enrolled identity
type IdentityResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newIdentityResponse(i *database.Identity) IdentityResponse {
	return IdentityResponse{ID: i.ID, Username: i.Username, Email: i.Email, CreatedAt: i.CreatedAt}
}

type enrollRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	captureRequest
}

// EnrollResponse is returned after a successful enrollment
type EnrollResponse struct {
	Identity   IdentityResponse `json:"identity"`
	NextAction auth.Action      `json:"next_action"`
}

// Enroll creates an identity from a descriptor or an image
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	capture, isDescriptor, err := req.toCapture()
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	var identity *database.Identity
	if isDescriptor {
		identity, err = h.enroll.Enroll(r.Context(), req.Username, req.Email, capture)
	} else {
		identity, err = h.enroll.EnrollImage(r.Context(), req.Username, req.Email, req.Image)
	}
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, EnrollResponse{
		Identity:   newIdentityResponse(identity),
		NextAction: auth.ActionStart,
	})
}

// DescriptorResponse describes a stored descriptor
type DescriptorResponse struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	Quality    float64   `json:"quality"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddDescriptor stores an additional capture for the identity of the current session
func (h *EnrollHandler) AddDescriptor(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "id")
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil || session.IdentityID != identityID {
		respondError(w, http.StatusForbidden, "session does not belong to this identity")
		return
	}

	var req captureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	capture, isDescriptor, err := req.toCapture()
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	var stored *database.StoredDescriptor
	if isDescriptor {
		stored, err = h.enroll.AddDescriptor(r.Context(), identityID, capture)
	} else {
		stored, err = h.enroll.AddImage(r.Context(), identityID, req.Image)
	}
	if err != nil {
		respondAppError(w, h.log, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, DescriptorResponse{
		ID:         stored.ID,
		IdentityID: stored.IdentityID,
		Quality:    stored.Quality,
		CreatedAt:  stored.CreatedAt,
	})
}
