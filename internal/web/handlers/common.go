package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"go.uber.org/zap"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// errorResponse is the body of failed login flow requests. State and next
// action are included whenever the request addressed a known attempt.
type errorResponse struct {
	Error      string      `json:"error"`
	Field      string      `json:"field,omitempty"`
	AttemptID  string      `json:"attempt_id,omitempty"`
	State      auth.State  `json:"state,omitempty"`
	NextAction auth.Action `json:"next_action,omitempty"`
}

// statusFor maps an application error onto an HTTP status and a message that is
// safe to return. Match failures never reveal whether the username exists or
// how close the score was.
func statusFor(err error) (int, string) {
	var ve *apperr.ValidationError
	var se *apperr.StorageError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, apperr.ErrNotEnrolled), errors.Is(err, apperr.ErrMatchFailed):
		return http.StatusUnauthorized, apperr.ErrMatchFailed.Error()
	case errors.Is(err, apperr.ErrLockout):
		return http.StatusTooManyRequests, apperr.ErrLockout.Error()
	case errors.Is(err, apperr.ErrOTPExpired):
		return http.StatusUnauthorized, apperr.ErrOTPExpired.Error()
	case errors.Is(err, apperr.ErrOTPExhausted):
		return http.StatusUnauthorized, apperr.ErrOTPExhausted.Error()
	case errors.Is(err, apperr.ErrOTPInvalid):
		return http.StatusUnauthorized, apperr.ErrOTPInvalid.Error()
	case errors.Is(err, apperr.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrInvalidDescriptor):
		return http.StatusBadRequest, apperr.ErrInvalidDescriptor.Error()
	case errors.Is(err, apperr.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, apperr.ErrNoFaceDetected.Error()
	case errors.Is(err, apperr.ErrLowQuality):
		return http.StatusUnprocessableEntity, apperr.ErrLowQuality.Error()
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden, apperr.ErrPermissionDenied.Error()
	case errors.Is(err, apperr.ErrAttemptNotFound):
		return http.StatusNotFound, apperr.ErrAttemptNotFound.Error()
	case errors.Is(err, apperr.ErrIdentityNotFound):
		return http.StatusNotFound, apperr.ErrIdentityNotFound.Error()
	case errors.Is(err, apperr.ErrAttemptExpired):
		return http.StatusGone, apperr.ErrAttemptExpired.Error()
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, apperr.ErrInvalidTransition.Error()
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, "storage temporarily unavailable, retry the request"
	case errors.Is(err, apperr.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable, apperr.ErrCaptureUnavailable.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// respondAppError maps err to a response. Unexpected and storage errors are logged.
func respondAppError(w http.ResponseWriter, log *zap.Logger, r *http.Request, err error) {
	respondAttemptError(w, log, r, auth.Attempt{}, err)
}

// respondAttemptError maps err to a response carrying the attempt state.
func respondAttemptError(w http.ResponseWriter, log *zap.Logger, r *http.Request, attempt auth.Attempt, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", sanitizeForLog(r.URL.Path)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	body := errorResponse{Error: message}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if attempt.ID != "" {
		body.AttemptID = attempt.ID
		body.State = attempt.State
		body.NextAction = attempt.NextAction
	}
	respondJSON(w, status, body)
}

// captureRequest is a capture sent either as a client computed descriptor with
// its detector quality, or as a base64 encoded image for server side extraction.
type captureRequest struct {
	Descriptor []float32 `json:"descriptor,omitempty"`
	Quality    *float64  `json:"quality,omitempty"`
	Image      []byte    `json:"image,omitempty"`
}

// toCapture returns the descriptor capture, or ok=false when an image was sent.
func (c captureRequest) toCapture() (facematch.Capture, bool, error) {
	switch {
	case len(c.Descriptor) > 0 && len(c.Image) > 0:
		return facematch.Capture{}, false, apperr.NewValidationError("", "send either descriptor or image, not both")
	case len(c.Descriptor) > 0:
		if c.Quality == nil {
			return facematch.Capture{}, false, apperr.NewValidationError("quality", "is required with a descriptor")
		}
		return facematch.Capture{Descriptor: facematch.Descriptor(c.Descriptor), Quality: *c.Quality}, true, nil
	case len(c.Image) > 0:
		return facematch.Capture{}, false, nil
	}
	return facematch.Capture{}, false, apperr.NewValidationError("", "descriptor or image is required")
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
