package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/audit"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/notify"
	"github.com/kozaktomas/face-auth/internal/token"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testCode   = "246810"
)

// recordingDeliverer keeps delivered passcodes instead of sending them
type recordingDeliverer struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (d *recordingDeliverer) Deliver(ctx context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

// fixture wires handlers to an in-memory store
type fixture struct {
	store     *mock.Store
	delivered *recordingDeliverer
	audit     *audit.Log
	enroll    *enroll.Manager
	auth      *auth.Manager
	sessions  *middleware.SessionAuth
	index     *database.DescriptorIndex

	enrollHandler *EnrollHandler
	loginHandler  *LoginHandler
	adminHandler  *AdminHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	f := &fixture{store: mock.NewStore(), delivered: &recordingDeliverer{}}
	stores := f.store.Stores()

	f.audit = audit.New(stores.Audit, log)
	f.enroll = enroll.NewManager(stores.Identities, nil, enroll.Config{MinQuality: 0.5}, log)
	f.auth = auth.NewManager(stores, f.audit, auth.Config{
		Threshold:   0.85,
		MinQuality:  0.5,
		OTPHashCost: bcrypt.MinCost,
	}, log,
		auth.WithDeliverer(f.delivered),
		auth.WithCodeGenerator(func() (string, error) { return testCode, nil }),
	)

	issuer, err := token.NewIssuer(testSecret)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	f.sessions = middleware.NewSessionAuth(issuer, f.auth)
	f.index = database.NewDescriptorIndex(facematch.NewMatcher(0.85))

	f.enrollHandler = NewEnrollHandler(f.enroll, log)
	f.loginHandler = NewLoginHandler(f.auth, f.sessions, log)
	f.adminHandler = NewAdminHandler(AdminDeps{
		Audit:      f.audit,
		Enroll:     f.enroll,
		Auth:       f.auth,
		Identities: stores.Identities,
		Index:      f.index,
	}, log)
	return f
}

// enrollIdentity enrolls username with the descriptor of seed and returns its ID
func (f *fixture) enrollIdentity(t *testing.T, username string, seed float64) string {
	t.Helper()
	identity, err := f.enroll.Enroll(context.Background(), username, username+"@example.com",
		facematch.Capture{Descriptor: testDescriptor(seed), Quality: 0.9})
	if err != nil {
		t.Fatalf("failed to enroll %s: %v", username, err)
	}
	return identity.ID
}

// login runs the whole flow for username and returns the session token
func (f *fixture) login(t *testing.T, username string, seed float64) string {
	t.Helper()
	ctx := context.Background()
	attempt, err := f.auth.Start(ctx, username)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.auth.SubmitCapture(ctx, attempt.ID, facematch.Capture{Descriptor: testDescriptor(seed), Quality: 0.9}); err != nil {
		t.Fatalf("SubmitCapture: %v", err)
	}
	_, session, err := f.auth.VerifyOTP(ctx, attempt.ID, testCode)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	tokenString, err := f.sessions.Issue(session)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tokenString
}

func testDescriptor(seed float64) facematch.Descriptor {
	d := make(facematch.Descriptor, facematch.DefaultDescriptorLength)
	for i := range d {
		d[i] = float32(math.Sin(seed*float64(i+1)) + 0.1)
	}
	return d
}

func negated(d facematch.Descriptor) facematch.Descriptor {
	out := make(facematch.Descriptor, len(d))
	for i, v := range d {
		out[i] = -v
	}
	return out
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithSession puts a session into the request context
func requestWithSession(r *http.Request, identityID string) *http.Request {
	ctx := middleware.SetSessionInContext(r.Context(), &database.Session{
		ID:                   "test-session",
		IdentityID:           identityID,
		IssuedAt:             time.Now(),
		ExpiresAt:            time.Now().Add(time.Hour),
		SecondFactorVerified: true,
	})
	return r.WithContext(ctx)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
