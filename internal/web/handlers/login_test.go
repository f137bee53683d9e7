package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/auth"
)

func startAttempt(t *testing.T, f *fixture, username string) auth.Attempt {
	t.Helper()
	req := jsonRequest(t, "POST", "/api/v1/login/start", map[string]string{"username": username})
	recorder := httptest.NewRecorder()
	f.loginHandler.Start(recorder, req)
	assertStatusCode(t, recorder, http.StatusCreated)

	var attempt auth.Attempt
	parseJSONResponse(t, recorder, &attempt)
	return attempt
}

func submitCapture(t *testing.T, f *fixture, attemptID string, seed float64, negate bool) *httptest.ResponseRecorder {
	t.Helper()
	d := testDescriptor(seed)
	if negate {
		d = negated(d)
	}
	req := jsonRequest(t, "POST", "/api/v1/login/capture", map[string]any{
		"attempt_id": attemptID,
		"descriptor": d,
		"quality":    0.9,
	})
	recorder := httptest.NewRecorder()
	f.loginHandler.Capture(recorder, req)
	return recorder
}

func submitOTP(t *testing.T, f *fixture, attemptID, code string) *httptest.ResponseRecorder {
	t.Helper()
	req := jsonRequest(t, "POST", "/api/v1/login/otp", map[string]string{"attempt_id": attemptID, "code": code})
	recorder := httptest.NewRecorder()
	f.loginHandler.VerifyOTP(recorder, req)
	return recorder
}

func TestLoginHandler_FullFlow(t *testing.T) {
	f := newFixture(t)
	identityID := f.enrollIdentity(t, "bob", 3)

	attempt := startAttempt(t, f, "bob")
	if attempt.State != auth.StateCaptureRequested || attempt.NextAction != auth.ActionCapture {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}

	recorder := submitCapture(t, f, attempt.ID, 3, false)
	assertStatusCode(t, recorder, http.StatusOK)
	var captured auth.Attempt
	parseJSONResponse(t, recorder, &captured)
	if captured.State != auth.StateAwaitingSecondFactor || captured.NextAction != auth.ActionOTP {
		t.Fatalf("unexpected attempt after capture: %+v", captured)
	}
	if f.delivered.count() != 1 {
		t.Fatalf("expected one delivered passcode, got %d", f.delivered.count())
	}

	recorder = submitOTP(t, f, attempt.ID, testCode)
	assertStatusCode(t, recorder, http.StatusOK)

	var result OTPResponse
	parseJSONResponse(t, recorder, &result)
	if result.State != auth.StateSessionActive || result.NextAction != auth.ActionLogout {
		t.Errorf("unexpected state: %s/%s", result.State, result.NextAction)
	}
	if result.Token == "" {
		t.Fatal("expected session token")
	}
	if result.Session.IdentityID != identityID || !result.Session.SecondFactorVerified {
		t.Errorf("unexpected session: %+v", result.Session)
	}

	cookies := recorder.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != result.Token || !cookies[0].HttpOnly {
		t.Errorf("expected http-only session cookie, got %+v", cookies)
	}
}

func TestLoginHandler_MatchFailureDoesNotRevealUsername(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)

	known := startAttempt(t, f, "bob")
	knownRecorder := submitCapture(t, f, known.ID, 3, true)

	unknown := startAttempt(t, f, "mallory")
	unknownRecorder := submitCapture(t, f, unknown.ID, 3, false)

	assertStatusCode(t, knownRecorder, http.StatusUnauthorized)
	assertStatusCode(t, unknownRecorder, http.StatusUnauthorized)

	var knownBody, unknownBody errorResponse
	parseJSONResponse(t, knownRecorder, &knownBody)
	parseJSONResponse(t, unknownRecorder, &unknownBody)
	if knownBody.Error != unknownBody.Error {
		t.Errorf("responses differ: %q vs %q", knownBody.Error, unknownBody.Error)
	}
	if knownBody.State != auth.StateMatchFailed || knownBody.NextAction != auth.ActionCapture {
		t.Errorf("unexpected state: %+v", knownBody)
	}
}

func TestLoginHandler_Lockout(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)

	attempt := startAttempt(t, f, "bob")
	for i := 0; i < 4; i++ {
		assertStatusCode(t, submitCapture(t, f, attempt.ID, 3, true), http.StatusUnauthorized)
	}

	recorder := submitCapture(t, f, attempt.ID, 3, true)
	assertStatusCode(t, recorder, http.StatusUnauthorized)
	var body errorResponse
	parseJSONResponse(t, recorder, &body)
	if body.State != auth.StateLockedOut {
		t.Errorf("expected locked_out after fifth failure, got %s", body.State)
	}

	// Start answers a locked out username exactly like an unknown one.
	locked := startAttempt(t, f, "bob")
	unknown := startAttempt(t, f, "ghost")
	if locked.State != unknown.State || locked.NextAction != unknown.NextAction {
		t.Errorf("locked out start %s/%s differs from unknown %s/%s",
			locked.State, locked.NextAction, unknown.State, unknown.NextAction)
	}

	recorder = submitCapture(t, f, locked.ID, 3, false)
	assertStatusCode(t, recorder, http.StatusTooManyRequests)
	assertJSONError(t, recorder, apperr.ErrLockout.Error())
}

func TestLoginHandler_WrongOTP(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)

	attempt := startAttempt(t, f, "bob")
	assertStatusCode(t, submitCapture(t, f, attempt.ID, 3, false), http.StatusOK)

	recorder := submitOTP(t, f, attempt.ID, "000000")
	assertStatusCode(t, recorder, http.StatusUnauthorized)
	assertJSONError(t, recorder, apperr.ErrOTPInvalid.Error())
	if len(recorder.Result().Cookies()) != 0 {
		t.Error("no cookie may be set for a failed passcode")
	}
}

func TestLoginHandler_OTPBeforeCapture(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)
	attempt := startAttempt(t, f, "bob")

	recorder := submitOTP(t, f, attempt.ID, testCode)
	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestLoginHandler_MissingAttemptID(t *testing.T) {
	f := newFixture(t)

	recorder := submitCapture(t, f, "", 1, false)
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "attempt_id is required")

	recorder = submitOTP(t, f, "", testCode)
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestLoginHandler_StartValidation(t *testing.T) {
	f := newFixture(t)
	req := jsonRequest(t, "POST", "/api/v1/login/start", map[string]string{"username": "  "})
	recorder := httptest.NewRecorder()
	f.loginHandler.Start(recorder, req)
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestLoginHandler_StatusAndAbort(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)
	attempt := startAttempt(t, f, "bob")

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/login/"+attempt.ID, nil),
		map[string]string{"attemptID": attempt.ID})
	recorder := httptest.NewRecorder()
	f.loginHandler.Status(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	req = requestWithChiParams(httptest.NewRequest("DELETE", "/api/v1/login/"+attempt.ID, nil),
		map[string]string{"attemptID": attempt.ID})
	recorder = httptest.NewRecorder()
	f.loginHandler.Abort(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var aborted auth.Attempt
	parseJSONResponse(t, recorder, &aborted)
	if aborted.State != auth.StateAborted || aborted.NextAction != auth.ActionStart {
		t.Errorf("unexpected attempt: %+v", aborted)
	}

	recorder = submitCapture(t, f, attempt.ID, 3, false)
	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestLoginHandler_StatusNotFound(t *testing.T) {
	f := newFixture(t)
	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/login/missing", nil),
		map[string]string{"attemptID": "missing"})
	recorder := httptest.NewRecorder()
	f.loginHandler.Status(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestLoginHandler_Logout(t *testing.T) {
	f := newFixture(t)
	f.enrollIdentity(t, "bob", 3)
	tokenString := f.login(t, "bob", 3)

	req := httptest.NewRequest("POST", "/api/v1/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	recorder := httptest.NewRecorder()
	f.loginHandler.Logout(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result LogoutResponse
	parseJSONResponse(t, recorder, &result)
	if result.State != auth.StateLoggedOut || result.NextAction != auth.ActionStart {
		t.Errorf("unexpected logout response: %+v", result)
	}
	if f.store.SessionCount() != 0 {
		t.Errorf("expected session to be deleted, %d left", f.store.SessionCount())
	}

	sessionID, err := f.sessions.SessionIDFromRequest(req)
	if err != nil {
		t.Fatalf("SessionIDFromRequest: %v", err)
	}
	if _, err := f.auth.ValidateSession(context.Background(), sessionID); err == nil {
		t.Error("session must be invalid after logout")
	}
}

func TestLoginHandler_LogoutWithoutSession(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("POST", "/api/v1/logout", nil)
	recorder := httptest.NewRecorder()
	f.loginHandler.Logout(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
}

func TestLoginHandler_Session(t *testing.T) {
	f := newFixture(t)

	req := requestWithSession(httptest.NewRequest("GET", "/api/v1/session", nil), "identity-1")
	recorder := httptest.NewRecorder()
	f.loginHandler.Session(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var result SessionResponse
	parseJSONResponse(t, recorder, &result)
	if result.IdentityID != "identity-1" || result.State != auth.StateSessionActive {
		t.Errorf("unexpected session: %+v", result)
	}

	recorder = httptest.NewRecorder()
	f.loginHandler.Session(recorder, httptest.NewRequest("GET", "/api/v1/session", nil))
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}
