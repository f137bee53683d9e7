package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/audit"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/extractor"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Audit reasons recorded by the login flow.
const (
	ReasonLockedOut     = "locked_out"
	ReasonOTPInvalid    = "otp_invalid"
	ReasonOTPExhausted  = "otp_exhausted"
	ReasonOTPExpired    = "otp_expired"
	ReasonAuthenticated = "authenticated"
)

// Config holds the login policy.
type Config struct {
	Threshold        float64
	DescriptorLength int
	MinQuality       float64

	MaxFailures     int
	LockoutWindow   time.Duration
	LockoutDuration time.Duration

	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPHashCost    int

	SessionTTL     time.Duration
	AttemptTTL     time.Duration
	CaptureTimeout time.Duration
	SweepInterval  time.Duration
}

// ConfigFromPolicy converts the loaded policy into a login Config.
func ConfigFromPolicy(p config.PolicyConfig) Config {
	return Config{
		Threshold:        p.Matching.Threshold,
		DescriptorLength: p.Matching.DescriptorLength,
		MinQuality:       p.Enrollment.MinQuality,
		MaxFailures:      p.Lockout.MaxFailures,
		LockoutWindow:    p.Lockout.Window.Std(),
		LockoutDuration:  p.Lockout.Duration.Std(),
		OTPTTL:           p.OTP.TTL.Std(),
		OTPMaxAttempts:   p.OTP.MaxAttempts,
		SessionTTL:       p.Session.TTL.Std(),
		AttemptTTL:       p.Attempt.TTL.Std(),
		CaptureTimeout:   p.Attempt.CaptureTimeout.Std(),
		SweepInterval:    p.Sweep.Interval.Std(),
	}
}

func (c *Config) applyDefaults() {
	if c.DescriptorLength <= 0 {
		c.DescriptorLength = facematch.DefaultDescriptorLength
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = 5 * time.Minute
	}
	if c.OTPMaxAttempts <= 0 {
		c.OTPMaxAttempts = 3
	}
	if c.OTPHashCost == 0 {
		c.OTPHashCost = bcrypt.DefaultCost
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = 5 * time.Minute
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// Manager owns the in-flight login attempts. Attempts for different identities
// never share mutable state; each attempt is serialized by its own mutex.
// An attempt mutex may be held while taking mu, never the other way around.
type Manager struct {
	identities database.IdentityReader
	descriptor database.DescriptorReader
	otps       database.OTPStore
	sessions   database.SessionStore
	failures   database.FailureStore
	audit      *audit.Log
	matcher    *facematch.Matcher
	extractor  extractor.Extractor
	deliverer  notify.Deliverer
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
	newCode    CodeGenerator

	mu        sync.Mutex
	attempts  map[string]*attempt
	bySession map[string]*attempt

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithExtractor enables image captures.
func WithExtractor(ext extractor.Extractor) Option {
	return func(m *Manager) { m.extractor = ext }
}

// WithDeliverer sets how passcodes reach users. Defaults to logging them.
func WithDeliverer(d notify.Deliverer) Option {
	return func(m *Manager) { m.deliverer = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCodeGenerator replaces the passcode generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(m *Manager) { m.newCode = gen }
}

// NewManager creates a login manager on top of stores. The audit log must write
// to stores.Audit.
func NewManager(stores database.Stores, auditLog *audit.Log, cfg Config, log *zap.Logger, opts ...Option) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		identities: stores.Identities,
		descriptor: stores.Identities,
		otps:       stores.OTPs,
		sessions:   stores.Sessions,
		failures:   stores.Failures,
		audit:      auditLog,
		matcher:    facematch.NewMatcher(cfg.Threshold),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		newCode:    RandomCode,
		attempts:   make(map[string]*attempt),
		bySession:  make(map[string]*attempt),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.deliverer == nil {
		m.deliverer = notify.NewLogDeliverer(log)
	}
	return m
}

// Config returns the effective policy.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start opens a login attempt for a claimed username. Unknown and locked out
// usernames get an attempt as well, so Start never tells them apart from
// enrolled ones. Their capture fails as not enrolled or locked out.
func (m *Manager) Start(ctx context.Context, username string) (Attempt, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Attempt{}, apperr.NewValidationError("username", "must not be empty")
	}

	identity, err := m.identities.GetIdentityByUsername(ctx, username)
	if err != nil {
		return Attempt{}, apperr.Storage("load identity", err)
	}

	now := m.now()
	a := &attempt{
		id:        uuid.NewString(),
		username:  username,
		createdAt: now,
		expiresAt: now.Add(m.cfg.AttemptTTL),
		state:     StateIdle,
	}
	if identity != nil {
		a.identityID = identity.ID
		a.email = identity.Email
	}

	a.state = StateCaptureRequested

	m.mu.Lock()
	m.attempts[a.id] = a
	m.mu.Unlock()

	m.log.Info("login attempt started",
		zap.String("attempt_id", a.id),
		zap.String("username", username),
		zap.Bool("enrolled", identity != nil),
	)
	return a.snapshot(), nil
}

// Get returns the current state of an attempt. An attempt past its deadline is
// aborted and reported with apperr.ErrAttemptExpired.
func (m *Manager) Get(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := m.lookup(attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := m.checkDeadline(ctx, a); err != nil {
		return a.snapshot(), err
	}
	return a.snapshot(), nil
}

// SubmitImage extracts a descriptor from image and submits it. Extraction is
// bounded by the capture timeout. A timed out extraction fails the capture; a
// cancelled one aborts the attempt.
func (m *Manager) SubmitImage(ctx context.Context, attemptID string, image []byte) (Attempt, error) {
	if m.extractor == nil {
		return Attempt{}, fmt.Errorf("%w: no extractor configured", apperr.ErrCaptureUnavailable)
	}
	if len(image) == 0 {
		return Attempt{}, apperr.NewValidationError("image", "must not be empty")
	}

	a, err := m.lookup(attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if snap, err := m.precheckCapture(ctx, a); err != nil {
		return snap, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, m.cfg.CaptureTimeout)
	capture, err := m.extractor.Extract(extractCtx, image)
	cancel()
	if err != nil {
		return m.captureError(ctx, a, err)
	}
	return m.SubmitCapture(ctx, attemptID, capture)
}

// precheckCapture verifies that the attempt accepts a capture before a long
// running extraction starts. The attempt is not held during extraction.
func (m *Manager) precheckCapture(ctx context.Context, a *attempt) (Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := m.checkDeadline(ctx, a); err != nil {
		return a.snapshot(), err
	}
	if a.state == StateLockedOut {
		return a.snapshot(), apperr.ErrLockout
	}
	if !a.state.acceptsCapture() {
		return a.snapshot(), fmt.Errorf("%w: capture in state %s", apperr.ErrInvalidTransition, a.state)
	}
	return a.snapshot(), nil
}

func (m *Manager) captureError(ctx context.Context, a *attempt, err error) (Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		if !a.state.Terminal() {
			a.state = StateAborted
		}
		m.log.Info("login attempt cancelled during capture", zap.String("attempt_id", a.id))
	case errors.Is(err, context.DeadlineExceeded):
		if a.state.acceptsCapture() {
			a.state = StateMatchFailed
		}
		m.log.Warn("capture timed out", zap.String("attempt_id", a.id))
		if !errors.Is(err, apperr.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", apperr.ErrCaptureUnavailable, err)
		}
	}
	return a.snapshot(), err
}

// SubmitCapture matches capture against the descriptors enrolled for the
// attempt's identity. A match issues a new passcode; a miss counts towards the
// lockout. The passcode is delivered after the attempt is released, so a slow
// deliverer only delays this call.
func (m *Manager) SubmitCapture(ctx context.Context, attemptID string, capture facematch.Capture) (Attempt, error) {
	a, err := m.lookup(attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a.mu.Lock()
	snap, msg, err := m.submitCapture(ctx, a, capture)
	a.mu.Unlock()

	if msg != nil {
		m.deliver(ctx, *msg)
	}
	return snap, err
}

// submitCapture runs a capture through the state machine. The caller holds a.mu.
func (m *Manager) submitCapture(ctx context.Context, a *attempt, capture facematch.Capture) (Attempt, *notify.Message, error) {
	if err := m.checkDeadline(ctx, a); err != nil {
		return a.snapshot(), nil, err
	}
	if a.state == StateLockedOut {
		return a.snapshot(), nil, apperr.ErrLockout
	}
	if !a.state.acceptsCapture() {
		return a.snapshot(), nil, fmt.Errorf("%w: capture in state %s", apperr.ErrInvalidTransition, a.state)
	}

	now := m.now()
	if a.identityID != "" {
		locked, err := m.lockedOut(ctx, a.identityID, now)
		if err != nil {
			return a.snapshot(), nil, err
		}
		if locked {
			a.state = StateLockedOut
			if _, err := m.recordFailure(ctx, a, ReasonLockedOut, false); err != nil {
				return a.snapshot(), nil, err
			}
			return a.snapshot(), nil, apperr.ErrLockout
		}
	}

	if err := facematch.Validate(capture.Descriptor, m.cfg.DescriptorLength); err != nil {
		return a.snapshot(), nil, err
	}
	if capture.Quality < m.cfg.MinQuality {
		return a.snapshot(), nil, fmt.Errorf("%w: quality %.2f below %.2f", apperr.ErrLowQuality, capture.Quality, m.cfg.MinQuality)
	}

	previous := a.state
	a.state = StateMatching
	a.captures++

	result, err := m.match(ctx, a, capture.Descriptor)
	if err != nil {
		a.state = previous
		return a.snapshot(), nil, err
	}

	if !result.Accepted {
		snap, err := m.failMatch(ctx, a, result)
		return snap, nil, err
	}

	msg, err := m.issueOTP(ctx, a)
	if err != nil {
		a.state = previous
		return a.snapshot(), nil, err
	}
	a.state = StateAwaitingSecondFactor

	m.log.Info("face matched, passcode issued",
		zap.String("attempt_id", a.id),
		zap.String("identity_id", a.identityID),
	)
	return a.snapshot(), msg, nil
}

func (m *Manager) match(ctx context.Context, a *attempt, candidate facematch.Descriptor) (facematch.MatchResult, error) {
	if a.identityID == "" {
		return facematch.MatchResult{Reason: facematch.ReasonNotEnrolled, Timestamp: m.now()}, nil
	}
	stored, err := m.descriptor.GetDescriptors(ctx, a.identityID)
	if err != nil {
		return facematch.MatchResult{}, apperr.Storage("load descriptors", err)
	}
	enrolled := make([]facematch.Descriptor, 0, len(stored))
	for _, d := range stored {
		enrolled = append(enrolled, d.Descriptor)
	}
	return m.matcher.Verify(a.identityID, candidate, enrolled)
}

// failMatch records a rejected capture and locks the identity once the failure
// cap is reached within the window. The score is never returned.
func (m *Manager) failMatch(ctx context.Context, a *attempt, result facematch.MatchResult) (Attempt, error) {
	a.state = StateMatchFailed
	m.log.Info("face match rejected",
		zap.String("attempt_id", a.id),
		zap.String("identity_id", a.identityID),
		zap.String("reason", string(result.Reason)),
		zap.Float64("score", result.Score),
	)

	lockout, err := m.recordFailure(ctx, a, string(result.Reason), true)
	if err != nil {
		return a.snapshot(), err
	}
	if lockout {
		a.state = StateLockedOut
	}

	if result.Reason == facematch.ReasonNotEnrolled {
		return a.snapshot(), apperr.ErrNotEnrolled
	}
	return a.snapshot(), apperr.ErrMatchFailed
}

// recordFailure writes an audit failure. Face failures of enrolled identities
// also count towards the lockout; it reports whether the identity is now locked.
func (m *Manager) recordFailure(ctx context.Context, a *attempt, reason string, countsTowardsLockout bool) (bool, error) {
	now := m.now()
	locked := false

	if countsTowardsLockout && a.identityID != "" {
		if err := m.failures.RecordFailure(ctx, a.identityID, now); err != nil {
			return false, apperr.Storage("record login failure", err)
		}
		count, err := m.failures.CountSince(ctx, a.identityID, now.Add(-m.cfg.LockoutWindow))
		if err != nil {
			return false, apperr.Storage("count login failures", err)
		}
		if count >= m.cfg.MaxFailures {
			until := now.Add(m.cfg.LockoutDuration)
			if err := m.failures.Lock(ctx, a.identityID, until); err != nil {
				return false, apperr.Storage("lock identity", err)
			}
			locked = true
			m.log.Warn("identity locked out",
				zap.String("identity_id", a.identityID),
				zap.Int("failures", count),
				zap.Time("until", until),
			)
		}
	}

	if _, err := m.audit.Record(ctx, database.AuditEntry{
		IdentityID: a.identityID,
		Username:   a.username,
		AttemptID:  a.id,
		Outcome:    database.OutcomeFailure,
		Reason:     reason,
		Timestamp:  now,
	}); err != nil {
		return locked, err
	}
	return locked, nil
}

func (m *Manager) lockedOut(ctx context.Context, identityID string, now time.Time) (bool, error) {
	until, err := m.failures.LockedUntil(ctx, identityID)
	if err != nil {
		return false, apperr.Storage("read lockout", err)
	}
	return !until.IsZero() && now.Before(until), nil
}

// issueOTP replaces any outstanding passcode of the identity and returns the
// message that delivers the new one.
func (m *Manager) issueOTP(ctx context.Context, a *attempt) (*notify.Message, error) {
	code, err := m.newCode()
	if err != nil {
		return nil, err
	}
	hash, err := hashCode(code, m.cfg.OTPHashCost)
	if err != nil {
		return nil, err
	}

	now := m.now()
	otp := &database.OTP{
		ID:                uuid.NewString(),
		IdentityID:        a.identityID,
		CodeHash:          hash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(m.cfg.OTPTTL),
		AttemptsRemaining: m.cfg.OTPMaxAttempts,
	}
	if err := m.otps.Replace(ctx, otp); err != nil {
		return nil, apperr.Storage("issue passcode", err)
	}
	a.otpID = otp.ID

	if err := m.failures.Reset(ctx, a.identityID); err != nil {
		m.log.Warn("failed to reset login failures", zap.String("identity_id", a.identityID), zap.Error(err))
	}

	return &notify.Message{
		IdentityID: a.identityID,
		Username:   a.username,
		Email:      a.email,
		Code:       code,
	}, nil
}

// deliver sends a passcode. Failures are logged only; the user can request a
// new passcode with another capture.
func (m *Manager) deliver(ctx context.Context, msg notify.Message) {
	if err := m.deliverer.Deliver(ctx, msg); err != nil {
		m.log.Warn("passcode delivery failed", zap.String("identity_id", msg.IdentityID), zap.Error(err))
	}
}

// VerifyOTP checks the passcode of an attempt awaiting its second factor and
// issues a session on success.
func (m *Manager) VerifyOTP(ctx context.Context, attemptID, code string) (Attempt, *database.Session, error) {
	a, err := m.lookup(attemptID)
	if err != nil {
		return Attempt{}, nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := m.checkDeadline(ctx, a); err != nil {
		return a.snapshot(), nil, err
	}
	if a.state != StateAwaitingSecondFactor {
		return a.snapshot(), nil, fmt.Errorf("%w: passcode in state %s", apperr.ErrInvalidTransition, a.state)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return a.snapshot(), nil, apperr.NewValidationError("code", "must not be empty")
	}

	otp, err := m.otps.Get(ctx, a.identityID)
	if err != nil {
		return a.snapshot(), nil, apperr.Storage("load passcode", err)
	}
	now := m.now()
	if otp == nil || otp.ID != a.otpID || otp.Expired(now) {
		return m.failOTP(ctx, a, ReasonOTPExpired, apperr.ErrOTPExpired)
	}
	if otp.AttemptsRemaining <= 0 {
		return m.failOTP(ctx, a, ReasonOTPExhausted, apperr.ErrOTPExhausted)
	}

	if !codeMatches(otp.CodeHash, code) {
		remaining, err := m.otps.DecrementAttempts(ctx, otp.ID)
		if err != nil {
			return a.snapshot(), nil, apperr.Storage("decrement passcode attempts", err)
		}
		if remaining <= 0 {
			return m.failOTP(ctx, a, ReasonOTPExhausted, apperr.ErrOTPExhausted)
		}
		if _, err := m.recordFailure(ctx, a, ReasonOTPInvalid, false); err != nil {
			return a.snapshot(), nil, err
		}
		return a.snapshot(), nil, apperr.ErrOTPInvalid
	}

	consumed, err := m.otps.Consume(ctx, otp.ID)
	if err != nil {
		return a.snapshot(), nil, apperr.Storage("consume passcode", err)
	}
	if !consumed {
		return m.failOTP(ctx, a, ReasonOTPExpired, apperr.ErrOTPExpired)
	}
	a.otpID = ""
	a.state = StateAuthenticated

	if _, err := m.audit.Record(ctx, database.AuditEntry{
		IdentityID: a.identityID,
		Username:   a.username,
		AttemptID:  a.id,
		Outcome:    database.OutcomeSuccess,
		Reason:     ReasonAuthenticated,
		Timestamp:  now,
	}); err != nil {
		a.state = StateMatchFailed
		return a.snapshot(), nil, err
	}

	session, err := m.issueSession(ctx, a, now)
	if err != nil {
		a.state = StateMatchFailed
		return a.snapshot(), nil, err
	}
	a.sessionID = session.ID
	a.state = StateSessionActive

	m.mu.Lock()
	m.bySession[session.ID] = a
	m.mu.Unlock()

	m.log.Info("session issued",
		zap.String("attempt_id", a.id),
		zap.String("identity_id", a.identityID),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return a.snapshot(), session, nil
}

// failOTP sends the attempt back to match_failed; a new capture is required.
func (m *Manager) failOTP(ctx context.Context, a *attempt, reason string, cause error) (Attempt, *database.Session, error) {
	a.state = StateMatchFailed
	a.otpID = ""
	if _, err := m.recordFailure(ctx, a, reason, false); err != nil {
		return a.snapshot(), nil, err
	}
	return a.snapshot(), nil, cause
}

func (m *Manager) issueSession(ctx context.Context, a *attempt, now time.Time) (*database.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	session := &database.Session{
		ID:                   id,
		IdentityID:           a.identityID,
		IssuedAt:             now,
		ExpiresAt:            now.Add(m.cfg.SessionTTL),
		SecondFactorVerified: true,
	}
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, apperr.Storage("save session", err)
	}
	return session, nil
}

// Abort ends an attempt that has not yet produced a session. An outstanding
// passcode is invalidated.
func (m *Manager) Abort(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := m.lookup(attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Terminal() || a.state == StateSessionActive {
		return a.snapshot(), fmt.Errorf("%w: abort in state %s", apperr.ErrInvalidTransition, a.state)
	}
	if a.otpID != "" {
		if _, err := m.otps.Consume(ctx, a.otpID); err != nil {
			return a.snapshot(), apperr.Storage("invalidate passcode", err)
		}
		a.otpID = ""
	}
	a.state = StateAborted
	m.log.Info("login attempt aborted", zap.String("attempt_id", a.id))
	return a.snapshot(), nil
}

// ValidateSession returns an active session. Expired sessions are deleted and
// reported as absent.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*database.Session, error) {
	if sessionID == "" {
		return nil, apperr.ErrSessionNotFound
	}
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, apperr.Storage("load session", err)
	}
	if session == nil {
		return nil, apperr.ErrSessionNotFound
	}
	if session.Expired(m.now()) {
		if err := m.sessions.Delete(ctx, sessionID); err != nil {
			m.log.Warn("failed to delete expired session", zap.Error(err))
		}
		m.markSession(sessionID, StateExpired)
		return nil, apperr.ErrSessionNotFound
	}
	return session, nil
}

// Logout destroys a session immediately.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	session, err := m.ValidateSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.sessions.Delete(ctx, session.ID); err != nil {
		return apperr.Storage("delete session", err)
	}
	m.markSession(session.ID, StateLoggedOut)
	m.log.Info("logged out", zap.String("identity_id", session.IdentityID))
	return nil
}

// markSession moves the attempt that issued sessionID, if still tracked, to state.
func (m *Manager) markSession(sessionID string, state State) {
	m.mu.Lock()
	a, ok := m.bySession[sessionID]
	delete(m.bySession, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == sessionID && a.state == StateSessionActive {
		a.state = state
	}
}

func (m *Manager) lookup(attemptID string) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return nil, apperr.ErrAttemptNotFound
	}
	return a, nil
}

// checkDeadline aborts an attempt that outlived the attempt TTL before reaching
// a session. The caller holds a.mu.
func (m *Manager) checkDeadline(ctx context.Context, a *attempt) error {
	if a.timedOut {
		return apperr.ErrAttemptExpired
	}
	if a.state.Terminal() || a.state == StateSessionActive {
		return nil
	}
	if m.now().Before(a.expiresAt) {
		return nil
	}
	if a.otpID != "" {
		if _, err := m.otps.Consume(ctx, a.otpID); err != nil {
			m.log.Warn("failed to invalidate passcode of expired attempt", zap.Error(err))
		}
		a.otpID = ""
	}
	a.state = StateAborted
	a.timedOut = true
	m.log.Info("login attempt expired", zap.String("attempt_id", a.id))
	return apperr.ErrAttemptExpired
}
