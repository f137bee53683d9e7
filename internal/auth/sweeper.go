package auth

import (
	"context"
	"time"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"go.uber.org/zap"
)

// SweepResult counts what a sweep removed.
type SweepResult struct {
	Attempts int   `json:"attempts"`
	Sessions int64 `json:"sessions"`
	OTPs     int64 `json:"otps"`
	Failures int64 `json:"failures"`
}

// Sweep deletes expired sessions, passcodes and failure history and forgets
// attempts past their deadline. Expiry is also enforced on access, so a sweep
// only reclaims space.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	now := m.now()
	var result SweepResult

	m.mu.Lock()
	tracked := make([]*attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		tracked = append(tracked, a)
	}
	m.mu.Unlock()

	var stale []*attempt
	var staleSessions []string
	for _, a := range tracked {
		a.mu.Lock()
		expired := !now.Before(a.expiresAt) && a.state != StateSessionActive
		if a.state == StateSessionActive && !now.Before(a.expiresAt.Add(m.cfg.SessionTTL)) {
			expired = true
		}
		if expired {
			stale = append(stale, a)
			if a.sessionID != "" {
				staleSessions = append(staleSessions, a.sessionID)
			}
		}
		a.mu.Unlock()
	}

	m.mu.Lock()
	for _, a := range stale {
		if m.attempts[a.id] == a {
			delete(m.attempts, a.id)
			result.Attempts++
		}
	}
	for _, id := range staleSessions {
		delete(m.bySession, id)
	}
	m.mu.Unlock()

	var err error
	if result.Sessions, err = m.sessions.DeleteExpired(ctx, now); err != nil {
		return result, apperr.Storage("sweep sessions", err)
	}
	if result.OTPs, err = m.otps.DeleteExpired(ctx, now); err != nil {
		return result, apperr.Storage("sweep passcodes", err)
	}
	if result.Failures, err = m.failures.DeleteBefore(ctx, now.Add(-m.cfg.LockoutWindow)); err != nil {
		return result, apperr.Storage("sweep login failures", err)
	}

	if result.Attempts > 0 || result.Sessions > 0 || result.OTPs > 0 || result.Failures > 0 {
		m.log.Info("sweep finished",
			zap.Int("attempts", result.Attempts),
			zap.Int64("sessions", result.Sessions),
			zap.Int64("otps", result.OTPs),
			zap.Int64("failures", result.Failures),
		)
	}
	return result, nil
}

// Run sweeps every SweepInterval until ctx is done or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop ends a running sweeper. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Active returns the number of tracked attempts.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}
