package config

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.Matching.Threshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %f", p.Matching.Threshold)
	}
	if p.Matching.DescriptorLength != 128 {
		t.Errorf("expected descriptor length 128, got %d", p.Matching.DescriptorLength)
	}
	if p.Enrollment.MaxDescriptors != 5 {
		t.Errorf("expected 5 descriptors, got %d", p.Enrollment.MaxDescriptors)
	}
	if p.Lockout.MaxFailures != 5 || p.Lockout.Window.Std() != 15*time.Minute {
		t.Errorf("unexpected lockout policy: %+v", p.Lockout)
	}
	if p.OTP.TTL.Std() != 5*time.Minute || p.OTP.MaxAttempts != 3 {
		t.Errorf("unexpected otp policy: %+v", p.OTP)
	}
	if p.Session.TTL.Std() != 24*time.Hour {
		t.Errorf("expected 24h session TTL, got %v", p.Session.TTL.Std())
	}
	if p.Attempt.CaptureTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s capture timeout, got %v", p.Attempt.CaptureTimeout.Std())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "0.9")
	t.Setenv("LOCKOUT_DURATION", "1h")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("DATABASE_URL", "postgres://localhost/faceauth")

	cfg := Load()

	if cfg.Policy.Matching.Threshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %f", cfg.Policy.Matching.Threshold)
	}
	if cfg.Policy.Lockout.Duration.Std() != time.Hour {
		t.Errorf("expected 1h lockout, got %v", cfg.Policy.Lockout.Duration.Std())
	}
	if cfg.Policy.OTP.MaxAttempts != 5 {
		t.Errorf("expected 5 otp attempts, got %d", cfg.Policy.OTP.MaxAttempts)
	}
	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Database.URL != "postgres://localhost/faceauth" {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "high")
	t.Setenv("SESSION_TTL", "-5m")
	t.Setenv("WEB_PORT", "0")

	cfg := Load()

	if cfg.Policy.Matching.Threshold != 0.85 {
		t.Errorf("expected default threshold, got %f", cfg.Policy.Matching.Threshold)
	}
	if cfg.Policy.Session.TTL.Std() != 24*time.Hour {
		t.Errorf("expected default session TTL, got %v", cfg.Policy.Session.TTL.Std())
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Web.Port)
	}
}

func TestEnabledFlags(t *testing.T) {
	if (AdminConfig{Username: "admin"}).Enabled() {
		t.Error("admin without hash must be disabled")
	}
	if !(StorageConfig{Endpoint: "localhost:9000", Bucket: "b"}).Enabled() {
		t.Error("storage with endpoint and bucket must be enabled")
	}
}
