package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Environment string // development or production, selects the log encoder
	LogLevel    string
	Web         WebConfig
	Database    DatabaseConfig
	Embedding   EmbeddingConfig
	Admin       AdminConfig
	OTP         OTPConfig
	Storage     StorageConfig
	Policy      PolicyConfig
}

type WebConfig struct {
	Host           string
	Port           int
	SessionSecret  string   // HMAC key for session bearer tokens
	AllowedOrigins []string // CORS origins, empty allows none
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL, empty runs with in-memory stores
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to the descriptor length
}

type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt hash, see `face-auth admin hash-password`
}

// Enabled reports whether administrative endpoints can be used.
func (c AdminConfig) Enabled() bool {
	return c.Username != "" && c.PasswordHash != ""
}

type OTPConfig struct {
	WebhookURL string // empty logs codes instead of posting them
}

type StorageConfig struct {
	Endpoint  string // empty disables the capture archive
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether the capture archive is configured.
func (c StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// PolicyConfig holds the authentication policy, loaded from the embedded
// policy.yaml and overridable through the environment.
type PolicyConfig struct {
	Matching struct {
		Threshold        float64 `yaml:"threshold"`
		DescriptorLength int     `yaml:"descriptor_length"`
	} `yaml:"matching"`
	Enrollment struct {
		MinQuality     float64 `yaml:"min_quality"`
		MaxDescriptors int     `yaml:"max_descriptors"`
	} `yaml:"enrollment"`
	Lockout struct {
		MaxFailures int      `yaml:"max_failures"`
		Window      Duration `yaml:"window"`
		Duration    Duration `yaml:"duration"`
	} `yaml:"lockout"`
	OTP struct {
		TTL         Duration `yaml:"ttl"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"otp"`
	Session struct {
		TTL Duration `yaml:"ttl"`
	} `yaml:"session"`
	Attempt struct {
		TTL            Duration `yaml:"ttl"`
		CaptureTimeout Duration `yaml:"capture_timeout"`
	} `yaml:"attempt"`
	Sweep struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"sweep"`
}

// Duration is a time.Duration decoded from strings like "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive duration such as "90s", falling back to defaultVal.
func envDuration(key string, defaultVal Duration) Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return Duration(d)
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultPolicy returns the policy from the embedded policy.yaml.
func DefaultPolicy() PolicyConfig {
	var p PolicyConfig
	if err := yaml.Unmarshal(policyYAML, &p); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}
	return p
}

func loadPolicy() PolicyConfig {
	p := DefaultPolicy()
	p.Matching.Threshold = envFloat("FACE_MATCH_THRESHOLD", p.Matching.Threshold)
	p.Matching.DescriptorLength = envInt("FACE_DESCRIPTOR_LENGTH", p.Matching.DescriptorLength)
	p.Enrollment.MinQuality = envFloat("ENROLL_MIN_QUALITY", p.Enrollment.MinQuality)
	p.Enrollment.MaxDescriptors = envInt("ENROLL_MAX_DESCRIPTORS", p.Enrollment.MaxDescriptors)
	p.Lockout.MaxFailures = envInt("LOCKOUT_MAX_FAILURES", p.Lockout.MaxFailures)
	p.Lockout.Window = envDuration("LOCKOUT_WINDOW", p.Lockout.Window)
	p.Lockout.Duration = envDuration("LOCKOUT_DURATION", p.Lockout.Duration)
	p.OTP.TTL = envDuration("OTP_TTL", p.OTP.TTL)
	p.OTP.MaxAttempts = envInt("OTP_MAX_ATTEMPTS", p.OTP.MaxAttempts)
	p.Session.TTL = envDuration("SESSION_TTL", p.Session.TTL)
	p.Attempt.TTL = envDuration("ATTEMPT_TTL", p.Attempt.TTL)
	p.Attempt.CaptureTimeout = envDuration("CAPTURE_TIMEOUT", p.Attempt.CaptureTimeout)
	p.Sweep.Interval = envDuration("SWEEP_INTERVAL", p.Sweep.Interval)
	return p
}

func Load() *Config {
	policy := loadPolicy()

	return &Config{
		Environment: envString("APP_ENV", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: splitList(os.Getenv("WEB_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", policy.Matching.DescriptorLength),
		},
		Admin: AdminConfig{
			Username:     os.Getenv("ADMIN_USERNAME"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		OTP: OTPConfig{
			WebhookURL: os.Getenv("OTP_WEBHOOK_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    envString("MINIO_BUCKET", "face-captures"),
			UseSSL:    envBool("MINIO_USE_SSL"),
		},
		Policy: policy,
	}
}
