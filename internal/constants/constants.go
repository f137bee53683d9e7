// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Capture constants
const (
	// MaxImageSize is the maximum dimension (width or height) of a capture sent to the embedding server
	MaxImageSize = 1920

	// JPEGQuality is the quality used when re-encoding captures
	JPEGQuality = 85

	// MaxUploadBytes is the maximum accepted request body for capture uploads
	MaxUploadBytes = 10 << 20
)

// Audit constants
const (
	// DefaultAuditLimit is the number of audit entries returned when no limit is given
	DefaultAuditLimit = 50

	// MaxAuditLimit is the upper bound for audit queries
	MaxAuditLimit = 500
)

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100
)

// OTP constants
const (
	// OTPMin and OTPMax bound the six digit one-time passcodes
	OTPMin = 100000
	OTPMax = 999999

	// OTPDeliveryRetries is how many times a webhook delivery is attempted
	OTPDeliveryRetries = 3
)
