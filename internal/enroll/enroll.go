// Package enroll creates identities and manages their stored descriptors.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/extractor"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}._-]{1,64}$`)

// Archive stores the raw captures descriptors were extracted from.
type Archive interface {
	PutCapture(ctx context.Context, identityID string, descriptorID int64, image []byte) error
	DeleteCapture(ctx context.Context, identityID string, descriptorID int64) error
}

// Config holds the enrollment policy.
type Config struct {
	DescriptorLength int
	MinQuality       float64
	MaxDescriptors   int
	CaptureTimeout   time.Duration
}

// Manager validates and persists enrollments.
type Manager struct {
	store     database.IdentityWriter
	extractor extractor.Extractor
	archive   Archive
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive stores raw enrollment images in archive.
func WithArchive(archive Archive) Option {
	return func(m *Manager) { m.archive = archive }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an enrollment manager. ext may be nil when only
// client-computed descriptors are accepted.
func NewManager(store database.IdentityWriter, ext extractor.Extractor, cfg Config, log *zap.Logger, opts ...Option) *Manager {
	if cfg.DescriptorLength <= 0 {
		cfg.DescriptorLength = facematch.DefaultDescriptorLength
	}
	if cfg.MaxDescriptors <= 0 {
		cfg.MaxDescriptors = 5
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{store: store, extractor: ext, cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enroll creates an identity with its first descriptor. Identity and descriptor
// are written atomically.
func (m *Manager) Enroll(ctx context.Context, username, email string, capture facematch.Capture) (*database.Identity, error) {
	identity, _, err := m.enroll(ctx, username, email, capture)
	return identity, err
}

// EnrollImage extracts a descriptor from image and enrolls it. The raw image is
// archived when an archive is configured.
func (m *Manager) EnrollImage(ctx context.Context, username, email string, image []byte) (*database.Identity, error) {
	username, email, err := normalizeFields(username, email)
	if err != nil {
		return nil, err
	}
	capture, err := m.extract(ctx, image)
	if err != nil {
		return nil, err
	}

	identity, stored, err := m.enroll(ctx, username, email, capture)
	if err != nil {
		return nil, err
	}
	m.archiveCapture(ctx, identity.ID, stored.ID, image)
	return identity, nil
}

func (m *Manager) enroll(
	ctx context.Context, username, email string, capture facematch.Capture,
) (*database.Identity, *database.StoredDescriptor, error) {
	username, email, err := normalizeFields(username, email)
	if err != nil {
		return nil, nil, err
	}
	if err := m.checkCapture(capture); err != nil {
		return nil, nil, err
	}

	usernameTaken, emailTaken, err := m.store.UsernameOrEmailTaken(ctx, username, email)
	if err != nil {
		return nil, nil, apperr.Storage("check uniqueness", err)
	}
	if usernameTaken {
		return nil, nil, apperr.NewValidationError("username", "username is already enrolled")
	}
	if emailTaken {
		return nil, nil, apperr.NewValidationError("email", "email is already enrolled")
	}

	now := m.now()
	identity := database.Identity{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		CreatedAt: now,
	}
	stored, err := m.store.CreateIdentity(ctx, identity, database.StoredDescriptor{
		Descriptor: capture.Descriptor,
		Quality:    capture.Quality,
		CreatedAt:  now,
	})
	if errors.Is(err, apperr.ErrDuplicate) {
		// Lost a race against a concurrent enrollment.
		return nil, nil, apperr.NewValidationError("username", "username or email is already enrolled")
	}
	if err != nil {
		return nil, nil, apperr.Storage("create identity", err)
	}

	m.log.Info("identity enrolled",
		zap.String("identity_id", identity.ID),
		zap.String("username", identity.Username),
		zap.Float64("quality", capture.Quality),
	)
	return &identity, stored, nil
}

// AddDescriptor stores an additional descriptor for an identity. The oldest
// descriptors beyond the configured cap are evicted.
func (m *Manager) AddDescriptor(ctx context.Context, identityID string, capture facematch.Capture) (*database.StoredDescriptor, error) {
	if err := m.checkCapture(capture); err != nil {
		return nil, err
	}

	stored, evicted, err := m.store.AddDescriptor(ctx, database.StoredDescriptor{
		IdentityID: identityID,
		Descriptor: capture.Descriptor,
		Quality:    capture.Quality,
		CreatedAt:  m.now(),
	}, m.cfg.MaxDescriptors)
	if errors.Is(err, apperr.ErrIdentityNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Storage("add descriptor", err)
	}

	if len(evicted) > 0 {
		m.log.Info("evicted oldest descriptors",
			zap.String("identity_id", identityID),
			zap.Int64s("descriptor_ids", evicted),
		)
		for _, id := range evicted {
			m.deleteCapture(ctx, identityID, id)
		}
	}
	return stored, nil
}

// AddImage extracts a descriptor from image and adds it to the identity.
func (m *Manager) AddImage(ctx context.Context, identityID string, image []byte) (*database.StoredDescriptor, error) {
	capture, err := m.extract(ctx, image)
	if err != nil {
		return nil, err
	}
	stored, err := m.AddDescriptor(ctx, identityID, capture)
	if err != nil {
		return nil, err
	}
	m.archiveCapture(ctx, identityID, stored.ID, image)
	return stored, nil
}

// DeleteIdentity removes an identity with its descriptors, passcodes, sessions
// and failure history. Audit entries are kept.
func (m *Manager) DeleteIdentity(ctx context.Context, identityID string) error {
	var descriptors []database.StoredDescriptor
	if m.archive != nil {
		var err error
		descriptors, err = m.store.GetDescriptors(ctx, identityID)
		if err != nil {
			return apperr.Storage("load descriptors", err)
		}
	}

	deleted, err := m.store.DeleteIdentity(ctx, identityID)
	if err != nil {
		return apperr.Storage("delete identity", err)
	}
	if !deleted {
		return apperr.ErrIdentityNotFound
	}

	for _, d := range descriptors {
		m.deleteCapture(ctx, identityID, d.ID)
	}
	m.log.Info("identity deleted", zap.String("identity_id", identityID))
	return nil
}

func (m *Manager) extract(ctx context.Context, image []byte) (facematch.Capture, error) {
	if m.extractor == nil {
		return facematch.Capture{}, fmt.Errorf("%w: no extractor configured", apperr.ErrCaptureUnavailable)
	}
	if len(image) == 0 {
		return facematch.Capture{}, apperr.NewValidationError("image", "must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CaptureTimeout)
	defer cancel()
	return m.extractor.Extract(ctx, image)
}

func (m *Manager) checkCapture(capture facematch.Capture) error {
	if err := facematch.Validate(capture.Descriptor, m.cfg.DescriptorLength); err != nil {
		return err
	}
	if capture.Quality < m.cfg.MinQuality {
		return fmt.Errorf("%w: quality %.2f below %.2f", apperr.ErrLowQuality, capture.Quality, m.cfg.MinQuality)
	}
	return nil
}

func (m *Manager) archiveCapture(ctx context.Context, identityID string, descriptorID int64, image []byte) {
	if m.archive == nil {
		return
	}
	if err := m.archive.PutCapture(ctx, identityID, descriptorID, image); err != nil {
		m.log.Warn("failed to archive capture",
			zap.String("identity_id", identityID),
			zap.Int64("descriptor_id", descriptorID),
			zap.Error(err),
		)
	}
}

func (m *Manager) deleteCapture(ctx context.Context, identityID string, descriptorID int64) {
	if m.archive == nil {
		return
	}
	if err := m.archive.DeleteCapture(ctx, identityID, descriptorID); err != nil {
		m.log.Warn("failed to delete archived capture",
			zap.String("identity_id", identityID),
			zap.Int64("descriptor_id", descriptorID),
			zap.Error(err),
		)
	}
}

// normalizeFields trims and validates username and email.
func normalizeFields(username, email string) (string, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return "", "", apperr.NewValidationError("username", "must not be empty")
	}
	if !usernamePattern.MatchString(username) {
		return "", "", apperr.NewValidationError("username",
			"must be 1-64 characters of letters, digits, dot, underscore or dash")
	}
	if email == "" {
		return "", "", apperr.NewValidationError("email", "must not be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", apperr.NewValidationError("email", "is not a valid address")
	}
	return username, email, nil
}
