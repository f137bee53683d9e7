package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/audit"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/database/postgres"
	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/kozaktomas/face-auth/internal/extractor"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/notify"
	"github.com/kozaktomas/face-auth/internal/storage/minio"
	"go.uber.org/zap"
)

// services holds everything a command needs to act on identities and logins.
type services struct {
	stores    database.Stores
	audit     *audit.Log
	enroll    *enroll.Manager
	auth      *auth.Manager
	extractor extractor.Extractor
	index     *database.DescriptorIndex
	close     func()
}

// initBackend registers the storage backend. PostgreSQL is used when
// DATABASE_URL is set; otherwise identities live in memory until exit.
func initBackend(ctx context.Context, cfg *config.Config, log *zap.Logger, requireDatabase bool) (func(), error) {
	if cfg.Database.URL == "" {
		if requireDatabase {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
		log.Warn("DATABASE_URL not set, using in-memory storage; all data is lost on exit")
		store := mock.NewStore()
		database.RegisterBackend(store.Stores)
		return func() {}, nil
	}

	log.Info("connecting to PostgreSQL")
	pool, err := postgres.Initialize(ctx, &cfg.Database, logger.WithComponent(log, "postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return func() { pool.Close() }, nil
}

// newServices wires the managers on top of the registered backend.
func newServices(ctx context.Context, cfg *config.Config, log *zap.Logger, requireDatabase bool) (*services, error) {
	closeBackend, err := initBackend(ctx, cfg, log, requireDatabase)
	if err != nil {
		return nil, err
	}
	stores, err := database.GetStores()
	if err != nil {
		closeBackend()
		return nil, err
	}

	policy := cfg.Policy
	ext := extractor.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim, policy.Enrollment.MinQuality)

	var enrollOpts []enroll.Option
	if cfg.Storage.Enabled() {
		archive, err := minio.New(ctx, cfg.Storage)
		if err != nil {
			closeBackend()
			return nil, fmt.Errorf("failed to connect to capture archive: %w", err)
		}
		log.Info("capture archive enabled", zap.String("bucket", cfg.Storage.Bucket))
		enrollOpts = append(enrollOpts, enroll.WithArchive(archive))
	}

	var deliverer notify.Deliverer = notify.NewLogDeliverer(logger.WithComponent(log, "otp"))
	if cfg.OTP.WebhookURL != "" {
		deliverer = notify.NewWebhookDeliverer(cfg.OTP.WebhookURL, logger.WithComponent(log, "otp"))
	}

	auditLog := audit.New(stores.Audit, logger.WithComponent(log, "audit"))
	s := &services{
		stores:    stores,
		audit:     auditLog,
		extractor: ext,
		index:     database.NewDescriptorIndex(facematch.NewMatcher(policy.Matching.Threshold)),
		close:     closeBackend,
	}
	s.enroll = enroll.NewManager(stores.Identities, ext, enroll.Config{
		DescriptorLength: policy.Matching.DescriptorLength,
		MinQuality:       policy.Enrollment.MinQuality,
		MaxDescriptors:   policy.Enrollment.MaxDescriptors,
		CaptureTimeout:   policy.Attempt.CaptureTimeout.Std(),
	}, logger.WithComponent(log, "enroll"), enrollOpts...)
	s.auth = auth.NewManager(stores, auditLog, auth.ConfigFromPolicy(policy), logger.WithComponent(log, "auth"),
		auth.WithExtractor(ext),
		auth.WithDeliverer(deliverer),
	)
	return s, nil
}
