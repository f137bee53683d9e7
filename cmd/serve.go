package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-auth/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Auth HTTP API.
The API exposes enrollment, the face login flow with its one-time passcode
step, sessions and the administrative endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session tokens (overrides WEB_SESSION_SECRET)")
}

// applyServeFlags lets command line flags override the environment.
func applyServeFlags(cmd *cobra.Command, port *int, host, sessionSecret *string) {
	if v := mustGetInt(cmd, "port"); v > 0 {
		*port = v
	}
	if v := mustGetString(cmd, "host"); v != "" {
		*host = v
	}
	if v := mustGetString(cmd, "session-secret"); v != "" {
		*sessionSecret = v
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	defer log.Sync()

	applyServeFlags(cmd, &cfg.Web.Port, &cfg.Web.Host, &cfg.Web.SessionSecret)
	if cfg.Web.SessionSecret == "" {
		return fmt.Errorf("WEB_SESSION_SECRET environment variable is required")
	}
	if !cfg.Admin.Enabled() {
		log.Warn("ADMIN_USERNAME or ADMIN_PASSWORD_HASH not set, admin endpoints are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newServices(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.index.Sync(ctx, svc.stores.Identities); err != nil {
		log.Warn("failed to build descriptor index, it is rebuilt on first use", zap.Error(err))
	} else {
		log.Info("descriptor index built", zap.Int("descriptors", svc.index.Count()))
	}

	server, err := web.NewServer(cfg, web.Deps{
		Auth:       svc.auth,
		Enroll:     svc.enroll,
		Audit:      svc.audit,
		Identities: svc.stores.Identities,
		Index:      svc.index,
		Extractor:  svc.extractor,
	}, log)
	if err != nil {
		return err
	}

	go svc.auth.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	log.Info("face auth API listening",
		zap.String("host", cfg.Web.Host),
		zap.Int("port", cfg.Web.Port),
	)

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
