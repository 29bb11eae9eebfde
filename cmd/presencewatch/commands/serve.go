package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quietline/presencewatch/internal/app"
	"github.com/quietline/presencewatch/internal/config"
	"github.com/quietline/presencewatch/internal/logging"
	"github.com/quietline/presencewatch/internal/webhook"
)

// newServeCmd builds the `presencewatch serve` command, which starts the
// long-lived process: every configured platform's receive loop, the
// WhatsApp Cloud webhook listener, and the session supervisor. It blocks
// until SIGINT/SIGTERM, matching the teacher's own shutdown wait.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker as a long-lived service",
		Long: `Start presencewatch as a daemon: loads configuration, opens the
probe store, registers every configured platform adapter, and starts
the WhatsApp Cloud webhook listener (if configured). serve itself
starts no sessions ("presencewatch track" runs its own standalone
process); it just keeps the platform receive loops alive and waits
for a shutdown signal.`,
		RunE: runServe,
	}
	cmd.Flags().String("webhook-addr", ":8088", "listen address for the WhatsApp Cloud webhook HTTP server")
	cmd.Flags().String("webhook-path", "/webhooks/whatsapp", "HTTP path the WhatsApp Cloud webhook is served on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	if err := application.Registry.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("one or more platform lifecycles failed to start")
	}

	var srv *http.Server
	if onStatus := application.CloudWebhookHandler(); onStatus != nil {
		addr, _ := cmd.Flags().GetString("webhook-addr")
		path, _ := cmd.Flags().GetString("webhook-path")
		mux := http.NewServeMux()
		mux.Handle(path, webhook.New(cfg.WhatsAppCloudVerifyToken, cfg.WhatsAppCloudAppSecret, log, onStatus))
		srv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info().Str("addr", addr).Str("path", path).Msg("whatsapp cloud webhook listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("webhook server stopped")
			}
		}()
	}

	log.Info().Msg("presencewatch running, press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			shutdownCancel()
		}
		application.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("shutdown complete")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// loadConfigAndLogger loads a .env file from the path given by --config
// (or "./.env" by default), parses the environment into a Config, and
// builds the zerolog.Logger the rest of the command uses. --verbose
// forces debug level regardless of LOG_LEVEL.
func loadConfigAndLogger(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		_ = godotenv.Load(path)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return cfg, logging.New(level, cfg.LogFormat), nil
}
