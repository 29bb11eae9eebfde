package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quietline/presencewatch/internal/app"
	"github.com/quietline/presencewatch/internal/model"
	"github.com/quietline/presencewatch/internal/realtime"
)

// newTrackCmd builds `presencewatch track <platform> <user_id>
// <contact_id>`, a standalone single-session run for manual use: it
// builds its own App in-process (no RPC to a running "serve"), starts
// one session through the supervisor, and prints TrackerPoint/Insights
// updates to the console via zerolog as they arrive until interrupted.
func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <platform> <user_id> <contact_id>",
		Short: "Track one contact's device activity in the foreground",
		Long: `Runs a single tracking session standalone, printing each tracker
point as it's classified. This is meant for local/manual use (checking
a new contact's setup, debugging) — it does not attach to an already
running "serve" process, it builds its own storage and adapters.

Examples:
  presencewatch track signal 1 42
  presencewatch track whatsapp_web 1 7`,
		Args: cobra.ExactArgs(3),
		RunE: runTrack,
	}
	return cmd
}

func runTrack(cmd *cobra.Command, args []string) error {
	platform := model.Platform(args[0])
	userID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user_id %q: %w", args[1], err)
	}
	contactID, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid contact_id %q: %w", args[2], err)
	}

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
	defer application.Shutdown(context.Background())

	if err := application.Registry.StartAll(ctx); err != nil {
		log.Warn().Err(err).Msg("one or more platform lifecycles failed to start")
	}

	key := model.SessionKey{UserID: userID, ContactID: contactID, Platform: platform}

	sub := realtime.NewSubscriber(userID, 32)
	application.Fanout.Subscribe(sub)
	defer application.Fanout.Unsubscribe(sub)

	if err := application.StartSession(ctx, key); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info().Str("session", key.String()).Msg("tracking started, press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			log.Info().Msg("stopping")
			application.Supervisor.StopAllForContact(userID, contactID)
			return nil
		case env, ok := <-sub.Send:
			if !ok {
				return nil
			}
			logTrackEvent(log, env)
		}
	}
}

func logTrackEvent(log zerolog.Logger, env realtime.Envelope) {
	switch point := env.Point.(type) {
	case model.TrackerPoint:
		log.Info().
			Str("event", string(env.Type)).
			Str("device", point.DeviceID).
			Str("state", string(point.State)).
			Int64("rtt_ms", point.RTTMS).
			Int64("median_ms", point.MedianMS).
			Int64("threshold_ms", point.ThresholdMS).
			Msg("tracker point")
	default:
		if env.Insights != nil {
			log.Info().Str("event", string(env.Type)).Interface("insights", env.Insights).Msg("insights update")
		}
	}
}
