// Package app wires the core correlation engine's collaborators
// together from a loaded Config: the ProbeStore/ContactStore, every
// platform's Adapter factory and ReceiptService lifecycle, the shared
// Correlator/InsightsAggregator/NotifyEdgeDetector/RealtimeFanout, and
// the SessionSupervisor that drives them. Grounded on the same
// composition-root shape the pack's cobra-fronted services use (build
// everything once in one place, hand a thin struct to the CLI layer).
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/adapter"
	"github.com/quietline/presencewatch/internal/adapter/mock"
	"github.com/quietline/presencewatch/internal/adapter/signal"
	"github.com/quietline/presencewatch/internal/adapter/whatsappcloud"
	"github.com/quietline/presencewatch/internal/adapter/whatsappweb"
	"github.com/quietline/presencewatch/internal/config"
	"github.com/quietline/presencewatch/internal/correlator"
	"github.com/quietline/presencewatch/internal/insights"
	"github.com/quietline/presencewatch/internal/model"
	"github.com/quietline/presencewatch/internal/notify"
	"github.com/quietline/presencewatch/internal/realtime"
	"github.com/quietline/presencewatch/internal/session"
	"github.com/quietline/presencewatch/internal/store"
)

// App bundles every collaborator a running process needs, built once at
// startup and torn down once at shutdown.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Probes     *store.SQLiteStore
	Contacts   *store.ContactStore
	Registry   *adapter.Registry
	Supervisor *session.Supervisor
	Fanout     *realtime.Fanout

	signalSvc *signal.Service
	cloudSvc  *whatsappcloud.Service
	webSvc    *whatsappweb.Service

	deps session.Deps
}

// Build constructs an App from cfg. WhatsApp Web pairing (ctx-bound,
// potentially blocking on a QR scan) is attempted eagerly here, matching
// the teacher's own main()'s bootstrap-before-serving sequence; a
// failure there is logged but does not prevent Signal/WhatsApp
// Cloud/mock sessions from working.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	probes, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open probe store: %w", err)
	}
	contacts, err := store.NewContactStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open contact store: %w", err)
	}

	deps := session.Deps{
		Correlator: correlator.New(correlator.Config{
			RecentLimit: cfg.RecentLimit, HistoryLimit: cfg.HistoryLimit, MinHistory: cfg.MinHistory,
			ThresholdFactor: cfg.ThresholdFactor, ThresholdFloorMS: cfg.ThresholdFloorMS, LateWindow: cfg.LateWindow(),
		}),
		Aggregator: insights.New(insights.Config{WindowSize: cfg.WindowSize, BroadcastIntervalMS: cfg.BroadcastIntervalMS}),
		Detector:   notify.New(),
		Mailer:     notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log),
		Probes:     probes,
		Fanout:     realtime.New(),
		Contacts:   contacts,
	}

	a := &App{
		Config: cfg, Log: log, Probes: probes, Contacts: contacts,
		Registry: adapter.NewRegistry(), Supervisor: session.NewSupervisor(log),
		Fanout: deps.Fanout, deps: deps,
	}

	a.registerMock()
	if cfg.SignalAccount != "" {
		a.registerSignal(cfg)
	}
	if cfg.WhatsAppCloudToken != "" && cfg.WhatsAppCloudPhoneID != "" {
		a.registerWhatsAppCloud(cfg)
	}
	if cfg.WhatsAppWebDBPath != "" {
		if err := a.registerWhatsAppWeb(ctx, cfg); err != nil {
			log.Warn().Err(err).Msg("whatsapp web bridge unavailable, continuing without it")
		}
	}

	return a, nil
}

func (a *App) registerMock() {
	a.Registry.Register(model.PlatformMock,
		func(ctx context.Context, userID, contactID int64) (adapter.Adapter, error) {
			return mock.New(mock.BehaviorEcho, 50), nil
		}, nil)
}

func (a *App) registerSignal(cfg *config.Config) {
	svc := signal.NewService(signal.Config{
		BaseURL: cfg.SignalReceiveURL, Account: cfg.SignalAccount, BackoffMax: cfg.BackoffMax(),
	}, a.Probes, a.Log)
	a.signalSvc = svc

	a.Registry.Register(model.PlatformSignal,
		func(ctx context.Context, userID, contactID int64) (adapter.Adapter, error) {
			target, err := a.Contacts.PlatformTarget(ctx, userID, contactID, model.PlatformSignal)
			if err != nil {
				return nil, err
			}
			return svc.StartSession(target), nil
		},
		signalLifecycle{svc: svc})
}

func (a *App) registerWhatsAppCloud(cfg *config.Config) {
	svc := whatsappcloud.NewService(whatsappcloud.Config{
		Token: cfg.WhatsAppCloudToken, PhoneID: cfg.WhatsAppCloudPhoneID,
	}, a.Probes, a.Log)
	a.cloudSvc = svc

	a.Registry.Register(model.PlatformWhatsApp,
		func(ctx context.Context, userID, contactID int64) (adapter.Adapter, error) {
			target, err := a.Contacts.PlatformTarget(ctx, userID, contactID, model.PlatformWhatsApp)
			if err != nil {
				return nil, err
			}
			key := model.SessionKey{UserID: userID, ContactID: contactID, Platform: model.PlatformWhatsApp}
			return svc.StartSession(key, target), nil
		}, nil)
}

func (a *App) registerWhatsAppWeb(ctx context.Context, cfg *config.Config) error {
	svc, err := whatsappweb.NewService(ctx, cfg.WhatsAppWebDBPath, a.Log)
	if err != nil {
		return err
	}
	a.webSvc = svc

	a.Registry.Register(model.PlatformWhatsAppWeb,
		func(ctx context.Context, userID, contactID int64) (adapter.Adapter, error) {
			target, err := a.Contacts.PlatformTarget(ctx, userID, contactID, model.PlatformWhatsAppWeb)
			if err != nil {
				return nil, err
			}
			return svc.StartSession(ctx, target)
		}, nil)
	return nil
}

// CloudWebhookHandler exposes the WhatsApp Cloud status-event handler
// for the webhook HTTP intake to call, or nil if the Cloud adapter was
// never registered.
func (a *App) CloudWebhookHandler() func(messageID string, status adapter.ReceiptStatus, timestampUnixSeconds int64) error {
	if a.cloudSvc == nil {
		return nil
	}
	return func(messageID string, status adapter.ReceiptStatus, timestampUnixSeconds int64) error {
		return a.cloudSvc.HandleStatusEvent(context.Background(), messageID, status, timestampUnixSeconds)
	}
}

// StartSession starts (or replaces) a session through the Supervisor,
// resolving the adapter via the Registry.
func (a *App) StartSession(ctx context.Context, key model.SessionKey) error {
	if !a.Registry.Supports(key.Platform) {
		return fmt.Errorf("app: platform %q is not configured", key.Platform)
	}
	a.Supervisor.Start(ctx, key, func(runCtx context.Context) *session.Runner {
		ad, err := a.Registry.Create(runCtx, key.Platform, key.UserID, key.ContactID)
		if err != nil {
			a.Log.Error().Err(err).Str("session", key.String()).Msg("failed to create adapter, session will not run")
			ad = mock.New(mock.BehaviorSilent, 0)
		}
		return session.NewRunner(key, ad, a.Config, a.deps, a.Log)
	})
	return nil
}

// Shutdown stops every running session and every platform's long-lived
// lifecycle, then closes storage. Safe to call once, at process exit.
func (a *App) Shutdown(ctx context.Context) {
	a.Supervisor.StopAll()
	if err := a.Registry.StopAll(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("platform shutdown reported errors")
	}
	if a.webSvc != nil {
		_ = a.webSvc.Close()
	}
	_ = a.Contacts.Close()
	_ = a.Probes.Close()
}

type signalLifecycle struct {
	svc *signal.Service
}

func (s signalLifecycle) StartAll(ctx context.Context) error {
	go s.svc.Run(ctx)
	return nil
}

func (s signalLifecycle) StopAll(ctx context.Context) error {
	return s.svc.Close()
}
