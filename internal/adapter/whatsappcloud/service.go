package whatsappcloud

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/adapter"
	"github.com/quietline/presencewatch/internal/model"
	"github.com/quietline/presencewatch/internal/store"
)

// Service is the WhatsApp Cloud API's ReceiptService (spec.md §4.7).
// Unlike whatsappweb, the Cloud API has no client-wide event stream to
// route by sender JID: status updates arrive over HTTP, through the
// webhook intake in internal/webhook, carrying only a message id and a
// unix-seconds timestamp. Service resolves that id back to the owning
// session through the durable probe index and routes the receipt onto
// whichever session registered here, the same fan-out shape as
// whatsappweb.Service.handleReceipt but keyed by session instead of JID.
type Service struct {
	log        zerolog.Logger
	cfg        Config
	httpClient *http.Client
	probes     store.ProbeStore

	mu        sync.RWMutex
	listeners map[model.SessionKey]chan<- adapter.Receipt
}

// NewService builds a Cloud API Service. probes is the durable probe
// index used to resolve webhook status events back to a session.
func NewService(cfg Config, probes store.ProbeStore, log zerolog.Logger) *Service {
	return &Service{
		log:        log.With().Str("component", "whatsappcloud.service").Logger(),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		probes:     probes,
		listeners:  make(map[model.SessionKey]chan<- adapter.Receipt),
	}
}

// StartSession returns an Adapter for a single (user, contact) tracked
// over a phone number. WhatsApp Cloud always reports the "primary"
// device (spec.md §3); only Signal may report others.
func (s *Service) StartSession(key model.SessionKey, toNumber string) adapter.Adapter {
	return newAdapter(s.cfg, key, toNumber, s.httpClient, s.register)
}

func (s *Service) register(key model.SessionKey, ch chan<- adapter.Receipt) func() {
	s.mu.Lock()
	s.listeners[key] = ch
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listeners[key] == ch {
			delete(s.listeners, key)
		}
	}
}

// HandleStatusEvent is called by internal/webhook for each
// entry[].changes[].value.statuses[] element of a verified webhook
// payload. It resolves messageID to a session via the probe index, then
// routes a Receipt onto that session's channel if still registered.
func (s *Service) HandleStatusEvent(ctx context.Context, messageID string, status adapter.ReceiptStatus, timestampUnixSeconds int64) error {
	row, err := s.probes.FindByPlatformMessageID(ctx, "whatsapp_cloud", messageID)
	if err != nil {
		return fmt.Errorf("whatsappcloud: resolve status event: %w", err)
	}

	key := model.SessionKey{UserID: row.UserID, ContactID: row.ContactID, Platform: model.PlatformWhatsApp}
	receivedAtMS := timestampUnixSeconds * 1000

	// MarkDelivered/MarkRead are applied by the owning SessionRunner once
	// it resolves this receipt against the Correlator (see
	// internal/session.Runner.handleReceipt), not here — Service's job
	// ends at routing.

	s.mu.RLock()
	ch, ok := s.listeners[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	select {
	case ch <- adapter.Receipt{
		ProbeID:           row.ProbeID,
		DeviceID:          model.PrimaryDevice,
		ReceivedAtMS:      receivedAtMS,
		Status:            status,
		PlatformMessageID: &messageID,
	}:
	default:
		s.log.Warn().Str("session", key.String()).Msg("receipt queue full, dropping event")
	}
	return nil
}

// Close is a no-op: the Cloud API holds no persistent connection.
func (s *Service) Close() error { return nil }
