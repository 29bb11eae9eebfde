package whatsappweb

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/quietline/presencewatch/internal/adapter"
)

// Service is the WhatsApp Web bridge's ReceiptService (spec.md §4.7):
// one long-lived whatsmeow client per process, with a single
// process-wide events.Receipt handler (whatsmeow's API gives no
// per-contact subscription) fanning each receipt out to whichever
// Adapter registered interest in that JID. Directly generalizes the
// teacher's main() (sqlstore bootstrap, QR pairing, the single global
// AddEventHandler) from "one hard-coded target" to "many concurrent
// targets."
type Service struct {
	log    zerolog.Logger
	client *whatsmeow.Client

	mu        sync.RWMutex
	listeners map[types.JID]chan<- adapter.Receipt
}

// NewService opens (or creates) the whatsmeow device store at dbPath and
// connects, pairing via QR code if no session exists yet — identical
// bootstrap sequence to the teacher's main().
func NewService(ctx context.Context, dbPath string, log zerolog.Logger) (*Service, error) {
	log = log.With().Str("component", "whatsappweb.service").Logger()

	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("whatsappweb: open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsappweb: get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "ERROR", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)

	svc := &Service{log: log, client: client, listeners: make(map[types.JID]chan<- adapter.Receipt)}

	client.AddEventHandler(func(evt interface{}) {
		if receipt, ok := evt.(*events.Receipt); ok {
			svc.handleReceipt(receipt)
		}
	})

	if client.Store.ID == nil {
		if err := svc.pairWithQR(ctx); err != nil {
			return nil, err
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("whatsappweb: connect: %w", err)
	}

	return svc, nil
}

func (s *Service) pairWithQR(ctx context.Context) error {
	qrChan, _ := s.client.GetQRChannel(ctx)
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("whatsappweb: connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			s.log.Info().Msg("scan this QR code with WhatsApp to pair")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		} else {
			s.log.Info().Str("event", evt.Event).Msg("pairing event")
		}
	}
	return nil
}

// StartSession returns an Adapter for a single (user, contact); only
// supported once pairing has been established. Only Signal is specified
// to populate non-primary device ids (spec.md §3); WhatsApp Web always
// reports "primary".
func (s *Service) StartSession(ctx context.Context, phoneNumber string) (adapter.Adapter, error) {
	targetJID := types.NewJID(phoneNumber, types.DefaultUserServer)

	resp, err := s.client.IsOnWhatsApp(ctx, []string{targetJID.String()})
	if err != nil {
		return nil, fmt.Errorf("whatsappweb: check number: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return nil, fmt.Errorf("whatsappweb: %s is not registered on WhatsApp", phoneNumber)
	}

	return newAdapter(s.client, targetJID, s.register), nil
}

// register adds a JID -> receipt-channel route, returning a closure
// that removes it again. Multiple JIDs may fan in from the one shared
// client-wide handler.
func (s *Service) register(jid types.JID, ch chan<- adapter.Receipt) func() {
	s.mu.Lock()
	s.listeners[jid] = ch
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listeners[jid] == ch {
			delete(s.listeners, jid)
		}
	}
}

func (s *Service) handleReceipt(receipt *events.Receipt) {
	s.mu.RLock()
	ch, ok := s.listeners[receipt.Sender]
	s.mu.RUnlock()
	if !ok {
		return
	}

	for _, msgID := range receipt.MessageIDs {
		// Always surfaced as delivered, even for a read receipt: v1 has no
		// use for a distinct "read" state on this adapter.
		select {
		case ch <- adapter.Receipt{
			ProbeID:      msgID,
			DeviceID:     "primary",
			ReceivedAtMS: receipt.Timestamp.UnixMilli(),
			Status:       adapter.StatusDelivered,
		}:
		default:
			s.log.Warn().Str("jid", receipt.Sender.String()).Msg("receipt queue full, dropping event")
		}
	}
}

// Close disconnects the shared whatsmeow client.
func (s *Service) Close() error {
	s.client.Disconnect()
	return nil
}
