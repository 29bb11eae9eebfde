package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/adapter"
	"github.com/quietline/presencewatch/internal/store"
)

// Service is Signal's ReceiptService: one websocket (or, on handshake
// failure, one HTTP-polling) receive loop per account, fanning receipts
// out to whichever Adapter registered interest in the sender number.
// Reconnect/backoff follows the same doubling-capped-reset-on-success
// shape as the pack's other websocket feed clients, generalized from a
// single market feed to an account-wide receive loop shared by many
// concurrent sessions.
type Service struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client
	probes     store.ProbeStore

	mu        sync.RWMutex
	listeners map[string]chan<- adapter.Receipt
}

// NewService builds a Signal Service. probes resolves incoming receipt
// timestamps back to the session that sent the matching probe.
func NewService(cfg Config, probes store.ProbeStore, log zerolog.Logger) *Service {
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		log:        log.With().Str("component", "signal.service").Logger(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		probes:     probes,
		listeners:  make(map[string]chan<- adapter.Receipt),
	}
}

// StartSession returns an Adapter for a single (user, contact) tracked
// by phone number.
func (s *Service) StartSession(toNumber string) adapter.Adapter {
	return newAdapter(s.cfg, toNumber, s.httpClient, s.register)
}

func (s *Service) register(toNumber string, ch chan<- adapter.Receipt) func() {
	s.mu.Lock()
	s.listeners[toNumber] = ch
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listeners[toNumber] == ch {
			delete(s.listeners, toNumber)
		}
	}
}

// Run drives the receive loop until ctx is cancelled: websocket first,
// falling back to HTTP polling if the handshake fails, with exponential
// backoff between reconnect attempts capped at cfg.BackoffMax and reset
// whenever a connection is established.
func (s *Service) Run(ctx context.Context) {
	backoff := 1 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runWebsocket(ctx)
		if err == nil {
			backoff = 1 * time.Second
			continue
		}
		s.log.Warn().Err(err).Msg("signal websocket loop ended, falling back to polling")

		err = s.runPoll(ctx)
		if err == nil {
			backoff = 1 * time.Second
			continue
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("signal receive loop failed, backing off")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.BackoffMax {
			backoff = s.cfg.BackoffMax
		}
	}
}

func (s *Service) wsURL() string {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return s.cfg.BaseURL
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/v1/receive/%s", s.cfg.Account)
	return u.String()
}

func (s *Service) runWebsocket(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("signal: websocket dial: %w", err)
	}
	defer conn.Close()

	s.log.Info().Msg("signal websocket connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("signal: websocket read: %w", err)
		}
		s.handleRawMessage(ctx, msg)
	}
}

// runPoll is the HTTP-poll fallback for signal-cli's /v1/receive
// endpoint when the websocket handshake fails.
func (s *Service) runPoll(ctx context.Context) error {
	pollURL := fmt.Sprintf("%s/v1/receive/%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), s.cfg.Account)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("signal: poll: %w", err)
		}
		var batch []json.RawMessage
		decodeErr := json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("signal: poll decode: %w", decodeErr)
		}
		for _, raw := range batch {
			s.handleRawMessage(ctx, raw)
		}
	}
}

type receiveEnvelope struct {
	Envelope struct {
		Source          string `json:"source"`
		Timestamp       int64  `json:"timestamp"`
		ReceiptMessage  *struct {
			When       int64   `json:"when"`
			IsDelivery bool    `json:"isDelivery"`
			IsRead     bool    `json:"isRead"`
			Timestamps []int64 `json:"timestamps"`
		} `json:"receiptMessage"`
	} `json:"envelope"`
}

func (s *Service) handleRawMessage(ctx context.Context, raw []byte) {
	var env receiveEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	rm := env.Envelope.ReceiptMessage
	if rm == nil {
		return
	}

	status := adapter.StatusDelivered
	if rm.IsRead {
		status = adapter.StatusRead
	}

	for _, ts := range rm.Timestamps {
		s.resolveAndRoute(ctx, env.Envelope.Source, ts, rm.When, status)
	}
}

// resolveAndRoute tries the three candidate timestamp interpretations
// spec.md prescribes (raw-as-ms, raw-as-s, raw-as-ms scaled again) in
// order against the durable probe index, absorbing the unit mismatches
// different signal-cli versions have been observed to produce.
func (s *Service) resolveAndRoute(ctx context.Context, source string, ts, whenMS int64, status adapter.ReceiptStatus) {
	candidates := []int64{ts, ts * 1000}
	if ts < 1_000_000_000_000 {
		candidates = append(candidates, ts*1000*1000)
	}

	for _, candidate := range candidates {
		row, err := s.probes.FindByPlatformTS(ctx, "signal", candidate)
		if err != nil {
			continue
		}

		s.mu.RLock()
		ch, ok := s.listeners[source]
		s.mu.RUnlock()
		if !ok {
			return
		}

		receivedAt := whenMS
		if receivedAt == 0 {
			receivedAt = time.Now().UnixMilli()
		}
		select {
		case ch <- adapter.Receipt{
			ProbeID:      row.ProbeID,
			DeviceID:     "primary",
			ReceivedAtMS: receivedAt,
			Status:       status,
		}:
		default:
			s.log.Warn().Str("source", source).Msg("receipt queue full, dropping event")
		}
		return
	}
}

// Close is a no-op: Run's goroutine exits when its context is cancelled.
func (s *Service) Close() error { return nil }
