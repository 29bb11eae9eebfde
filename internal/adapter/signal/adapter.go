// Package signal adapts signal-cli's REST API (send via POST
// /v2/send, receive via websocket /v1/receive/<account> with an
// HTTP-poll fallback) into the Adapter contract. No Signal client
// library appears in the retrieved example pack, so this speaks the
// signal-cli REST protocol directly over net/http and
// gorilla/websocket — the same reconnect-with-backoff idiom the pack's
// own websocket clients use (adapted from the Kalshi feed client found
// among the example repos), generalized from one hard-coded market feed
// to a per-(user,contact) receipt stream multiplexed by a shared
// Service (see service.go), the same shared-dispatcher shape as
// whatsappweb.Service.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quietline/presencewatch/internal/adapter"
)

// Config carries the signal-cli REST endpoint and account.
type Config struct {
	BaseURL    string // e.g. http://localhost:8080
	Account    string // the registered Signal number
	BackoffMax time.Duration
}

// Adapter is one Signal contact's probe/receipt handle over the
// account-wide shared Service.
type Adapter struct {
	cfg        Config
	toNumber   string
	httpClient *http.Client
	unregister func()
	receipts   chan adapter.Receipt
}

func newAdapter(cfg Config, toNumber string, httpClient *http.Client, register func(string, chan<- adapter.Receipt) func()) *Adapter {
	a := &Adapter{cfg: cfg, toNumber: toNumber, httpClient: httpClient, receipts: make(chan adapter.Receipt, 64)}
	a.unregister = register(toNumber, a.receipts)
	return a
}

type sendMessageRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

type sendMessageResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// SendProbe posts an empty-body text message through signal-cli. The
// send timestamp signal-cli assigns doubles as the probe id: Signal
// receipts report timestamps, not message ids, unlike the WhatsApp
// adapters.
func (a *Adapter) SendProbe(ctx context.Context) (adapter.SendResult, error) {
	reqBody := sendMessageRequest{
		Message:    "",
		Number:     a.cfg.Account,
		Recipients: []string{a.toNumber},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("signal: marshal probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v2/send", bytes.NewReader(payload))
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("signal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("signal: send probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return adapter.SendResult{}, fmt.Errorf("signal: send probe: status %d", resp.StatusCode)
	}

	var out sendMessageResponse
	sentAt := time.Now().UnixMilli()
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Timestamp > 0 {
		sentAt = normalizeToMS(out.Timestamp)
	}

	probeID := fmt.Sprintf("%d", sentAt)
	return adapter.SendResult{ProbeID: probeID, SentAtMS: sentAt}, nil
}

// normalizeToMS converts a signal-cli timestamp to milliseconds,
// multiplying by 1000 when the value looks like unix seconds.
func normalizeToMS(ts int64) int64 {
	if ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}

// Receipts returns the channel the shared Service routes receipts for
// this contact onto.
func (a *Adapter) Receipts() <-chan adapter.Receipt { return a.receipts }

// GetProfile is unsupported in v1.
func (a *Adapter) GetProfile(ctx context.Context) (*adapter.Profile, error) { return nil, nil }

// GetPresence is unsupported: signal-cli exposes no presence endpoint.
func (a *Adapter) GetPresence(ctx context.Context) (*adapter.Presence, error) { return nil, nil }

// Close unregisters from the shared Service and closes the channel.
// Idempotent.
func (a *Adapter) Close() error {
	if a.unregister == nil {
		return nil
	}
	a.unregister()
	a.unregister = nil
	close(a.receipts)
	return nil
}
