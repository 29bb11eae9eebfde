// Package whatsappcloud adapts Meta's WhatsApp Cloud API (a plain
// HTTPS Graph API, not a bridge) into the Adapter contract. No cloud
// SDK for the WhatsApp Cloud API appears anywhere in the retrieved
// example pack, so send_probe is a direct net/http POST against the
// Graph endpoint (justified in DESIGN.md); receipts arrive out-of-band
// through the webhook intake in internal/webhook and are routed here by
// Service the same way whatsappweb.Service fans receipts out by JID.
package whatsappcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quietline/presencewatch/internal/adapter"
	"github.com/quietline/presencewatch/internal/model"
)

// Config carries the Cloud API credentials a Service needs.
type Config struct {
	Token       string
	PhoneID     string
	APIBaseURL  string // defaults to https://graph.facebook.com/v21.0 when empty
}

func (c Config) baseURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return "https://graph.facebook.com/v21.0"
}

// Adapter is one WhatsApp Cloud contact's probe/receipt handle.
type Adapter struct {
	cfg        Config
	toNumber   string
	httpClient *http.Client
	unregister func()
	receipts   chan adapter.Receipt
}

// newAdapter registers a session queue with the shared Service keyed by
// session, since the webhook payload (see internal/webhook) carries only
// a message id — Service resolves that id back to a session through the
// durable probe index and routes onto whichever session registered here.
func newAdapter(cfg Config, key model.SessionKey, toNumber string, httpClient *http.Client, register func(model.SessionKey, chan<- adapter.Receipt) func()) *Adapter {
	a := &Adapter{cfg: cfg, toNumber: toNumber, httpClient: httpClient, receipts: make(chan adapter.Receipt, 64)}
	a.unregister = register(key, a.receipts)
	return a
}

type sendMessageRequest struct {
	MessagingProduct string                 `json:"messaging_product"`
	To               string                 `json:"to"`
	Type             string                 `json:"type"`
	Text             map[string]interface{} `json:"text"`
}

type sendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendProbe posts a minimally visible text message (a single
// zero-width-space body) and returns the message id the Cloud API
// assigns, which doubles as the probe id.
func (a *Adapter) SendProbe(ctx context.Context) (adapter.SendResult, error) {
	reqBody := sendMessageRequest{
		MessagingProduct: "whatsapp",
		To:               a.toNumber,
		Type:             "text",
		Text:             map[string]interface{}{"body": "​"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("whatsappcloud: marshal probe: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.baseURL(), a.cfg.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("whatsappcloud: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	sentAt := time.Now().UnixMilli()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.SendResult{}, fmt.Errorf("whatsappcloud: send probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return adapter.SendResult{}, fmt.Errorf("whatsappcloud: send probe: status %d", resp.StatusCode)
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.SendResult{}, fmt.Errorf("whatsappcloud: decode response: %w", err)
	}

	// The Cloud API's own message id is authoritative and unique
	// per-send, satisfying the at-least-once uniqueness requirement; a
	// local uuid is only a fallback for the (pathological) case of an
	// empty response.
	probeID := uuid.NewString()
	var platformMessageID *string
	if len(out.Messages) > 0 && out.Messages[0].ID != "" {
		probeID = out.Messages[0].ID
		platformMessageID = &out.Messages[0].ID
	}

	return adapter.SendResult{ProbeID: probeID, SentAtMS: sentAt, PlatformMessageID: platformMessageID}, nil
}

// Receipts returns the channel the owning Service routes webhook status
// updates onto for this adapter's message ids.
func (a *Adapter) Receipts() <-chan adapter.Receipt { return a.receipts }

// GetProfile is unsupported in v1.
func (a *Adapter) GetProfile(ctx context.Context) (*adapter.Profile, error) { return nil, nil }

// GetPresence is unsupported: the Cloud API exposes no presence.
func (a *Adapter) GetPresence(ctx context.Context) (*adapter.Presence, error) { return nil, nil }

// Close releases the receipt channel. Idempotent.
func (a *Adapter) Close() error {
	if a.unregister == nil {
		return nil
	}
	a.unregister()
	a.unregister = nil
	close(a.receipts)
	return nil
}
