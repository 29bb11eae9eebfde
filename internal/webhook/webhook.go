// Package webhook implements the WhatsApp Cloud API's webhook intake:
// the GET subscription handshake and the POST event receiver with
// HMAC-SHA256 payload verification. No webhook-signature library
// appears anywhere in the retrieved example pack, so verification uses
// crypto/hmac and crypto/sha256 directly (justified in DESIGN.md); the
// handler plumbing (net/http, structured logging via zerolog) follows
// the teacher's own HTTP server conventions.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/adapter"
)

// Handler serves both the verification GET and the event-delivery POST
// for a single WhatsApp Cloud app.
type Handler struct {
	log         zerolog.Logger
	verifyToken string
	appSecret   string
	statuses    statusEventFunc
}

type statusEventFunc func(messageID string, status adapter.ReceiptStatus, timestampUnixSeconds int64) error

// New builds a Handler. onStatus is called once per status object found
// in a verified payload.
func New(verifyToken, appSecret string, log zerolog.Logger, onStatus statusEventFunc) *Handler {
	return &Handler{
		log:         log.With().Str("component", "webhook").Logger(),
		verifyToken: verifyToken,
		appSecret:   appSecret,
		statuses:    onStatus,
	}
}

// ServeHTTP dispatches GET (subscription verification) and POST (event
// delivery) per Meta's webhook contract.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.appSecret == "" || !h.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		h.log.Warn().Msg("webhook signature verification failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				status, ok := parseStatus(st.Status)
				if !ok {
					continue
				}
				if err := h.statuses(st.ID, status, st.Timestamp); err != nil {
					h.log.Warn().Err(err).Str("message_id", st.ID).Msg("status event handling failed")
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body, using constant-time comparison.
func (h *Handler) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	got := mac.Sum(nil)

	return hmac.Equal(got, want)
}

func parseStatus(s string) (adapter.ReceiptStatus, bool) {
	switch s {
	case "delivered":
		return adapter.StatusDelivered, true
	case "read":
		return adapter.StatusRead, true
	default:
		return "", false
	}
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp int64  `json:"timestamp,string"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}
