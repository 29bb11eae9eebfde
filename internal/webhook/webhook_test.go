package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quietline/presencewatch/internal/adapter"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleVerify_Success(t *testing.T) {
	h := New("mytoken", "", zerolog.Nop(), func(string, adapter.ReceiptStatus, int64) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/webhook?"+url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"mytoken"},
		"hub.challenge":    {"abc123"},
	}.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "abc123", w.Body.String())
}

func TestHandleVerify_WrongToken(t *testing.T) {
	h := New("mytoken", "", zerolog.Nop(), func(string, adapter.ReceiptStatus, int64) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/webhook?"+url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"wrong"},
		"hub.challenge":    {"abc123"},
	}.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleEvent_ValidSignature(t *testing.T) {
	var gotID string
	var gotStatus adapter.ReceiptStatus
	var gotTS int64
	h := New("mytoken", "supersecret", zerolog.Nop(), func(id string, status adapter.ReceiptStatus, ts int64) error {
		gotID, gotStatus, gotTS = id, status, ts
		return nil
	})

	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.XYZ","status":"delivered","timestamp":"1700000000"}]}}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign("supersecret", body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "wamid.XYZ", gotID)
	require.Equal(t, adapter.StatusDelivered, gotStatus)
	require.Equal(t, int64(1700000000), gotTS)
}

func TestHandleEvent_InvalidSignature_Rejected(t *testing.T) {
	called := false
	h := New("mytoken", "supersecret", zerolog.Nop(), func(string, adapter.ReceiptStatus, int64) error {
		called = true
		return nil
	})

	body := []byte(`{"entry":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)
}
