package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/events"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

var ErrInvalidSignature = errors.New("whatsapp: invalid webhook signature")

// VerifySignature checks body against the shared secret. An empty secret
// disables verification.
func VerifySignature(secret, signature string, body []byte) error {
	if secret == "" {
		return nil
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature the gateway would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// statusPayload is the gateway's session callback.
type statusPayload struct {
	ID        string `json:"id"`
	Instance  string `json:"instance"`
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ParseStatusEvent converts a gateway session callback into a channel event.
func ParseStatusEvent(body []byte) (channels.StatusEvent, error) {
	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return channels.StatusEvent{}, fmt.Errorf("whatsapp: decode status: %w", err)
	}
	if p.Instance == "" {
		return channels.StatusEvent{}, fmt.Errorf("whatsapp: status without instance")
	}
	var kind channels.EventKind
	switch p.Type {
	case "connected", "ready":
		kind = channels.EventConnected
	case "disconnected", "logged_out":
		kind = channels.EventDisconnected
	case "banned", "blocked":
		kind = channels.EventBlocked
	case "warning", "restricted":
		kind = channels.EventWarning
	default:
		return channels.StatusEvent{}, fmt.Errorf("whatsapp: unknown status type %q", p.Type)
	}
	ev := channels.StatusEvent{
		EventID:   p.ID,
		ChannelID: p.Instance,
		Kind:      kind,
		Reason:    p.Reason,
	}
	if p.Timestamp > 0 {
		ev.OccurredAt = time.Unix(p.Timestamp, 0).UTC()
	}
	return ev, nil
}

// StatusApplier is the registry's state-transition entry point.
type StatusApplier interface {
	Apply(ctx context.Context, ev channels.StatusEvent) (bool, error)
}

// StatusWebhookHandler receives gateway session callbacks.
type StatusWebhookHandler struct {
	registry StatusApplier
	tracker  events.Tracker
	secret   string
	logger   *logging.Logger
	metrics  *metrics.MessagingMetrics
}

func NewStatusWebhookHandler(registry StatusApplier, tracker events.Tracker, secret string, m *metrics.MessagingMetrics, logger *logging.Logger) *StatusWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusWebhookHandler{registry: registry, tracker: tracker, secret: secret, metrics: m, logger: logger}
}

func (h *StatusWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := VerifySignature(h.secret, r.Header.Get(SignatureHeader), body); err != nil {
		h.logger.Warn("invalid whatsapp status signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	ev, err := ParseStatusEvent(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if ev.EventID != "" && h.tracker != nil {
		claimed, err := h.tracker.Claim(r.Context(), "whatsapp-status", ev.EventID)
		if err != nil {
			h.logger.Error("status event claim failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if !claimed {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	changed, err := h.registry.Apply(r.Context(), ev)
	if err != nil {
		// unclaim so a redelivery, possibly after the channel is registered, is applied
		if ev.EventID != "" && h.tracker != nil {
			if rerr := h.tracker.Release(context.WithoutCancel(r.Context()), "whatsapp-status", ev.EventID); rerr != nil {
				h.logger.Warn("status event release failed", "error", rerr)
			}
		}
		if errors.Is(err, channels.ErrChannelNotFound) {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}
		h.logger.Error("status event apply failed", "error", err, "channel_id", ev.ChannelID)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveWebhookLatency("status", time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"applied": changed})
}
