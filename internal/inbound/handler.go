package inbound

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/intent"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/internal/whatsapp"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Handler serves the inbound webhook and the triage listing.
type Handler struct {
	router  *Router
	store   Store
	secret  string
	metrics *metrics.MessagingMetrics
	logger  *logging.Logger
}

// NewHandler builds the handler. An empty secret disables signature checks.
func NewHandler(router *Router, store Store, secret string, m *metrics.MessagingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{router: router, store: store, secret: secret, metrics: m, logger: logger}
}

// RegisterWebhookRoutes mounts the provider callback. Expected under /webhooks.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/whatsapp/inbound", h.inbound)
}

// RegisterAdminRoutes mounts the triage endpoints. Expected under /admin.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/inbound", h.list)
	r.Get("/inbound/{id}", h.get)
}

func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := whatsapp.VerifySignature(h.secret, r.Header.Get(whatsapp.SignatureHeader), body); err != nil {
		h.logger.Warn("invalid inbound webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, err := h.router.Handle(r.Context(), p)
	h.metrics.ObserveWebhookLatency("inbound", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("inbound webhook failed", "error", err)
		res.Error = "processing error"
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{UnlinkedOnly: q.Get("unlinked") == "true"}
	if raw := q.Get("intent"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter.Intents = append(filter.Intents, intent.Intent(strings.TrimSpace(part)))
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	msgs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("inbound handler: list", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []IncomingMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}
	msg, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrMessageNotFound) {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("inbound handler: get", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
