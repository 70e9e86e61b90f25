package channels

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Handler exposes channel administration endpoints.
type Handler struct {
	registry *Registry
	logger   *logging.Logger
}

func NewHandler(registry *Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes mounts channel endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/channels", h.health)
	r.Post("/channels", h.register)
	r.Put("/channels/{id}/status", h.markStatus)
	r.Delete("/channels/{id}", h.remove)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.registry.Health(r.Context())
	if err != nil {
		h.logger.Error("channels handler: health", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": health,
		"count":    len(health),
	})
}

type registerRequest struct {
	ID          string  `json:"id"`
	Country     string  `json:"country"`
	DisplayName string  `json:"display_name"`
	Purpose     Purpose `json:"purpose"`
	Status      Status  `json:"status"`
	DailyLimit  int     `json:"daily_limit"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ch, err := h.registry.Register(r.Context(), Channel{
		ID:          req.ID,
		Country:     req.Country,
		DisplayName: req.DisplayName,
		Purpose:     req.Purpose,
		Status:      req.Status,
		DailyLimit:  req.DailyLimit,
	})
	if errors.Is(err, ErrInvalidChannel) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("channels handler: register", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (h *Handler) markStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	err := h.registry.MarkStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, ErrInvalidChannel):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrChannelNotFound):
		http.Error(w, "channel not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("channels handler: mark status", "error", err, "channel_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.registry.Remove(r.Context(), id)
	switch {
	case errors.Is(err, ErrChannelInUse):
		http.Error(w, "channel must be disconnected before removal", http.StatusConflict)
	case errors.Is(err, ErrChannelNotFound):
		http.Error(w, "channel not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("channels handler: remove", "error", err, "channel_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
