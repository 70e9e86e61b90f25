package clinic

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// ConfigStore is implemented by Store and StaticStore.
type ConfigStore interface {
	Get(ctx context.Context, clinicID string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
}

// Handler serves the clinic configuration for the admin UI.
type Handler struct {
	store    ConfigStore
	clinicID string
	logger   *logging.Logger
}

func NewHandler(store ConfigStore, clinicID string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, clinicID: clinicID, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/clinic/config", h.GetConfig)
	r.Put("/clinic/config", h.UpdateConfig)
}

// GetConfig returns the clinic configuration.
// GET /admin/clinic/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Get(r.Context(), h.clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfigRequest carries a partial update. Absent fields are kept.
type UpdateConfigRequest struct {
	Name          string         `json:"name,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	Country       string         `json:"country,omitempty"`
	CountryCode   string         `json:"country_code,omitempty"`
	AreaCode      string         `json:"area_code,omitempty"`
	Chairs        *int           `json:"chairs,omitempty"`
	Channels      *int           `json:"channels,omitempty"`
	StaffEmails   []string       `json:"staff_emails,omitempty"`
	BusinessHours *BusinessHours `json:"business_hours,omitempty"`
}

// UpdateConfig applies a partial update.
// PUT /admin/clinic/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.Get(r.Context(), h.clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if req.Country != "" {
		cfg.Country = req.Country
	}
	if req.CountryCode != "" {
		cfg.CountryCode = req.CountryCode
	}
	if req.AreaCode != "" {
		cfg.AreaCode = req.AreaCode
	}
	if req.Chairs != nil {
		cfg.Chairs = *req.Chairs
	}
	if req.Channels != nil {
		cfg.Channels = *req.Channels
	}
	if req.StaffEmails != nil {
		cfg.StaffEmails = req.StaffEmails
	}
	if req.BusinessHours != nil {
		cfg.BusinessHours = *req.BusinessHours
	}

	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "failed to save config"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic config updated", "clinic_id", h.clinicID, "name", cfg.Name)
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
