package reminders

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Handler exposes the reminder queue to operators.
type Handler struct {
	store      Store
	dispatcher *Dispatcher
	planner    *Planner
	logger     *logging.Logger
}

func NewHandler(store Store, dispatcher *Dispatcher, planner *Planner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, dispatcher: dispatcher, planner: planner, logger: logger}
}

// RegisterRoutes mounts reminder endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reminders", h.list)
	r.Post("/reminders", h.enqueue)
	r.Post("/reminders/tick", h.tick)
	r.Post("/reminders/{id}/send", h.sendNow)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status:        Status(r.URL.Query().Get("status")),
		AppointmentID: r.URL.Query().Get("appointment_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	jobs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("reminders handler: list", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type enqueueRequest struct {
	AppointmentID string `json:"appointment_id"`
	Rule          string `json:"rule"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == "" || req.Rule == "" {
		http.Error(w, "appointment_id and rule are required", http.StatusBadRequest)
		return
	}
	job, created, err := h.planner.EnqueueFor(r.Context(), req.AppointmentID, req.Rule)
	switch {
	case errors.Is(err, ErrUnknownRule), errors.Is(err, ErrAppointmentClosed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appointments.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("reminders handler: enqueue", "error", err, "appointment_id", req.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
	case created:
		writeJSON(w, http.StatusCreated, job)
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.dispatcher.Tick(r.Context())
	if err != nil {
		h.logger.Error("reminders handler: tick", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	outcome, err := h.dispatcher.SendNow(r.Context(), id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, ErrJobNotPending):
		http.Error(w, "job is not pending", http.StatusConflict)
	case err != nil:
		h.logger.Error("reminders handler: send now", "error", err, "job_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "outcome": outcome})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
