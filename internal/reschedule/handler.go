package reschedule

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/http/middleware"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Handler exposes the reschedule queue to the front desk.
type Handler struct {
	workflow *Workflow
	logger   *logging.Logger
}

func NewHandler(workflow *Workflow, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{workflow: workflow, logger: logger}
}

// RegisterRoutes mounts reschedule endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reschedules", h.list)
	r.Get("/reschedules/{id}", h.get)
	r.Post("/reschedules/{id}/resolve", h.resolve)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	requests, err := h.workflow.List(r.Context(), status)
	if err != nil {
		h.logger.Error("reschedule handler: list", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	req, err := h.workflow.Get(r.Context(), id)
	if errors.Is(err, ErrRequestNotFound) {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("reschedule handler: get", "error", err, "request_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	var in ResolveInput
	// notes are optional, so an empty body is fine
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if in.ResolvedBy == "" {
		if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
			in.ResolvedBy = claims.Subject
		}
	}
	req, err := h.workflow.Resolve(r.Context(), id, in)
	switch {
	case errors.Is(err, ErrRequestNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, ErrNotesRequired), errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case err != nil:
		h.logger.Error("reschedule handler: resolve", "error", err, "request_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
