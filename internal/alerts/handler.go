package alerts

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Handler exposes the active alert list, manual resolution and a live stream.
type Handler struct {
	bus          *Bus
	logger       *logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewHandler creates an alerts HTTP handler.
func NewHandler(bus *Bus, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin is enforced by the CORS and auth middleware in front of the route
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// RegisterRoutes mounts alert endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/alerts", h.list)
	r.Post("/alerts/{id}/resolve", h.resolve)
	r.Get("/alerts/stream", h.stream)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	active := h.bus.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": active,
		"count":  len(active),
	})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.bus.Resolve(id) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// stream pushes the active snapshot, then every new or resolved alert.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("alerts stream: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(64)
	defer sub.Close()

	for _, a := range h.bus.Active() {
		if err := h.writeAlert(conn, a); err != nil {
			return
		}
	}

	// reader goroutine only detects the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case a, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(h.writeTimeout))
				return
			}
			if err := h.writeAlert(conn, a); err != nil {
				h.logger.Debug("alerts stream: write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeAlert(conn *websocket.Conn, a Alert) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(a)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
