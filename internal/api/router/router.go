package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/clinic"
	httpmiddleware "github.com/wolfman30/dental-crm-messaging/internal/http/middleware"
	"github.com/wolfman30/dental-crm-messaging/internal/inbound"
	"github.com/wolfman30/dental-crm-messaging/internal/media"
	"github.com/wolfman30/dental-crm-messaging/internal/reminders"
	"github.com/wolfman30/dental-crm-messaging/internal/reschedule"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger            *logging.Logger
	InboundHandler    *inbound.Handler
	StatusWebhook     http.Handler
	ChannelsHandler   *channels.Handler
	RemindersHandler  *reminders.Handler
	RescheduleHandler *reschedule.Handler
	AlertsHandler     *alerts.Handler
	ClinicHandler     *clinic.Handler
	MediaHandler      *media.Handler
	MetricsHandler    http.Handler

	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
	// WebhookTimeout bounds provider callbacks. Zero disables the deadline.
	WebhookTimeout time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health checks, metrics)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", readyHandler(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider callbacks authenticate with an HMAC signature
	r.Route("/webhooks", func(webhooks chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			webhooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
		}
		if cfg.WebhookTimeout > 0 {
			webhooks.Use(middleware.Timeout(cfg.WebhookTimeout))
		}
		if cfg.InboundHandler != nil {
			cfg.InboundHandler.RegisterWebhookRoutes(webhooks)
		}
		if cfg.StatusWebhook != nil {
			webhooks.Post("/whatsapp/status", cfg.StatusWebhook.ServeHTTP)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.RemindersHandler != nil {
				cfg.RemindersHandler.RegisterRoutes(admin)
			}
			if cfg.RescheduleHandler != nil {
				cfg.RescheduleHandler.RegisterRoutes(admin)
			}
			if cfg.InboundHandler != nil {
				cfg.InboundHandler.RegisterAdminRoutes(admin)
			}
			if cfg.AlertsHandler != nil {
				cfg.AlertsHandler.RegisterRoutes(admin)
			}
			if cfg.MediaHandler != nil {
				cfg.MediaHandler.RegisterRoutes(admin)
			}

			// Channel pool and clinic settings are admin-only
			admin.Group(func(owner chi.Router) {
				owner.Use(httpmiddleware.RequireRole(httpmiddleware.RoleAdmin))
				if cfg.ChannelsHandler != nil {
					cfg.ChannelsHandler.RegisterRoutes(owner)
				}
				if cfg.ClinicHandler != nil {
					cfg.ClinicHandler.RegisterRoutes(owner)
				}
			})
		})
	} else if cfg.Logger != nil {
		cfg.Logger.Warn("ADMIN_JWT_SECRET not set, admin routes disabled")
	}

	return r
}

func readyHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
