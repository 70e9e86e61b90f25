package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/api/router"
	"github.com/wolfman30/dental-crm-messaging/internal/app/bootstrap"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/clinic"
	appconfig "github.com/wolfman30/dental-crm-messaging/internal/config"
	"github.com/wolfman30/dental-crm-messaging/internal/inbound"
	"github.com/wolfman30/dental-crm-messaging/internal/media"
	"github.com/wolfman30/dental-crm-messaging/internal/reminders"
	"github.com/wolfman30/dental-crm-messaging/internal/reschedule"
	"github.com/wolfman30/dental-crm-messaging/internal/whatsapp"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental-crm-messaging API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"inline_workers", cfg.InlineWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := bootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	metricsHandler, registry := setupMetrics()
	engine, err := bootstrap.BuildEngine(ctx, cfg, stores, registry, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	wait := engine.Start(ctx, loopsFor(cfg))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, engine, metricsHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the alert stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	wait()

	logger.Info("server stopped")
}

// setupMetrics returns the /metrics handler and the registry components
// register their collectors on.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), reg
}

// loopsFor picks the background loops the API process owns. Channel status
// events, daily resets and staff e-mails always run here; dispatch can be
// moved to cmd/dispatch-worker.
func loopsFor(cfg *appconfig.Config) bootstrap.RunOptions {
	opts := bootstrap.AllLoops
	opts.Dispatch = cfg.InlineWorkers
	return opts
}

func buildRouter(cfg *appconfig.Config, engine *bootstrap.Engine, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	return router.New(&router.Config{
		Logger:             logger,
		InboundHandler:     inbound.NewHandler(engine.Inbound, engine.Stores.Inbound, cfg.WhatsAppWebhookSecret, engine.Metrics, logger.Component("inbound-http")),
		StatusWebhook:      whatsapp.NewStatusWebhookHandler(engine.Registry, engine.Stores.Tracker, cfg.WhatsAppWebhookSecret, engine.Metrics, logger.Component("status-webhook")),
		ChannelsHandler:    channels.NewHandler(engine.Registry, logger),
		RemindersHandler:   reminders.NewHandler(engine.Stores.Reminders, engine.Dispatcher, engine.Planner, logger),
		RescheduleHandler:  reschedule.NewHandler(engine.Workflow, logger),
		AlertsHandler:      alerts.NewHandler(engine.Alerts, logger),
		ClinicHandler:      clinic.NewHandler(engine.ClinicStore, cfg.ClinicID, logger),
		MediaHandler:       media.NewHandler(engine.Media, logger),
		MetricsHandler:     metricsHandler,
		Ready:              engine.Stores.Ping,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookRateBurst:   cfg.WebhookRateBurst,
		WebhookTimeout:     cfg.WebhookTimeout,
	})
}
