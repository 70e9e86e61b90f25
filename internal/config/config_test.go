package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEFAULT_COUNTRY_CODE", "")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")
	t.Setenv("INLINE_WORKERS", "")
	t.Setenv("WEBHOOK_TIMEOUT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.DefaultCountryCode != "55" || cfg.DefaultAreaCode != "11" {
		t.Fatalf("unexpected phone defaults %s/%s", cfg.DefaultCountryCode, cfg.DefaultAreaCode)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Fatalf("expected 5 max attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMultiplier != 2 {
		t.Fatalf("expected multiplier 2, got %v", cfg.RetryMultiplier)
	}
	if cfg.FollowupWindow != 30*time.Minute {
		t.Fatalf("expected 30m follow-up window, got %s", cfg.FollowupWindow)
	}
	if !cfg.InlineWorkers {
		t.Fatal("expected inline workers by default")
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Fatalf("expected 10s webhook timeout, got %s", cfg.WebhookTimeout)
	}
	if cfg.StaffEmails != nil {
		t.Fatalf("expected no staff emails, got %v", cfg.StaffEmails)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DEFAULT_COUNTRY", "ar")
	t.Setenv("DISPATCH_INTERVAL", "30s")
	t.Setenv("RETRY_MULTIPLIER", "3.5")
	t.Setenv("STAFF_EMAILS", "front@clinic.test, ,owner@clinic.test")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.DefaultCountry != "AR" {
		t.Fatalf("expected upper-cased country, got %s", cfg.DefaultCountry)
	}
	if cfg.DispatchInterval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.DispatchInterval)
	}
	if cfg.RetryMultiplier != 3.5 {
		t.Fatalf("expected multiplier override, got %v", cfg.RetryMultiplier)
	}
	if len(cfg.StaffEmails) != 2 || cfg.StaffEmails[1] != "owner@clinic.test" {
		t.Fatalf("unexpected staff emails %v", cfg.StaffEmails)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.WebhookTimeout != 3*time.Second {
		t.Fatalf("expected webhook timeout override, got %s", cfg.WebhookTimeout)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DISPATCH_BATCH_SIZE", "lots")
	t.Setenv("DISPATCH_SEND_TIMEOUT", "soon")
	cfg := Load()
	if cfg.DispatchBatchSize != 50 {
		t.Fatalf("expected default batch size, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchSendTimeout != 15*time.Second {
		t.Fatalf("expected default send timeout, got %s", cfg.DispatchSendTimeout)
	}
}
