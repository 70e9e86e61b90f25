package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Clinic defaults used when no clinic config is stored in Redis
	ClinicID           string
	ClinicName         string
	DefaultCountry     string
	DefaultCountryCode string
	DefaultAreaCode    string
	ClinicTimezone     string
	StaffEmails        []string

	// Dispatch queue. InlineWorkers runs the dispatch loop inside the API
	// process; disable it when cmd/dispatch-worker runs separately.
	InlineWorkers       bool
	DispatchInterval    time.Duration
	DispatchBatchSize   int
	DispatchConcurrency int
	DispatchSendTimeout time.Duration
	DispatchClaimLease  time.Duration
	NoChannelDelay      time.Duration
	RetryBaseDelay      time.Duration
	RetryMultiplier     float64
	RetryMaxDelay       time.Duration
	RetryMaxAttempts    int
	JobRetention        time.Duration

	// Reminder planning
	PlannerInterval time.Duration
	PlannerHorizon  time.Duration
	ReminderLead    time.Duration
	FollowupDelay   time.Duration
	FollowupWindow  time.Duration

	// Messaging provider
	WhatsAppBaseURL       string
	WhatsAppAPIToken      string
	WhatsAppWebhookSecret string
	WhatsAppTimeout       time.Duration

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
	WebhookTimeout     time.Duration

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	MediaBucket           string
	MediaURLTTL           time.Duration
	ChannelEventsQueueURL string
	DedupeTable           string

	AMQPURL            string
	AMQPAlertsExchange string

	// Staff e-mail notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ClinicID:           getEnv("CLINIC_ID", "default"),
		ClinicName:         getEnv("CLINIC_NAME", "Clínica Odontológica"),
		DefaultCountry:     strings.ToUpper(getEnv("DEFAULT_COUNTRY", "BR")),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "55"),
		DefaultAreaCode:    getEnv("DEFAULT_AREA_CODE", "11"),
		ClinicTimezone:     getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		StaffEmails:        getEnvAsList("STAFF_EMAILS"),

		InlineWorkers:       getEnvAsBool("INLINE_WORKERS", true),
		DispatchInterval:    getEnvAsDuration("DISPATCH_INTERVAL", time.Minute),
		DispatchBatchSize:   getEnvAsInt("DISPATCH_BATCH_SIZE", 50),
		DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 4),
		DispatchSendTimeout: getEnvAsDuration("DISPATCH_SEND_TIMEOUT", 15*time.Second),
		DispatchClaimLease:  getEnvAsDuration("DISPATCH_CLAIM_LEASE", 5*time.Minute),
		NoChannelDelay:      getEnvAsDuration("NO_CHANNEL_DELAY", 5*time.Minute),
		RetryBaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", time.Minute),
		RetryMultiplier:     getEnvAsFloat("RETRY_MULTIPLIER", 2),
		RetryMaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", time.Hour),
		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		JobRetention:        getEnvAsDuration("JOB_RETENTION", 30*24*time.Hour),

		PlannerInterval: getEnvAsDuration("PLANNER_INTERVAL", 10*time.Minute),
		PlannerHorizon:  getEnvAsDuration("PLANNER_HORIZON", time.Hour),
		ReminderLead:    getEnvAsDuration("REMINDER_LEAD", 24*time.Hour),
		FollowupDelay:   getEnvAsDuration("FOLLOWUP_DELAY", 2*time.Hour),
		FollowupWindow:  getEnvAsDuration("FOLLOWUP_WINDOW", 30*time.Minute),

		WhatsAppBaseURL:       getEnv("WHATSAPP_BASE_URL", ""),
		WhatsAppAPIToken:      getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		WhatsAppTimeout:       getEnvAsDuration("WHATSAPP_TIMEOUT", 10*time.Second),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 40),
		WebhookTimeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		AWSRegion:             getEnv("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MediaBucket:           getEnv("MEDIA_BUCKET", ""),
		MediaURLTTL:           getEnvAsDuration("MEDIA_URL_TTL", 15*time.Minute),
		ChannelEventsQueueURL: getEnv("CHANNEL_EVENTS_QUEUE_URL", ""),
		DedupeTable:           getEnv("DEDUPE_TABLE", ""),

		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPAlertsExchange: getEnv("AMQP_ALERTS_EXCHANGE", "clinic.alerts"),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Alerts"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Clinic Alerts"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
