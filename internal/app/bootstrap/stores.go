package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	appconfig "github.com/wolfman30/dental-crm-messaging/internal/config"
	"github.com/wolfman30/dental-crm-messaging/internal/events"
	"github.com/wolfman30/dental-crm-messaging/internal/inbound"
	"github.com/wolfman30/dental-crm-messaging/internal/reminders"
	"github.com/wolfman30/dental-crm-messaging/internal/reschedule"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

const dedupeTTL = 24 * time.Hour

// Stores groups the persistence backends. Either all of them are Postgres or
// all of them are in memory.
type Stores struct {
	Channels     channels.Store
	Appointments appointments.Repository
	Reminders    reminders.Store
	Reschedule   reschedule.Store
	Inbound      inbound.Store
	Tracker      events.Tracker
	Persistent   bool

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// Close releases database connections.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}

// Ping checks the database connections. In-memory stores are always ready.
func (s *Stores) Ping(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.sqlDB != nil {
		if err := s.sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("sql: %w", err)
		}
	}
	return nil
}

// Pool returns the pgx pool, nil for in-memory stores.
func (s *Stores) Pool() *pgxpool.Pool {
	return s.pool
}

// BuildStores connects to Postgres when DATABASE_URL is set and falls back to
// in-memory stores otherwise.
func BuildStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Stores, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return MemoryStores(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	// the inbound store uses database/sql with the lib/pq driver
	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info("postgres stores enabled")
	return &Stores{
		Channels:     channels.NewPostgresStore(pool),
		Appointments: appointments.NewPostgresRepository(pool),
		Reminders:    reminders.NewPostgresStore(pool),
		Reschedule:   reschedule.NewPostgresStore(pool),
		Inbound:      inbound.NewSQLStore(sqlDB),
		Tracker:      events.NewProcessedStore(pool),
		Persistent:   true,
		pool:         pool,
		sqlDB:        sqlDB,
	}, nil
}

// MemoryStores returns process-local stores for development and tests.
func MemoryStores() *Stores {
	return &Stores{
		Channels:     channels.NewMemoryStore(),
		Appointments: appointments.NewInMemoryRepository(),
		Reminders:    reminders.NewMemoryStore(),
		Reschedule:   reschedule.NewMemoryStore(),
		Inbound:      inbound.NewMemoryStore(),
		Tracker:      events.NewMemoryTracker(dedupeTTL),
	}
}
