package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists clinic configuration as JSON in Redis.
type Store struct {
	redis    *redis.Client
	defaults func(clinicID string) *Config
	now      func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, defaults: DefaultConfig, now: time.Now}
}

// WithDefaults serves a copy of base (re-keyed to the requested clinic) until
// a config has been saved.
func (s *Store) WithDefaults(base *Config) *Store {
	if base == nil {
		return s
	}
	s.defaults = func(clinicID string) *Config {
		cp := *base
		cp.ClinicID = clinicID
		return &cp
	}
	return s
}

func (s *Store) key(clinicID string) string {
	return fmt.Sprintf("clinic:config:%s", clinicID)
}

// Get retrieves the clinic config, returning the default if none was saved.
func (s *Store) Get(ctx context.Context, clinicID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.defaults(clinicID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set validates and saves the clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.ClinicID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}

// StaticStore serves a fixed config. Used when Redis is not configured.
type StaticStore struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStaticStore(cfg *Config) *StaticStore {
	return &StaticStore{cfg: cfg}
}

func (s *StaticStore) Get(_ context.Context, clinicID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil || s.cfg.ClinicID != clinicID {
		return DefaultConfig(clinicID), nil
	}
	cp := *s.cfg
	return &cp, nil
}

func (s *StaticStore) Set(_ context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cp := *cfg
	s.mu.Lock()
	s.cfg = &cp
	s.mu.Unlock()
	return nil
}
