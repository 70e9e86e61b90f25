package clinic

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIsOpenAt(t *testing.T) {
	cfg := DefaultConfig("sp")
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"tuesday morning", time.Date(2026, 3, 10, 9, 0, 0, 0, loc), true},
		{"tuesday before opening", time.Date(2026, 3, 10, 7, 59, 0, 0, loc), false},
		{"tuesday at closing", time.Date(2026, 3, 10, 18, 0, 0, 0, loc), false},
		{"saturday morning", time.Date(2026, 3, 14, 10, 0, 0, 0, loc), true},
		{"saturday afternoon", time.Date(2026, 3, 14, 13, 0, 0, 0, loc), false},
		{"sunday", time.Date(2026, 3, 15, 10, 0, 0, 0, loc), false},
		// 11:30 UTC is 08:30 in São Paulo
		{"utc input", time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.IsOpenAt(tt.at))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig("sp").Validate())

	cfg := DefaultConfig("sp")
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("sp")
	cfg.Country = "US"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("")
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("sp")
	cfg.Chairs = -1
	assert.Error(t, cfg.Validate())
}

func TestNormalizerUsesClinicDefaults(t *testing.T) {
	cfg := DefaultConfig("sp")
	got, err := cfg.Normalizer().Normalize("11987654321")
	require.NoError(t, err)
	assert.Equal(t, "5511987654321", got)
}

func TestStoreFallsBackToDefault(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	cfg, err := store.Get(context.Background(), "sp")
	require.NoError(t, err)
	assert.Equal(t, "sp", cfg.ClinicID)
	assert.Equal(t, "America/Sao_Paulo", cfg.Timezone)
}

func TestStoreServesSeededDefaults(t *testing.T) {
	base := DefaultConfig("seed")
	base.Name = "Sorriso Paulista"
	store := NewStore(setupTestRedis(t)).WithDefaults(base)

	cfg, err := store.Get(context.Background(), "sp")
	require.NoError(t, err)
	assert.Equal(t, "sp", cfg.ClinicID)
	assert.Equal(t, "Sorriso Paulista", cfg.Name)
	assert.Equal(t, "seed", base.ClinicID)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	cfg := DefaultConfig("bsas")
	cfg.Country = "AR"
	cfg.CountryCode = "54"
	cfg.Timezone = "America/Argentina/Buenos_Aires"
	cfg.StaffEmails = []string{"recepcion@clinica.ar"}
	require.NoError(t, store.Set(ctx, cfg))

	got, err := store.Get(ctx, "bsas")
	require.NoError(t, err)
	assert.Equal(t, "AR", got.Country)
	assert.Equal(t, []string{"recepcion@clinica.ar"}, got.StaffEmails)
	assert.Equal(t, fixed, got.UpdatedAt)
}

func TestStoreRejectsInvalid(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	cfg := DefaultConfig("sp")
	cfg.Timezone = "nowhere"
	assert.Error(t, store.Set(context.Background(), cfg))
}
