package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, chans ...Channel) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	reg := NewRegistry(store, nil, nil, nil)
	reg.now = func() time.Time { return testNow }
	for _, ch := range chans {
		if ch.Purpose == "" {
			ch.Purpose = PurposeReminders
		}
		if ch.Status == "" {
			ch.Status = StatusActive
		}
		if ch.Country == "" {
			ch.Country = "BR"
		}
		if ch.LastResetAt.IsZero() {
			ch.LastResetAt = testNow
		}
		require.NoError(t, store.Create(context.Background(), ch))
	}
	return reg, store
}

func TestAllocateNeverExceedsQuotaUnderConcurrency(t *testing.T) {
	reg, store := newTestRegistry(t,
		Channel{ID: "a", DailyLimit: 7},
		Channel{ID: "b", DailyLimit: 5},
		Channel{ID: "c", DailyLimit: 3},
	)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allocated, exhausted := 0, 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Allocate(ctx, PurposeReminders, "")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrNoChannelAvailable) {
				exhausted++
				return
			}
			assert.NoError(t, err)
			allocated++
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, allocated)
	assert.Equal(t, 25, exhausted)
	all, _ := store.List(ctx)
	for _, ch := range all {
		assert.LessOrEqual(t, ch.DailyMessageCount, ch.DailyLimit, ch.ID)
		assert.Equal(t, ch.DailyLimit, ch.DailyMessageCount, ch.ID)
	}
}

func TestAllocateExhaustedOrBlocked(t *testing.T) {
	reg, _ := newTestRegistry(t,
		Channel{ID: "full", DailyLimit: 2, DailyMessageCount: 2},
		Channel{ID: "blocked", DailyLimit: 100, Status: StatusBlocked},
		Channel{ID: "warned", DailyLimit: 100, Status: StatusWarning},
		Channel{ID: "integration", DailyLimit: 100, Purpose: PurposeIntegration},
	)
	_, err := reg.Allocate(context.Background(), PurposeReminders, "")
	assert.ErrorIs(t, err, ErrNoChannelAvailable)
}

func TestAllocatePicksLowestUsageRatio(t *testing.T) {
	reg, _ := newTestRegistry(t,
		Channel{ID: "busy", DailyLimit: 10, DailyMessageCount: 5},
		Channel{ID: "quiet", DailyLimit: 100, DailyMessageCount: 10},
	)
	ch, err := reg.Allocate(context.Background(), PurposeReminders, "")
	require.NoError(t, err)
	assert.Equal(t, "quiet", ch.ID)
	assert.Equal(t, 11, ch.DailyMessageCount)
}

func TestAllocateTiesBrokenByID(t *testing.T) {
	reg, _ := newTestRegistry(t,
		Channel{ID: "z", DailyLimit: 10},
		Channel{ID: "m", DailyLimit: 10},
	)
	ch, err := reg.Allocate(context.Background(), PurposeReminders, "")
	require.NoError(t, err)
	assert.Equal(t, "m", ch.ID)
}

func TestAllocatePrefersCountryThenFallsBack(t *testing.T) {
	reg, _ := newTestRegistry(t,
		Channel{ID: "br", Country: "BR", DailyLimit: 10},
		Channel{ID: "ar", Country: "AR", DailyLimit: 10, DailyMessageCount: 8},
	)
	ctx := context.Background()

	ch, err := reg.Allocate(ctx, PurposeReminders, "ar")
	require.NoError(t, err)
	assert.Equal(t, "ar", ch.ID)

	ch, err = reg.Allocate(ctx, PurposeReminders, "AR")
	require.NoError(t, err)
	assert.Equal(t, "ar", ch.ID)

	// AR is now full, so the hint falls back to another country
	ch, err = reg.Allocate(ctx, PurposeReminders, "AR")
	require.NoError(t, err)
	assert.Equal(t, "br", ch.ID)
}

func TestRecordUsage(t *testing.T) {
	reg, store := newTestRegistry(t, Channel{ID: "a", DailyLimit: 1})
	ctx := context.Background()
	require.NoError(t, reg.RecordUsage(ctx, "a"))
	assert.ErrorIs(t, reg.RecordUsage(ctx, "a"), ErrQuotaExceeded)
	ch, _ := store.Get(ctx, "a")
	assert.Equal(t, 1, ch.DailyMessageCount)
}

func TestResetDailyCountersIdempotentWithinDay(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	reg, store := newTestRegistry(t,
		Channel{ID: "old", DailyLimit: 10, DailyMessageCount: 10, LastResetAt: yesterday},
		Channel{ID: "fresh", DailyLimit: 10, DailyMessageCount: 4},
	)
	ctx := context.Background()

	n, err := reg.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, reg.RecordUsage(ctx, "old"))
	n, err = reg.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	old, _ := store.Get(ctx, "old")
	fresh, _ := store.Get(ctx, "fresh")
	assert.Equal(t, 1, old.DailyMessageCount)
	assert.Equal(t, 4, fresh.DailyMessageCount)
}

func TestResetFollowsChannelLocalDay(t *testing.T) {
	// 02:30 UTC is still the previous evening in São Paulo (UTC-3)
	lastReset := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	reg, _ := newTestRegistry(t, Channel{ID: "br", DailyLimit: 5, DailyMessageCount: 5, LastResetAt: lastReset})
	reg.now = func() time.Time { return time.Date(2026, 3, 11, 2, 30, 0, 0, time.UTC) }

	n, err := reg.ResetDailyCounters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	reg.now = func() time.Time { return time.Date(2026, 3, 11, 3, 5, 0, 0, time.UTC) }
	n, err = reg.ResetDailyCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAllocateRollsOverLazily(t *testing.T) {
	reg, _ := newTestRegistry(t, Channel{ID: "a", DailyLimit: 3, DailyMessageCount: 3, LastResetAt: testNow.Add(-48 * time.Hour)})
	ch, err := reg.Allocate(context.Background(), PurposeReminders, "")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.DailyMessageCount)
}

func TestApplyStatusEvents(t *testing.T) {
	bus := alerts.NewBus(nil)
	defer bus.Close()
	store := NewMemoryStore()
	reg := NewRegistry(store, bus, nil, nil)
	reg.now = func() time.Time { return testNow }
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Channel{ID: "a", Country: "BR", Purpose: PurposeReminders, Status: StatusInactive, DailyLimit: 10, StatusChangedAt: testNow.Add(-time.Hour)}))

	changed, err := reg.Apply(ctx, StatusEvent{ChannelID: "a", Kind: EventConnected, OccurredAt: testNow.Add(-30 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = reg.Apply(ctx, StatusEvent{ChannelID: "a", Kind: EventBlocked, OccurredAt: testNow})
	require.NoError(t, err)
	assert.True(t, changed)

	// an event older than the block must not reactivate the channel
	changed, err = reg.Apply(ctx, StatusEvent{ChannelID: "a", Kind: EventConnected, OccurredAt: testNow.Add(-10 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, changed)

	ch, _ := store.Get(ctx, "a")
	assert.Equal(t, StatusBlocked, ch.Status)

	active := bus.Active()
	require.Len(t, active, 1)
	assert.Equal(t, alerts.TypeChannelBlocked, active[0].Type)
	assert.Equal(t, alerts.SeverityCritical, active[0].Severity)

	_, err = reg.Apply(ctx, StatusEvent{ChannelID: "a", Kind: "exploded"})
	assert.ErrorIs(t, err, ErrInvalidChannel)
	_, err = reg.Apply(ctx, StatusEvent{ChannelID: "missing", Kind: EventConnected})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestRegisterValidatesAndDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ch, err := reg.Register(ctx, Channel{Country: "br", DisplayName: "Recepção", DailyLimit: 200})
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "BR", ch.Country)
	assert.Equal(t, StatusInactive, ch.Status)
	assert.Equal(t, PurposeReminders, ch.Purpose)

	_, err = reg.Register(ctx, Channel{Country: "BR", DailyLimit: 0})
	assert.ErrorIs(t, err, ErrInvalidChannel)
	_, err = reg.Register(ctx, Channel{Country: "US", DailyLimit: 10})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestRemoveOnlyAfterDisconnect(t *testing.T) {
	reg, _ := newTestRegistry(t, Channel{ID: "a", DailyLimit: 10})
	ctx := context.Background()

	assert.ErrorIs(t, reg.Remove(ctx, "a"), ErrChannelInUse)
	require.NoError(t, reg.MarkStatus(ctx, "a", StatusInactive))
	require.NoError(t, reg.Remove(ctx, "a"))
	assert.ErrorIs(t, reg.Remove(ctx, "a"), ErrChannelNotFound)
}

func TestHealth(t *testing.T) {
	reg, _ := newTestRegistry(t,
		Channel{ID: "b", DailyLimit: 4, DailyMessageCount: 1},
		Channel{ID: "a", DailyLimit: 10, DailyMessageCount: 9, LastResetAt: testNow.Add(-24 * time.Hour)},
	)
	health, err := reg.Health(context.Background())
	require.NoError(t, err)
	require.Len(t, health, 2)
	assert.Equal(t, "a", health[0].ID)
	assert.Equal(t, 0, health[0].Used, "stale counters report as reset")
	assert.Equal(t, 3, health[1].Remaining)
	assert.InDelta(t, 0.25, health[1].UsageRatio, 0.0001)
}

// concurrentResetStore lets another allocator win the daily reset and spend
// one message before this registry's reset attempt is evaluated.
type concurrentResetStore struct {
	*MemoryStore
}

func (s *concurrentResetStore) ResetUsage(ctx context.Context, id string, prev, resetAt time.Time) (bool, error) {
	if _, err := s.MemoryStore.ResetUsage(ctx, id, prev, resetAt); err != nil {
		return false, err
	}
	if _, err := s.MemoryStore.IncrementUsage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func TestAllocateRereadsChannelWhenResetRaceIsLost(t *testing.T) {
	_, mem := newTestRegistry(t,
		Channel{ID: "a", DailyLimit: 10, DailyMessageCount: 10, LastResetAt: testNow.Add(-24 * time.Hour)},
	)
	reg := NewRegistry(&concurrentResetStore{MemoryStore: mem}, nil, nil, nil)
	reg.now = func() time.Time { return testNow }

	ch, err := reg.Allocate(context.Background(), PurposeReminders, "")
	require.NoError(t, err)
	assert.Equal(t, "a", ch.ID)
	assert.Equal(t, 2, ch.DailyMessageCount)

	stored, err := mem.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DailyMessageCount)
}
