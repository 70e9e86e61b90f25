package events

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryTracker keeps claimed ids in a TTL cache. Replays older than the TTL
// are treated as new, which bounds memory for single-instance deployments.
type MemoryTracker struct {
	cache *gocache.Cache
}

// NewMemoryTracker remembers ids for ttl, sweeping expired entries every ttl/2.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryTracker{cache: gocache.New(ttl, ttl/2)}
}

func (t *MemoryTracker) Claim(_ context.Context, source, eventID string) (bool, error) {
	// Add fails when the key exists, which makes the claim atomic
	if err := t.cache.Add(source+":"+eventID, struct{}{}, gocache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (t *MemoryTracker) Release(_ context.Context, source, eventID string) error {
	t.cache.Delete(source + ":" + eventID)
	return nil
}
