package channels

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists channels. Implementations must make IncrementUsage and
// ResetUsage atomic on their own; the registry adds in-process serialization.
type Store interface {
	List(ctx context.Context) ([]Channel, error)
	Get(ctx context.Context, id string) (*Channel, error)
	Create(ctx context.Context, ch Channel) error
	// IncrementUsage adds one message when the channel is active and under its
	// limit, returning the updated channel or ErrQuotaExceeded.
	IncrementUsage(ctx context.Context, id string) (*Channel, error)
	UpdateStatus(ctx context.Context, id string, status Status, changedAt time.Time) error
	// ResetUsage zeroes the counter only if LastResetAt still equals prev.
	ResetUsage(ctx context.Context, id string, prev, resetAt time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps channels in a map.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Channel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Channel)}
}

func (s *MemoryStore) List(context.Context) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.items))
	for _, ch := range s.items {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.items[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[ch.ID]; exists {
		return ErrInvalidChannel
	}
	cp := ch
	s.items[ch.ID] = &cp
	return nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, id string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.items[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if !ch.Sendable() {
		return nil, ErrQuotaExceeded
	}
	ch.DailyMessageCount++
	cp := *ch
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.items[id]
	if !ok {
		return ErrChannelNotFound
	}
	ch.Status = status
	ch.StatusChangedAt = changedAt
	return nil
}

func (s *MemoryStore) ResetUsage(_ context.Context, id string, prev, resetAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.items[id]
	if !ok {
		return false, ErrChannelNotFound
	}
	if !ch.LastResetAt.Equal(prev) {
		return false, nil
	}
	ch.DailyMessageCount = 0
	ch.LastResetAt = resetAt
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrChannelNotFound
	}
	delete(s.items, id)
	return nil
}
