package inbound

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/intent"
)

// Store records inbound messages. A message is written once and only its
// processed flag may change afterwards.
type Store interface {
	Save(ctx context.Context, msg IncomingMessage) error
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*IncomingMessage, error)
	List(ctx context.Context, filter ListFilter) ([]IncomingMessage, error)
}

// MemoryStore keeps messages in insertion order.
type MemoryStore struct {
	mu    sync.Mutex
	items []IncomingMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, msg IncomingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.items = append(s.items, msg)
	return nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Processed = true
			return nil
		}
	}
	return ErrMessageNotFound
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*IncomingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.items {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]IncomingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[intent.Intent]bool, len(filter.Intents))
	for _, in := range filter.Intents {
		wanted[in] = true
	}
	var out []IncomingMessage
	for _, m := range s.items {
		if filter.UnlinkedOnly && m.AppointmentID != "" {
			continue
		}
		if len(wanted) > 0 && !wanted[m.Intent] {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
