package reschedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists requests. The Mark* methods only move forward and report
// whether the row changed.
type Store interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	// FindOpen returns the unresolved request of an appointment.
	FindOpen(ctx context.Context, appointmentID string) (*Request, error)
	AppendMessage(ctx context.Context, id uuid.UUID, text string, at time.Time) error
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkResolved(ctx context.Context, id uuid.UUID, in ResolveInput, at time.Time) (bool, error)
	// List returns requests oldest first; an empty status means unresolved.
	List(ctx context.Context, status Status) ([]Request, error)
}

// MemoryStore keeps requests in a map.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req
	s.items[req.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) FindOpen(_ context.Context, appointmentID string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Request
	for _, r := range s.items {
		if r.AppointmentID != appointmentID || r.Status == StatusResolved {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, ErrRequestNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id uuid.UUID, text string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return ErrRequestNotFound
	}
	r.MessageText = joinMessages(r.MessageText, text)
	r.UpdatedAt = at
	return nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusNotified
	r.NotifiedAt = &at
	r.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, id uuid.UUID, in ResolveInput, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if !CanTransition(r.Status, StatusResolved) {
		return false, nil
	}
	r.Status = StatusResolved
	r.Notes = in.Notes
	r.ResolvedBy = in.ResolvedBy
	r.ResolvedAt = &at
	r.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.items {
		if status == "" && r.Status == StatusResolved {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func joinMessages(existing, text string) string {
	if existing == "" {
		return text
	}
	if text == "" {
		return existing
	}
	return existing + "\n" + text
}
