package appointments

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Repository is the appointment collaborator used by the messaging engine.
type Repository interface {
	// DueForReminder lists open appointments scheduled inside the window.
	DueForReminder(ctx context.Context, window Window) ([]Appointment, error)
	// FindOpenByPhone returns the most recently scheduled open appointment for a phone.
	FindOpenByPhone(ctx context.Context, phone string) (*Appointment, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Get(ctx context.Context, id string) (*Appointment, error)
}

// InMemoryRepository is a Repository backed by a map, used in development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Appointment
	now   func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		items: make(map[string]*Appointment),
		now:   time.Now,
	}
}

// Save inserts or replaces an appointment.
func (r *InMemoryRepository) Save(_ context.Context, appt Appointment) error {
	if strings.TrimSpace(appt.ID) == "" {
		return fmt.Errorf("appointments: save: id required")
	}
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	appt.UpdatedAt = r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := appt
	r.items[appt.ID] = &cp
	return nil
}

func (r *InMemoryRepository) DueForReminder(_ context.Context, window Window) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.items {
		if a.Status.Open() && window.Contains(a.ScheduledAt) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

func (r *InMemoryRepository) FindOpenByPhone(_ context.Context, phone string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Appointment
	for _, a := range r.items {
		if a.PatientPhone != phone || !a.Status.Open() {
			continue
		}
		if best == nil || a.ScheduledAt.After(best.ScheduledAt) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("appointments: invalid status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = r.now().UTC()
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
