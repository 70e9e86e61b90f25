package reminders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists reminder jobs. Every transition out of sending is guarded on
// the job still being in sending, so a reclaimed job cannot be recorded twice.
type Store interface {
	// Create inserts a job unless one already exists for the same appointment
	// and rule, in which case the existing job is returned with created=false.
	Create(ctx context.Context, job Job) (Job, bool, error)
	// ClaimDue moves up to limit pending jobs due at now into sending, oldest
	// ScheduledFor first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// ClaimByID claims one pending job regardless of ScheduledFor.
	ClaimByID(ctx context.Context, id uuid.UUID, now time.Time) (*Job, error)
	MarkSent(ctx context.Context, id uuid.UUID, channelID, providerMessageID string, attempts int, at time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	// Requeue returns a claimed job to pending without consuming an attempt.
	Requeue(ctx context.Context, id uuid.UUID, next time.Time, reason string) error
	// Cancel moves a pending or sending job to cancelled.
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	CancelByAppointment(ctx context.Context, appointmentID string) (int, error)
	// ReclaimStale returns jobs stuck in sending since before olderThan. The
	// jobs stay in sending; the caller settles them through the retry path.
	ReclaimStale(ctx context.Context, olderThan time.Time) ([]Job, error)
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, filter ListFilter) ([]Job, error)
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Status        Status
	AppointmentID string
	Limit         int
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*Job), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, job Job) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.AppointmentID == job.AppointmentID && existing.Rule == job.Rule {
			return *existing, false, nil
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := job
	s.jobs[job.ID] = &stored
	return job, true, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == StatusPending && !j.ScheduledFor.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return before(*due[a], *due[b]) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		claim(j, now)
		out = append(out, *j)
	}
	return out, nil
}

func claim(j *Job, now time.Time) {
	at := now.UTC()
	j.Status = StatusSending
	j.ClaimedAt = &at
	j.UpdatedAt = at
}

func (s *MemoryStore) ClaimByID(_ context.Context, id uuid.UUID, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.Status != StatusPending {
		return nil, ErrJobNotPending
	}
	claim(j, now)
	cp := *j
	return &cp, nil
}

// sending fetches a job that must currently be claimed.
func (s *MemoryStore) sending(id uuid.UUID) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.Status != StatusSending {
		return nil, ErrJobNotPending
	}
	return j, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, channelID, providerMessageID string, attempts int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.sending(id)
	if err != nil {
		return err
	}
	sentAt := at.UTC()
	j.Status = StatusSent
	j.ChannelID = channelID
	j.ProviderMessageID = providerMessageID
	j.Attempts = attempts
	j.SentAt = &sentAt
	j.ClaimedAt = nil
	j.LastError = ""
	j.UpdatedAt = sentAt
	return nil
}

func (s *MemoryStore) ScheduleRetry(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.sending(id)
	if err != nil {
		return err
	}
	j.Status = StatusPending
	j.Attempts = attempts
	j.ScheduledFor = next.UTC()
	j.LastError = lastErr
	j.ClaimedAt = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.sending(id)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.Attempts = attempts
	j.LastError = lastErr
	j.ClaimedAt = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID, next time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.sending(id)
	if err != nil {
		return err
	}
	j.Status = StatusPending
	j.ScheduledFor = next.UTC()
	j.LastError = reason
	j.ClaimedAt = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusPending && j.Status != StatusSending {
		return ErrJobNotPending
	}
	j.Status = StatusCancelled
	j.LastError = reason
	j.ClaimedAt = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) CancelByAppointment(_ context.Context, appointmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.AppointmentID == appointmentID && j.Status == StatusPending {
			j.Status = StatusCancelled
			j.LastError = "appointment cancelled"
			j.UpdatedAt = s.now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, olderThan time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Status == StatusSending && j.ClaimedAt != nil && j.ClaimedAt.Before(olderThan) {
			at := s.now().UTC()
			j.ClaimedAt = &at
			out = append(out, *j)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.AppointmentID != "" && j.AppointmentID != filter.AppointmentID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ScheduledFor.Before(out[b].ScheduledFor) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PurgeTerminal(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func before(a, b Job) bool {
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func sortFIFO(jobs []Job) {
	sort.SliceStable(jobs, func(a, b int) bool { return before(jobs[a], jobs[b]) })
}
