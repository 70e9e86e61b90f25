package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists jobs in reminder_jobs. Claims use FOR UPDATE SKIP
// LOCKED so several dispatch workers can share the table.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("reminders: db required")
	}
	return &PostgresStore{db: db, now: time.Now}
}

const jobColumns = `id, appointment_id, rule, kind, patient_name, raw_phone, phone, content, media_ref, scheduled_for, attempts, status, channel_id, provider_message_id, last_error, claimed_at, sent_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, job Job) (Job, bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	row := s.db.QueryRow(ctx, `
		INSERT INTO reminder_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (appointment_id, rule) DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.AppointmentID, job.Rule, string(job.Kind), job.PatientName, job.RawPhone, job.Phone,
		job.Content, job.MediaRef, job.ScheduledFor, job.Attempts, string(job.Status), job.ChannelID,
		job.ProviderMessageID, job.LastError, job.ClaimedAt, job.SentAt, job.CreatedAt, job.UpdatedAt,
	)
	created, err := scanJob(row)
	if err == nil {
		return *created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, fmt.Errorf("reminders: create job: %w", err)
	}

	existing, err := scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM reminder_jobs WHERE appointment_id = $1 AND rule = $2`,
		job.AppointmentID, job.Rule))
	if err != nil {
		return Job{}, false, fmt.Errorf("reminders: load existing job: %w", err)
	}
	return *existing, false, nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_jobs j
		SET status = 'sending', claimed_at = $1, updated_at = $1
		FROM (
			SELECT id FROM reminder_jobs
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) due
		WHERE j.id = due.id
		RETURNING `+prefixed("j.", jobColumns), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: claim due: %w", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("reminders: claim due: %w", err)
	}
	// RETURNING does not preserve the subquery order.
	sortFIFO(jobs)
	return jobs, nil
}

func (s *PostgresStore) ClaimByID(ctx context.Context, id uuid.UUID, now time.Time) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE reminder_jobs
		SET status = 'sending', claimed_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING `+jobColumns, now.UTC(), id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOr(ctx, id, ErrJobNotPending)
	}
	if err != nil {
		return nil, fmt.Errorf("reminders: claim %s: %w", id, err)
	}
	return job, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, channelID, providerMessageID string, attempts int, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'sent', channel_id = $1, provider_message_id = $2, attempts = $3,
			sent_at = $4, claimed_at = NULL, last_error = '', updated_at = $4
		WHERE id = $5 AND status = 'sending'`,
		channelID, providerMessageID, attempts, at.UTC(), id)
	return s.guarded(ctx, "mark sent", id, tag, err)
}

func (s *PostgresStore) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', attempts = $1, scheduled_for = $2, last_error = $3,
			claimed_at = NULL, updated_at = $4
		WHERE id = $5 AND status = 'sending'`,
		attempts, next.UTC(), lastErr, s.now().UTC(), id)
	return s.guarded(ctx, "schedule retry", id, tag, err)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed', attempts = $1, last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE id = $4 AND status = 'sending'`,
		attempts, lastErr, s.now().UTC(), id)
	return s.guarded(ctx, "mark failed", id, tag, err)
}

func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID, next time.Time, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', scheduled_for = $1, last_error = $2, claimed_at = NULL, updated_at = $3
		WHERE id = $4 AND status = 'sending'`,
		next.UTC(), reason, s.now().UTC(), id)
	return s.guarded(ctx, "requeue", id, tag, err)
}

func (s *PostgresStore) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', last_error = $1, claimed_at = NULL, updated_at = $2
		WHERE id = $3 AND status IN ('pending', 'sending')`,
		reason, s.now().UTC(), id)
	return s.guarded(ctx, "cancel", id, tag, err)
}

func (s *PostgresStore) CancelByAppointment(ctx context.Context, appointmentID string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', last_error = 'appointment cancelled', updated_at = $1
		WHERE appointment_id = $2 AND status = 'pending'`,
		s.now().UTC(), appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel by appointment: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReclaimStale(ctx context.Context, olderThan time.Time) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_jobs j
		SET claimed_at = $2, updated_at = $2
		FROM (
			SELECT id FROM reminder_jobs
			WHERE status = 'sending' AND claimed_at < $1
			FOR UPDATE SKIP LOCKED
		) stale
		WHERE j.id = stale.id
		RETURNING `+prefixed("j.", jobColumns), olderThan.UTC(), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reminders: reclaim stale: %w", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("reminders: reclaim stale: %w", err)
	}
	sortFIFO(jobs)
	return jobs, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM reminder_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reminders: get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM reminder_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR appointment_id = $2)
		ORDER BY scheduled_for ASC
		LIMIT $3`, string(filter.Status), filter.AppointmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM reminder_jobs
		WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("reminders: purge terminal: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) guarded(ctx context.Context, action string, id uuid.UUID, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("reminders: %s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, id, ErrJobNotPending)
	}
	return nil
}

// missingOr distinguishes an unknown id from a job in the wrong state.
func (s *PostgresStore) missingOr(ctx context.Context, id uuid.UUID, fallback error) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fallback
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var kind, status string
	err := row.Scan(
		&j.ID, &j.AppointmentID, &j.Rule, &kind, &j.PatientName, &j.RawPhone, &j.Phone,
		&j.Content, &j.MediaRef, &j.ScheduledFor, &j.Attempts, &status, &j.ChannelID,
		&j.ProviderMessageID, &j.LastError, &j.ClaimedAt, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("reminders: scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
