package reschedule

import (
	"context"
	"errors"
	"fmt"
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

// PostgresStore persists requests in reschedule_requests.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("reschedule: db required")
	}
	return &PostgresStore{db: db}
}

const requestColumns = `id, appointment_id, patient_name, patient_phone, message_text, status, notes, resolved_by, created_at, notified_at, resolved_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, req Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reschedule_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.AppointmentID, req.PatientName, req.PatientPhone, req.MessageText, string(req.Status),
		req.Notes, req.ResolvedBy, req.CreatedAt, req.NotifiedAt, req.ResolvedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reschedule: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM reschedule_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reschedule: get: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) FindOpen(ctx context.Context, appointmentID string) (*Request, error) {
	req, err := scanRequest(s.db.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM reschedule_requests
		WHERE appointment_id = $1 AND status <> 'resolved'
		ORDER BY created_at DESC LIMIT 1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reschedule: find open: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id uuid.UUID, text string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reschedule_requests
		SET message_text = CASE WHEN message_text = '' THEN $1 ELSE message_text || E'\n' || $1 END,
			updated_at = $2
		WHERE id = $3`, text, at, id)
	if err != nil {
		return fmt.Errorf("reschedule: append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reschedule_requests SET status = 'notified', notified_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'`, at, id)
	if err != nil {
		return false, fmt.Errorf("reschedule: mark notified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id uuid.UUID, in ResolveInput, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reschedule_requests
		SET status = 'resolved', notes = $1, resolved_by = $2, resolved_at = $3, updated_at = $3
		WHERE id = $4 AND status IN ('pending', 'notified')`, in.Notes, in.ResolvedBy, at, id)
	if err != nil {
		return false, fmt.Errorf("reschedule: mark resolved: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status) ([]Request, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(ctx, `
			SELECT `+requestColumns+` FROM reschedule_requests
			WHERE status <> 'resolved'
			ORDER BY created_at ASC`)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+requestColumns+` FROM reschedule_requests
			WHERE status = $1
			ORDER BY created_at ASC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("reschedule: list: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("reschedule: scan: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var status string
	err := row.Scan(&r.ID, &r.AppointmentID, &r.PatientName, &r.PatientPhone, &r.MessageText, &status,
		&r.Notes, &r.ResolvedBy, &r.CreatedAt, &r.NotifiedAt, &r.ResolvedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}
