package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the CRM's appointments table.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository wraps a pgx pool or transaction.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresRepository{db: db}
}

const appointmentColumns = `id, patient_name, patient_phone, scheduled_at, status, COALESCE(procedure, ''), updated_at`

func (r *PostgresRepository) DueForReminder(ctx context.Context, window Window) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed') AND scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at ASC, id ASC`, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("appointments: due for reminder: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresRepository) FindOpenByPhone(ctx context.Context, phone string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_phone = $1 AND status IN ('scheduled', 'confirmed')
		ORDER BY scheduled_at DESC
		LIMIT 1`, phone)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("appointments: find by phone: %w", err)
	}
	return appt, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("appointments: invalid status %q", status)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET status = $2, updated_at = $3
		WHERE id = $1`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return appt, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.PatientName, &a.PatientPhone, &a.ScheduledAt, &status, &a.Procedure, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
