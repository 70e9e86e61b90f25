package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{"id", "appointment_id", "rule", "kind", "patient_name", "raw_phone", "phone", "content", "media_ref", "scheduled_for", "attempts", "status", "channel_id", "provider_message_id", "last_error", "claimed_at", "sent_at", "created_at", "updated_at"}

func jobRow(rows *pgxmock.Rows, id uuid.UUID, status Status, scheduled time.Time) *pgxmock.Rows {
	return rows.AddRow(id, "appt-1", RuleReminder24h, "reminder", "Maria", "11987654321", "5511987654321",
		"Olá", "", scheduled, 0, string(status), "", "", "", nil, nil, scheduled, scheduled)
}

func TestPostgresCreateReturnsExistingOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing := uuid.New()
	mock.ExpectQuery("INSERT INTO reminder_jobs").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .* FROM reminder_jobs WHERE appointment_id").
		WithArgs("appt-1", RuleReminder24h).
		WillReturnRows(jobRow(pgxmock.NewRows(jobCols), existing, StatusPending, testNow))

	job, created, err := NewPostgresStore(mock).Create(context.Background(), Job{AppointmentID: "appt-1", Rule: RuleReminder24h, Kind: KindReminder})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, job.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimDueOrdersOldestFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a, b := uuid.New(), uuid.New()
	rows := pgxmock.NewRows(jobCols)
	jobRow(rows, a, StatusSending, testNow.Add(-time.Minute))
	jobRow(rows, b, StatusSending, testNow.Add(-time.Hour))
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(testNow, 10).WillReturnRows(rows)

	jobs, err := NewPostgresStore(mock).ClaimDue(context.Background(), testNow, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b, jobs[0].ID)
	assert.Equal(t, StatusSending, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkSentIsGuarded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs("ch-1", "wamid", 1, testNow, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT .* FROM reminder_jobs WHERE id").
		WithArgs(id).
		WillReturnRows(jobRow(pgxmock.NewRows(jobCols), id, StatusCancelled, testNow))

	err = NewPostgresStore(mock).MarkSent(context.Background(), id, "ch-1", "wamid", 1, testNow)
	assert.ErrorIs(t, err, ErrJobNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimByIDMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("UPDATE reminder_jobs").WithArgs(testNow, id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .* FROM reminder_jobs WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).ClaimByID(context.Background(), id, testNow)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPostgresCancelByAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs(pgxmock.AnyArg(), "appt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := NewPostgresStore(mock).CancelByAppointment(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresPurgeTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := testNow.Add(-30 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM reminder_jobs").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := NewPostgresStore(mock).PurgeTerminal(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPrefixedColumns(t *testing.T) {
	assert.Equal(t, "j.id, j.rule", prefixed("j.", "id, rule"))
}
