package channels

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var channelCols = []string{"id", "country", "display_name", "purpose", "status", "daily_message_count", "daily_limit", "last_reset_at", "status_changed_at", "created_at"}

func TestPostgresIncrementUsage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE whatsapp_channels").
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows(channelCols).AddRow("a", "BR", "Main", "reminders", "active", 6, 10, now, now, now))

	ch, err := NewPostgresStore(mock).IncrementUsage(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 6, ch.DailyMessageCount)
	assert.Equal(t, PurposeReminders, ch.Purpose)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementUsageExhausted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE whatsapp_channels").WithArgs("a").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .* FROM whatsapp_channels WHERE id").
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows(channelCols).AddRow("a", "BR", "Main", "reminders", "active", 10, 10, now, now, now))

	_, err = NewPostgresStore(mock).IncrementUsage(context.Background(), "a")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestPostgresIncrementUsageMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE whatsapp_channels").WithArgs("x").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .* FROM whatsapp_channels WHERE id").WithArgs("x").WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).IncrementUsage(context.Background(), "x")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestPostgresResetUsageIsGuarded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	prev := time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)
	next := prev.Add(24 * time.Hour)
	mock.ExpectExec("UPDATE whatsapp_channels SET daily_message_count = 0").
		WithArgs("a", prev, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewPostgresStore(mock).ResetUsage(context.Background(), "a", prev, next)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresDeleteRequiresInactive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM whatsapp_channels").WithArgs("a").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, NewPostgresStore(mock).Delete(context.Background(), "a"), ErrChannelInUse)
}

func TestPostgresUpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE whatsapp_channels SET status").
		WithArgs("a", "blocked", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, NewPostgresStore(mock).UpdateStatus(context.Background(), "a", StatusBlocked, at))
}
