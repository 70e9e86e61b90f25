package channels

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

// PostgresStore persists channels in the whatsapp_channels table. The guarded
// UPDATEs keep the quota invariant across processes.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("channels: db required")
	}
	return &PostgresStore{db: db}
}

const channelColumns = `id, country, display_name, purpose, status, daily_message_count, daily_limit, last_reset_at, status_changed_at, created_at`

func (s *PostgresStore) List(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.Query(ctx, `SELECT `+channelColumns+` FROM whatsapp_channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("channels: list: %w", err)
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("channels: scan: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM whatsapp_channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channels: get: %w", err)
	}
	return ch, nil
}

func (s *PostgresStore) Create(ctx context.Context, ch Channel) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO whatsapp_channels (`+channelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ch.ID, ch.Country, ch.DisplayName, string(ch.Purpose), string(ch.Status),
		ch.DailyMessageCount, ch.DailyLimit, ch.LastResetAt, ch.StatusChangedAt, ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("channels: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE whatsapp_channels
		SET daily_message_count = daily_message_count + 1
		WHERE id = $1 AND status = 'active' AND daily_message_count < daily_limit
		RETURNING `+channelColumns, id)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// distinguish a missing channel from an exhausted one
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrChannelNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("channels: increment usage: %w", err)
	}
	return ch, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, changedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE whatsapp_channels SET status = $2, status_changed_at = $3
		WHERE id = $1`, id, string(status), changedAt)
	if err != nil {
		return fmt.Errorf("channels: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (s *PostgresStore) ResetUsage(ctx context.Context, id string, prev, resetAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE whatsapp_channels SET daily_message_count = 0, last_reset_at = $3
		WHERE id = $1 AND last_reset_at = $2`, id, prev, resetAt)
	if err != nil {
		return false, fmt.Errorf("channels: reset usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM whatsapp_channels WHERE id = $1 AND status = 'inactive'`, id)
	if err != nil {
		return fmt.Errorf("channels: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelInUse
	}
	return nil
}

func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	var purpose, status string
	if err := row.Scan(
		&ch.ID, &ch.Country, &ch.DisplayName, &purpose, &status,
		&ch.DailyMessageCount, &ch.DailyLimit, &ch.LastResetAt, &ch.StatusChangedAt, &ch.CreatedAt,
	); err != nil {
		return nil, err
	}
	ch.Purpose = Purpose(purpose)
	ch.Status = Status(status)
	return &ch, nil
}
