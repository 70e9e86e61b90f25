package inbound

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/dental-crm-messaging/internal/intent"
)

// SQLStore persists messages in incoming_messages through database/sql.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("inbound: db required")
	}
	return &SQLStore{db: db}
}

const messageColumns = `id, sender_phone, sender_name, raw_text, intent, confidence, matched, appointment_id, processed, received_at, created_at`

func (s *SQLStore) Save(ctx context.Context, msg IncomingMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.SenderPhone, msg.SenderName, msg.RawText, string(msg.Intent), msg.Confidence,
		pq.Array(msg.Matched), nullString(msg.AppointmentID), msg.Processed, msg.ReceivedAt, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inbound: save message: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incoming_messages SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inbound: mark processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*IncomingMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM incoming_messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inbound: get message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]IncomingMessage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	intents := make([]string, 0, len(filter.Intents))
	for _, in := range filter.Intents {
		intents = append(intents, string(in))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM incoming_messages
		WHERE ($1 = FALSE OR appointment_id IS NULL)
		  AND (cardinality($2::text[]) = 0 OR intent = ANY($2))
		ORDER BY received_at DESC
		LIMIT $3`, filter.UnlinkedOnly, pq.Array(intents), limit)
	if err != nil {
		return nil, fmt.Errorf("inbound: list messages: %w", err)
	}
	defer rows.Close()

	var out []IncomingMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("inbound: scan message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*IncomingMessage, error) {
	var m IncomingMessage
	var in string
	var appointmentID sql.NullString
	err := row.Scan(&m.ID, &m.SenderPhone, &m.SenderName, &m.RawText, &in, &m.Confidence,
		pq.Array(&m.Matched), &appointmentID, &m.Processed, &m.ReceivedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Intent = intent.Intent(in)
	m.AppointmentID = appointmentID.String
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
