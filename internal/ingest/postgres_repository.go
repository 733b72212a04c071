package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/message-router/internal/routing"
)

const createTable = `
CREATE TABLE IF NOT EXISTS inbound_messages (
id TEXT PRIMARY KEY,
message_key TEXT NOT NULL UNIQUE,
owner TEXT NOT NULL,
chat_id TEXT NOT NULL,
sender TEXT NOT NULL,
content_type TEXT NOT NULL,
body TEXT NOT NULL DEFAULT '',
status TEXT NOT NULL,
status_detail TEXT NOT NULL DEFAULT '',
first_contact BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMPTZ NOT NULL,
updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS inbound_messages_sender_idx ON inbound_messages (owner, sender);
`

const senderSeen = `
SELECT EXISTS (SELECT 1 FROM inbound_messages WHERE owner = $1 AND sender = $2)
`

const insertMessage = `
INSERT INTO inbound_messages (
id,
message_key,
owner,
chat_id,
sender,
content_type,
body,
status,
first_contact,
created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (message_key) DO NOTHING
RETURNING id, message_key, owner, chat_id, sender, content_type, body, status, first_contact, created_at
`

const selectMessage = `
SELECT id, message_key, owner, chat_id, sender, content_type, body, status, first_contact, created_at
FROM inbound_messages
WHERE message_key = $1
`

const updateStatus = `
UPDATE inbound_messages SET status = $2, status_detail = $3, updated_at = now()
WHERE message_key = $1
`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the inbound_messages table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateMessage(ctx context.Context, msg InboundMessage) (InboundMessage, bool, error) {
	var seen bool
	if err := r.pool.QueryRow(ctx, senderSeen, msg.Owner, msg.Sender).Scan(&seen); err != nil {
		return InboundMessage{}, false, fmt.Errorf("check sender history: %w", err)
	}
	msg.FirstContact = !seen

	row := r.pool.QueryRow(ctx, insertMessage,
		msg.ID,
		msg.MessageKey,
		msg.Owner,
		msg.ChatID,
		msg.Sender,
		string(msg.ContentType),
		msg.Body,
		string(msg.Status),
		msg.FirstContact,
		msg.CreatedAt,
	)

	inserted := true
	saved, err := scanMessage(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return InboundMessage{}, false, fmt.Errorf("insert message: %w", err)
		}
		inserted = false
		saved, err = scanMessage(r.pool.QueryRow(ctx, selectMessage, msg.MessageKey))
		if err != nil {
			return InboundMessage{}, false, fmt.Errorf("fetch existing message: %w", err)
		}
	}
	return saved, !inserted, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, messageKey string, status Status, detail string) error {
	tag, err := r.pool.Exec(ctx, updateStatus, messageKey, string(status), detail)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update message status: %s not found", messageKey)
	}
	return nil
}

func scanMessage(row pgx.Row) (InboundMessage, error) {
	var (
		msg         InboundMessage
		contentType string
		status      string
		createdAt   time.Time
	)
	if err := row.Scan(
		&msg.ID,
		&msg.MessageKey,
		&msg.Owner,
		&msg.ChatID,
		&msg.Sender,
		&contentType,
		&msg.Body,
		&status,
		&msg.FirstContact,
		&createdAt,
	); err != nil {
		return InboundMessage{}, err
	}
	msg.ContentType = routing.ContentType(contentType)
	msg.Status = Status(status)
	msg.CreatedAt = createdAt
	return msg, nil
}
