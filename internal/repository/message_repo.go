package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"inboxflow/internal/model"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert copies a fetched message into the store, keyed by the provider's
// external id. Re-inserting the same message is a no-op.
func (r *MessageRepository) Upsert(ctx context.Context, userID int, m *model.InboundMessage) error {
	sql := `
        INSERT INTO inbound_messages
            (external_id, thread_id, user_id, subject, from_address, from_name,
             to_address, body, body_html, snippet, labels, attachments, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (external_id, user_id) DO NOTHING
    `

	_, err := r.db.Exec(ctx, sql,
		m.ID, m.ThreadID, userID, m.Subject, m.FromAddress, m.FromName,
		m.To, m.Body, m.BodyHTML, m.Snippet, m.Labels, m.Attachments, m.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert inbound message %s: %w", m.ID, err)
	}
	return nil
}

// FindByExternalID returns the stored copy of a message for a user, or
// pgx.ErrNoRows when the source record is missing.
func (r *MessageRepository) FindByExternalID(ctx context.Context, userID int, externalID string) (*model.InboundMessage, error) {
	sql := `
        SELECT external_id, thread_id, subject, from_address, from_name,
               to_address, body, body_html, snippet, labels, attachments, received_at
        FROM inbound_messages
        WHERE user_id = $1 AND external_id = $2
    `

	var m model.InboundMessage
	err := r.db.QueryRow(ctx, sql, userID, externalID).Scan(
		&m.ID, &m.ThreadID, &m.Subject, &m.FromAddress, &m.FromName,
		&m.To, &m.Body, &m.BodyHTML, &m.Snippet, &m.Labels, &m.Attachments, &m.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
