package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

// AddMessage inserts an imported message.
func (db *DB) AddMessage(ctx context.Context, conversationID, sender, content string, sentAt time.Time) (string, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender, content, sent_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, toUUID(conversationID), toText(sender), toText(content), toTimestamptz(sentAt))

	var id pgtype.UUID
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}

	return fromUUID(id), nil
}

// GetMessages returns a conversation's messages in ascending sent order.
func (db *DB) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, conversation_id, sender, content, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at
	`, toUUID(conversationID))
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message

	for rows.Next() {
		var (
			id, convID      pgtype.UUID
			sender, content pgtype.Text
			sentAt          pgtype.Timestamptz
		)

		if err := rows.Scan(&id, &convID, &sender, &content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, domain.Message{
			ID:             fromUUID(id),
			ConversationID: fromUUID(convID),
			Sender:         sender.String,
			Content:        content.String,
			SentAt:         sentAt.Time,
		})
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate messages: %w", rows.Err())
	}

	return messages, nil
}
