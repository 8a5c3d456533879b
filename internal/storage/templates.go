package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

// ReplaceTemplates atomically swaps the user's template set for a freshly
// computed one. Every template run fully recomputes, so the old rows carry
// no information worth merging.
func (db *DB) ReplaceTemplates(ctx context.Context, userID string, templates []domain.MessageTemplate) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace templates: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM message_templates WHERE user_id = $1`, toText(userID)); err != nil {
		return fmt.Errorf("delete templates: %w", err)
	}

	for _, t := range templates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_templates (
				user_id, cluster_id, label, description, pattern_example,
				conversation_count, response_rate, interest_rate, ghost_rate, avg_engagement
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, toText(userID), toText(t.ClusterID), toText(t.Label), toText(t.Description), toText(t.PatternExample),
			t.ConversationCount, t.ResponseRate, t.InterestRate, t.GhostRate, t.AvgEngagement,
		); err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace templates: %w", err)
	}

	return nil
}

// ListTemplates returns the user's templates ordered by interest rate, most
// promising first.
func (db *DB) ListTemplates(ctx context.Context, userID string) ([]domain.MessageTemplate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, cluster_id, label, description, pattern_example,
		       conversation_count, response_rate, interest_rate, ghost_rate, avg_engagement
		FROM message_templates
		WHERE user_id = $1
		ORDER BY interest_rate DESC, conversation_count DESC
	`, toText(userID))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.MessageTemplate

	for rows.Next() {
		var (
			id                          pgtype.UUID
			uid, clusterID, label       pgtype.Text
			description, patternExample pgtype.Text
			conversationCount           int
			responseRate, interestRate  float64
			ghostRate, avgEngagement    float64
		)

		if err := rows.Scan(
			&id, &uid, &clusterID, &label, &description, &patternExample,
			&conversationCount, &responseRate, &interestRate, &ghostRate, &avgEngagement,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}

		templates = append(templates, domain.MessageTemplate{
			ID:                fromUUID(id),
			UserID:            uid.String,
			ClusterID:         clusterID.String,
			Label:             label.String,
			Description:       description.String,
			PatternExample:    patternExample.String,
			ConversationCount: conversationCount,
			ResponseRate:      responseRate,
			InterestRate:      interestRate,
			GhostRate:         ghostRate,
			AvgEngagement:     avgEngagement,
		})
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate templates: %w", rows.Err())
	}

	return templates, nil
}
