package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

// pendingPageSize bounds each page when collecting unanalyzed conversations.
const pendingPageSize = 1000

// globalQueryLimit caps how many conversations feed the global rollup.
const globalQueryLimit = 10000

const conversationColumns = `
	id, user_id, counterpart, message_count, last_message_at,
	analysis_status, analysis_error, analyzed_at,
	is_cold_outreach, cold_outreach_reasoning,
	prospect_status, prospect_confidence, prospect_reasoning,
	outreach_score, score_personalization, score_value_proposition,
	score_call_to_action, score_tone, score_brevity, score_originality,
	outreach_feedback, improvement_suggestions,
	engagement_rate, avg_response_time_minutes, follow_up_pressure_score,
	total_messages_sent, total_messages_received, consecutive_follow_ups,
	template_cluster_id`

// CreateConversation inserts an imported conversation in the pending state
// and returns its id.
func (db *DB) CreateConversation(ctx context.Context, userID, counterpart string) (string, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, counterpart)
		VALUES ($1, $2)
		RETURNING id
	`, toText(userID), toText(counterpart))

	var id pgtype.UUID
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	return fromUUID(id), nil
}

// GetUnanalyzedConversations returns every pending or analyzing conversation
// for the user. The set is collected page by page so a large backlog does not
// need one giant result set.
func (db *DB) GetUnanalyzedConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var all []domain.Conversation

	for offset := 0; ; offset += pendingPageSize {
		rows, err := db.Pool.Query(ctx, `
			SELECT `+conversationColumns+`
			FROM conversations
			WHERE user_id = $1 AND analysis_status IN ('pending', 'analyzing')
			ORDER BY created_at
			LIMIT $2 OFFSET $3
		`, toText(userID), pendingPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("get unanalyzed conversations: %w", err)
		}

		page, err := scanConversations(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unanalyzed conversations: %w", err)
		}

		all = append(all, page...)

		if len(page) < pendingPageSize {
			return all, nil
		}
	}
}

// GetColdOutreachConversations returns analyzed cold outreach conversations
// for the global rollup and template analysis.
func (db *DB) GetColdOutreachConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1 AND is_cold_outreach = TRUE AND analysis_status = 'completed'
		ORDER BY created_at
		LIMIT $2
	`, toText(userID), globalQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("get cold outreach conversations: %w", err)
	}

	convs, err := scanConversations(rows)
	if err != nil {
		return nil, fmt.Errorf("scan cold outreach conversations: %w", err)
	}

	return convs, nil
}

// MarkAnalyzing claims a set of conversations for the current run.
func (db *DB) MarkAnalyzing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'analyzing', updated_at = now()
		WHERE id = ANY($1)
	`, toUUIDs(ids)); err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	return nil
}

// MarkFailed records a per-conversation failure without touching the rest of
// the batch.
func (db *DB) MarkFailed(ctx context.Context, id, reason string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'failed', analysis_error = $2, updated_at = now()
		WHERE id = $1
	`, toUUID(id), toText(reason)); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	return nil
}

// MarkAnalyzingFailed fails every conversation the current run had claimed.
// Used when the run aborts wholesale, e.g. missing LLM credentials.
func (db *DB) MarkAnalyzingFailed(ctx context.Context, userID, reason string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'failed', analysis_error = $2, updated_at = now()
		WHERE user_id = $1 AND analysis_status = 'analyzing'
	`, toText(userID), toText(reason)); err != nil {
		return fmt.Errorf("mark analyzing failed: %w", err)
	}

	return nil
}

// SaveMetrics persists the computed per-conversation metrics along with the
// observed message count and recency.
func (db *DB) SaveMetrics(ctx context.Context, id string, m domain.BasicMetrics, messageCount int, lastMessageAt time.Time) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET engagement_rate = $2,
		    avg_response_time_minutes = $3,
		    follow_up_pressure_score = $4,
		    total_messages_sent = $5,
		    total_messages_received = $6,
		    consecutive_follow_ups = $7,
		    message_count = $8,
		    last_message_at = $9,
		    updated_at = now()
		WHERE id = $1
	`, toUUID(id),
		m.EngagementRate,
		toFloat8Ptr(m.AvgResponseTimeMinutes),
		m.FollowUpPressureScore,
		m.TotalMessagesSent,
		m.TotalMessagesReceived,
		m.ConsecutiveFollowUps,
		messageCount,
		toTimestamptz(lastMessageAt),
	); err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}

	return nil
}

// SaveAnalysis stores the classification outcome and completes the
// conversation. Cold-outreach-derived fields are written together or not at
// all.
func (db *DB) SaveAnalysis(ctx context.Context, id string, res domain.AnalysisResult) error {
	var (
		overall, personalization, valueProp pgtype.Int4
		callToAction, tone                  pgtype.Int4
		brevity, originality                pgtype.Int4
		feedback                            pgtype.Text
		suggestions                         []string
	)

	if res.Score != nil {
		overall = pgtype.Int4{Int32: int32(res.Score.Overall), Valid: true}
		personalization = pgtype.Int4{Int32: int32(res.Score.Personalization), Valid: true}
		valueProp = pgtype.Int4{Int32: int32(res.Score.ValueProposition), Valid: true}
		callToAction = pgtype.Int4{Int32: int32(res.Score.CallToAction), Valid: true}
		tone = pgtype.Int4{Int32: int32(res.Score.Tone), Valid: true}
		brevity = pgtype.Int4{Int32: int32(res.Score.Brevity), Valid: true}
		originality = pgtype.Int4{Int32: int32(res.Score.Originality), Valid: true}
		feedback = toText(res.Score.Feedback)
		suggestions = res.Score.Suggestions
	}

	status := res.ProspectStatus
	if status == "" {
		status = domain.ProspectNoResponse
	}

	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'completed',
		    analysis_error = NULL,
		    analyzed_at = now(),
		    is_cold_outreach = $2,
		    cold_outreach_reasoning = $3,
		    prospect_status = $4,
		    prospect_confidence = $5,
		    prospect_reasoning = $6,
		    outreach_score = $7,
		    score_personalization = $8,
		    score_value_proposition = $9,
		    score_call_to_action = $10,
		    score_tone = $11,
		    score_brevity = $12,
		    score_originality = $13,
		    outreach_feedback = $14,
		    improvement_suggestions = $15,
		    updated_at = now()
		WHERE id = $1
	`, toUUID(id),
		res.IsColdOutreach,
		toText(res.ColdOutreachReasoning),
		string(status),
		toInt4Ptr(res.ProspectConfidence),
		toText(res.ProspectReasoning),
		overall, personalization, valueProp, callToAction, tone, brevity, originality,
		feedback, suggestions,
	); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	return nil
}

// StatusCounts returns live per-status counts for the user.
func (db *DB) StatusCounts(ctx context.Context, userID string) (domain.StatusReport, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE analysis_status = 'pending'),
		       count(*) FILTER (WHERE analysis_status = 'analyzing'),
		       count(*) FILTER (WHERE analysis_status = 'completed'),
		       count(*) FILTER (WHERE analysis_status = 'failed')
		FROM conversations
		WHERE user_id = $1
	`, toText(userID))

	var report domain.StatusReport
	if err := row.Scan(&report.Total, &report.Pending, &report.Analyzing, &report.Completed, &report.Failed); err != nil {
		return domain.StatusReport{}, fmt.Errorf("status counts: %w", err)
	}

	return report, nil
}

// RevertAnalyzing returns every claimed conversation to pending. Analysis
// results already written stay in place so a later run can resume.
func (db *DB) RevertAnalyzing(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'pending', updated_at = now()
		WHERE user_id = $1 AND analysis_status = 'analyzing'
	`, toText(userID)); err != nil {
		return fmt.Errorf("revert analyzing: %w", err)
	}

	return nil
}

// ResetConversations nulls every analysis-derived field for the user and
// returns all conversations to pending. Prospect status falls back to its
// default rather than NULL.
func (db *DB) ResetConversations(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET analysis_status = 'pending',
		    analysis_error = NULL,
		    analyzed_at = NULL,
		    is_cold_outreach = NULL,
		    cold_outreach_reasoning = NULL,
		    prospect_status = 'no_response',
		    prospect_confidence = NULL,
		    prospect_reasoning = NULL,
		    outreach_score = NULL,
		    score_personalization = NULL,
		    score_value_proposition = NULL,
		    score_call_to_action = NULL,
		    score_tone = NULL,
		    score_brevity = NULL,
		    score_originality = NULL,
		    outreach_feedback = NULL,
		    improvement_suggestions = NULL,
		    engagement_rate = NULL,
		    avg_response_time_minutes = NULL,
		    follow_up_pressure_score = NULL,
		    total_messages_sent = NULL,
		    total_messages_received = NULL,
		    consecutive_follow_ups = NULL,
		    template_cluster_id = NULL,
		    opener_embedding = NULL,
		    updated_at = now()
		WHERE user_id = $1
	`, toText(userID)); err != nil {
		return fmt.Errorf("reset conversations: %w", err)
	}

	return nil
}

// SetTemplateClusterID stamps a batch of conversations with the cluster they
// were grouped into.
func (db *DB) SetTemplateClusterID(ctx context.Context, clusterID string, conversationIDs []string) error {
	if len(conversationIDs) == 0 {
		return nil
	}

	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET template_cluster_id = $1, updated_at = now()
		WHERE id = ANY($2)
	`, toText(clusterID), toUUIDs(conversationIDs)); err != nil {
		return fmt.Errorf("set template cluster id: %w", err)
	}

	return nil
}

// SaveOpenerEmbedding persists the opener vector so cluster membership can be
// inspected and re-derived in SQL.
func (db *DB) SaveOpenerEmbedding(ctx context.Context, conversationID string, vector []float32) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE conversations
		SET opener_embedding = $2, updated_at = now()
		WHERE id = $1
	`, toUUID(conversationID), pgvector.NewVector(vector)); err != nil {
		return fmt.Errorf("save opener embedding: %w", err)
	}

	return nil
}

func toUUIDs(ids []string) []pgtype.UUID {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, toUUID(id))
	}

	return out
}

type conversationRows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

func scanConversations(rows conversationRows) ([]domain.Conversation, error) {
	defer rows.Close()

	var convs []domain.Conversation

	for rows.Next() {
		var (
			id                    pgtype.UUID
			userID, counterpart   pgtype.Text
			messageCount          int
			lastMessageAt         pgtype.Timestamptz
			status                pgtype.Text
			analysisError         pgtype.Text
			analyzedAt            pgtype.Timestamptz
			isColdOutreach        pgtype.Bool
			coldOutreachReasoning pgtype.Text
			prospectStatus        pgtype.Text
			prospectConfidence    pgtype.Int4
			prospectReasoning     pgtype.Text
			overall               pgtype.Int4
			personalization       pgtype.Int4
			valueProposition      pgtype.Int4
			callToAction          pgtype.Int4
			tone                  pgtype.Int4
			brevity               pgtype.Int4
			originality           pgtype.Int4
			feedback              pgtype.Text
			suggestions           []string
			engagementRate        pgtype.Float8
			avgResponseTime       pgtype.Float8
			pressureScore         pgtype.Int4
			totalSent             pgtype.Int4
			totalReceived         pgtype.Int4
			consecutiveFollowUps  pgtype.Int4
			templateClusterID     pgtype.Text
		)

		if err := rows.Scan(
			&id, &userID, &counterpart, &messageCount, &lastMessageAt,
			&status, &analysisError, &analyzedAt,
			&isColdOutreach, &coldOutreachReasoning,
			&prospectStatus, &prospectConfidence, &prospectReasoning,
			&overall, &personalization, &valueProposition,
			&callToAction, &tone, &brevity, &originality,
			&feedback, &suggestions,
			&engagementRate, &avgResponseTime, &pressureScore,
			&totalSent, &totalReceived, &consecutiveFollowUps,
			&templateClusterID,
		); err != nil {
			return nil, err
		}

		conv := domain.Conversation{
			ID:                    fromUUID(id),
			UserID:                userID.String,
			Counterpart:           counterpart.String,
			MessageCount:          messageCount,
			AnalysisStatus:        domain.AnalysisStatus(status.String),
			AnalysisError:         analysisError.String,
			AnalyzedAt:            fromTimestamptzPtr(analyzedAt),
			ColdOutreachReasoning: coldOutreachReasoning.String,
			ProspectStatus:        domain.ProspectStatus(prospectStatus.String),
			ProspectConfidence:    fromInt4Ptr(prospectConfidence),
			ProspectReasoning:     prospectReasoning.String,
			TemplateClusterID:     templateClusterID.String,
		}

		if lastMessageAt.Valid {
			conv.LastMessageAt = lastMessageAt.Time
		}

		if isColdOutreach.Valid {
			v := isColdOutreach.Bool
			conv.IsColdOutreach = &v
		}

		if overall.Valid {
			conv.Score = &domain.OutreachScore{
				Overall:          int(overall.Int32),
				Personalization:  int(personalization.Int32),
				ValueProposition: int(valueProposition.Int32),
				CallToAction:     int(callToAction.Int32),
				Tone:             int(tone.Int32),
				Brevity:          int(brevity.Int32),
				Originality:      int(originality.Int32),
				Feedback:         feedback.String,
				Suggestions:      suggestions,
			}
		}

		if engagementRate.Valid {
			conv.Metrics = &domain.BasicMetrics{
				EngagementRate:         engagementRate.Float64,
				AvgResponseTimeMinutes: fromFloat8Ptr(avgResponseTime),
				FollowUpPressureScore:  int(pressureScore.Int32),
				TotalMessagesSent:      int(totalSent.Int32),
				TotalMessagesReceived:  int(totalReceived.Int32),
				ConsecutiveFollowUps:   int(consecutiveFollowUps.Int32),
			}
		}

		convs = append(convs, conv)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return convs, nil
}
