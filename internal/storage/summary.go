package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

// UpsertProgress writes the per-user stage/progress record. It is a single
// upserted row with no versioning; concurrent runs for the same user
// overwrite each other.
func (db *DB) UpsertProgress(ctx context.Context, userID string, stage domain.AnalysisStage, progress, total *int) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO analytics_summary (user_id, stage, progress, progress_total, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET stage = EXCLUDED.stage,
		    progress = EXCLUDED.progress,
		    progress_total = EXCLUDED.progress_total,
		    updated_at = now()
	`, toText(userID), string(stage), toInt4Ptr(progress), toInt4Ptr(total)); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}

	return nil
}

// GetProgress returns the last persisted stage and counters, or an empty
// record if no run has been recorded.
func (db *DB) GetProgress(ctx context.Context, userID string) (domain.AnalysisProgress, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT stage, progress, progress_total
		FROM analytics_summary
		WHERE user_id = $1
	`, toText(userID))

	var (
		stage           pgtype.Text
		progress, total pgtype.Int4
	)

	if err := row.Scan(&stage, &progress, &total); err != nil {
		if isNoRows(err) {
			return domain.AnalysisProgress{}, nil
		}

		return domain.AnalysisProgress{}, fmt.Errorf("get progress: %w", err)
	}

	var result domain.AnalysisProgress

	if stage.Valid {
		s := domain.AnalysisStage(stage.String)
		result.Stage = &s
	}

	result.Progress = fromInt4Ptr(progress)
	result.Total = fromInt4Ptr(total)

	return result, nil
}

// SaveGlobalStats persists the cross-conversation rollup alongside the
// progress record.
func (db *DB) SaveGlobalStats(ctx context.Context, userID string, stats domain.GlobalStats) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO analytics_summary (
			user_id, total_conversations, response_rate, avg_response_time_minutes,
			total_follow_ups, avg_engagement_rate, avg_outreach_score,
			market_pull_score, hot_prospects, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id) DO UPDATE
		SET total_conversations = EXCLUDED.total_conversations,
		    response_rate = EXCLUDED.response_rate,
		    avg_response_time_minutes = EXCLUDED.avg_response_time_minutes,
		    total_follow_ups = EXCLUDED.total_follow_ups,
		    avg_engagement_rate = EXCLUDED.avg_engagement_rate,
		    avg_outreach_score = EXCLUDED.avg_outreach_score,
		    market_pull_score = EXCLUDED.market_pull_score,
		    hot_prospects = EXCLUDED.hot_prospects,
		    updated_at = now()
	`, toText(userID),
		stats.TotalConversations,
		stats.ResponseRate,
		toFloat8Ptr(stats.AvgResponseTimeMinutes),
		stats.TotalFollowUps,
		stats.AvgEngagementRate,
		toFloat8Ptr(stats.AvgOutreachScore),
		stats.MarketPullScore,
		stats.HotProspects,
	); err != nil {
		return fmt.Errorf("save global stats: %w", err)
	}

	return nil
}

// GetGlobalStats returns the persisted rollup, or a zero value if none.
func (db *DB) GetGlobalStats(ctx context.Context, userID string) (domain.GlobalStats, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT total_conversations, response_rate, avg_response_time_minutes,
		       total_follow_ups, avg_engagement_rate, avg_outreach_score,
		       market_pull_score, hot_prospects
		FROM analytics_summary
		WHERE user_id = $1
	`, toText(userID))

	var (
		stats           domain.GlobalStats
		avgResponseTime pgtype.Float8
		avgScore        pgtype.Float8
	)

	if err := row.Scan(
		&stats.TotalConversations,
		&stats.ResponseRate,
		&avgResponseTime,
		&stats.TotalFollowUps,
		&stats.AvgEngagementRate,
		&avgScore,
		&stats.MarketPullScore,
		&stats.HotProspects,
	); err != nil {
		if isNoRows(err) {
			return domain.GlobalStats{}, nil
		}

		return domain.GlobalStats{}, fmt.Errorf("get global stats: %w", err)
	}

	stats.AvgResponseTimeMinutes = fromFloat8Ptr(avgResponseTime)
	stats.AvgOutreachScore = fromFloat8Ptr(avgScore)

	return stats, nil
}

// ClearProgress nulls the stage and counters while keeping any persisted
// rollup in place. Used by stop, which must not erase prior analytics.
func (db *DB) ClearProgress(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE analytics_summary
		SET stage = NULL, progress = NULL, progress_total = NULL, updated_at = now()
		WHERE user_id = $1
	`, toText(userID)); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}

	return nil
}

// ClearSummary removes the user's progress and rollup record entirely.
func (db *DB) ClearSummary(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx, `
		DELETE FROM analytics_summary WHERE user_id = $1
	`, toText(userID)); err != nil {
		return fmt.Errorf("clear summary: %w", err)
	}

	return nil
}
