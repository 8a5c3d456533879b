// Package analysis orchestrates the staged conversation analysis run:
// metrics, LLM classification, the global rollup, and template analysis.
package analysis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pitchlens/pitchlens/internal/core/domain"
	"github.com/pitchlens/pitchlens/internal/core/llm"
	"github.com/pitchlens/pitchlens/internal/metrics"
	"github.com/pitchlens/pitchlens/internal/platform/observability"
)

const (
	defaultMetricsBatchSize  = 20
	defaultAnalysisBatchSize = 15
)

// Repository is the persistence surface the pipeline needs.
type Repository interface {
	GetUnanalyzedConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetColdOutreachConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkAnalyzing(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkAnalyzingFailed(ctx context.Context, userID, reason string) error
	SaveMetrics(ctx context.Context, id string, m domain.BasicMetrics, messageCount int, lastMessageAt time.Time) error
	SaveAnalysis(ctx context.Context, id string, res domain.AnalysisResult) error
	SaveGlobalStats(ctx context.Context, userID string, stats domain.GlobalStats) error
	UpsertProgress(ctx context.Context, userID string, stage domain.AnalysisStage, progress, total *int) error
	ClearProgress(ctx context.Context, userID string) error
	ClearSummary(ctx context.Context, userID string) error
	GetProgress(ctx context.Context, userID string) (domain.AnalysisProgress, error)
	StatusCounts(ctx context.Context, userID string) (domain.StatusReport, error)
	RevertAnalyzing(ctx context.Context, userID string) error
	ResetConversations(ctx context.Context, userID string) error
}

// TemplateRunner is the template-analysis stage, run non-fatally at the end
// of a pipeline run.
type TemplateRunner interface {
	Run(ctx context.Context, userID, userName string) ([]domain.MessageTemplate, error)
}

// Config tunes batch sizes and carries the credential flag the
// classification stage checks before spending money.
type Config struct {
	MetricsBatchSize  int
	AnalysisBatchSize int
	LLMConfigured     bool
}

// Pipeline runs the staged analysis for one user per invocation. It holds no
// per-run state; concurrent runs for the same user race on the shared
// progress row.
type Pipeline struct {
	repo      Repository
	llm       llm.Client
	templates TemplateRunner
	cfg       Config
	logger    *zerolog.Logger
}

func New(repo Repository, llmClient llm.Client, templates TemplateRunner, cfg Config, logger *zerolog.Logger) *Pipeline {
	if cfg.MetricsBatchSize <= 0 {
		cfg.MetricsBatchSize = defaultMetricsBatchSize
	}

	if cfg.AnalysisBatchSize <= 0 {
		cfg.AnalysisBatchSize = defaultAnalysisBatchSize
	}

	l := logger.With().Str("component", "analysis").Logger()

	return &Pipeline{
		repo:      repo,
		llm:       llmClient,
		templates: templates,
		cfg:       cfg,
		logger:    &l,
	}
}

// pendingConversation is a conversation that survived the metrics stage,
// with its messages cached for the classification stage.
type pendingConversation struct {
	conv     domain.Conversation
	messages []domain.Message
}

// Run executes the full staged analysis for one user. The working set is
// fixed at the moment pending conversations are queried; later imports are
// untouched by this run. Returns the number of conversations that entered
// the classification stage.
func (p *Pipeline) Run(ctx context.Context, userID, userName string) (int, error) {
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Str("user_id", userID).Logger()

	conversations, err := p.repo.GetUnanalyzedConversations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get unanalyzed conversations: %w", err)
	}

	if len(conversations) == 0 {
		logger.Info().Msg("No conversations to analyze")

		return 0, nil
	}

	total := len(conversations)
	logger.Info().Int("conversations", total).Msg("Analysis run starting")

	if err := p.setProgress(ctx, userID, domain.StagePreparing, 0, total); err != nil {
		return 0, err
	}

	ids := make([]string, 0, total)
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}

	if err := p.repo.MarkAnalyzing(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark analyzing: %w", err)
	}

	queue, err := p.runMetricsStage(ctx, userID, userName, conversations, &logger)
	if err != nil {
		observability.PipelineRuns.WithLabelValues("failed").Inc()

		return 0, err
	}

	if !p.cfg.LLMConfigured {
		// Fail-fast after metrics: every claimed conversation is marked
		// failed and the run is persisted as complete so status checks
		// don't hang on a stale stage.
		if err := p.repo.MarkAnalyzingFailed(ctx, userID, llm.ErrMissingAPIKey.Error()); err != nil {
			return 0, fmt.Errorf("mark analyzing failed: %w", err)
		}

		if err := p.clearProgressStage(ctx, userID, domain.StageComplete); err != nil {
			return 0, err
		}

		observability.PipelineRuns.WithLabelValues("failed").Inc()

		return 0, llm.ErrMissingAPIKey
	}

	if err := p.runClassificationStage(ctx, userID, userName, queue, &logger); err != nil {
		observability.PipelineRuns.WithLabelValues("failed").Inc()

		return 0, err
	}

	if err := p.runGlobalStage(ctx, userID, &logger); err != nil {
		observability.PipelineRuns.WithLabelValues("failed").Inc()

		return 0, err
	}

	// Template analysis is strictly best-effort.
	if err := p.clearProgressStage(ctx, userID, domain.StageAnalyzingTemplates); err != nil {
		return 0, err
	}

	if _, err := p.templates.Run(ctx, userID, userName); err != nil {
		logger.Error().Err(err).Msg("Template analysis failed (non-fatal)")
	}

	if err := p.clearProgressStage(ctx, userID, domain.StageComplete); err != nil {
		return 0, err
	}

	observability.PipelineRuns.WithLabelValues("success").Inc()
	logger.Info().Int("analyzed", len(queue)).Msg("Analysis run complete")

	return len(queue), nil
}

// runMetricsStage computes and persists basic metrics batch by batch.
// Conversations with no stored messages are dropped from the rest of the
// run. Fetched messages are kept for the classification stage.
func (p *Pipeline) runMetricsStage(ctx context.Context, userID, userName string, conversations []domain.Conversation, logger *zerolog.Logger) ([]pendingConversation, error) {
	total := len(conversations)

	if err := p.setProgress(ctx, userID, domain.StageComputingMetrics, 0, total); err != nil {
		return nil, err
	}

	stageStart := time.Now()

	var (
		mu    sync.Mutex
		queue []pendingConversation
	)

	for start := 0; start < total; start += p.cfg.MetricsBatchSize {
		end := start + p.cfg.MetricsBatchSize
		if end > total {
			end = total
		}

		batch := conversations[start:end]
		batchStart := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MetricsBatchSize)

		for _, conv := range batch {
			conv := conv

			g.Go(func() error {
				messages, err := p.repo.GetMessages(gctx, conv.ID)
				if err != nil {
					return fmt.Errorf("get messages for %s: %w", conv.ID, err)
				}

				if len(messages) == 0 {
					logger.Debug().Str("conversation_id", conv.ID).Msg("No messages, skipping")

					return nil
				}

				m := metrics.ComputeBasicMetrics(messages, userName)

				lastAt := messages[len(messages)-1].SentAt
				if err := p.repo.SaveMetrics(gctx, conv.ID, m, len(messages), lastAt); err != nil {
					return fmt.Errorf("save metrics for %s: %w", conv.ID, err)
				}

				mu.Lock()
				queue = append(queue, pendingConversation{conv: conv, messages: messages})
				mu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		observability.PipelineBatchDurationSeconds.Observe(time.Since(batchStart).Seconds())

		if err := p.setProgress(ctx, userID, domain.StageComputingMetrics, end, total); err != nil {
			return nil, err
		}
	}

	observability.PipelineStageDurationSeconds.WithLabelValues(string(domain.StageComputingMetrics)).Observe(time.Since(stageStart).Seconds())

	return queue, nil
}

// runClassificationStage sends each surviving conversation through one
// combined LLM call. A failed item is marked failed and the batch moves on.
func (p *Pipeline) runClassificationStage(ctx context.Context, userID, userName string, queue []pendingConversation, logger *zerolog.Logger) error {
	total := len(queue)

	if err := p.setProgress(ctx, userID, domain.StageClassifyingOutreach, 0, total); err != nil {
		return err
	}

	stageStart := time.Now()
	processed := 0

	for start := 0; start < total; start += p.cfg.AnalysisBatchSize {
		end := start + p.cfg.AnalysisBatchSize
		if end > total {
			end = total
		}

		batch := queue[start:end]
		batchStart := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.AnalysisBatchSize)

		for _, item := range batch {
			item := item

			g.Go(func() error {
				if err := p.analyzeOne(gctx, item, userName); err != nil {
					logger.Error().Err(err).Str("conversation_id", item.conv.ID).Msg("Conversation analysis failed")
					observability.ConversationsAnalyzed.WithLabelValues("failed").Inc()

					// Persisting the failure must not kill the batch.
					if markErr := p.repo.MarkFailed(gctx, item.conv.ID, err.Error()); markErr != nil {
						return fmt.Errorf("mark failed for %s: %w", item.conv.ID, markErr)
					}

					return nil
				}

				observability.ConversationsAnalyzed.WithLabelValues("completed").Inc()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		observability.PipelineBatchDurationSeconds.Observe(time.Since(batchStart).Seconds())

		processed = end
		if err := p.setProgress(ctx, userID, domain.StageAnalyzingProspects, processed, total); err != nil {
			return err
		}
	}

	observability.PipelineStageDurationSeconds.WithLabelValues(string(domain.StageClassifyingOutreach)).Observe(time.Since(stageStart).Seconds())

	return nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, item pendingConversation, userName string) error {
	transcript := make([]llm.TranscriptMessage, 0, len(item.messages))
	for _, m := range item.messages {
		transcript = append(transcript, llm.TranscriptMessage{
			Sender:  m.Sender,
			Content: m.Content,
			SentAt:  m.SentAt,
		})
	}

	analysis, err := p.llm.AnalyzeConversation(ctx, transcript, userName)
	if err != nil {
		return err
	}

	return p.repo.SaveAnalysis(ctx, item.conv.ID, toResult(analysis))
}

// toResult converts a validated LLM analysis into the persisted shape.
// Confidence moves from the model's 0-1 scale to a stored 0-100 integer.
func toResult(a *llm.Analysis) domain.AnalysisResult {
	res := domain.AnalysisResult{
		IsColdOutreach:        a.IsColdOutreach,
		ColdOutreachReasoning: a.ColdOutreachReasoning,
		ProspectStatus:        domain.ProspectNoResponse,
	}

	if !a.IsColdOutreach {
		return res
	}

	res.ProspectStatus = domain.ProspectStatus(*a.ProspectStatus)
	confidence := int(math.Round(*a.ProspectConfidence * 100))
	res.ProspectConfidence = &confidence

	if a.ProspectReasoning != nil {
		res.ProspectReasoning = *a.ProspectReasoning
	}

	score := &domain.OutreachScore{
		Overall:          int(math.Round(*a.OutreachScore)),
		Personalization:  int(math.Round(*a.Personalization)),
		ValueProposition: int(math.Round(*a.ValueProposition)),
		CallToAction:     int(math.Round(*a.CallToAction)),
		Tone:             int(math.Round(*a.Tone)),
		Brevity:          int(math.Round(*a.Brevity)),
		Originality:      int(math.Round(*a.Originality)),
		Suggestions:      a.Suggestions,
	}

	if a.Feedback != nil {
		score.Feedback = *a.Feedback
	}

	res.Score = score

	return res
}

// runGlobalStage recomputes the cross-conversation rollup from every
// completed cold outreach conversation.
func (p *Pipeline) runGlobalStage(ctx context.Context, userID string, logger *zerolog.Logger) error {
	if err := p.clearProgressStage(ctx, userID, domain.StageComputingGlobal); err != nil {
		return err
	}

	stageStart := time.Now()

	conversations, err := p.repo.GetColdOutreachConversations(ctx, userID)
	if err != nil {
		return fmt.Errorf("get cold outreach conversations: %w", err)
	}

	if len(conversations) == 0 {
		logger.Info().Msg("No cold outreach conversations, skipping global rollup")

		return nil
	}

	stats := make([]metrics.ConversationStats, 0, len(conversations))
	for _, c := range conversations {
		stats = append(stats, toStats(c))
	}

	global := metrics.ComputeGlobalAnalytics(stats)
	global.HotProspects = metrics.HotProspects(stats, metrics.DefaultHotProspectLimit)

	if err := p.repo.SaveGlobalStats(ctx, userID, global); err != nil {
		return fmt.Errorf("save global stats: %w", err)
	}

	observability.PipelineStageDurationSeconds.WithLabelValues(string(domain.StageComputingGlobal)).Observe(time.Since(stageStart).Seconds())

	return nil
}

func toStats(c domain.Conversation) metrics.ConversationStats {
	s := metrics.ConversationStats{
		ID:             c.ID,
		ProspectStatus: c.ProspectStatus,
		LastMessageAt:  c.LastMessageAt,
	}

	if c.Metrics != nil {
		rate := c.Metrics.EngagementRate
		s.EngagementRate = &rate
		s.AvgResponseTimeMinutes = c.Metrics.AvgResponseTimeMinutes
		s.ConsecutiveFollowUps = c.Metrics.ConsecutiveFollowUps
		s.TotalMessagesReceived = c.Metrics.TotalMessagesReceived
	}

	if c.Score != nil {
		overall := c.Score.Overall
		s.OutreachScoreOverall = &overall
	}

	return s
}

// Stop reverts every claimed conversation to pending and clears the progress
// record. It is cooperative: calls already in flight in a live run still
// finish writing their results.
func (p *Pipeline) Stop(ctx context.Context, userID string) error {
	if err := p.repo.RevertAnalyzing(ctx, userID); err != nil {
		return fmt.Errorf("stop: %w", err)
	}

	if err := p.repo.ClearProgress(ctx, userID); err != nil {
		return fmt.Errorf("stop: %w", err)
	}

	p.logger.Info().Str("user_id", userID).Msg("Analysis stopped")

	return nil
}

// Reset forces every conversation back to pending with all analysis-derived
// fields nulled, and removes the summary record.
func (p *Pipeline) Reset(ctx context.Context, userID string) error {
	if err := p.repo.ResetConversations(ctx, userID); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	if err := p.repo.ClearSummary(ctx, userID); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	p.logger.Info().Str("user_id", userID).Msg("Analysis reset")

	return nil
}

// Status reports live per-status counts plus the last persisted stage.
func (p *Pipeline) Status(ctx context.Context, userID string) (domain.StatusReport, error) {
	report, err := p.repo.StatusCounts(ctx, userID)
	if err != nil {
		return domain.StatusReport{}, err
	}

	progress, err := p.repo.GetProgress(ctx, userID)
	if err != nil {
		return domain.StatusReport{}, err
	}

	report.IsComplete = report.Pending == 0 && report.Analyzing == 0
	report.Stage = progress.Stage
	report.Progress = progress.Progress
	report.ProgressTotal = progress.Total

	if progress.Stage != nil {
		report.StageLabel = domain.StageLabels[*progress.Stage]
	}

	return report, nil
}

func (p *Pipeline) setProgress(ctx context.Context, userID string, stage domain.AnalysisStage, progress, total int) error {
	if err := p.repo.UpsertProgress(ctx, userID, stage, &progress, &total); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	return nil
}

func (p *Pipeline) clearProgressStage(ctx context.Context, userID string, stage domain.AnalysisStage) error {
	if err := p.repo.UpsertProgress(ctx, userID, stage, nil, nil); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	return nil
}
