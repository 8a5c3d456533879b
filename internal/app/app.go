// Package app wires configuration, storage, clients, and services together.
package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pitchlens/pitchlens/internal/analysis"
	"github.com/pitchlens/pitchlens/internal/core/embeddings"
	"github.com/pitchlens/pitchlens/internal/core/llm"
	"github.com/pitchlens/pitchlens/internal/httpapi"
	"github.com/pitchlens/pitchlens/internal/platform/config"
	"github.com/pitchlens/pitchlens/internal/platform/observability"
	db "github.com/pitchlens/pitchlens/internal/storage"
	"github.com/pitchlens/pitchlens/internal/templates"
)

type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger

	pipeline  *analysis.Pipeline
	templates *templates.Analyzer
}

func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	llmClient := llm.NewOpenAI(llm.Config{
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.LLMModel,
		RateLimit: cfg.LLMRateLimitRPS,
	}, logger)

	embedClient := embeddings.NewOpenAI(embeddings.OpenAIConfig{
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.EmbeddingModel,
		RateLimit: cfg.EmbedRateLimitRPS,
	})

	templateAnalyzer := templates.New(database, embedClient, llmClient, templates.Config{
		SimilarityThreshold: cfg.ClusterThreshold,
		MinClusterSize:      cfg.MinClusterSize,
	}, logger)

	pipeline := analysis.New(database, llmClient, templateAnalyzer, analysis.Config{
		MetricsBatchSize:  cfg.MetricsBatchSize,
		AnalysisBatchSize: cfg.AnalysisBatchSize,
		LLMConfigured:     cfg.LLMAPIKey != "",
	}, logger)

	return &App{
		cfg:       cfg,
		database:  database,
		logger:    logger,
		pipeline:  pipeline,
		templates: templateAnalyzer,
	}
}

// RunServer starts the API server and blocks until the context is done.
func (a *App) RunServer(ctx context.Context) error {
	engine := httpapi.NewRouter(a.pipeline, a.templates, a.logger)

	return httpapi.NewServer(engine, a.cfg.HTTPPort, a.logger).Start(ctx)
}

// StartHealthServer serves /healthz, /readyz, and /metrics.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database, a.cfg.HealthPort, a.logger).Start(ctx)
}

// RunAnalysis executes one pipeline run from the command line.
func (a *App) RunAnalysis(ctx context.Context, userID, userName string) error {
	_, err := a.pipeline.Run(ctx, userID, userName)

	return err
}

// RunTemplates executes one template analysis from the command line.
func (a *App) RunTemplates(ctx context.Context, userID, userName string) error {
	_, err := a.templates.Run(ctx, userID, userName)

	return err
}

// RunReset clears all analysis state for a user.
func (a *App) RunReset(ctx context.Context, userID string) error {
	return a.pipeline.Reset(ctx, userID)
}
