package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversationsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitchlens_conversations_analyzed_total",
		Help: "The total number of conversations analyzed, by final status",
	}, []string{"status"})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitchlens_pipeline_runs_total",
		Help: "The total number of pipeline runs, by outcome",
	}, []string{"outcome"})

	PipelineStageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pitchlens_pipeline_stage_duration_seconds",
		Help:    "Duration in seconds of each pipeline stage",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	PipelineBatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pitchlens_pipeline_batch_duration_seconds",
		Help:    "Duration in seconds to process a pipeline batch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pitchlens_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "task"})

	EmbeddingRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pitchlens_embedding_request_duration_seconds",
		Help:    "Duration of embedding batch requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	TemplateClustersProduced = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pitchlens_template_clusters_produced",
		Help: "Number of opener clusters produced by the last template run",
	})

	TemplateOpenersConsidered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pitchlens_template_openers_considered",
		Help: "Number of qualifying openers fed into the last template run",
	})
)
