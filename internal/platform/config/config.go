package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"9090"`

	// LLMAPIKey is deliberately not required: runs without it fail fast at
	// the classification stage with a persisted error instead of at boot.
	LLMAPIKey         string `env:"LLM_API_KEY"`
	LLMModel          string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	LLMRateLimitRPS   int    `env:"LLM_RATE_LIMIT_RPS" envDefault:"5"`
	EmbedRateLimitRPS int    `env:"EMBED_RATE_LIMIT_RPS" envDefault:"2"`

	MetricsBatchSize  int     `env:"METRICS_BATCH_SIZE" envDefault:"20"`
	AnalysisBatchSize int     `env:"ANALYSIS_BATCH_SIZE" envDefault:"15"`
	ClusterThreshold  float64 `env:"CLUSTER_THRESHOLD" envDefault:"0.82"`
	MinClusterSize    int     `env:"MIN_CLUSTER_SIZE" envDefault:"3"`
	UserDisplayName   string  `env:"USER_DISPLAY_NAME"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
