package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pitchlens/pitchlens/internal/platform/observability"
)

// Config holds OpenAI client settings.
type Config struct {
	APIKey    string
	Model     string
	RateLimit int // requests per second
}

const (
	defaultModel     = openai.GPT4oMini
	defaultRateLimit = 5
	rateLimiterBurst = 5

	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute

	// transcriptMaxMessages caps how much of a conversation is sent.
	transcriptMaxMessages = 15
	// transcriptMaxChars truncates individual messages.
	transcriptMaxChars = 500

	errRateLimiter = "rate limiter: %w"
)

// ErrCircuitBreakerOpen indicates the circuit breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// ErrEmptyResponse indicates the model returned no content.
var ErrEmptyResponse = errors.New("empty response from LLM")

type openaiClient struct {
	cfg         Config
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// NewOpenAI creates an OpenAI-backed structured-completion client.
func NewOpenAI(cfg Config, logger *zerolog.Logger) Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}

	return &openaiClient{
		cfg:         cfg,
		client:      openai.NewClient(cfg.APIKey),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)), rateLimiterBurst),
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitBreakerOpen, c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

func (c *openaiClient) AnalyzeConversation(ctx context.Context, messages []TranscriptMessage, userName string) (*Analysis, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if err := c.checkCircuit(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	transcript := formatTranscript(messages, userName)

	started := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		// omitempty drops a literal 0; the smallest nonzero value keeps
		// sampling deterministic.
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: analysisPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Conversation:\n\n" + transcript,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.LLMRequestDuration.WithLabelValues(c.cfg.Model, "analyze").Observe(time.Since(started).Seconds())

	if err != nil {
		c.recordFailure()

		return nil, fmt.Errorf("chat completion: %w", err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().Str("content", content).Msg("analysis response")

	var analysis Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	return &analysis, nil
}

func (c *openaiClient) LabelCluster(ctx context.Context, examples []string) (ClusterLabel, error) {
	fallback := ClusterLabel{Label: "Unknown Pattern"}

	if c.cfg.APIKey == "" {
		return fallback, ErrMissingAPIKey
	}

	if err := c.checkCircuit(); err != nil {
		return fallback, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fallback, fmt.Errorf(errRateLimiter, err)
	}

	started := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: labelingPrompt(examples),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.LLMRequestDuration.WithLabelValues(c.cfg.Model, "label").Observe(time.Since(started).Seconds())

	if err != nil {
		c.recordFailure()

		return fallback, fmt.Errorf("chat completion: %w", err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 {
		return fallback, nil
	}

	// Malformed labeling output falls back to a generic label instead of
	// failing the cluster.
	var label ClusterLabel
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &label); err != nil {
		c.logger.Warn().Err(err).Msg("unparseable cluster label, using fallback")

		return fallback, nil
	}

	if strings.TrimSpace(label.Label) == "" {
		label.Label = fallback.Label
	}

	return label, nil
}

// formatTranscript tags each message as [ME] or [PROSPECT] relative to the
// user's display name. Sender matching is a bidirectional substring check on
// normalized names, since exported sender names rarely match exactly.
func formatTranscript(messages []TranscriptMessage, userName string) string {
	self := strings.ToLower(strings.TrimSpace(userName))

	if len(messages) > transcriptMaxMessages {
		messages = messages[:transcriptMaxMessages]
	}

	lines := make([]string, 0, len(messages))

	for _, m := range messages {
		tag := "[PROSPECT]"
		if senderIsUser(m.Sender, self) {
			tag = "[ME]"
		}

		lines = append(lines, tag+" "+truncate(m.Content, transcriptMaxChars))
	}

	return strings.Join(lines, "\n\n")
}

func senderIsUser(sender, normalizedSelf string) bool {
	s := strings.ToLower(strings.TrimSpace(sender))
	if s == "" || normalizedSelf == "" {
		return false
	}

	return strings.Contains(s, normalizedSelf) || strings.Contains(normalizedSelf, s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max] + "..."
}
