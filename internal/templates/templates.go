// Package templates groups similar opener messages into labeled, ranked
// templates with comparative performance metrics.
package templates

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pitchlens/pitchlens/internal/core/domain"
	"github.com/pitchlens/pitchlens/internal/core/embeddings"
	"github.com/pitchlens/pitchlens/internal/core/llm"
	"github.com/pitchlens/pitchlens/internal/platform/observability"
)

const (
	// DefaultSimilarityThreshold is the cosine similarity an opener needs
	// to the cluster seed to join the cluster.
	DefaultSimilarityThreshold = 0.82
	// DefaultMinClusterSize discards clusters smaller than this.
	DefaultMinClusterSize = 3

	// minOpenerLength filters out messages too short to be real openers.
	minOpenerLength = 50
	// maxEmbedChars truncates opener text before embedding.
	maxEmbedChars = 1000
	// maxLabelExamples caps how many openers are shown to the labeler.
	maxLabelExamples = 5
	// stampBatchSize bounds each cluster-id update statement.
	stampBatchSize = 100
)

// Repository is the persistence surface template analysis needs.
type Repository interface {
	GetColdOutreachConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	ReplaceTemplates(ctx context.Context, userID string, templates []domain.MessageTemplate) error
	SetTemplateClusterID(ctx context.Context, clusterID string, conversationIDs []string) error
	SaveOpenerEmbedding(ctx context.Context, conversationID string, vector []float32) error
	ListTemplates(ctx context.Context, userID string) ([]domain.MessageTemplate, error)
}

// Config tunes the clustering pass.
type Config struct {
	SimilarityThreshold float64
	MinClusterSize      int
}

// Analyzer runs the opener clustering and labeling pass.
type Analyzer struct {
	repo   Repository
	embed  embeddings.Client
	llm    llm.Client
	cfg    Config
	logger *zerolog.Logger
}

func New(repo Repository, embed embeddings.Client, llmClient llm.Client, cfg Config, logger *zerolog.Logger) *Analyzer {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}

	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}

	l := logger.With().Str("component", "templates").Logger()

	return &Analyzer{
		repo:   repo,
		embed:  embed,
		llm:    llmClient,
		cfg:    cfg,
		logger: &l,
	}
}

// opener is one qualifying first message with the conversation stats the
// cluster metrics need.
type opener struct {
	conversationID string
	content        string
	prospectStatus domain.ProspectStatus
	engagementRate *float64
	hasResponse    bool
	embedding      []float32
}

type cluster struct {
	id      string
	openers []opener
}

// Run executes the full template analysis for one user. Failures are caught
// here and reported as an empty result; they never propagate to the caller.
func (a *Analyzer) Run(ctx context.Context, userID, userName string) ([]domain.MessageTemplate, error) {
	templates, err := a.run(ctx, userID, userName)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("Template analysis failed, reporting empty result")

		return []domain.MessageTemplate{}, nil
	}

	return templates, nil
}

// List returns the stored templates, most promising first.
func (a *Analyzer) List(ctx context.Context, userID string) ([]domain.MessageTemplate, error) {
	return a.repo.ListTemplates(ctx, userID)
}

func (a *Analyzer) run(ctx context.Context, userID, userName string) ([]domain.MessageTemplate, error) {
	conversations, err := a.repo.GetColdOutreachConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cold outreach conversations: %w", err)
	}

	if len(conversations) == 0 {
		return []domain.MessageTemplate{}, nil
	}

	openers, err := a.extractOpeners(ctx, conversations, userName)
	if err != nil {
		return nil, err
	}

	observability.TemplateOpenersConsidered.Set(float64(len(openers)))

	if len(openers) < a.cfg.MinClusterSize {
		a.logger.Info().Int("openers", len(openers)).Msg("Not enough openers to cluster")

		return []domain.MessageTemplate{}, nil
	}

	if err := a.embedOpeners(ctx, openers); err != nil {
		return nil, err
	}

	clusters := a.clusterOpeners(openers)

	significant := clusters[:0]
	for _, c := range clusters {
		if len(c.openers) >= a.cfg.MinClusterSize {
			significant = append(significant, c)
		}
	}

	observability.TemplateClustersProduced.Set(float64(len(significant)))

	if len(significant) == 0 {
		return []domain.MessageTemplate{}, nil
	}

	templates := make([]domain.MessageTemplate, 0, len(significant))

	for _, c := range significant {
		label, err := a.labelCluster(ctx, c)
		if err != nil {
			return nil, err
		}

		t := clusterMetrics(c)
		t.UserID = userID
		t.Label = label.Label
		t.Description = label.Description

		// An unlabeled cluster keeps its first opener as the example.
		if label.Pattern != "" {
			t.PatternExample = label.Pattern
		}

		templates = append(templates, t)
	}

	if err := a.repo.ReplaceTemplates(ctx, userID, templates); err != nil {
		return nil, fmt.Errorf("replace templates: %w", err)
	}

	a.stampClusters(ctx, significant)

	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].InterestRate > templates[j].InterestRate
	})

	a.logger.Info().Int("templates", len(templates)).Str("user_id", userID).Msg("Template analysis complete")

	return templates, nil
}

// extractOpeners finds conversations whose first message was sent by the
// user and is long enough to be a real opener.
func (a *Analyzer) extractOpeners(ctx context.Context, conversations []domain.Conversation, userName string) ([]opener, error) {
	normalizedUser := strings.ToLower(strings.TrimSpace(userName))

	var openers []opener

	for _, conv := range conversations {
		messages, err := a.repo.GetMessages(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("get messages for %s: %w", conv.ID, err)
		}

		if len(messages) == 0 {
			continue
		}

		first := messages[0]

		sender := strings.ToLower(strings.TrimSpace(first.Sender))
		userSent := sender != "" && normalizedUser != "" &&
			(strings.Contains(sender, normalizedUser) || strings.Contains(normalizedUser, sender))

		if !userSent {
			continue
		}

		if len(first.Content) < minOpenerLength {
			continue
		}

		o := opener{
			conversationID: conv.ID,
			content:        first.Content,
			prospectStatus: conv.ProspectStatus,
		}

		if conv.Metrics != nil {
			rate := conv.Metrics.EngagementRate
			o.engagementRate = &rate
			o.hasResponse = conv.Metrics.TotalMessagesReceived > 0
		}

		openers = append(openers, o)
	}

	return openers, nil
}

// embedOpeners fills each opener's vector and persists it for later SQL
// inspection. The persistence write is best-effort.
func (a *Analyzer) embedOpeners(ctx context.Context, openers []opener) error {
	texts := make([]string, 0, len(openers))
	for _, o := range openers {
		texts = append(texts, truncate(o.content, maxEmbedChars))
	}

	vectors, err := a.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed openers: %w", err)
	}

	for i := range openers {
		openers[i].embedding = vectors[i]

		if err := a.repo.SaveOpenerEmbedding(ctx, openers[i].conversationID, vectors[i]); err != nil {
			a.logger.Warn().Err(err).Str("conversation_id", openers[i].conversationID).Msg("Failed to persist opener embedding")
		}
	}

	return nil
}

// clusterOpeners greedily groups openers: each unassigned opener seeds a new
// cluster and pulls in every later unassigned opener similar enough to the
// seed. Similarity is measured against the seed only, not a centroid.
func (a *Analyzer) clusterOpeners(openers []opener) []cluster {
	var clusters []cluster

	assigned := make([]bool, len(openers))

	for i := range openers {
		if assigned[i] {
			continue
		}

		c := cluster{
			id:      fmt.Sprintf("cluster_%d", len(clusters)),
			openers: []opener{openers[i]},
		}
		assigned[i] = true

		for j := i + 1; j < len(openers); j++ {
			if assigned[j] {
				continue
			}

			if CosineSimilarity(openers[i].embedding, openers[j].embedding) >= a.cfg.SimilarityThreshold {
				c.openers = append(c.openers, openers[j])
				assigned[j] = true
			}
		}

		clusters = append(clusters, c)
	}

	return clusters
}

// labelCluster asks the LLM to name a cluster from a few examples. A failed
// or malformed labeling call falls back to a generic title-cased label.
func (a *Analyzer) labelCluster(ctx context.Context, c cluster) (llm.ClusterLabel, error) {
	examples := make([]string, 0, maxLabelExamples)
	for _, o := range c.openers {
		if len(examples) == maxLabelExamples {
			break
		}

		examples = append(examples, o.content)
	}

	label, err := a.llm.LabelCluster(ctx, examples)
	if err != nil {
		a.logger.Warn().Err(err).Str("cluster_id", c.id).Msg("Cluster labeling failed, using fallback")

		label = llm.ClusterLabel{Label: cases.Title(language.English).String("unknown pattern")}
	}

	if strings.TrimSpace(label.Label) == "" {
		label.Label = cases.Title(language.English).String("unknown pattern")
	}

	return label, nil
}

// clusterMetrics aggregates the comparative performance numbers for one
// cluster. Rates are percentages rounded to two decimals.
func clusterMetrics(c cluster) domain.MessageTemplate {
	count := len(c.openers)

	var responses, interested, ghosted int

	var engagementSum float64

	var engagementCount int

	for _, o := range c.openers {
		if o.hasResponse {
			responses++
		}

		switch o.prospectStatus {
		case domain.ProspectInterested, domain.ProspectMeetingScheduled:
			interested++
		case domain.ProspectGhosted:
			ghosted++
		}

		if o.engagementRate != nil {
			engagementSum += *o.engagementRate
			engagementCount++
		}
	}

	avgEngagement := 0.0
	if engagementCount > 0 {
		avgEngagement = engagementSum / float64(engagementCount)
	}

	return domain.MessageTemplate{
		ClusterID:         c.id,
		PatternExample:    c.openers[0].content,
		ConversationCount: count,
		ResponseRate:      round2(float64(responses) / float64(count) * 100),
		InterestRate:      round2(float64(interested) / float64(count) * 100),
		GhostRate:         round2(float64(ghosted) / float64(count) * 100),
		AvgEngagement:     round2(avgEngagement),
	}
}

// stampClusters writes the cluster id onto member conversations in bounded
// batches. Stamping is best-effort.
func (a *Analyzer) stampClusters(ctx context.Context, clusters []cluster) {
	for _, c := range clusters {
		ids := make([]string, 0, len(c.openers))
		for _, o := range c.openers {
			ids = append(ids, o.conversationID)
		}

		for start := 0; start < len(ids); start += stampBatchSize {
			end := start + stampBatchSize
			if end > len(ids) {
				end = len(ids)
			}

			if err := a.repo.SetTemplateClusterID(ctx, c.id, ids[start:end]); err != nil {
				a.logger.Warn().Err(err).Str("cluster_id", c.id).Msg("Failed to stamp cluster id")
			}
		}
	}
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has no magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max]
}
