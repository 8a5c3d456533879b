package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlens/pitchlens/internal/core/domain"
	"github.com/pitchlens/pitchlens/internal/core/llm"
)

type progressEntry struct {
	stage    domain.AnalysisStage
	progress *int
	total    *int
}

type fakeRepo struct {
	mu sync.Mutex

	conversations map[string]*domain.Conversation
	order         []string
	messages      map[string][]domain.Message

	progress       []progressEntry
	progressClear  bool
	summaryCleared bool
	globalStats    *domain.GlobalStats
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (r *fakeRepo) addConversation(id string, status domain.AnalysisStatus, messages []domain.Message) {
	r.conversations[id] = &domain.Conversation{
		ID:             id,
		UserID:         "user-1",
		Counterpart:    "Prospect " + id,
		AnalysisStatus: status,
		ProspectStatus: domain.ProspectNoResponse,
	}
	r.order = append(r.order, id)
	r.messages[id] = messages
}

func (r *fakeRepo) GetUnanalyzedConversations(_ context.Context, _ string) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Conversation

	for _, id := range r.order {
		c := r.conversations[id]
		if c.AnalysisStatus == domain.StatusPending || c.AnalysisStatus == domain.StatusAnalyzing {
			out = append(out, *c)
		}
	}

	return out, nil
}

func (r *fakeRepo) GetColdOutreachConversations(_ context.Context, _ string) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Conversation

	for _, id := range r.order {
		c := r.conversations[id]
		if c.AnalysisStatus == domain.StatusCompleted && c.IsColdOutreach != nil && *c.IsColdOutreach {
			out = append(out, *c)
		}
	}

	return out, nil
}

func (r *fakeRepo) GetMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.messages[conversationID], nil
}

func (r *fakeRepo) MarkAnalyzing(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		r.conversations[id].AnalysisStatus = domain.StatusAnalyzing
	}

	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conversations[id].AnalysisStatus = domain.StatusFailed
	r.conversations[id].AnalysisError = reason

	return nil
}

func (r *fakeRepo) MarkAnalyzingFailed(_ context.Context, _ string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conversations {
		if c.AnalysisStatus == domain.StatusAnalyzing {
			c.AnalysisStatus = domain.StatusFailed
			c.AnalysisError = reason
		}
	}

	return nil
}

func (r *fakeRepo) SaveMetrics(_ context.Context, id string, m domain.BasicMetrics, messageCount int, lastMessageAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conversations[id]
	c.Metrics = &m
	c.MessageCount = messageCount
	c.LastMessageAt = lastMessageAt

	return nil
}

func (r *fakeRepo) SaveAnalysis(_ context.Context, id string, res domain.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conversations[id]
	c.AnalysisStatus = domain.StatusCompleted
	c.IsColdOutreach = &res.IsColdOutreach
	c.ColdOutreachReasoning = res.ColdOutreachReasoning
	c.ProspectStatus = res.ProspectStatus
	c.ProspectConfidence = res.ProspectConfidence
	c.ProspectReasoning = res.ProspectReasoning
	c.Score = res.Score

	now := time.Now()
	c.AnalyzedAt = &now

	return nil
}

func (r *fakeRepo) SaveGlobalStats(_ context.Context, _ string, stats domain.GlobalStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.globalStats = &stats

	return nil
}

func (r *fakeRepo) UpsertProgress(_ context.Context, _ string, stage domain.AnalysisStage, progress, total *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = append(r.progress, progressEntry{stage: stage, progress: progress, total: total})

	return nil
}

func (r *fakeRepo) ClearProgress(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progressClear = true

	return nil
}

func (r *fakeRepo) ClearSummary(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summaryCleared = true
	r.globalStats = nil

	return nil
}

func (r *fakeRepo) GetProgress(_ context.Context, _ string) (domain.AnalysisProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.progress) == 0 {
		return domain.AnalysisProgress{}, nil
	}

	last := r.progress[len(r.progress)-1]
	stage := last.stage

	return domain.AnalysisProgress{Stage: &stage, Progress: last.progress, Total: last.total}, nil
}

func (r *fakeRepo) StatusCounts(_ context.Context, _ string) (domain.StatusReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := domain.StatusReport{Total: len(r.conversations)}

	for _, c := range r.conversations {
		switch c.AnalysisStatus {
		case domain.StatusPending:
			report.Pending++
		case domain.StatusAnalyzing:
			report.Analyzing++
		case domain.StatusCompleted:
			report.Completed++
		case domain.StatusFailed:
			report.Failed++
		}
	}

	return report, nil
}

func (r *fakeRepo) RevertAnalyzing(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conversations {
		if c.AnalysisStatus == domain.StatusAnalyzing {
			c.AnalysisStatus = domain.StatusPending
		}
	}

	return nil
}

func (r *fakeRepo) ResetConversations(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conversations {
		c.AnalysisStatus = domain.StatusPending
		c.AnalysisError = ""
		c.AnalyzedAt = nil
		c.IsColdOutreach = nil
		c.ColdOutreachReasoning = ""
		c.ProspectStatus = domain.ProspectNoResponse
		c.ProspectConfidence = nil
		c.ProspectReasoning = ""
		c.Score = nil
		c.Metrics = nil
		c.TemplateClusterID = ""
	}

	return nil
}

type fakeTemplates struct {
	calls int
	err   error
}

func (f *fakeTemplates) Run(_ context.Context, _, _ string) ([]domain.MessageTemplate, error) {
	f.calls++

	return nil, f.err
}

func coldAnalysis(status string, overall float64) *llm.Analysis {
	confidence := 0.8
	reasoning := "reasoning"
	feedback := "feedback"

	return &llm.Analysis{
		IsColdOutreach:        true,
		ColdOutreachReasoning: "user opened with a pitch",
		ProspectStatus:        &status,
		ProspectConfidence:    &confidence,
		ProspectReasoning:     &reasoning,
		OutreachScore:         &overall,
		Personalization:       &overall,
		ValueProposition:      &overall,
		CallToAction:          &overall,
		Tone:                  &overall,
		Brevity:               &overall,
		Originality:           &overall,
		Feedback:              &feedback,
	}
}

func testMessages(base time.Time) []domain.Message {
	return []domain.Message{
		{Sender: "Me", Content: "Hi, I noticed your work and wanted to reach out", SentAt: base},
		{Sender: "Them", Content: "Thanks! Tell me more", SentAt: base.Add(10 * time.Minute)},
	}
}

func newTestPipeline(repo Repository, client llm.Client, templates TemplateRunner, configured bool) *Pipeline {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	return New(repo, client, templates, Config{LLMConfigured: configured}, &logger)
}

func TestRunNoConversationsIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	tmpl := &fakeTemplates{}

	p := newTestPipeline(repo, &llm.Mock{}, tmpl, true)

	analyzed, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Zero(t, analyzed)
	assert.Empty(t, repo.progress)
	assert.Zero(t, tmpl.calls)
}

func TestRunHappyPath(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))
	repo.addConversation("c2", domain.StatusPending, testMessages(base.Add(time.Hour)))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("interested", 70), nil
		},
	}
	tmpl := &fakeTemplates{}

	p := newTestPipeline(repo, client, tmpl, true)

	analyzed, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Equal(t, 2, analyzed)

	for _, id := range []string{"c1", "c2"} {
		c := repo.conversations[id]
		assert.Equal(t, domain.StatusCompleted, c.AnalysisStatus)
		require.NotNil(t, c.IsColdOutreach)
		assert.True(t, *c.IsColdOutreach)
		assert.Equal(t, domain.ProspectInterested, c.ProspectStatus)
		require.NotNil(t, c.ProspectConfidence)
		assert.Equal(t, 80, *c.ProspectConfidence)
		require.NotNil(t, c.Score)
		assert.Equal(t, 70, c.Score.Overall)
		require.NotNil(t, c.Metrics)
		assert.NotNil(t, c.AnalyzedAt)
	}

	require.NotNil(t, repo.globalStats)
	assert.Equal(t, 2, repo.globalStats.TotalConversations)

	assert.Equal(t, 1, tmpl.calls)

	require.NotEmpty(t, repo.progress)
	assert.Equal(t, domain.StagePreparing, repo.progress[0].stage)
	assert.Equal(t, domain.StageComplete, repo.progress[len(repo.progress)-1].stage)
}

func TestRunProgressStageOrder(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("engaged", 55), nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)

	var stages []domain.AnalysisStage
	for _, e := range repo.progress {
		if len(stages) == 0 || stages[len(stages)-1] != e.stage {
			stages = append(stages, e.stage)
		}
	}

	assert.Equal(t, []domain.AnalysisStage{
		domain.StagePreparing,
		domain.StageComputingMetrics,
		domain.StageClassifyingOutreach,
		domain.StageAnalyzingProspects,
		domain.StageComputingGlobal,
		domain.StageAnalyzingTemplates,
		domain.StageComplete,
	}, stages)
}

func TestRunPerItemFailureIsolation(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("good-1", domain.StatusPending, testMessages(base))
	repo.addConversation("bad", domain.StatusPending, testMessages(base))
	repo.addConversation("good-2", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, messages []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("no_response", 40), nil
		},
	}

	// Fail exactly one conversation by content marker.
	repo.messages["bad"] = []domain.Message{
		{Sender: "Me", Content: "poison", SentAt: base},
	}
	client.AnalyzeFunc = func(_ context.Context, messages []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
		if messages[0].Content == "poison" {
			return nil, errors.New("model exploded")
		}

		return coldAnalysis("no_response", 40), nil
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, repo.conversations["good-1"].AnalysisStatus)
	assert.Equal(t, domain.StatusCompleted, repo.conversations["good-2"].AnalysisStatus)
	assert.Equal(t, domain.StatusFailed, repo.conversations["bad"].AnalysisStatus)
	assert.Contains(t, repo.conversations["bad"].AnalysisError, "model exploded")

	assert.Equal(t, domain.StageComplete, repo.progress[len(repo.progress)-1].stage)
}

func TestRunMissingCredentials(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))
	repo.addConversation("c2", domain.StatusPending, testMessages(base))

	tmpl := &fakeTemplates{}
	p := newTestPipeline(repo, &llm.Mock{}, tmpl, false)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.ErrorIs(t, err, llm.ErrMissingAPIKey)

	for _, id := range []string{"c1", "c2"} {
		c := repo.conversations[id]
		assert.Equal(t, domain.StatusFailed, c.AnalysisStatus)
		assert.Equal(t, llm.ErrMissingAPIKey.Error(), c.AnalysisError)
		// Metrics were already computed before the credential check.
		assert.NotNil(t, c.Metrics)
	}

	assert.Equal(t, domain.StageComplete, repo.progress[len(repo.progress)-1].stage)
	assert.Zero(t, tmpl.calls)
}

func TestRunDropsZeroMessageConversations(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("empty", domain.StatusPending, nil)
	repo.addConversation("full", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("engaged", 60), nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	analyzed, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Equal(t, 1, analyzed)

	assert.Equal(t, domain.StatusCompleted, repo.conversations["full"].AnalysisStatus)
	assert.Nil(t, repo.conversations["empty"].Metrics)
	assert.Equal(t, 1, client.AnalyzeCalls)
}

func TestRunResumesInterruptedConversations(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("stuck", domain.StatusAnalyzing, testMessages(base))
	repo.addConversation("done", domain.StatusCompleted, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("closed", 50), nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	analyzed, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Equal(t, 1, analyzed)
	assert.Equal(t, domain.StatusCompleted, repo.conversations["stuck"].AnalysisStatus)
	// Already-completed conversations stay untouched.
	assert.Equal(t, 1, client.AnalyzeCalls)
}

func TestRunTemplateFailureIsNonFatal(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("interested", 65), nil
		},
	}
	tmpl := &fakeTemplates{err: errors.New("clustering blew up")}

	p := newTestPipeline(repo, client, tmpl, true)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, repo.progress[len(repo.progress)-1].stage)
}

func TestRunNotColdOutreachLeavesScoreNil(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return &llm.Analysis{IsColdOutreach: false, ColdOutreachReasoning: "they messaged first"}, nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)

	c := repo.conversations["c1"]
	assert.Equal(t, domain.StatusCompleted, c.AnalysisStatus)
	require.NotNil(t, c.IsColdOutreach)
	assert.False(t, *c.IsColdOutreach)
	assert.Nil(t, c.Score)
	assert.Nil(t, c.ProspectConfidence)
	assert.Equal(t, domain.ProspectNoResponse, c.ProspectStatus)
}

func TestRunBatchesLargeSets(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	total := 37
	for i := 0; i < total; i++ {
		repo.addConversation(fmt.Sprintf("c%02d", i), domain.StatusPending, testMessages(base.Add(time.Duration(i)*time.Minute)))
	}

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("no_response", 45), nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	analyzed, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)
	assert.Equal(t, total, analyzed)
	assert.Equal(t, total, client.AnalyzeCalls)

	// Classification progress is reported after every batch of 15.
	var prospects []int
	for _, e := range repo.progress {
		if e.stage == domain.StageAnalyzingProspects && e.progress != nil {
			prospects = append(prospects, *e.progress)
		}
	}

	sort.Ints(prospects)
	assert.Equal(t, []int{15, 30, 37}, prospects)
}

func TestStop(t *testing.T) {
	repo := newFakeRepo()
	repo.addConversation("c1", domain.StatusAnalyzing, nil)
	repo.addConversation("c2", domain.StatusCompleted, nil)

	p := newTestPipeline(repo, &llm.Mock{}, &fakeTemplates{}, true)

	require.NoError(t, p.Stop(context.Background(), "user-1"))
	assert.Equal(t, domain.StatusPending, repo.conversations["c1"].AnalysisStatus)
	assert.Equal(t, domain.StatusCompleted, repo.conversations["c2"].AnalysisStatus)
	assert.True(t, repo.progressClear)
}

func TestReset(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addConversation("c1", domain.StatusPending, testMessages(base))

	client := &llm.Mock{
		AnalyzeFunc: func(_ context.Context, _ []llm.TranscriptMessage, _ string) (*llm.Analysis, error) {
			return coldAnalysis("interested", 75), nil
		},
	}

	p := newTestPipeline(repo, client, &fakeTemplates{}, true)

	_, err := p.Run(context.Background(), "user-1", "Me")
	require.NoError(t, err)

	require.NoError(t, p.Reset(context.Background(), "user-1"))

	c := repo.conversations["c1"]
	assert.Equal(t, domain.StatusPending, c.AnalysisStatus)
	assert.Nil(t, c.IsColdOutreach)
	assert.Nil(t, c.Score)
	assert.Nil(t, c.Metrics)
	assert.Equal(t, domain.ProspectNoResponse, c.ProspectStatus)
	assert.True(t, repo.summaryCleared)
	assert.Nil(t, repo.globalStats)

	// Reset is idempotent.
	require.NoError(t, p.Reset(context.Background(), "user-1"))
}

func TestStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.addConversation("c1", domain.StatusCompleted, nil)
	repo.addConversation("c2", domain.StatusFailed, nil)
	repo.addConversation("c3", domain.StatusPending, nil)

	stage := domain.StageComputingMetrics
	progress, total := 1, 3
	repo.progress = append(repo.progress, progressEntry{stage: stage, progress: &progress, total: &total})

	p := newTestPipeline(repo, &llm.Mock{}, &fakeTemplates{}, true)

	report, err := p.Status(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.IsComplete)
	require.NotNil(t, report.Stage)
	assert.Equal(t, domain.StageComputingMetrics, *report.Stage)
	assert.Equal(t, "Computing engagement metrics...", report.StageLabel)
	require.NotNil(t, report.Progress)
	assert.Equal(t, 1, *report.Progress)
}

func TestStatusCompleteWhenNothingLeft(t *testing.T) {
	repo := newFakeRepo()
	repo.addConversation("c1", domain.StatusCompleted, nil)
	repo.addConversation("c2", domain.StatusFailed, nil)

	p := newTestPipeline(repo, &llm.Mock{}, &fakeTemplates{}, true)

	report, err := p.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, report.IsComplete)
	assert.Nil(t, report.Stage)
	assert.Empty(t, report.StageLabel)
}
