package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlens/pitchlens/internal/core/domain"
	"github.com/pitchlens/pitchlens/internal/core/llm"
)

type fakeAnalysis struct {
	analyzed  int
	runErr    error
	stopErr   error
	resetErr  error
	report    domain.StatusReport
	statusErr error

	lastUserID   string
	lastUserName string
	stopped      bool
	reset        bool
}

func (f *fakeAnalysis) Run(_ context.Context, userID, userName string) (int, error) {
	f.lastUserID = userID
	f.lastUserName = userName

	return f.analyzed, f.runErr
}

func (f *fakeAnalysis) Stop(_ context.Context, userID string) error {
	f.lastUserID = userID
	f.stopped = true

	return f.stopErr
}

func (f *fakeAnalysis) Reset(_ context.Context, userID string) error {
	f.lastUserID = userID
	f.reset = true

	return f.resetErr
}

func (f *fakeAnalysis) Status(_ context.Context, userID string) (domain.StatusReport, error) {
	f.lastUserID = userID

	return f.report, f.statusErr
}

type fakeTemplates struct {
	templates []domain.MessageTemplate
	runErr    error
	listErr   error

	lastUserName string
}

func (f *fakeTemplates) Run(_ context.Context, _, userName string) ([]domain.MessageTemplate, error) {
	f.lastUserName = userName

	return f.templates, f.runErr
}

func (f *fakeTemplates) List(_ context.Context, _ string) ([]domain.MessageTemplate, error) {
	return f.templates, f.listErr
}

func newTestRouter(analysis AnalysisService, templates TemplateService) *gin.Engine {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	return NewRouter(analysis, templates, &logger)
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func authed() map[string]string {
	return map[string]string{userIDHeader: "user-1"}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestMissingUserHeaderIsRejected(t *testing.T) {
	analysis := &fakeAnalysis{}
	router := newTestRouter(analysis, &fakeTemplates{})

	for _, route := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/analyze"},
		{http.MethodGet, "/api/analyze/status"},
		{http.MethodPost, "/api/analyze/stop"},
		{http.MethodPost, "/api/analyze/reset"},
		{http.MethodPost, "/api/analyze/templates"},
		{http.MethodGet, "/api/templates"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := doRequest(t, router, route.method, route.path, nil)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], userIDHeader)
		})
	}

	assert.Empty(t, analysis.lastUserID)
}

func TestRunAnalysis(t *testing.T) {
	analysis := &fakeAnalysis{analyzed: 7}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze", authed())

	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["analyzed"])
	assert.Equal(t, "user-1", analysis.lastUserID)
	// No display name header, so the user id doubles as the name.
	assert.Equal(t, "user-1", analysis.lastUserName)
}

func TestRunAnalysisPassesDisplayName(t *testing.T) {
	analysis := &fakeAnalysis{}
	router := newTestRouter(analysis, &fakeTemplates{})

	headers := authed()
	headers[userNameHeader] = "Alex Chen"

	rec := doRequest(t, router, http.MethodPost, "/api/analyze", headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alex Chen", analysis.lastUserName)
}

func TestRunAnalysisMissingCredentials(t *testing.T) {
	analysis := &fakeAnalysis{runErr: llm.ErrMissingAPIKey}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze", authed())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, llm.ErrMissingAPIKey.Error(), decode(t, rec)["error"])
}

func TestRunAnalysisInternalErrorIsOpaque(t *testing.T) {
	analysis := &fakeAnalysis{runErr: errors.New("pq: connection refused")}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze", authed())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "analysis failed", decode(t, rec)["error"])
}

func TestGetStatus(t *testing.T) {
	stage := domain.StageComputingMetrics
	progress := 40
	total := 100

	analysis := &fakeAnalysis{report: domain.StatusReport{
		Total:         100,
		Pending:       30,
		Analyzing:     30,
		Completed:     35,
		Failed:        5,
		Stage:         &stage,
		StageLabel:    domain.StageLabels[stage],
		Progress:      &progress,
		ProgressTotal: &total,
	}}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodGet, "/api/analyze/status", authed())

	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(100), body["total"])
	assert.Equal(t, float64(30), body["pending"])
	assert.Equal(t, float64(35), body["completed"])
	assert.Equal(t, float64(5), body["failed"])
	assert.Equal(t, false, body["is_complete"])
	assert.Equal(t, string(domain.StageComputingMetrics), body["stage"])
	assert.Equal(t, domain.StageLabels[stage], body["stage_label"])
	assert.Equal(t, float64(40), body["progress"])
	assert.Equal(t, float64(100), body["progress_total"])
}

func TestGetStatusIdleOmitsStageFields(t *testing.T) {
	analysis := &fakeAnalysis{report: domain.StatusReport{Total: 2, Completed: 2, IsComplete: true}}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodGet, "/api/analyze/status", authed())

	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["is_complete"])
	assert.NotContains(t, body, "stage")
	assert.NotContains(t, body, "progress")
}

func TestStopAnalysis(t *testing.T) {
	analysis := &fakeAnalysis{}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze/stop", authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, analysis.stopped)
	assert.Equal(t, true, decode(t, rec)["success"])
}

func TestResetAnalysis(t *testing.T) {
	analysis := &fakeAnalysis{}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze/reset", authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, analysis.reset)
}

func TestResetAnalysisError(t *testing.T) {
	analysis := &fakeAnalysis{resetErr: errors.New("boom")}
	router := newTestRouter(analysis, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodPost, "/api/analyze/reset", authed())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "reset failed", decode(t, rec)["error"])
}

func TestRunTemplateAnalysis(t *testing.T) {
	templates := &fakeTemplates{templates: []domain.MessageTemplate{{
		ClusterID:         "cluster_0",
		Label:             "Direct Pitch",
		PatternExample:    "Hi [NAME], I built a tool for [PROBLEM]",
		ConversationCount: 4,
		ResponseRate:      75,
		InterestRate:      50,
	}}}
	router := newTestRouter(&fakeAnalysis{}, templates)

	headers := authed()
	headers[userNameHeader] = "Alex Chen"

	rec := doRequest(t, router, http.MethodPost, "/api/analyze/templates", headers)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alex Chen", templates.lastUserName)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])

	list, ok := body["templates"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	first, ok := list[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cluster_0", first["cluster_id"])
	assert.Equal(t, "Direct Pitch", first["label"])
	assert.Equal(t, float64(50), first["interest_rate"])
}

func TestListTemplates(t *testing.T) {
	templates := &fakeTemplates{templates: []domain.MessageTemplate{
		{ClusterID: "cluster_0", Label: "Winner", InterestRate: 60},
		{ClusterID: "cluster_1", Label: "Loser", InterestRate: 10},
	}}
	router := newTestRouter(&fakeAnalysis{}, templates)

	rec := doRequest(t, router, http.MethodGet, "/api/templates", authed())

	require.Equal(t, http.StatusOK, rec.Code)

	list, ok := decode(t, rec)["templates"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestListTemplatesEmptyIsArray(t *testing.T) {
	router := newTestRouter(&fakeAnalysis{}, &fakeTemplates{})

	rec := doRequest(t, router, http.MethodGet, "/api/templates", authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"templates":[]`)
}
