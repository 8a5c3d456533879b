// Package httpapi exposes the analysis operations over HTTP using Gin.
// Handlers are transport-thin: they identify the user, call the services,
// and translate results into JSON responses.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pitchlens/pitchlens/internal/core/domain"
	"github.com/pitchlens/pitchlens/internal/core/llm"
)

// AnalysisService defines the pipeline operations consumed by the handlers.
type AnalysisService interface {
	Run(ctx context.Context, userID, userName string) (int, error)
	Stop(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (domain.StatusReport, error)
}

// TemplateService defines the template operations consumed by the handlers.
type TemplateService interface {
	Run(ctx context.Context, userID, userName string) ([]domain.MessageTemplate, error)
	List(ctx context.Context, userID string) ([]domain.MessageTemplate, error)
}

type handler struct {
	analysis  AnalysisService
	templates TemplateService
	logger    *zerolog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse mirrors what the dashboard polls during a run.
type statusResponse struct {
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	Analyzing     int    `json:"analyzing"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	IsComplete    bool   `json:"is_complete"`
	Stage         string `json:"stage,omitempty"`
	StageLabel    string `json:"stage_label,omitempty"`
	Progress      *int   `json:"progress,omitempty"`
	ProgressTotal *int   `json:"progress_total,omitempty"`
}

func (h *handler) runAnalysis(c *gin.Context) {
	userID := c.GetString(userIDKey)

	analyzed, err := h.analysis.Run(c.Request.Context(), userID, userName(c))
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})

			return
		}

		h.logger.Error().Err(err).Str("user_id", userID).Msg("Analysis run failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "analysis failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "analyzed": analyzed})
}

func (h *handler) getStatus(c *gin.Context) {
	userID := c.GetString(userIDKey)

	report, err := h.analysis.Status(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Status query failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "status query failed"})

		return
	}

	resp := statusResponse{
		Total:         report.Total,
		Pending:       report.Pending,
		Analyzing:     report.Analyzing,
		Completed:     report.Completed,
		Failed:        report.Failed,
		IsComplete:    report.IsComplete,
		StageLabel:    report.StageLabel,
		Progress:      report.Progress,
		ProgressTotal: report.ProgressTotal,
	}

	if report.Stage != nil {
		resp.Stage = string(*report.Stage)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) stopAnalysis(c *gin.Context) {
	userID := c.GetString(userIDKey)

	if err := h.analysis.Stop(c.Request.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Stop failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "stop failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) resetAnalysis(c *gin.Context) {
	userID := c.GetString(userIDKey)

	if err := h.analysis.Reset(c.Request.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Reset failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "reset failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) runTemplateAnalysis(c *gin.Context) {
	userID := c.GetString(userIDKey)

	templates, err := h.templates.Run(c.Request.Context(), userID, userName(c))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Template analysis failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "template analysis failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "templates": toTemplateResponses(templates)})
}

func (h *handler) listTemplates(c *gin.Context) {
	userID := c.GetString(userIDKey)

	templates, err := h.templates.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Template listing failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "template listing failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"templates": toTemplateResponses(templates)})
}

type templateResponse struct {
	ID                string  `json:"id,omitempty"`
	ClusterID         string  `json:"cluster_id"`
	Label             string  `json:"label"`
	Description       string  `json:"description,omitempty"`
	PatternExample    string  `json:"pattern_example"`
	ConversationCount int     `json:"conversation_count"`
	ResponseRate      float64 `json:"response_rate"`
	InterestRate      float64 `json:"interest_rate"`
	GhostRate         float64 `json:"ghost_rate"`
	AvgEngagement     float64 `json:"avg_engagement"`
}

func toTemplateResponses(templates []domain.MessageTemplate) []templateResponse {
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, templateResponse{
			ID:                t.ID,
			ClusterID:         t.ClusterID,
			Label:             t.Label,
			Description:       t.Description,
			PatternExample:    t.PatternExample,
			ConversationCount: t.ConversationCount,
			ResponseRate:      t.ResponseRate,
			InterestRate:      t.InterestRate,
			GhostRate:         t.GhostRate,
			AvgEngagement:     t.AvgEngagement,
		})
	}

	return out
}

// userName resolves the display name used for sender matching. Falls back to
// the user id when the client does not send one.
func userName(c *gin.Context) string {
	if name := c.GetHeader(userNameHeader); name != "" {
		return name
	}

	return c.GetString(userIDKey)
}
