// Package llm wraps the structured-completion calls used by the analysis
// pipeline: combined conversation analysis and template-cluster labeling.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

// TranscriptMessage is one message of the conversation sent for analysis.
type TranscriptMessage struct {
	Sender  string
	Content string
	SentAt  time.Time
}

// Analysis is the combined result of one structured-completion call. The
// prospect/outreach fields are only populated when IsColdOutreach is true.
type Analysis struct {
	IsColdOutreach        bool     `json:"is_cold_outreach"`
	ColdOutreachReasoning string   `json:"cold_outreach_reasoning"`
	ProspectStatus        *string  `json:"prospect_status"`
	ProspectConfidence    *float64 `json:"prospect_status_confidence"`
	ProspectReasoning     *string  `json:"prospect_status_reasoning"`
	OutreachScore         *float64 `json:"outreach_score"`
	Personalization       *float64 `json:"outreach_personalization"`
	ValueProposition      *float64 `json:"outreach_value_proposition"`
	CallToAction          *float64 `json:"outreach_call_to_action"`
	Tone                  *float64 `json:"outreach_tone"`
	Brevity               *float64 `json:"outreach_brevity"`
	Originality           *float64 `json:"outreach_originality"`
	Feedback              *string  `json:"outreach_feedback"`
	Suggestions           []string `json:"improvement_suggestions"`
}

// ClusterLabel names one cluster of similar opener messages.
type ClusterLabel struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Pattern     string `json:"pattern"`
}

// Client is the structured-completion boundary the orchestrators depend on.
type Client interface {
	// AnalyzeConversation classifies a conversation and, when it is cold
	// outreach, scores the prospect status and outreach quality in one call.
	AnalyzeConversation(ctx context.Context, messages []TranscriptMessage, userName string) (*Analysis, error)

	// LabelCluster names a cluster from up to five example openers.
	LabelCluster(ctx context.Context, examples []string) (ClusterLabel, error)
}

// ErrMissingAPIKey indicates the LLM credential is not configured.
var ErrMissingAPIKey = errors.New("LLM_API_KEY is not set")

// ErrInvalidAnalysis indicates the model returned a response that does not
// match the expected shape. Malformed analyses are rejected, not coerced.
var ErrInvalidAnalysis = errors.New("invalid analysis response")

// Validate rejects analyses that violate the result contract: when the
// conversation is cold outreach, every conditional field must be present
// and inside its range.
func (a *Analysis) Validate() error {
	if !a.IsColdOutreach {
		return nil
	}

	if a.ProspectStatus == nil || !domain.ProspectStatus(*a.ProspectStatus).Valid() {
		return fmt.Errorf("%w: missing or unknown prospect_status", ErrInvalidAnalysis)
	}

	if a.ProspectConfidence == nil || *a.ProspectConfidence < 0 || *a.ProspectConfidence > 1 {
		return fmt.Errorf("%w: prospect_status_confidence outside [0,1]", ErrInvalidAnalysis)
	}

	scores := []struct {
		name  string
		value *float64
	}{
		{"outreach_score", a.OutreachScore},
		{"outreach_personalization", a.Personalization},
		{"outreach_value_proposition", a.ValueProposition},
		{"outreach_call_to_action", a.CallToAction},
		{"outreach_tone", a.Tone},
		{"outreach_brevity", a.Brevity},
		{"outreach_originality", a.Originality},
	}

	for _, s := range scores {
		if s.value == nil || *s.value < 0 || *s.value > 100 {
			return fmt.Errorf("%w: %s missing or outside [0,100]", ErrInvalidAnalysis, s.name)
		}
	}

	return nil
}
