// Package domain holds the core entities of the outreach analytics pipeline:
// conversations, messages, analysis results, and opener templates.
package domain

import "time"

// AnalysisStatus is the lifecycle state of a conversation's analysis.
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// ProspectStatus describes how the counterpart responded to outreach.
type ProspectStatus string

const (
	ProspectNoResponse       ProspectStatus = "no_response"
	ProspectEngaged          ProspectStatus = "engaged"
	ProspectInterested       ProspectStatus = "interested"
	ProspectMeetingScheduled ProspectStatus = "meeting_scheduled"
	ProspectNotInterested    ProspectStatus = "not_interested"
	ProspectWrongPerson      ProspectStatus = "wrong_person"
	ProspectGhosted          ProspectStatus = "ghosted"
	ProspectClosed           ProspectStatus = "closed"
)

// ProspectStatuses lists every valid prospect status value.
var ProspectStatuses = []ProspectStatus{
	ProspectNoResponse,
	ProspectEngaged,
	ProspectInterested,
	ProspectMeetingScheduled,
	ProspectNotInterested,
	ProspectWrongPerson,
	ProspectGhosted,
	ProspectClosed,
}

// Valid reports whether s is one of the eight known prospect statuses.
func (s ProspectStatus) Valid() bool {
	for _, known := range ProspectStatuses {
		if s == known {
			return true
		}
	}

	return false
}

// AnalysisStage is a step in the staged pipeline run. Stages are strictly
// ordered; the current stage is persisted after every batch boundary.
type AnalysisStage string

const (
	StagePreparing           AnalysisStage = "preparing"
	StageComputingMetrics    AnalysisStage = "computing_metrics"
	StageClassifyingOutreach AnalysisStage = "classifying_outreach"
	StageAnalyzingProspects  AnalysisStage = "analyzing_prospects"
	StageComputingGlobal     AnalysisStage = "computing_global"
	StageAnalyzingTemplates  AnalysisStage = "analyzing_templates"
	StageComplete            AnalysisStage = "complete"
)

// StageLabels maps stages to human-readable progress labels.
var StageLabels = map[AnalysisStage]string{
	StagePreparing:           "Preparing conversations...",
	StageComputingMetrics:    "Computing engagement metrics...",
	StageClassifyingOutreach: "Identifying cold outreach...",
	StageAnalyzingProspects:  "Analyzing prospects...",
	StageComputingGlobal:     "Computing global analytics...",
	StageAnalyzingTemplates:  "Analyzing message templates...",
	StageComplete:            "Analysis complete",
}

// Message is a single imported message, immutable once stored.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	SentAt         time.Time
}

// BasicMetrics are the non-LLM per-conversation engagement numbers.
type BasicMetrics struct {
	EngagementRate         float64
	AvgResponseTimeMinutes *float64
	FollowUpPressureScore  int
	TotalMessagesSent      int
	TotalMessagesReceived  int
	ConsecutiveFollowUps   int
}

// OutreachScore is the multi-dimension quality score for a cold outreach
// conversation. All scores are 0-100 integers.
type OutreachScore struct {
	Overall          int
	Personalization  int
	ValueProposition int
	CallToAction     int
	Tone             int
	Brevity          int
	Originality      int
	Feedback         string
	Suggestions      []string
}

// Conversation is one thread between the user and a counterpart, together
// with every analysis-derived field. Cold-outreach-derived fields
// (ProspectStatus*, Score) are populated together or not at all.
type Conversation struct {
	ID             string
	UserID         string
	Counterpart    string
	MessageCount   int
	LastMessageAt  time.Time
	AnalysisStatus AnalysisStatus
	AnalysisError  string
	AnalyzedAt     *time.Time

	IsColdOutreach        *bool
	ColdOutreachReasoning string
	ProspectStatus        ProspectStatus
	ProspectConfidence    *int // 0-100
	ProspectReasoning     string
	Score                 *OutreachScore
	Metrics               *BasicMetrics
	TemplateClusterID     string
}

// AnalysisResult is what one successful LLM analysis writes back to a
// conversation. Score and the prospect fields are set only for cold outreach.
type AnalysisResult struct {
	IsColdOutreach        bool
	ColdOutreachReasoning string
	ProspectStatus        ProspectStatus
	ProspectConfidence    *int // 0-100
	ProspectReasoning     string
	Score                 *OutreachScore
}

// AnalysisProgress is the per-user singleton progress record. A nil Stage
// means no run has been recorded (or the last one was cleared).
type AnalysisProgress struct {
	Stage    *AnalysisStage
	Progress *int
	Total    *int
}

// GlobalStats is the cross-conversation rollup persisted per user.
type GlobalStats struct {
	AvgEngagementRate      float64
	ResponseRate           float64
	AvgResponseTimeMinutes *float64
	TotalFollowUps         int
	AvgOutreachScore       *float64
	TotalConversations     int
	MarketPullScore        float64
	HotProspects           []string
}

// MessageTemplate is a named, scored cluster of similar opener messages.
// Templates are fully recomputed and replaced on every template run.
type MessageTemplate struct {
	ID                string
	UserID            string
	ClusterID         string
	Label             string
	Description       string
	PatternExample    string
	ConversationCount int
	ResponseRate      float64
	InterestRate      float64
	GhostRate         float64
	AvgEngagement     float64
}

// StatusReport is what the status operation returns: live per-status counts
// plus the last persisted stage and progress counters.
type StatusReport struct {
	Total         int
	Pending       int
	Analyzing     int
	Completed     int
	Failed        int
	IsComplete    bool
	Stage         *AnalysisStage
	StageLabel    string
	Progress      *int
	ProgressTotal *int
}
