package llm

import "context"

// Mock is a configurable test double for the Client interface.
type Mock struct {
	AnalyzeFunc func(ctx context.Context, messages []TranscriptMessage, userName string) (*Analysis, error)
	LabelFunc   func(ctx context.Context, examples []string) (ClusterLabel, error)

	AnalyzeCalls int
	LabelCalls   int
}

func (m *Mock) AnalyzeConversation(ctx context.Context, messages []TranscriptMessage, userName string) (*Analysis, error) {
	m.AnalyzeCalls++

	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, messages, userName)
	}

	return &Analysis{}, nil
}

func (m *Mock) LabelCluster(ctx context.Context, examples []string) (ClusterLabel, error) {
	m.LabelCalls++

	if m.LabelFunc != nil {
		return m.LabelFunc(ctx, examples)
	}

	return ClusterLabel{Label: "Unknown Pattern"}, nil
}
