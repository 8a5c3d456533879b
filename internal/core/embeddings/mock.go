package embeddings

import "context"

// Mock is a configurable test double for the Client interface.
type Mock struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	Calls int
}

func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, Dimensions)
		vectors[i][0] = 1
	}

	return vectors, nil
}
