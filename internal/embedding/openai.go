package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIModel encodes through any OpenAI-compatible embeddings endpoint.
type OpenAIModel struct {
	embedder embeddings.Embedder
}

// NewOpenAIModel creates a Model for baseURL. An empty token is sent as
// "none", which local OpenAI-compatible servers accept.
func NewOpenAIModel(baseURL, token, model string) (*OpenAIModel, error) {
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIModel{embedder: embedder}, nil
}

// Encode implements Model.
func (m *OpenAIModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedder.EmbedDocuments(ctx, texts)
}
