package embedding

import (
	"context"

	"github.com/kalambet/hybridrec/internal/ollama"
)

// OllamaModel encodes through an Ollama server's batch embed endpoint.
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel creates a Model for the named Ollama embedding model.
func NewOllamaModel(client *ollama.Client, model string) *OllamaModel {
	return &OllamaModel{client: client, model: model}
}

// Encode implements Model.
func (m *OllamaModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return m.client.EmbedBatch(ctx, m.model, texts)
}
