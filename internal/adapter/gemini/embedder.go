// Package gemini provides a Gemini-backed embedding adapter for setups that
// pair a local generation model with hosted embeddings.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docpilot/internal/generate"
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: "gemini-embedding-001"}, nil
}

func (e *Embedder) Embed(ctx context.Context, input string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(input))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("%w: empty embedding", generate.ErrBackendUnavailable)
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, input := range inputs {
		batch.AddContent(genai.Text(input))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	if len(res.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", generate.ErrBackendUnavailable, len(res.Embeddings), len(inputs))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
