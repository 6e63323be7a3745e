package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"docpilot/internal/generate"
)

type EmbedConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// Concurrency bounds parallel embedding calls in EmbedBatch. Ollama has
	// no native batch endpoint.
	Concurrency int
}

type Embedder struct {
	client      *http.Client
	baseURL     string
	model       string
	concurrency int
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewEmbedder(cfg EmbedConfig) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Embedder{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		concurrency: cfg.Concurrency,
	}
}

func (e *Embedder) Embed(ctx context.Context, input string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch embeds inputs with bounded concurrency. The first failure aborts
// the batch; partial results are discarded by the caller.
func (e *Embedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, len(inputs))
	sem := make(chan struct{}, e.concurrency)
	errCh := make(chan error, len(inputs))

	for i := range inputs {
		sem <- struct{}{}
		go func(idx int) {
			defer func() { <-sem }()
			vec, err := e.Embed(ctx, inputs[idx])
			if err != nil {
				errCh <- fmt.Errorf("embed input %d: %w", idx, err)
				return
			}
			vectors[idx] = vec
			errCh <- nil
		}(i)
	}

	var firstErr error
	for range inputs {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}
