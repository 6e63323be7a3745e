// Package ollama adapts the native Ollama REST API (/api/generate,
// /api/embeddings) to the engine's model-backend boundaries.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docpilot/internal/generate"
)

type LLMConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type LLMClient struct {
	client *http.Client
	// streamClient has no response timeout: a stream legitimately outlives
	// any fixed deadline and is bounded by the request context instead.
	streamClient *http.Client
	baseURL      string
	model        string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewLLMClient(cfg LLMConfig) *LLMClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &LLMClient{
		client:       &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
	}
}

func (c *LLMClient) ModelName() string {
	return c.model
}

func (c *LLMClient) resolveModel(model string) string {
	if model == "" {
		return c.model
	}
	return model
}

// Complete runs a blocking generation.
func (c *LLMClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.resolveModel(model), Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Response, nil
}

// Stream runs a streaming generation over Ollama's NDJSON protocol. The
// returned channel closes on completion; cancelling ctx stops consumption
// from the backend and releases the connection.
func (c *LLMClient) Stream(ctx context.Context, model, prompt string) (<-chan generate.StreamChunk, error) {
	body, err := json.Marshal(generateRequest{Model: c.resolveModel(model), Prompt: prompt, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	ch := make(chan generate.StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var data generateResponse
			if err := json.Unmarshal(line, &data); err != nil {
				continue
			}
			if data.Response != "" {
				select {
				case ch <- generate.StreamChunk{Text: data.Response}:
				case <-ctx.Done():
					return
				}
			}
			if data.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- generate.StreamChunk{Err: fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", generate.ErrModelNotFound, string(body))
	}
	if readErr != nil {
		return fmt.Errorf("ollama error (status %d)", resp.StatusCode)
	}
	return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body))
}
