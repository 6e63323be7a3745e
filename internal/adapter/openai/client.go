// Package openai adapts any OpenAI-compatible server (LM Studio, vLLM,
// llama.cpp server) to the engine's model-backend boundaries.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	goopenai "github.com/sashabaranov/go-openai"

	"docpilot/internal/generate"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
}

type Client struct {
	api        *goopenai.Client
	model      string
	embedModel string
}

func NewClient(cfg Config) *Client {
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        goopenai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
	}
}

func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) resolveModel(model string) string {
	if model == "" {
		return c.model
	}
	return model
}

func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.resolveModel(model),
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", generate.ErrBackendUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Stream(ctx context.Context, model, prompt string) (<-chan generate.StreamChunk, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model: c.resolveModel(model),
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}

	ch := make(chan generate.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case ch <- generate.StreamChunk{Err: fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- generate.StreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Embed returns the embedding for a single input.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch uses the native batch embeddings endpoint.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(c.embedModel),
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generate.ErrBackendUnavailable, err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", generate.ErrBackendUnavailable, len(resp.Data), len(inputs))
	}

	// The API tags each datum with its input index; respect it so a reordered
	// response cannot mis-align chunk embeddings.
	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", generate.ErrBackendUnavailable, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
