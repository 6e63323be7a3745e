package generate

import (
	"context"
	"fmt"
	"strings"
)

// StreamChunk is one increment of a streamed generation. A terminal error is
// delivered in-band via Err; normal completion closes the channel.
type StreamChunk struct {
	Text string
	Err  error
}

// LLM is the language-model backend boundary. An empty model selects the
// backend's configured default. Stream must stop producing and release its
// resources promptly once ctx is cancelled.
type LLM interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
	Stream(ctx context.Context, model, prompt string) (<-chan StreamChunk, error)
	ModelName() string
}

// Generator drives the model backend with task prompts, capping prompt size
// to the configured context window.
type Generator struct {
	llm            LLM
	maxPromptChars int
}

func NewGenerator(llm LLM, maxPromptChars int) *Generator {
	return &Generator{llm: llm, maxPromptChars: maxPromptChars}
}

func (g *Generator) ModelName() string {
	return g.llm.ModelName()
}

// ResolveModel maps an empty override to the backend default. The resolved
// name is what callers should key caches on.
func (g *Generator) ResolveModel(model string) string {
	if model == "" {
		return g.llm.ModelName()
	}
	return model
}

// Complete runs a blocking generation and returns the trimmed output.
func (g *Generator) Complete(ctx context.Context, model, prompt string) (string, error) {
	out, err := g.llm.Complete(ctx, model, prompt)
	if err != nil {
		return "", fmt.Errorf("generation: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Stream starts a cancellable token stream for the prompt.
func (g *Generator) Stream(ctx context.Context, model, prompt string) (<-chan StreamChunk, error) {
	ch, err := g.llm.Stream(ctx, model, prompt)
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}
	return ch, nil
}

// FitText caps document text to the prompt budget. Over-long input keeps the
// head and tail halves with an elision marker in between, since both ends of
// a document usually carry more signal than a hard prefix cut.
func (g *Generator) FitText(text string) (string, bool) {
	return CapMiddle(text, g.maxPromptChars)
}

const elisionMarker = "\n\n[... middle of document omitted ...]\n\n"

// CapMiddle bounds text to maxChars by cutting from the middle.
func CapMiddle(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	half := maxChars / 2
	return text[:half] + elisionMarker + text[len(text)-half:], true
}
