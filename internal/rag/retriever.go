package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"docpilot/internal/text"
)

type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// ScoredChunk pairs a chunk with its query similarity.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Retriever embeds a question and ranks a document's chunks by cosine
// similarity against it.
type Retriever struct {
	embedder Embedder
	index    *Index
}

func NewRetriever(e Embedder, ix *Index) *Retriever {
	return &Retriever{embedder: e, index: ix}
}

// Retrieve returns up to topK chunks relevant to the question, cut to the
// token budget, ordered by their position in the document. A document with no
// indexed chunks yields an empty result, not an error. The bool result
// reports whether any relevant chunk was dropped to honor the budget.
func (r *Retriever) Retrieve(ctx context.Context, docID, question string, topK, budgetTokens int) ([]ScoredChunk, bool, error) {
	chunks, vectors, ok := r.index.snapshot(docID)
	if !ok || len(chunks) == 0 {
		return nil, false, nil
	}

	qvec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, false, fmt.Errorf("embed question: %w", err)
	}

	scored := make([]ScoredChunk, len(chunks))
	for i := range chunks {
		scored[i] = ScoredChunk{
			Chunk: chunks[i],
			Score: CosineSimilarity(qvec, vectors[i]),
		}
	}

	// Highest similarity first; earlier chunks win ties for reproducibility.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Seq < scored[j].Seq
	})

	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}

	// Greedy budget cut in similarity order. A chunk that alone overflows the
	// budget is dropped rather than truncated mid-chunk.
	var selected []ScoredChunk
	truncated := false
	used := 0
	for _, sc := range scored {
		cost := sc.TokenCount
		if cost == 0 {
			cost = text.EstimateTokens(sc.Text)
		}
		if budgetTokens > 0 && used+cost > budgetTokens {
			truncated = true
			continue
		}
		selected = append(selected, sc)
		used += cost
	}

	// The generator receives context in document order, which reads more
	// coherently than similarity order.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Seq < selected[j].Seq
	})

	return selected, truncated, nil
}

// CosineSimilarity computes dot(a,b)/(|a||b|), defined as 0 when either
// vector is zero-length or when dimensions disagree.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
