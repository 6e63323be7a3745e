package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBatchPlacesVectorsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Data deliberately out of input order.
		w.Write([]byte(`{
			"object": "list",
			"model": "test-embed",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.2, 0.2]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.1]}
			],
			"usage": {"prompt_tokens": 0, "total_tokens": 0}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test", EmbedModel: "test-embed"})

	vectors, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.1}, vectors[0])
	assert.Equal(t, []float32{0.2, 0.2}, vectors[1])
}

func TestEmbedBatchRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"model": "test-embed",
			"data": [{"object": "embedding", "index": 3, "embedding": [0.1]}],
			"usage": {"prompt_tokens": 0, "total_tokens": 0}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test", EmbedModel: "test-embed"})

	_, err := c.EmbedBatch(context.Background(), []string{"only"})
	assert.Error(t, err)
}
