package rag

import (
	"fmt"
	"sync"
)

// Chunk is a bounded slice of document text used as a retrieval unit.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

type docEntry struct {
	chunks  []Chunk
	vectors [][]float32
}

// Index is the per-document in-memory vector store. A document's (chunk,
// vector) list is installed as a whole and replaced as a whole; readers never
// observe a partially built index.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*docEntry
}

func NewIndex() *Index {
	return &Index{docs: make(map[string]*docEntry)}
}

// Install atomically replaces the indexed chunks for a document.
func (ix *Index) Install(docID string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("install %s: %d chunks but %d vectors", docID, len(chunks), len(vectors))
	}

	entry := &docEntry{
		chunks:  make([]Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(entry.chunks, chunks)
	copy(entry.vectors, vectors)

	ix.mu.Lock()
	ix.docs[docID] = entry
	ix.mu.Unlock()
	return nil
}

// Delete removes a document's entry. Deleting an unknown document is a no-op.
func (ix *Index) Delete(docID string) {
	ix.mu.Lock()
	delete(ix.docs, docID)
	ix.mu.Unlock()
}

func (ix *Index) Has(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[docID]
	return ok
}

// Chunks returns a copy of the indexed chunks for a document in sequence
// order, or nil when the document is not indexed.
func (ix *Index) Chunks(docID string) []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.docs[docID]
	if !ok {
		return nil
	}
	out := make([]Chunk, len(entry.chunks))
	copy(out, entry.chunks)
	return out
}

// CountChunks returns the total number of indexed chunks across documents.
func (ix *Index) CountChunks() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, entry := range ix.docs {
		n += len(entry.chunks)
	}
	return n
}

// snapshot hands the retriever a stable view of one document. The returned
// slices are the installed ones and must not be mutated.
func (ix *Index) snapshot(docID string) ([]Chunk, [][]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.docs[docID]
	if !ok {
		return nil, nil, false
	}
	return entry.chunks, entry.vectors, true
}
