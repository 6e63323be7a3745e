package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docpilot/internal/config"
	"docpilot/internal/middleware"
	"docpilot/internal/rag"
	"docpilot/internal/text"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrNotReady          = errors.New("document not ready")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Format       string    `json:"format"`
	Status       Status    `json:"status"`
	SizeBytes    int       `json:"size_bytes"`
	TextLength   int       `json:"text_length"`
	TokenCount   int       `json:"token_count"`
	ErrorMessage string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoredChunk is the persisted form of an indexed chunk, embedding included,
// so the in-memory index can be rebuilt after a restart without re-embedding.
type StoredChunk struct {
	Seq        int       `json:"seq"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document, rawText string) error
	Get(ctx context.Context, id string) (*Document, error)
	GetText(ctx context.Context, id string) (string, error)
	List(ctx context.Context) ([]Document, error)
	ListIDsByStatus(ctx context.Context, status Status) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	MarkReady(ctx context.Context, id string, textLength, tokenCount int) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)

	SaveChunks(ctx context.Context, docID string, chunks []StoredChunk) error
	GetChunks(ctx context.Context, docID string) ([]StoredChunk, error)
	DeleteChunks(ctx context.Context, docID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type CachePurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ProcessConfig carries the chunking and embedding knobs for the build phase.
type ProcessConfig struct {
	ChunkSize    int
	ChunkOverlap int
	EmbedBatch   int
	EmbedTimeout time.Duration
}

// Service owns the document lifecycle: pending -> processing -> ready|error.
// All mutations for one document id are serialized through a per-document
// lock; documents do not block each other.
type Service struct {
	repo     Repository
	pub      EventPublisher
	index    *rag.Index
	embedder rag.Embedder
	cache    CachePurger
	cfg      ProcessConfig

	mu    sync.Mutex
	locks map[string]*docLock
}

// docLock is a per-document mutex with a holder count, so map entries can be
// dropped once the last holder releases.
type docLock struct {
	sync.Mutex
	refs int
}

func NewService(repo Repository, pub EventPublisher, index *rag.Index, embedder rag.Embedder, cache CachePurger, cfg ProcessConfig) *Service {
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 16
	}
	return &Service{
		repo:     repo,
		pub:      pub,
		index:    index,
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
		locks:    make(map[string]*docLock),
	}
}

// lock serializes operations per document id. The map only holds documents
// with an operation in flight; the entry is removed when the last holder
// releases.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &docLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Submit accepts extracted text, stores the document in pending state and
// queues the index build.
func (s *Service) Submit(ctx context.Context, name, format, rawText string) (*Document, error) {
	doc := &Document{
		ID:         uuid.New().String(),
		Name:       name,
		Format:     format,
		Status:     StatusPending,
		SizeBytes:  len(rawText),
		TextLength: len(rawText),
	}
	if err := s.repo.Save(ctx, doc, rawText); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	s.publishProcess(ctx, doc.ID)
	return doc, nil
}

func (s *Service) publishProcess(ctx context.Context, id string) {
	payload, _ := json.Marshal(map[string]string{
		"document_id":    id,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicDocumentProcess, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish process event", "document_id", id, "error", err)
	} else {
		slog.InfoContext(ctx, "published process event", "document_id", id)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Status is the synchronous status query callers poll until terminal.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// Text returns the stored raw text for a document.
func (s *Service) Text(ctx context.Context, id string) (string, error) {
	return s.repo.GetText(ctx, id)
}

// Chunks returns the persisted chunks for inspection.
func (s *Service) Chunks(ctx context.Context, id string) ([]StoredChunk, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetChunks(ctx, id)
}

// Delete removes the document and cascades to its chunks, its index entry and
// every cache entry keyed to it.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	s.index.Delete(id)
	if err := s.cache.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	if err := s.repo.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

// Reprocess restarts a document from pending. This is the only exit from the
// error state besides deletion.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusPending, ""); err != nil {
		return err
	}

	s.publishProcess(ctx, id)
	return nil
}

// Process runs the build phase for one document: chunk, embed, install the
// index, persist chunks, mark ready. Any pipeline failure is terminal for
// this run; the document moves to error and stays there until an explicit
// reprocess or deletion.
func (s *Service) Process(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	_, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Deleted while queued: discard instead of resurrecting it.
		slog.InfoContext(ctx, "document deleted before processing, discarding", "document_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusProcessing, ""); err != nil {
		return err
	}

	rawText, err := s.repo.GetText(ctx, id)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("load text: %w", err))
	}

	pieces := text.Split(rawText, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		// Whitespace-only documents are ready with zero chunks; callers must
		// treat that as "no context available", not an error.
		s.index.Delete(id)
		if err := s.repo.DeleteChunks(ctx, id); err != nil {
			return s.fail(ctx, id, fmt.Errorf("clear chunks: %w", err))
		}
		if err := s.repo.MarkReady(ctx, id, 0, 0); err != nil {
			return err
		}
		slog.InfoContext(ctx, "document ready with no content", "document_id", id)
		return nil
	}

	vectors, err := s.embedAll(ctx, pieces)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("build embeddings: %w", err))
	}

	chunks := make([]rag.Chunk, len(pieces))
	stored := make([]StoredChunk, len(pieces))
	totalTokens := 0
	for i, piece := range pieces {
		tokens := text.EstimateTokens(piece)
		totalTokens += tokens
		chunks[i] = rag.Chunk{DocumentID: id, Seq: i, Text: piece, TokenCount: tokens}
		stored[i] = StoredChunk{Seq: i, Text: piece, TokenCount: tokens, Embedding: vectors[i]}
	}

	if err := s.repo.SaveChunks(ctx, id, stored); err != nil {
		return s.fail(ctx, id, fmt.Errorf("persist chunks: %w", err))
	}
	if err := s.index.Install(id, chunks, vectors); err != nil {
		return s.fail(ctx, id, err)
	}
	if err := s.repo.MarkReady(ctx, id, len(rawText), totalTokens); err != nil {
		return err
	}

	slog.InfoContext(ctx, "document processed", "document_id", id, "chunks", len(chunks), "tokens", totalTokens)
	return nil
}

// embedAll embeds chunk texts in bounded batches, each under its own timeout.
func (s *Service) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += s.cfg.EmbedBatch {
		end := start + s.cfg.EmbedBatch
		if end > len(pieces) {
			end = len(pieces)
		}

		batchCtx := ctx
		cancel := func() {}
		if s.cfg.EmbedTimeout > 0 {
			batchCtx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		}
		batch, err := s.embedder.EmbedBatch(batchCtx, pieces[start:end])
		cancel()
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *Service) fail(ctx context.Context, id string, cause error) error {
	slog.ErrorContext(ctx, "document processing failed", "document_id", id, "error", cause)
	if err := s.repo.UpdateStatus(ctx, id, StatusError, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to record error status", "document_id", id, "error", err)
	}
	// The failure is terminal for this run; the message queue must not retry.
	return nil
}

// RestoreIndexes rebuilds the in-memory index for every ready document from
// persisted chunks. Called once at startup.
func (s *Service) RestoreIndexes(ctx context.Context) error {
	ids, err := s.repo.ListIDsByStatus(ctx, StatusReady)
	if err != nil {
		return err
	}
	for _, id := range ids {
		stored, err := s.repo.GetChunks(ctx, id)
		if err != nil {
			return fmt.Errorf("load chunks for %s: %w", id, err)
		}
		if len(stored) == 0 {
			continue
		}
		chunks := make([]rag.Chunk, len(stored))
		vectors := make([][]float32, len(stored))
		for i, sc := range stored {
			chunks[i] = rag.Chunk{DocumentID: id, Seq: sc.Seq, Text: sc.Text, TokenCount: sc.TokenCount}
			vectors[i] = sc.Embedding
		}
		if err := s.index.Install(id, chunks, vectors); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "restored vector indexes", "documents", len(ids))
	return nil
}
