package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"docpilot/internal/rag"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Save(ctx context.Context, doc *Document, rawText string) error {
	args := m.Called(ctx, doc, rawText)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Document), args.Error(1)
}

func (m *MockRepository) GetText(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context) ([]Document, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockRepository) ListIDsByStatus(ctx context.Context, status Status) ([]string, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockRepository) MarkReady(ctx context.Context, id string, textLength, tokenCount int) error {
	args := m.Called(ctx, id, textLength, tokenCount)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) SaveChunks(ctx context.Context, docID string, chunks []StoredChunk) error {
	args := m.Called(ctx, docID, chunks)
	return args.Error(0)
}

func (m *MockRepository) GetChunks(ctx context.Context, docID string) ([]StoredChunk, error) {
	args := m.Called(ctx, docID)
	return args.Get(0).([]StoredChunk), args.Error(1)
}

func (m *MockRepository) DeleteChunks(ctx context.Context, docID string) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, float32(i), 0}
	}
	return out, nil
}

func newTestService(repo *MockRepository, pub *MockPublisher, purger *MockPurger, emb rag.Embedder) (*Service, *rag.Index) {
	index := rag.NewIndex()
	svc := NewService(repo, pub, index, emb, purger, ProcessConfig{
		ChunkSize:    200,
		ChunkOverlap: 40,
		EmbedBatch:   4,
	})
	return svc, index
}

// --- Tests ---

func TestSubmitStoresPendingAndPublishes(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	svc, _ := newTestService(repo, pub, new(MockPurger), &stubEmbedder{})

	repo.On("Save", mock.Anything, mock.AnythingOfType("*document.Document"), "some text").Return(nil)
	pub.On("Publish", "document.process", mock.Anything).Return(nil)

	doc, err := svc.Submit(context.Background(), "notes.txt", "txt", "some text")

	assert.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, StatusPending, doc.Status)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSubmitRepoFailure(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	svc, _ := newTestService(repo, pub, new(MockPurger), &stubEmbedder{})

	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := svc.Submit(context.Background(), "notes.txt", "txt", "some text")

	assert.Error(t, err)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestProcessBuildsIndexAndMarksReady(t *testing.T) {
	repo := new(MockRepository)
	svc, index := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	text := "First sentence about apples. Second sentence about pears. Third sentence about plums."
	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusPending}, nil)
	repo.On("UpdateStatus", mock.Anything, "doc-1", StatusProcessing, "").Return(nil)
	repo.On("GetText", mock.Anything, "doc-1").Return(text, nil)
	repo.On("SaveChunks", mock.Anything, "doc-1", mock.Anything).Return(nil)
	repo.On("MarkReady", mock.Anything, "doc-1", len(text), mock.Anything).Return(nil)

	err := svc.Process(context.Background(), "doc-1")

	assert.NoError(t, err)
	assert.True(t, index.Has("doc-1"))
	assert.Greater(t, index.CountChunks(), 0)
	repo.AssertExpectations(t)
}

func TestProcessEmbedderFailureMovesToError(t *testing.T) {
	repo := new(MockRepository)
	svc, index := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{err: errors.New("backend gone")})

	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusPending}, nil)
	repo.On("UpdateStatus", mock.Anything, "doc-1", StatusProcessing, "").Return(nil)
	repo.On("GetText", mock.Anything, "doc-1").Return("Something to embed.", nil)
	repo.On("UpdateStatus", mock.Anything, "doc-1", StatusError, mock.Anything).Return(nil)

	err := svc.Process(context.Background(), "doc-1")

	// Terminal failure: the queue must not redeliver.
	assert.NoError(t, err)
	assert.False(t, index.Has("doc-1"))
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkReady", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDiscardsDeletedDocument(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	repo.On("Get", mock.Anything, "gone").Return(nil, ErrNotFound)

	err := svc.Process(context.Background(), "gone")

	assert.NoError(t, err)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEmptyDocumentReadyWithZeroChunks(t *testing.T) {
	repo := new(MockRepository)
	svc, index := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	repo.On("Get", mock.Anything, "empty").Return(&Document{ID: "empty", Status: StatusPending}, nil)
	repo.On("UpdateStatus", mock.Anything, "empty", StatusProcessing, "").Return(nil)
	repo.On("GetText", mock.Anything, "empty").Return("   \n\n  ", nil)
	repo.On("DeleteChunks", mock.Anything, "empty").Return(nil)
	repo.On("MarkReady", mock.Anything, "empty", 0, 0).Return(nil)

	err := svc.Process(context.Background(), "empty")

	assert.NoError(t, err)
	assert.False(t, index.Has("empty"))
	repo.AssertExpectations(t)
}

func TestDeleteCascades(t *testing.T) {
	repo := new(MockRepository)
	purger := new(MockPurger)
	svc, index := newTestService(repo, new(MockPublisher), purger, &stubEmbedder{})

	chunks := []rag.Chunk{{DocumentID: "doc-1", Seq: 0, Text: "hello", TokenCount: 2}}
	vectors := [][]float32{{1, 0, 0}}
	assert.NoError(t, index.Install("doc-1", chunks, vectors))

	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusReady}, nil)
	purger.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil)
	repo.On("DeleteChunks", mock.Anything, "doc-1").Return(nil)
	repo.On("Delete", mock.Anything, "doc-1").Return(nil)

	err := svc.Delete(context.Background(), "doc-1")

	assert.NoError(t, err)
	assert.False(t, index.Has("doc-1"))
	repo.AssertExpectations(t)
	purger.AssertExpectations(t)
}

func TestDeleteUnknownDocument(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	repo.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	err := svc.Delete(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReprocessResetsAndPublishes(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	svc, _ := newTestService(repo, pub, new(MockPurger), &stubEmbedder{})

	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusError}, nil)
	repo.On("UpdateStatus", mock.Anything, "doc-1", StatusPending, "").Return(nil)
	pub.On("Publish", "document.process", mock.Anything).Return(nil)

	err := svc.Reprocess(context.Background(), "doc-1")

	assert.NoError(t, err)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRestoreIndexes(t *testing.T) {
	repo := new(MockRepository)
	svc, index := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	stored := []StoredChunk{
		{Seq: 0, Text: "alpha", TokenCount: 2, Embedding: []float32{1, 0}},
		{Seq: 1, Text: "beta", TokenCount: 2, Embedding: []float32{0, 1}},
	}
	repo.On("ListIDsByStatus", mock.Anything, StatusReady).Return([]string{"doc-1"}, nil)
	repo.On("GetChunks", mock.Anything, "doc-1").Return(stored, nil)

	err := svc.RestoreIndexes(context.Background())

	assert.NoError(t, err)
	assert.True(t, index.Has("doc-1"))
	assert.Equal(t, 2, index.CountChunks())
}

func TestLockMapReleasesEntries(t *testing.T) {
	svc, _ := newTestService(new(MockRepository), new(MockPublisher), new(MockPurger), &stubEmbedder{})

	lockCount := func() int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.locks)
	}
	refsFor := func(id string) int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		if l := svc.locks[id]; l != nil {
			return l.refs
		}
		return 0
	}

	unlock := svc.lock("doc-1")
	assert.Equal(t, 1, lockCount())
	unlock()
	assert.Equal(t, 0, lockCount())

	// A contended lock is only dropped once the last holder releases.
	unlockA := svc.lock("doc-1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		unlockB := svc.lock("doc-1")
		unlockB()
	}()

	// Wait for the second holder to register before releasing.
	assert.Eventually(t, func() bool { return refsFor("doc-1") == 2 }, time.Second, time.Millisecond)
	unlockA()
	<-done

	assert.Equal(t, 0, lockCount())
}

func TestStatusReportsCurrentState(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(repo, new(MockPublisher), new(MockPurger), &stubEmbedder{})

	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusProcessing}, nil)

	status, err := svc.Status(context.Background(), "doc-1")

	assert.NoError(t, err)
	assert.Equal(t, StatusProcessing, status)
}
