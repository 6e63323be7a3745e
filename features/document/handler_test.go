package document

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestHandler(repo *MockRepository, pub *MockPublisher) *Handler {
	svc, _ := newTestService(repo, pub, new(MockPurger), &stubEmbedder{})
	return NewHandler(svc, 10)
}

func TestHandlerCreate(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	h := newTestHandler(repo, pub)

	repo.On("Save", mock.Anything, mock.Anything, "body text").Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	body := `{"name": "notes", "text": "body text"}`
	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data Document `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusPending, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.ID)
}

func TestHandlerCreateMissingName(t *testing.T) {
	h := newTestHandler(new(MockRepository), new(MockPublisher))

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(`{"text": "x"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestHandlerUploadUnsupportedFormat(t *testing.T) {
	h := newTestHandler(new(MockRepository), new(MockPublisher))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.pdf")
	assert.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4"))
	assert.NoError(t, err)
	assert.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_FORMAT")
}

func TestHandlerUploadText(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	h := newTestHandler(repo, pub)

	repo.On("Save", mock.Anything, mock.Anything, "plain contents").Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	assert.NoError(t, err)
	_, err = fw.Write([]byte("plain contents"))
	assert.NoError(t, err)
	assert.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	repo.AssertExpectations(t)
}

func TestHandlerGetStatusNotFound(t *testing.T) {
	repo := new(MockRepository)
	h := newTestHandler(repo, new(MockPublisher))

	repo.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/documents/missing/status", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.GetStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestHandlerGetStatus(t *testing.T) {
	repo := new(MockRepository)
	h := newTestHandler(repo, new(MockPublisher))

	repo.On("Get", mock.Anything, "doc-1").Return(&Document{ID: "doc-1", Status: StatusProcessing}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-1/status", nil)
	req.SetPathValue("id", "doc-1")
	rec := httptest.NewRecorder()

	h.GetStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp.Data["status"])
}

func TestHandlerListEmpty(t *testing.T) {
	repo := new(MockRepository)
	h := newTestHandler(repo, new(MockPublisher))

	repo.On("List", mock.Anything).Return([]Document(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandlerDeleteNotFound(t *testing.T) {
	repo := new(MockRepository)
	h := newTestHandler(repo, new(MockPublisher))

	repo.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/documents/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
