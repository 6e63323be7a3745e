package task

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"docpilot/features/document"
	"docpilot/internal/generate"
)

func TestHandlerRun(t *testing.T) {
	f := newFixture(&stubLLM{reply: "A summary."})
	h := NewHandler(f.svc)

	body := `{"document_id": "doc-1", "kind": "summary"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Response `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "summary", resp.Data.Kind)
	assert.False(t, resp.Data.Cached)

	var result generate.SummaryResult
	assert.NoError(t, json.Unmarshal(resp.Data.Result, &result))
	assert.Equal(t, "A summary.", result.Summary)
}

func TestHandlerRunValidation(t *testing.T) {
	f := newFixture(&stubLLM{})
	h := NewHandler(f.svc)

	cases := []struct {
		name string
		body string
	}{
		{"MissingDocument", `{"kind": "summary"}`},
		{"MissingKind", `{"document_id": "doc-1"}`},
		{"BadJSON", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			h.Run(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestHandlerRunNotReadyConflict(t *testing.T) {
	f := newFixture(&stubLLM{})
	f.docs.doc.Status = document.StatusProcessing
	h := NewHandler(f.svc)

	body := `{"document_id": "doc-1", "kind": "summary"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_READY")
}

func TestHandlerRunBackendUnavailable(t *testing.T) {
	f := newFixture(&stubLLM{err: generate.ErrBackendUnavailable})
	h := NewHandler(f.svc)

	body := `{"document_id": "doc-1", "kind": "summary"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "BACKEND_UNAVAILABLE")
}

func TestHandlerAsk(t *testing.T) {
	f := newFixture(&stubLLM{reply: "The answer."})
	f.installThreeChunks(t)
	h := NewHandler(f.svc)

	body := `{"document_id": "doc-1", "question": "What is the topic?"}`
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Ask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Response `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var result generate.AnswerResult
	assert.NoError(t, json.Unmarshal(resp.Data.Result, &result))
	assert.Equal(t, "The answer.", result.Answer)
	assert.Equal(t, 3, result.SourcesUsed)
}

func TestHandlerAskStreamEmitsSSE(t *testing.T) {
	f := newFixture(&stubLLM{streamTokens: []string{"Hello ", "world"}})
	f.installThreeChunks(t)
	h := NewHandler(f.svc)

	body := `{"document_id": "doc-1", "question": "Q?"}`
	req := httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.AskStream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "event: meta")
	assert.Contains(t, out, `"sources_used":3`)
	assert.Contains(t, out, "event: token")
	assert.Contains(t, out, `"text":"Hello "`)
	assert.Contains(t, out, "event: done")
}

func TestHandlerAskStreamNotFound(t *testing.T) {
	f := newFixture(&stubLLM{})
	h := NewHandler(f.svc)

	body := `{"document_id": "ghost", "question": "Q?"}`
	req := httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.AskStream(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}
