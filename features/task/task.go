// Package task runs cached document analyses (summary, highlights, outline)
// and question answering, blocking or streamed.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"docpilot/features/document"
	"docpilot/internal/generate"
	"docpilot/internal/rag"
	"docpilot/internal/settings"
	"docpilot/internal/taskcache"
)

var ErrUnknownKind = errors.New("unknown task kind")

// Documents is the slice of the document feature the task runner needs.
type Documents interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	Text(ctx context.Context, id string) (string, error)
}

// SettingsSource returns the current runtime settings.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Defaults back the settings row when it cannot be read.
type Defaults struct {
	TopK          int
	ContextBudget int
	SummaryStyle  string
}

type Request struct {
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	Style      string `json:"style,omitempty"`
	Question   string `json:"question,omitempty"`
}

type Response struct {
	DocumentID string          `json:"document_id"`
	Kind       string          `json:"kind"`
	Result     json.RawMessage `json:"result"`
	Truncated  bool            `json:"truncated"`
	Cached     bool            `json:"cached"`
}

// Event is one server-sent event of a streamed answer.
type Event struct {
	Type string // meta, token, done, error

	SourcesUsed int
	Token       string
	Cached      bool
	Err         error
}

type Service struct {
	docs      Documents
	retriever *rag.Retriever
	gen       *generate.Generator
	cache     *taskcache.Cache
	settings  SettingsSource
	defaults  Defaults

	mu      sync.Mutex
	streams map[string]chan struct{}
}

func NewService(docs Documents, retriever *rag.Retriever, gen *generate.Generator, cache *taskcache.Cache, src SettingsSource, defaults Defaults) *Service {
	if defaults.TopK <= 0 {
		defaults.TopK = 5
	}
	if defaults.ContextBudget <= 0 {
		defaults.ContextBudget = 3000
	}
	if defaults.SummaryStyle == "" {
		defaults.SummaryStyle = "paragraph"
	}
	return &Service{
		docs:      docs,
		retriever: retriever,
		gen:       gen,
		cache:     cache,
		settings:  src,
		defaults:  defaults,
		streams:   make(map[string]chan struct{}),
	}
}

// tuning is the per-request view of settings merged with defaults.
type tuning struct {
	model         string
	topK          int
	contextBudget int
	summaryStyle  string
}

func (s *Service) tuningFor(ctx context.Context) tuning {
	t := tuning{
		model:         s.gen.ResolveModel(""),
		topK:          s.defaults.TopK,
		contextBudget: s.defaults.ContextBudget,
		summaryStyle:  s.defaults.SummaryStyle,
	}
	if s.settings == nil {
		return t
	}
	set, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		return t
	}
	if set.GenerationModel != "" {
		t.model = set.GenerationModel
	}
	if set.SearchTopK > 0 {
		t.topK = set.SearchTopK
	}
	if set.ContextBudget > 0 {
		t.contextBudget = set.ContextBudget
	}
	if set.SummaryStyle != "" {
		t.summaryStyle = set.SummaryStyle
	}
	return t
}

// gate rejects tasks against documents that are not ready.
func (s *Service) gate(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != document.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", document.ErrNotReady, doc.Status)
	}
	return doc, nil
}

// Run executes a task, serving repeats from the cache. Concurrent identical
// requests share a single computation.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if _, err := s.gate(ctx, req.DocumentID); err != nil {
		return nil, err
	}
	t := s.tuningFor(ctx)

	var key taskcache.Key
	var compute taskcache.ComputeFunc

	switch taskcache.Kind(req.Kind) {
	case taskcache.KindSummary:
		style := req.Style
		if style == "" {
			style = t.summaryStyle
		}
		if _, ok := generate.SummaryStyles[style]; !ok {
			return nil, fmt.Errorf("%w: unknown summary style %q", ErrUnknownKind, style)
		}
		key = s.key(req.DocumentID, taskcache.KindSummary, t.model, map[string]string{"style": style})
		compute = s.computeSummary(req.DocumentID, t.model, style)

	case taskcache.KindHighlights:
		key = s.key(req.DocumentID, taskcache.KindHighlights, t.model, nil)
		compute = s.computeHighlights(req.DocumentID, t.model)

	case taskcache.KindOutline:
		key = s.key(req.DocumentID, taskcache.KindOutline, t.model, nil)
		compute = s.computeOutline(req.DocumentID, t.model)

	case taskcache.KindAnswer:
		if req.Question == "" {
			return nil, fmt.Errorf("%w: question is required", ErrUnknownKind)
		}
		key = s.key(req.DocumentID, taskcache.KindAnswer, t.model, map[string]string{"question": req.Question})
		compute = s.computeAnswer(req.DocumentID, req.Question, t)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	entry, hit, err := s.cache.GetOrCompute(ctx, key, compute)
	if err != nil {
		return nil, err
	}
	return &Response{
		DocumentID: req.DocumentID,
		Kind:       req.Kind,
		Result:     entry.Result,
		Truncated:  entry.Truncated,
		Cached:     hit,
	}, nil
}

// Ask answers a question over a document through the retrieval pipeline.
func (s *Service) Ask(ctx context.Context, documentID, question string) (*Response, error) {
	return s.Run(ctx, Request{DocumentID: documentID, Kind: string(taskcache.KindAnswer), Question: question})
}

func (s *Service) key(docID string, kind taskcache.Kind, model string, params map[string]string) taskcache.Key {
	return taskcache.Key{DocumentID: docID, Kind: kind, Model: model, Params: params}
}

// fullText loads the whole document capped to the prompt budget. Whole-document
// tasks do not retrieve; they see everything the window can hold.
func (s *Service) fullText(ctx context.Context, docID string) (string, bool, error) {
	raw, err := s.docs.Text(ctx, docID)
	if err != nil {
		return "", false, err
	}
	fitted, truncated := s.gen.FitText(raw)
	return fitted, truncated, nil
}

func (s *Service) computeSummary(docID, model, style string) taskcache.ComputeFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		text, truncated, err := s.fullText(ctx, docID)
		if err != nil {
			return nil, false, err
		}
		out, err := s.gen.Complete(ctx, model, generate.BuildSummaryPrompt(text, style))
		if err != nil {
			return nil, false, err
		}
		raw, err := json.Marshal(generate.SummaryResult{Style: style, Summary: out})
		return raw, truncated, err
	}
}

func (s *Service) computeHighlights(docID, model string) taskcache.ComputeFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		text, truncated, err := s.fullText(ctx, docID)
		if err != nil {
			return nil, false, err
		}
		out, err := s.gen.Complete(ctx, model, generate.BuildHighlightsPrompt(text))
		if err != nil {
			return nil, false, err
		}
		raw, err := json.Marshal(generate.ParseHighlights(out))
		return raw, truncated, err
	}
}

func (s *Service) computeOutline(docID, model string) taskcache.ComputeFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		text, truncated, err := s.fullText(ctx, docID)
		if err != nil {
			return nil, false, err
		}
		out, err := s.gen.Complete(ctx, model, generate.BuildOutlinePrompt(text))
		if err != nil {
			return nil, false, err
		}
		outline, err := generate.ParseOutline(out)
		if err != nil {
			return nil, false, fmt.Errorf("parse outline: %w", err)
		}
		raw, err := json.Marshal(outline)
		return raw, truncated, err
	}
}

func (s *Service) computeAnswer(docID, question string, t tuning) taskcache.ComputeFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		prompt, sources, truncated, err := s.answerPrompt(ctx, docID, question, t)
		if err != nil {
			return nil, false, err
		}
		if sources == 0 {
			raw, err := json.Marshal(noContextAnswer(question))
			return raw, false, err
		}
		out, err := s.gen.Complete(ctx, t.model, prompt)
		if err != nil {
			return nil, false, err
		}
		raw, err := json.Marshal(generate.AnswerResult{Question: question, Answer: out, SourcesUsed: sources})
		return raw, truncated, err
	}
}

// answerPrompt runs retrieval and assembles the grounded prompt. Chunks reach
// the prompt in document order regardless of score.
func (s *Service) answerPrompt(ctx context.Context, docID, question string, t tuning) (prompt string, sources int, truncated bool, err error) {
	scored, truncated, err := s.retriever.Retrieve(ctx, docID, question, t.topK, t.contextBudget)
	if err != nil {
		return "", 0, false, fmt.Errorf("retrieve: %w", err)
	}
	if len(scored) == 0 {
		return "", 0, false, nil
	}
	texts := make([]string, len(scored))
	for i, sc := range scored {
		texts[i] = sc.Chunk.Text
	}
	return generate.BuildAnswerPrompt(texts, question), len(scored), truncated, nil
}

func noContextAnswer(question string) generate.AnswerResult {
	return generate.AnswerResult{
		Question:    question,
		Answer:      "The document has no indexed content to answer this question from.",
		SourcesUsed: 0,
	}
}

// AskStream streams an answer as events: one meta, zero or more tokens, then
// done or error. A cached answer is replayed as a single token. The result is
// saved to the cache only when the stream runs to completion; cancelled or
// failed streams leave no entry. Concurrent identical requests share one
// generation: the first caller streams live, later ones wait for it to finish
// and replay the cached answer.
func (s *Service) AskStream(ctx context.Context, documentID, question string) (<-chan Event, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrUnknownKind)
	}
	if _, err := s.gate(ctx, documentID); err != nil {
		return nil, err
	}
	t := s.tuningFor(ctx)
	key := s.key(documentID, taskcache.KindAnswer, t.model, map[string]string{"question": question})
	fp := key.Fingerprint()

	events := make(chan Event)

	for {
		entry, err := s.cache.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			var cached generate.AnswerResult
			if err := json.Unmarshal(entry.Result, &cached); err != nil {
				return nil, fmt.Errorf("decode cached answer: %w", err)
			}
			go func() {
				defer close(events)
				emit(ctx, events, Event{Type: "meta", SourcesUsed: cached.SourcesUsed})
				emit(ctx, events, Event{Type: "token", Token: cached.Answer})
				emit(ctx, events, Event{Type: "done", Cached: true})
			}()
			return events, nil
		}

		wait, leader := s.joinStream(fp)
		if leader {
			break
		}
		// An identical answer is already streaming. Wait it out, then
		// re-check the cache; if the leader was cancelled nothing was saved
		// and this caller takes over the generation.
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	prompt, sources, truncated, err := s.answerPrompt(ctx, documentID, question, t)
	if err != nil {
		s.leaveStream(fp)
		return nil, err
	}

	if sources == 0 {
		go func() {
			defer close(events)
			defer s.leaveStream(fp)
			result := noContextAnswer(question)
			emit(ctx, events, Event{Type: "meta", SourcesUsed: 0})
			emit(ctx, events, Event{Type: "token", Token: result.Answer})
			if raw, err := json.Marshal(result); err == nil {
				s.save(ctx, key, raw, false)
			}
			emit(ctx, events, Event{Type: "done"})
		}()
		return events, nil
	}

	stream, err := s.gen.Stream(ctx, t.model, prompt)
	if err != nil {
		s.leaveStream(fp)
		return nil, err
	}

	go func() {
		defer close(events)
		defer s.leaveStream(fp)
		emit(ctx, events, Event{Type: "meta", SourcesUsed: sources})

		var answer []byte
		for chunk := range stream {
			if chunk.Err != nil {
				emit(ctx, events, Event{Type: "error", Err: chunk.Err})
				return
			}
			answer = append(answer, chunk.Text...)
			if !emit(ctx, events, Event{Type: "token", Token: chunk.Text}) {
				return
			}
		}
		if ctx.Err() != nil {
			// Client went away mid-stream. Partial output is never cached.
			return
		}

		raw, err := json.Marshal(generate.AnswerResult{Question: question, Answer: string(answer), SourcesUsed: sources})
		if err == nil {
			s.save(ctx, key, raw, truncated)
		}
		emit(ctx, events, Event{Type: "done"})
	}()

	return events, nil
}

// joinStream registers a streamed answer as in flight. The first caller per
// fingerprint is the leader and generates; followers receive a channel that
// closes when the leader is done.
func (s *Service) joinStream(fp string) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.streams[fp]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	s.streams[fp] = ch
	return ch, true
}

func (s *Service) leaveStream(fp string) {
	s.mu.Lock()
	if ch, ok := s.streams[fp]; ok {
		close(ch)
		delete(s.streams, fp)
	}
	s.mu.Unlock()
}

func (s *Service) save(ctx context.Context, key taskcache.Key, raw json.RawMessage, truncated bool) {
	// Cache writes are best effort; a failed save only costs a recompute.
	if err := s.cache.Save(context.WithoutCancel(ctx), key, raw, truncated); err != nil {
		slog.WarnContext(ctx, "failed to cache streamed answer", "error", err)
	}
}

func emit(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
