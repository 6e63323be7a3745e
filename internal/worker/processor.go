// Package worker hosts the NSQ consumers driving the asynchronous document
// pipeline.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"docpilot/internal/middleware"
)

// ProcessPayload is the body of a document.process message.
type ProcessPayload struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Processor turns a document submission into a ready index.
type Processor interface {
	Process(ctx context.Context, documentID string) error
}

type DocumentConsumer struct {
	processor Processor
}

func NewDocumentConsumer(p Processor) *DocumentConsumer {
	return &DocumentConsumer{processor: p}
}

func (h *DocumentConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ProcessPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		slog.Error("poison pill: missing document_id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	slog.InfoContext(ctx, "processing document", "document_id", payload.DocumentID)

	// Pipeline failures are terminal by contract: Process records the error
	// state itself and returns nil so the message is not redelivered. Only
	// infrastructure errors (status updates failing) propagate for retry.
	if err := h.processor.Process(ctx, payload.DocumentID); err != nil {
		slog.ErrorContext(ctx, "document processing error", "error", err, "document_id", payload.DocumentID)
		return err
	}
	return nil
}
