// Package app wires configuration, storage, messaging and model backends into
// the HTTP surface and the NSQ consumer.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"docpilot/features/document"
	"docpilot/features/stats"
	"docpilot/features/task"
	"docpilot/internal/adapter/gemini"
	"docpilot/internal/adapter/ollama"
	"docpilot/internal/adapter/openai"
	"docpilot/internal/config"
	"docpilot/internal/generate"
	"docpilot/internal/middleware"
	"docpilot/internal/rag"
	"docpilot/internal/settings"
	"docpilot/internal/taskcache"
	"docpilot/internal/worker"
)

// Database is satisfied by *sql.DB; the indirection keeps New mockable.
type Database interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventPublisher is satisfied by *nsq.Producer.
type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler          http.Handler
	DocumentService  *document.Service
	DocumentConsumer *worker.DocumentConsumer

	port int
}

func New(cfg *config.Config, db Database, pub EventPublisher) (*App, error) {
	sqlDB, ok := db.(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("app requires *sql.DB, got %T", db)
	}

	// Model backends
	llm, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	gen := generate.NewGenerator(llm, cfg.MaxPromptChars)
	index := rag.NewIndex()
	retriever := rag.NewRetriever(embedder, index)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)
	settingsHandler := settings.NewHandler(settingsService)

	// Task cache
	cacheStore := taskcache.NewPostgresStore(sqlDB)
	cache := taskcache.New(cacheStore)

	// Feature: Document
	docRepo := document.NewPostgresRepository(sqlDB)
	docService := document.NewService(docRepo, pub, index, embedder, cache, document.ProcessConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		EmbedBatch:   cfg.EmbedBatch,
		EmbedTimeout: time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
	})
	docHandler := document.NewHandler(docService, int(cfg.MaxUploadSizeMB))

	// Feature: Task
	taskService := task.NewService(docService, retriever, gen, cache, settingsService, task.Defaults{
		TopK:          cfg.TopK,
		ContextBudget: cfg.ContextBudgetTokens,
	})
	taskHandler := task.NewHandler(taskService)

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, cache, index)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Create)))
	mux.Handle("POST /documents/upload", middleware.CorrelationID(enableCORS(docHandler.Upload)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("GET /documents/{id}/status", middleware.CorrelationID(enableCORS(docHandler.GetStatus)))
	mux.Handle("GET /documents/{id}/chunks", middleware.CorrelationID(enableCORS(docHandler.GetChunks)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Delete)))
	mux.Handle("POST /documents/{id}/reprocess", middleware.CorrelationID(enableCORS(docHandler.Reprocess)))

	mux.Handle("POST /tasks", middleware.CorrelationID(enableCORS(taskHandler.Run)))
	mux.Handle("POST /ask", middleware.CorrelationID(enableCORS(taskHandler.Ask)))
	mux.Handle("POST /ask/stream", middleware.CorrelationID(enableCORS(taskHandler.AskStream)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	consumer := worker.NewDocumentConsumer(docService)

	return &App{
		Handler:          mux,
		DocumentService:  docService,
		DocumentConsumer: consumer,
		port:             cfg.ServerPort,
	}, nil
}

func buildLLM(cfg *config.Config) (generate.LLM, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return ollama.NewLLMClient(ollama.LLMConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.LLMModel,
			Timeout: time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		}), nil
	case "openai":
		return openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			EmbedModel: cfg.EmbedModel,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}

func buildEmbedder(cfg *config.Config) (rag.Embedder, error) {
	switch cfg.EmbedProvider {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbedModel,
			Timeout: time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		}), nil
	case "openai":
		return openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			EmbedModel: cfg.EmbedModel,
		}), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini embed provider")
		}
		return gemini.NewEmbedder(context.Background(), cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unsupported embed provider %q", cfg.EmbedProvider)
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
