package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"docpilot/internal/app"
	"docpilot/internal/config"
	"docpilot/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	deps, err := app.Bootstrap(cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps.DB, deps.NSQProducer)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rebuild in-memory indexes for documents processed before the restart.
	if err := application.DocumentService.RestoreIndexes(ctx); err != nil {
		slog.Error("failed to restore indexes", "error", err)
		os.Exit(1)
	}

	// Document pipeline consumer
	consumer, err := nsq.NewConsumer(config.TopicDocumentProcess, "engine", nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer", "error", err)
		os.Exit(1)
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return application.DocumentConsumer.HandleMessage(m)
	}))
	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "error", err)
		os.Exit(1)
	}
	defer consumer.Stop()
	slog.Info("document consumer connected")

	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
