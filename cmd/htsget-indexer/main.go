package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/config"
	"github.com/CanDIG/htsget-app/internal/indexer"
	"github.com/CanDIG/htsget-app/internal/logging"
	"github.com/CanDIG/htsget-app/internal/storage"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := logging.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := catalog.Open(ctx, cfg.DB.Path, catalog.Options{
		HtsgetURL:  cfg.Htsget.URL,
		BucketSize: cfg.Htsget.BucketSize,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Could not open catalog store")
	}
	defer store.Close()

	resolver := storage.NewResolver(cfg.S3, "", logger)
	worker := &indexer.Worker{
		Store:        store,
		Materializer: storage.NewMaterializer(store, resolver),
		QueuePath:    cfg.Indexing.Path,
		Log:          logger,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping indexer")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Indexing worker failed")
	}
	logger.Info("Indexing worker stopped")
}
