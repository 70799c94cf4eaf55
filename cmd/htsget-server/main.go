package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/CanDIG/htsget-app/internal/api"
	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/beacon"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/config"
	"github.com/CanDIG/htsget-app/internal/drs"
	"github.com/CanDIG/htsget-app/internal/htsget"
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
	materializer := storage.NewMaterializer(store, resolver)

	var cache authz.DecisionCache
	if cfg.Cache.RedisURL != "" {
		cache, err = authz.NewRedisCache(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis cache unavailable, falling back to in-process cache")
			cache = nil
		}
	}
	if cache == nil {
		cache = authz.NewMemoryCache(cfg.Cache.Size, cfg.Cache.DefaultTTL)
	}
	opa := authz.NewOPAClient(cfg.Auth.OPA, logger)
	gate := authz.NewGate(cfg.Auth, opa, store, cache, logger)

	drsSvc := &drs.Service{
		Store:        store,
		Resolver:     resolver,
		Gate:         gate,
		IndexingPath: cfg.Indexing.Path,
		Log:          logger,
	}
	htsgetSvc := &htsget.Service{
		Store:        store,
		Materializer: materializer,
		Gate:         gate,
		Cfg:          cfg.Htsget,
		IndexingPath: cfg.Indexing.Path,
		Log:          logger,
	}
	beaconSvc := &beacon.Service{
		Store:        store,
		Materializer: materializer,
		Gate:         gate,
		Htsget:       htsgetSvc,
		Log:          logger,
	}

	server := api.NewServer(cfg, logger, drsSvc, htsgetSvc, beaconSvc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}
