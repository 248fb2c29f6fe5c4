package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/concordance/internal/cache"
	"github.com/dshills/concordance/internal/config"
	"github.com/dshills/concordance/internal/embedder"
	"github.com/dshills/concordance/internal/indexer"
	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/internal/storage"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStorage
	fpCache *cache.FingerprintCache
	gateway *embedder.Gateway
	engine  *searcher.Engine
}

// newApp loads configuration and opens the store, the embedding gateway and
// the search engine
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("config", "warning", w)
	}
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	cfg := a.cfg

	if dir := filepath.Dir(cfg.Database.Path); dir != "" && cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = store

	var tier cache.Tier
	if cfg.Cache.Dir != "" {
		bt, err := cache.OpenBadgerTier(cfg.Cache.Dir, a.logger)
		if err != nil {
			return err
		}
		tier = bt
	}
	a.fpCache = cache.NewFingerprintCache(cfg.Cache.FingerprintSize, cfg.Cache.FingerprintTTL, tier, a.logger)

	chainCfgs := cfg.ProviderChain()
	chain, err := embedder.NewChain(chainCfgs)
	if err != nil {
		return err
	}
	opts := []embedder.GatewayOption{
		embedder.WithCache(a.fpCache),
		embedder.WithConcurrency(cfg.Embedding.Concurrency),
		embedder.WithBatchSize(cfg.Embedding.BatchSize),
		embedder.WithTokenLimit(cfg.Embedding.TokenLimit),
		embedder.WithLogger(a.logger),
	}
	for i, pc := range chainCfgs {
		if pc.RateLimit > 0 {
			opts = append(opts, embedder.WithRateLimit(chain[i].Provider(), pc.RateLimit, pc.Burst))
		}
	}
	gateway, err := embedder.NewGateway(chain, opts...)
	if err != nil {
		for _, p := range chain {
			_ = p.Close()
		}
		return err
	}
	a.gateway = gateway

	oppositions := searcher.DefaultOppositions()
	if cfg.Search.OppositionsFile != "" {
		oppositions, err = searcher.LoadOppositions(cfg.Search.OppositionsFile)
		if err != nil {
			return err
		}
	}

	engine, err := searcher.NewEngine(store, gateway,
		searcher.WithOppositions(oppositions),
		searcher.WithResultCache(cfg.Cache.ResultSize, cfg.Cache.ResultTTL),
		searcher.WithDefaults(searcher.Options{
			SimilarityThreshold: cfg.Search.SimilarityThreshold,
			ResultLimit:         cfg.Search.ResultLimit,
			Timeout:             cfg.Search.Timeout,
			SemanticWeight:      cfg.Search.SemanticWeight,
		}),
		searcher.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.engine = engine

	a.logger.Debug("components ready",
		"database", cfg.Database.Path,
		"build_mode", storage.BuildMode,
		"providers", len(chain),
		"persistent_cache", tier != nil)
	return nil
}

// indexConfig is the indexing configuration from the config file
func (a *app) indexConfig() indexer.Config {
	return indexer.Config{
		Segmenter:   a.cfg.Chunking,
		Concurrency: a.cfg.Indexing.Concurrency,
	}
}

// newPipeline builds an indexing pipeline reading from src
func (a *app) newPipeline(src indexer.DocumentSource) (*indexer.Pipeline, error) {
	return indexer.NewPipeline(src, a.gateway, a.store,
		indexer.WithPoolSize(a.cfg.Indexing.Workers),
		indexer.WithLogger(a.logger),
	)
}

// Close releases every component that was opened
func (a *app) Close() {
	if a.gateway != nil {
		_ = a.gateway.Close()
	}
	if a.fpCache != nil {
		if err := a.fpCache.Close(); err != nil {
			a.logger.Warn("failed to close cache", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}
