package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playbookhq/readiness-engine/internal/activity"
	"github.com/playbookhq/readiness-engine/internal/cache"
	"github.com/playbookhq/readiness-engine/internal/config"
	"github.com/playbookhq/readiness-engine/internal/engine"
	"github.com/playbookhq/readiness-engine/internal/events"
	"github.com/playbookhq/readiness-engine/internal/indicators"
	"github.com/playbookhq/readiness-engine/internal/learning"
	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/patterns"
	"github.com/playbookhq/readiness-engine/internal/readiness"
	"github.com/playbookhq/readiness-engine/internal/repo"
	"github.com/playbookhq/readiness-engine/internal/services"
	"github.com/playbookhq/readiness-engine/internal/signals"
	"github.com/playbookhq/readiness-engine/internal/status"
	"github.com/playbookhq/readiness-engine/internal/textgen"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     repo.Store
	cache     cache.Provider
	publisher *events.KafkaPublisher

	detector   *signals.Detector
	correlator *patterns.Correlator
	extractor  *learning.Extractor
	scorer     *readiness.Scorer
	activity   *activity.Logger
	status     *status.Aggregator
	pipeline   *engine.Pipeline
	service    *services.ReadinessService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	dsn := cfg.Storage.SQLitePath
	if cfg.Storage.Driver == "postgres" {
		dsn = cfg.Storage.PostgresURL
	}
	store, err := repo.Open(ctx, cfg.Storage.Driver, dsn, cfg.Storage.Migrate)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	a.cache = newCacheProvider(ctx, cfg.Cache, logger)

	var publisher activity.Publisher
	if cfg.Kafka.Enabled {
		a.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ActivityTopic, logger)
		publisher = a.publisher
	}
	a.activity = activity.NewLogger(store, publisher, logger)

	feed := indicators.NewClient(cfg.Indicators.BaseURL, cfg.Indicators.Path, cfg.Indicators.Timeout, a.cache, cfg.Cache.IndicatorFeedTTL, logger)
	categories := make([]models.SignalType, 0, len(cfg.Detection.Categories))
	for _, c := range cfg.Detection.Categories {
		categories = append(categories, models.SignalType(c))
	}
	trigger := signals.Triggers{
		signals.ZScoreTrigger{Threshold: cfg.Detection.ZScoreThreshold},
		signals.SpikeTrigger{Threshold: cfg.Detection.SpikeThreshold},
	}
	a.detector = signals.NewDetector(feed, trigger, store, a.activity, signals.Config{
		Categories:   categories,
		DedupeWindow: cfg.Detection.DedupeWindow,
		MaxAge:       cfg.Detection.SignalMaxAge,
	}, logger)

	archetypes, err := patterns.LoadArchetypes(cfg.Patterns.ArchetypesPath, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load archetypes: %w", err)
	}
	a.correlator = patterns.NewCorrelator(store, a.activity, archetypes, patterns.Config{
		SignalWindow: cfg.Patterns.SignalWindow,
		DedupeWindow: cfg.Patterns.DedupeWindow,
		MaxEvidence:  cfg.Patterns.MaxEvidence,
	}, logger)

	var generator learning.Generator
	if cfg.TextGen.Endpoint != "" {
		generator = textgen.NewClient(textgen.Config{
			Endpoint:          cfg.TextGen.Endpoint,
			APIKey:            cfg.TextGen.APIKey,
			Model:             cfg.TextGen.Model,
			Timeout:           cfg.TextGen.Timeout,
			MaxTokens:         cfg.TextGen.MaxTokens,
			RequestsPerSecond: cfg.TextGen.RequestsPerSecond,
			Burst:             cfg.TextGen.Burst,
		})
	}
	a.extractor = learning.NewExtractor(store, generator, a.activity, cfg.TextGen.Timeout, logger)

	a.scorer = readiness.NewScorer(store, a.activity, cache.NewRunLock(a.cache, cfg.Cache.LockTTL), readiness.Config{
		TrailingDays:   cfg.Readiness.TrailingDays,
		CoverageTarget: cfg.Readiness.CoverageTarget,
	}, logger)
	a.status = status.NewAggregator(store, logger)
	a.pipeline = engine.NewPipeline(logger, a.detector, a.correlator, a.scorer)

	a.service = services.NewReadinessService(logger, services.Dependencies{
		Detector:   a.detector,
		Correlator: a.correlator,
		Extractor:  a.extractor,
		Scorer:     a.scorer,
		Activity:   a.activity,
		Status:     a.status,
		Pipeline:   a.pipeline,
		Catalog:    store,
	})
	return a, nil
}

// newCacheProvider prefers Valkey and falls back to an in-process cache, so single-node
// deployments still get feed memoization and run locks.
func newCacheProvider(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if cfg.Enabled && cfg.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err == nil {
			return provider
		}
		logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
	}
	return cache.NewMemoryProvider()
}

func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
