package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/app"
	"vizdots/api/internal/cache"
	"vizdots/api/internal/config"
	"vizdots/api/internal/email"
	"vizdots/api/internal/observability"
	"vizdots/api/internal/search"
	"vizdots/api/internal/store"
	"vizdots/api/internal/teamhealth"
	"vizdots/api/internal/workflow"
)

// runtime holds every long-lived dependency a command needs.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	db       *sql.DB
	store    *store.PostgresStore
	pgSearch *search.PgSearch
	meili    *search.Meili
	search   *search.Service
	cache    *cache.RedisCache
	service  *app.Service
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = observability.InitMetrics(rt.registry)

	rt.db, err = openDatabase(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store.NewPostgresStore(rt.db)

	thresholds, err := alerts.LoadThresholds(cfg.AlertThresholdsFile)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load alert thresholds: %w", err)
	}

	rt.pgSearch = search.NewPgSearch(rt.db)
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	rt.search = search.NewService(rt.meili, rt.pgSearch, logger)

	resolverOpts := []workflow.Option{
		workflow.WithIndexer(rt.search),
		workflow.WithMetrics(rt.metrics),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rt.cache, err = cache.NewRedisCache(cfg.RedisURL, cfg.WorkflowCacheTTL)
		if err != nil {
			logger.Warn("redis unavailable, workflow cache disabled", zap.Error(err))
		} else {
			resolverOpts = append(resolverOpts, workflow.WithCache(rt.cache))
		}
	}

	mailer := email.NewService(email.Config{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		AppURL:     cfg.AppURL,
		MaxRetries: cfg.EmailMaxRetries,
	}, email.WithLogger(logger), email.WithMetrics(rt.metrics))
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, critical alert emails disabled")
	}

	rt.service = app.New(cfg, app.Deps{
		Store:     rt.store,
		Health:    teamhealth.NewEngine(rt.store, logger, teamhealth.WithMetrics(rt.metrics)),
		Alerts:    alerts.NewEngine(rt.store, logger, alerts.WithThresholds(thresholds), alerts.WithMetrics(rt.metrics)),
		Workflows: workflow.NewResolver(rt.store, logger, resolverOpts...),
		Search:    rt.search,
		Notifier:  mailer,
		Logger:    logger,
	})
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("database close failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}
