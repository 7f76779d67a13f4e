// Package app builds a runnable launchpad from configuration: journal, price
// feed, routers, metrics endpoint and the engine on top.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/amm"
	"github.com/rovshanmuradov/launchpad/internal/config"
	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/engine"
	"github.com/rovshanmuradov/launchpad/internal/pricefeed"
	"github.com/rovshanmuradov/launchpad/internal/settings"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/gormstore"
)

// App owns the engine and everything it was wired with.
type App struct {
	cfg      *config.Config
	engine   *engine.Engine
	owner    *settings.OwnerCap
	journal  storage.Journal
	routers  []*amm.Router
	registry *prometheus.Registry
	server   *http.Server
	shutdown *ShutdownHandler
	logger   *zap.Logger
}

// New wires an App. Close must be called to release the journal.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger.Named("app"),
		shutdown: NewShutdownHandler(logger, 30*time.Second),
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	feed, err := newFeed(cfg, logger)
	if err != nil {
		return nil, err
	}

	var current func() *domain.GlobalConfig
	journal, err := a.openJournal(ctx, func() *domain.GlobalConfig { return current() })
	if err != nil {
		return nil, err
	}
	a.journal = journal

	eng, owner, err := engine.New(engine.Options{
		Config:      &cfg.Global,
		Deployer:    cfg.Engine.Deployer,
		Custody:     cfg.Engine.Custody,
		Feed:        feed,
		Journal:     journal,
		Registerer:  a.registry,
		EventBuffer: cfg.Engine.EventBuffer,
		Logger:      logger,
	})
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	a.engine, a.owner = eng, owner
	current = eng.Settings().Snapshot

	// пулы из журнала возвращаются до того, как движок примет первую сделку
	restored, err := eng.RestorePools(ctx)
	if err != nil {
		a.logger.Warn("Some journaled pools were not restored",
			zap.Int("restored", restored),
			zap.Error(err))
	}

	// лента закрывается после движка: шина к тому моменту уже пуста
	tape, err := OpenTape(cfg.Tape, eng.Events(), logger)
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
		return nil, err
	}
	if tape != nil {
		a.shutdown.Add("tape", tape)
	}
	a.shutdown.AddFunc("engine", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eng.Close(ctx)
	})

	for _, rc := range cfg.Routers {
		r, err := amm.NewRouter(rc, eng.Tokens(), logger)
		if err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		eng.RegisterRouter(r)
		a.routers = append(a.routers, r)
	}

	a.logger.Info("Launchpad ready",
		zap.Int("routers", len(a.routers)),
		zap.Int("pools", restored),
		zap.String("price_feed", cfg.PriceFeed.Source),
		zap.String("storage", storageName(cfg.Storage)))
	return a, nil
}

func storageName(cfg gormstore.Config) string {
	if cfg.Driver == "" {
		return "none"
	}
	return cfg.Driver
}

func newFeed(cfg *config.Config, logger *zap.Logger) (pricefeed.Feed, error) {
	switch cfg.PriceFeed.Source {
	case config.FeedHTTP:
		return pricefeed.NewHTTP(cfg.PriceFeed.HTTP, logger)
	case config.FeedStatic, "":
		return pricefeed.NewStatic(cfg.PriceFeed.StaticUSD), nil
	default:
		return nil, fmt.Errorf("unknown price feed source %q", cfg.PriceFeed.Source)
	}
}

// openJournal connects the configured database, or returns a no-op journal
// when storage is disabled.
func (a *App) openJournal(ctx context.Context, current func() *domain.GlobalConfig) (storage.Journal, error) {
	if a.cfg.Storage.Driver == "" {
		return storage.Nop{}, nil
	}
	store, err := gormstore.Open(ctx, a.cfg.Storage, current, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

func (a *App) Engine() *engine.Engine        { return a.engine }
func (a *App) Owner() *settings.OwnerCap     { return a.owner }
func (a *App) Journal() storage.Journal      { return a.journal }
func (a *App) Config() *config.Config        { return a.cfg }
func (a *App) Gatherer() prometheus.Gatherer { return a.registry }

// ServeMetrics starts the Prometheus endpoint if enabled.
func (a *App) ServeMetrics() {
	if !a.cfg.Metrics.Enabled || a.server != nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("Metrics endpoint listening",
			zap.String("addr", a.cfg.Metrics.Listen),
			zap.String("path", a.cfg.Metrics.Path))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()

	srv := a.server
	a.shutdown.AddFunc("metrics", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// Close stops the metrics endpoint, drains events and closes the journal.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
