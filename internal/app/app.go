// Package app owns the application lifecycle: it wires dependencies from
// configuration, assembles the engine for the selected mode and runs the
// long-lived goroutines until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/decision"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/graph"
	"github.com/hexlane/dexarb/internal/orchestrator"
	"github.com/hexlane/dexarb/internal/server"
	"github.com/hexlane/dexarb/internal/server/handler"
	"github.com/hexlane/dexarb/internal/txbuilder"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the mode's goroutines and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case orchestrator.ModeScan, orchestrator.ModeExecute, orchestrator.ModeMonitor:
		return a.runEngine(ctx, mode, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// runEngine assembles the orchestrator pipeline and runs it alongside the
// head feed and the status server.
func (a *App) runEngine(ctx context.Context, mode string, deps *Dependencies) error {
	var orch *orchestrator.Orchestrator
	if deps.Fetcher != nil {
		var pricer orchestrator.GasPricer
		var executor orchestrator.Executor
		if mode != orchestrator.ModeMonitor {
			pricer = txbuilder.NewPricer(deps.RPC, deps.HeadFeed, a.cfg.Gas, a.logger)
		}
		if mode == orchestrator.ModeExecute {
			builder, err := txbuilder.NewBuilder(deps.RPC, a.cfg.Chain, a.cfg.Gas, a.logger)
			if err != nil {
				return fmt.Errorf("app: tx builder: %w", err)
			}
			executor = builder
		}
		orch = orchestrator.New(orchestrator.Options{
			Mode:      mode,
			Config:    a.cfg.Orchestrator,
			Gas:       a.cfg.Gas,
			MinTVLUSD: a.cfg.Fetcher.MinTVLUSD,
			Native:    a.cfg.Chain.NativeToken,
			Pools:     deps.Fetcher,
			Cache:     deps.Cache,
			Searcher:  graph.NewSearcher(a.cfg.Search, a.logger),
			Evaluator: decision.NewEvaluator(a.cfg.Decision, a.cfg.Gas, a.logger),
			Pricer:    pricer,
			Executor:  executor,
			Store:     deps.Store,
			Alerter:   deps.Notifier,
			Logger:    a.logger,
		})
	} else {
		a.logger.Warn("no registry or endpoints configured, serving status only")
	}

	g, ctx := errgroup.WithContext(ctx)

	if deps.HeadFeed != nil && mode != orchestrator.ModeMonitor {
		g.Go(func() error { return deps.HeadFeed.Run(ctx) })
	}
	if orch != nil {
		g.Go(func() error { return orch.Run(ctx) })
	}
	if a.cfg.Server.Enabled {
		srv := a.buildServer(mode, deps, orch)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) buildServer(mode string, deps *Dependencies, orch *orchestrator.Orchestrator) *server.Server {
	var (
		stats     = &orchestrator.Stats{}
		endpoints func() []domain.Endpoint
		breaker   interface{ Reset() }
	)
	if orch != nil {
		stats = orch.Stats()
		breaker = orch.State().Breaker()
	}
	if deps.RPC != nil {
		endpoints = deps.RPC.Snapshot
	}
	status := handler.NewStatusHandler(deps.Cache, stats, endpoints, breaker, a.logger)
	return server.New(server.Config{Port: a.cfg.Server.Port, Mode: mode}, status, a.logger)
}

// Close tears down resources in reverse registration order.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
