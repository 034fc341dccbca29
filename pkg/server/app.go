package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"assetsync/internal/domain/repository"
	"assetsync/internal/runtime"
	"assetsync/internal/service/engine"
	"assetsync/internal/service/specloader"
	"assetsync/internal/store/sqlite"
	"assetsync/pkg/config"
	xhttp "assetsync/pkg/http"
	applogger "assetsync/pkg/logger"
)

// App encapsulates the full freshness-engine lifecycle: the planner/runtime
// driver, the manifest store, and the ops HTTP server (spec.md §2, §4.4).
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	store      *sqlite.Store
	engine     *engine.Engine
	pool       *runtime.Pool
	httpServer *xhttp.Server
	closers    []func() error

	engineDone chan struct{}
	poolDone   chan struct{}
}

// New assembles the App from already-constructed dependencies; wiring them
// together lives in internal/di.
func New(cfg *config.Config, log *applogger.Logger, store *sqlite.Store, eng *engine.Engine, pool *runtime.Pool, httpHandler xhttp.Handler, closers ...func() error) *App {
	httpServer := xhttp.NewServer(httpHandler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log),
	)
	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		engine:     eng,
		pool:       pool,
		httpServer: httpServer,
		closers:    closers,
	}
}

// Run starts the planner/runtime driver and the ops HTTP server, and blocks
// until SIGINT/SIGTERM, then shuts down within Runtime.ShutdownGrace (spec.md
// §4.4 graceful shutdown).
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.cfg.SpecFile != "" {
		diff, err := specloader.Apply(ctx, a.store, a.cfg.SpecFile)
		if err != nil {
			return err
		}
		a.log.Info("spec reconciled",
			applogger.Int("added", len(diff.Added)),
			applogger.Int("modified", len(diff.Modified)),
			applogger.Int("removed", len(diff.RemovedIDs)),
		)
	}

	a.engineDone = make(chan struct{})
	go func() {
		defer close(a.engineDone)
		a.engine.Run(ctx)
	}()
	a.log.Info("planner/runtime engine started", applogger.Duration("tick", a.cfg.Planner.Tick))

	a.poolDone = make(chan struct{})
	go func() {
		defer close(a.poolDone)
		a.pool.Run(ctx)
	}()
	a.log.Info("worker pool started", applogger.Int("concurrency", a.cfg.Runtime.Concurrency))

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown releases the HTTP server and every registered infrastructure
// client within Runtime.ShutdownGrace (spec.md §4.4): in-flight workers and
// the planner get that same grace period to finish their current commit
// before the manifest store is closed underneath them.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Runtime.ShutdownGrace)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.awaitDone(shutdownCtx, "worker pool", a.poolDone)
	a.awaitDone(shutdownCtx, "planner engine", a.engineDone)

	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.log.Warn("dependency close error", applogger.Error(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("manifest store close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}

// awaitDone blocks until done closes or ctx expires, whichever comes first,
// logging when the grace period ran out before the component finished.
func (a *App) awaitDone(ctx context.Context, name string, done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn(name+" did not finish within shutdown grace", applogger.Duration("grace", a.cfg.Runtime.ShutdownGrace))
	}
}

var _ repository.ManifestStore = (*sqlite.Store)(nil)
