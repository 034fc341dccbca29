// Package di wires the freshness engine's concrete dependencies together,
// following the teacher's split between a wire.Build declaration
// (wire.go) and a set of hand-written Provide* constructor functions
// (this file) — the teacher itself does not commit a wire_gen.go either.
package di

import (
	"fmt"

	"assetsync/internal/api/statusapi"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/internal/planner"
	"assetsync/internal/provider/alpaca"
	"assetsync/internal/runtime"
	"assetsync/internal/service/engine"
	"assetsync/internal/sink/clickhousesink"
	"assetsync/internal/store/sqlite"
	pkgch "assetsync/pkg/clickhouse"
	"assetsync/pkg/config"
	xhttp "assetsync/pkg/http"
	applogger "assetsync/pkg/logger"
	"assetsync/pkg/metrics"
	"assetsync/pkg/server"
)

// ProvideLogger builds the zerolog-backed application logger (spec.md §1A).
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		TimeFormat: cfg.Logger.TimeFormat,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder (spec.md §1A).
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideStore opens the SQLite manifest store (spec.md §4.1, §6.3).
func ProvideStore(cfg *config.Config) (*sqlite.Store, error) {
	store, err := sqlite.New(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("di: open manifest store: %w", err)
	}
	return store, nil
}

// ProvideClickHouseClient creates the ClickHouse connection pool the sink
// writes bars through (spec.md §6.2, §2A).
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.Sink.Host),
		pkgch.WithPort(cfg.Sink.Port),
		pkgch.WithDatabase(cfg.Sink.Database),
		pkgch.WithCredentials(cfg.Sink.User, cfg.Sink.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.Sink.UseHTTP),
		pkgch.WithAsyncInsert(cfg.Sink.AsyncInsert, cfg.Sink.WaitForAsync),
		pkgch.WithTimeouts(cfg.Sink.DialTimeout, cfg.Sink.ReadTimeout, cfg.Sink.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.Sink.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("di: clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSink builds the concrete ClickHouse Sink (spec.md §6.2), including
// its one-time schema bootstrap.
func ProvideSink(client *pkgch.Client, cfg *config.Config) (repository.Sink, error) {
	sink, err := clickhousesink.New(client, cfg.Sink.Database)
	if err != nil {
		return nil, fmt.Errorf("di: clickhouse sink: %w", err)
	}
	return sink, nil
}

// ProvideProviders builds the provider registry (spec.md §4.5, §9 dynamic
// dispatch): a map keyed by model.ProviderID so the planner and runtime
// never branch on provider code internally. Only alpaca is wired
// end-to-end; a second concrete provider slots into this map without
// touching either the planner or the runtime.
func ProvideProviders(cfg *config.Config) map[model.ProviderID]repository.BarProvider {
	return map[model.ProviderID]repository.BarProvider{
		model.ProviderAlpaca: alpaca.New(alpaca.Config{
			APIKeyID:       cfg.Providers.Alpaca.APIKeyID,
			APISecretKey:   cfg.Providers.Alpaca.APISecretKey,
			BaseURL:        cfg.Providers.Alpaca.BaseURL,
			Plan:           model.SubscriptionPlan(cfg.Providers.Alpaca.Plan),
			RequestTimeout: cfg.Providers.Alpaca.RequestTimeout,
		}),
	}
}

// ProvideEngine builds the planner/runtime driver (spec.md §4.3, §5). Its
// Pool field is left nil here and filled in by ProvideApp once the pool
// exists, keeping this constructor free of a direct dependency on
// *runtime.Pool (spec.md §9: "neither [planner nor runtime] holds a handle
// to the other" — the engine's dependency on the pool is solely through
// the narrow engine.Pool interface, set at the top of the graph).
func ProvideEngine(
	store *sqlite.Store,
	providers map[model.ProviderID]repository.BarProvider,
	met repository.Metrics,
	cfg *config.Config,
	log *applogger.Logger,
) *engine.Engine {
	return &engine.Engine{
		Store:     store,
		Providers: providers,
		Metrics:   met,
		Config: planner.Config{
			Tick:            cfg.Planner.Tick,
			HotWindow:       cfg.Planner.HotWindow,
			FailureCooldown: cfg.Planner.FailureCooldown,
			GapRetention:    cfg.Planner.GapRetention,
			MaxAttempts:     cfg.Planner.MaxAttempts,
		},
		Log: log,
	}
}

// ProvidePool builds the worker pool (spec.md §4.4).
func ProvidePool(
	store *sqlite.Store,
	providers map[model.ProviderID]repository.BarProvider,
	sink repository.Sink,
	met repository.Metrics,
	cfg *config.Config,
	log *applogger.Logger,
) *runtime.Pool {
	return runtime.NewPool(runtime.Deps{
		Store:       store,
		Providers:   providers,
		Sink:        sink,
		Metrics:     met,
		Limiter:     runtime.NewLimiter(),
		Backoff:     runtime.DefaultBackoffConfig(),
		LeaseTTL:    cfg.Runtime.LeaseTTL,
		Concurrency: cfg.Runtime.Concurrency,
		IdlePoll:    cfg.Runtime.IdlePoll,
		Log:         log,
	})
}

// ProvideStatusHandler builds the read-only ops HTTP handler (spec.md §1A,
// §2 Non-goals — health/readiness/status only, never a bar query surface).
func ProvideStatusHandler(store *sqlite.Store) xhttp.Handler {
	return statusapi.New(store)
}

// ProvideApp assembles the top-level App, wiring the pool into the engine
// after both exist.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	store *sqlite.Store,
	eng *engine.Engine,
	pool *runtime.Pool,
	statusHandler xhttp.Handler,
	chClient *pkgch.Client,
) *server.App {
	eng.Pool = pool
	return server.New(cfg, log, store, eng, pool, statusHandler,
		func() error { return chClient.Close() },
	)
}
