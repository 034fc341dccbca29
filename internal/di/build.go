package di

import (
	"fmt"

	"assetsync/pkg/config"
	"assetsync/pkg/server"
)

// InitializeApp builds the application graph by hand, in the same order
// wire.go declares for `wire build`. The teacher does not commit a
// generated wire_gen.go either; this is that file's hand-maintained
// equivalent, kept in lockstep with the Provide* functions in
// providers.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	log, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("di: logger: %w", err)
	}

	met := ProvideMetrics()

	store, err := ProvideStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("di: store: %w", err)
	}

	chClient, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("di: clickhouse client: %w", err)
	}

	sink, err := ProvideSink(chClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("di: sink: %w", err)
	}

	providers := ProvideProviders(cfg)

	eng := ProvideEngine(store, providers, met, cfg, log)
	pool := ProvidePool(store, providers, sink, met, cfg, log)
	statusHandler := ProvideStatusHandler(store)

	return ProvideApp(cfg, log, store, eng, pool, statusHandler, chClient), nil
}
