//go:build wireinject
// +build wireinject

package di

import (
	"assetsync/pkg/config"
	"assetsync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function; this repo does
// not commit the generated wire_gen.go (matching the teacher), so
// cmd/app/main.go calls the hand-maintained build function in build.go
// instead.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideStore,
		ProvideClickHouseClient,
		ProvideSink,
		ProvideProviders,
		ProvideEngine,
		ProvidePool,
		ProvideStatusHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
