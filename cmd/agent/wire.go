//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/iconograph/cmd/agent/config"
	"github.com/onkernel/iconograph/lib/fleet"
	"github.com/onkernel/iconograph/lib/otel"
	"github.com/onkernel/iconograph/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx           context.Context
	Logger        *slog.Logger
	Config        *config.Config
	MeterProvider *otel.Provider
	Agent         *fleet.Agent
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideLogger,
		providers.ProvideNodeConfig,
		providers.ProvideMeterProvider,
		providers.ProvideMeter,
		providers.ProvideTLSConfig,
		providers.ProvideImageStore,
		providers.ProvideFetcher,
		providers.ProvideBootConfig,
		providers.ProvideAgent,
		wire.Struct(new(application), "*"),
	))
}
