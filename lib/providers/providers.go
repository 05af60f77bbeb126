package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/onkernel/iconograph/cmd/agent/config"
	"github.com/onkernel/iconograph/lib/bootconfig"
	"github.com/onkernel/iconograph/lib/fetch"
	"github.com/onkernel/iconograph/lib/fleet"
	"github.com/onkernel/iconograph/lib/images"
	"github.com/onkernel/iconograph/lib/logger"
	"github.com/onkernel/iconograph/lib/otel"
	"github.com/onkernel/iconograph/lib/system"
	"go.opentelemetry.io/otel/metric"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the agent configuration
func ProvideConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProvideLogger provides a structured logger
func ProvideLogger(cfg *config.Config) *slog.Logger {
	return logger.New(cfg.LogLevel)
}

// ProvideNodeConfig provides the static node configuration
func ProvideNodeConfig(cfg *config.Config) (*config.NodeConfig, error) {
	return config.LoadNodeConfig(cfg.NodeConfigPath)
}

// ProvideMeterProvider provides the OpenTelemetry meter provider
func ProvideMeterProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (*otel.Provider, func(), error) {
	p, err := otel.Init(ctx, otel.Config{
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		ServiceName: "iconograph-agent",
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Shutdown(context.Background()); err != nil {
			log.Error("failed to shutdown meter provider", "error", err)
		}
	}
	return p, cleanup, nil
}

// ProvideMeter provides the agent meter
func ProvideMeter(p *otel.Provider) metric.Meter {
	return p.Meter("iconograph/agent")
}

// ProvideTLSConfig provides the client TLS configuration
func ProvideTLSConfig(cfg *config.Config) (*tls.Config, error) {
	return fetch.LoadTLSConfig(fetch.TLSFiles{
		CACert:     cfg.HTTPSCACert,
		ClientCert: cfg.HTTPSClientCert,
		ClientKey:  cfg.HTTPSClientKey,
	})
}

// ProvideImageStore provides the local image store
func ProvideImageStore(cfg *config.Config, node *config.NodeConfig, log *slog.Logger) (*images.Store, error) {
	return images.NewStore(images.StoreConfig{
		Dir:       cfg.ImageDir,
		ImageType: node.ImageType,
		Labeler:   images.DeviceLabeler{Path: cfg.BootDevicePath},
	}, log)
}

// ProvideFetcher provides the image fetcher
func ProvideFetcher(cfg *config.Config, tlsConfig *tls.Config, store *images.Store) *fetch.Fetcher {
	return fetch.NewFetcher(fetch.Config{
		BaseURL: cfg.ImageBaseURL(),
		Client:  fetch.NewHTTPClient(tlsConfig),
	}, store)
}

// ProvideBootConfig provides the boot menu generator
func ProvideBootConfig(cfg *config.Config, store *images.Store, log *slog.Logger) *bootconfig.Generator {
	return bootconfig.NewGenerator(bootconfig.Config{
		ImageDir: cfg.ImageDir,
		BootDir:  cfg.BootDir,
	}, store, log)
}

// ProvideAgent provides the fleet agent
func ProvideAgent(
	cfg *config.Config,
	node *config.NodeConfig,
	tlsConfig *tls.Config,
	fetcher *fetch.Fetcher,
	boot *bootconfig.Generator,
	store *images.Store,
	log *slog.Logger,
	meter metric.Meter,
) (*fleet.Agent, error) {
	return fleet.NewAgent(fleet.Config{
		URL:            cfg.ControlURL(),
		TLS:            tlsConfig,
		ImageType:      node.ImageType,
		NodeConfig:     node.Fields,
		ReportInterval: cfg.ReportInterval,
	}, fetcher, boot, store, system.SyscallRebooter{}, log, meter)
}
