package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/onkernel/iconograph/lib/builds"
	"github.com/onkernel/iconograph/lib/logger"
	"github.com/onkernel/iconograph/lib/otel"
	"github.com/onkernel/iconograph/lib/system"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	build        builds.Config
	logLevel     string
	otelEndpoint string
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("build-image", pflag.ContinueOnError)
	flagSet.StringVar(&opts.build.SourceISO, "source-iso", "", "base ISO providing the boot tree (required)")
	flagSet.StringVar(&opts.build.DestISO, "dest-iso", "", "path of the ISO to write (required)")
	flagSet.StringVar(&opts.build.Arch, "arch", "amd64", "Debian architecture to bootstrap")
	flagSet.StringVar(&opts.build.Release, "release", "", "distribution codename, e.g. focal (required)")
	flagSet.StringVar(&opts.build.Mirror, "archive", builds.DefaultMirror, "package archive URL")
	flagSet.StringVar(&opts.build.CompanionRepo, "companion-repo", builds.DefaultCompanionRepo, "git repository cloned into the image")
	flagSet.StringSliceVar(&opts.build.Packages, "package", nil, "package to install; repeatable (default: built-in set)")
	flagSet.BoolVar(&opts.build.Shell, "shell", false, "open a shell in the chroot before squashing")
	flagSet.StringVar(&opts.build.WorkDir, "workdir", "", "parent directory for the temporary build tree")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flagSet.StringVar(&opts.otelEndpoint, "otel-endpoint", os.Getenv("OTEL_ENDPOINT"), "OTLP gRPC endpoint for build metrics")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	var missing []string
	for name, value := range map[string]string{
		"--source-iso": opts.build.SourceISO,
		"--dest-iso":   opts.build.DestISO,
		"--release":    opts.build.Release,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return options{}, fmt.Errorf("missing required flags: %v", missing)
	}

	opts.build.Arch = system.DebianArch(opts.build.Arch)
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	log := logger.New(opts.logLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := otel.Init(ctx, otel.Config{Endpoint: opts.otelEndpoint, ServiceName: "iconograph-build"})
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Error("failed to flush metrics", "error", err)
		}
	}()

	runner := system.NewExecRunner()
	pipeline, err := builds.NewPipeline(runner, system.NewHostMounter(runner), log, provider.Meter("iconograph/build"))
	if err != nil {
		return err
	}

	// An interrupt kills the running tool; teardown still runs
	return pipeline.Build(ctx, opts.build)
}
