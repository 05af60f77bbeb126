package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onkernel/iconograph/lib/fleet"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := app.Logger
	slog.SetDefault(logger)

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting agent", "server", app.Config.Server, "image_dir", app.Config.ImageDir)
		err := app.Agent.Run(gctx)
		// The agent only returns on shutdown or after a reboot; stop the rest either way
		stop()
		return err
	})

	if app.Config.StatusAddr != "" {
		handler, err := fleet.NewStatusHandler(app.Agent, logger, app.MeterProvider.Meter("iconograph/status"))
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              app.Config.StatusAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		grp.Go(func() error {
			logger.Info("starting status server", "addr", app.Config.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "error", err)
				return err
			}
			return nil
		})

		grp.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown status server", "error", err)
				return err
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}
	logger.Info("agent stopped")
	return nil
}
