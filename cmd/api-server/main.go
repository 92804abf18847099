package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(rootCtx, 15*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.Router(version),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.EmbeddedScheduler {
		g.Go(func() error { return a.Scheduler.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api-server stopped with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("api-server stopped")
}
