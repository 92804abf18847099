// Command scheduler runs the background jobs without the HTTP server. Run one
// instance per deployment; set EMBEDDED_SCHEDULER=false on the api servers.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

func main() {
	once := flag.Bool("once", false, "run every job that is due now and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "scheduler")
	logger.Info("scheduler starting up", "env", cfg.Env, "tick", cfg.SchedulerTick)

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

	if *once {
		ran := a.Scheduler.RunDue(rootCtx)
		logger.Info("scheduler run complete", "jobs", ran)
		return
	}

	if err := a.Scheduler.Run(rootCtx); err != nil {
		logger.Error("scheduler stopped with error", "error", err)
	}
	logger.Info("shutdown signal received, scheduler stopped")
}
