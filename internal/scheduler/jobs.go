package scheduler

import (
	"context"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

const (
	JobExpirePending = "expire-pending"
	JobFlushDue      = "flush-notifications"
	JobMigrateQueue  = "migrate-queue"
	JobDayAhead      = "day-ahead-reminders"
)

type Ledger interface {
	ExpirePending(ctx context.Context) (int, error)
	SendReminders(ctx context.Context, day time.Time) (int, error)
}

type Flusher interface {
	FlushDue(ctx context.Context) (int, error)
}

type Migrator interface {
	MigrateDay(ctx context.Context, dentistCode string, day time.Time) (queue.MigrationResult, error)
}

// DefaultTasks builds the clinic's standard job set.
func DefaultTasks(cfg config.Config, clk clock.Clock, ledger Ledger, flusher Flusher, migrator Migrator, logger *logging.Logger) []Task {
	loc := cfg.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}
	every := cfg.SchedulerTick
	if every <= 0 {
		every = 30 * time.Second
	}

	return []Task{
		{
			Name:    JobExpirePending,
			Every:   every,
			Timeout: 20 * time.Second,
			Run: func(ctx context.Context) error {
				n, err := ledger.ExpirePending(ctx)
				if n > 0 {
					logger.Info("expired pending appointments", "count", n)
				}
				return err
			},
		},
		{
			Name:    JobFlushDue,
			Every:   every,
			Timeout: time.Minute,
			Run: func(ctx context.Context) error {
				n, err := flusher.FlushDue(ctx)
				if n > 0 {
					logger.Info("flushed due notifications", "count", n)
				}
				return err
			},
		},
		{
			Name:    JobMigrateQueue,
			DailyAt: cfg.MigrationAt,
			Timeout: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := migrator.MigrateDay(ctx, "", clock.DateOf(clk.Now(), loc))
				return err
			},
		},
		{
			Name:    JobDayAhead,
			DailyAt: cfg.RemindersAt,
			Timeout: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				tomorrow := clock.DateOf(clk.Now(), loc).AddDate(0, 0, 1)
				n, err := ledger.SendReminders(ctx, tomorrow)
				logger.Info("day-ahead reminders queued", "day", tomorrow.Format(time.DateOnly), "count", n)
				return err
			},
		},
	}
}
