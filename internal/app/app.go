// Package app assembles the scheduling services from configuration. The api
// server, the standalone scheduler and the seeder all start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/dental-queue-scheduling/internal/api"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/booking"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/db"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/leave"
	"github.com/hackgods/dental-queue-scheduling/internal/memstore"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
	"github.com/hackgods/dental-queue-scheduling/internal/scheduler"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

// ContactWriter stores directory contacts. Used by the seeder.
type ContactWriter interface {
	Upsert(ctx context.Context, c directory.Contact) error
}

type App struct {
	Config     config.Config
	Logger     *logging.Logger
	Clock      clock.Clock
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Directory  *directory.Directory
	Contacts   ContactWriter
	Ledger     *appointment.Ledger
	Conductor  *queue.Conductor
	Leave      *leave.Handler
	Gateway    *booking.Gateway
	Dispatcher *notify.Dispatcher
	Scheduler  *scheduler.Scheduler

	checks  []api.Check
	closers []func()
}

type Option func(*options)

type options struct {
	clock   clock.Clock
	senders map[notify.Channel]notify.Sender
}

// WithClock replaces the wall clock. Used by tests.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithSenders replaces the delivery channels built from configuration.
func WithSenders(senders map[notify.Channel]notify.Sender) Option {
	return func(o *options) { o.senders = senders }
}

type repositories struct {
	appointments appointment.Repository
	queue        queue.Repository
	leaves       leave.Repository
	notes        notify.Repository
	contacts     interface {
		directory.Repository
		ContactWriter
	}
	otp    booking.Store
	locker redisclient.Locker
}

// New connects storage, builds every service and wires them together. Close
// releases what New opened.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Clock:    o.clock,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	var (
		repos repositories
		err   error
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		repos = a.memoryRepositories()
	case config.StorePostgres:
		repos, err = a.postgresRepositories(ctx)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	senders := o.senders
	if senders == nil {
		if senders, err = buildSenders(ctx, cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Contacts = repos.contacts
	a.Directory = directory.New(repos.contacts, cfg.DefaultCountry)
	a.Dispatcher = notify.NewDispatcher(repos.notes, a.Directory, senders, a.Clock,
		logger.With("component", "dispatcher"), a.Metrics, notify.Options{
			Workers:     cfg.NotifyWorkers,
			QueueSize:   cfg.NotifyQueueSize,
			ClaimLease:  cfg.NotifyClaimLease,
			OrphanAfter: cfg.NotifyOrphanAfter,
		})
	a.closers = append(a.closers, a.Dispatcher.Close)

	a.Ledger = appointment.NewLedger(repos.appointments, leave.NewCalendar(repos.leaves), a.Dispatcher,
		a.Clock, cfg, logger.With("component", "ledger"), a.Metrics)
	a.Conductor = queue.NewConductor(repos.queue, a.Ledger, repos.locker, a.Dispatcher,
		a.Clock, cfg, logger.With("component", "queue"), a.Metrics)
	a.Ledger.AttachQueue(a.Conductor)

	a.Leave = leave.NewHandler(repos.leaves, a.Ledger, a.Conductor, a.Clock, cfg.ClinicLocation,
		logger.With("component", "leave"), a.Metrics)
	a.Gateway = booking.NewGateway(repos.otp, a.Directory, a.Dispatcher, a.Ledger, a.Clock, cfg,
		logger.With("component", "otp"))

	a.Scheduler = scheduler.New(
		scheduler.DefaultTasks(cfg, a.Clock, a.Ledger, a.Dispatcher, a.Conductor, logger.With("component", "scheduler")),
		a.Clock, cfg.ClinicLocation, cfg.SchedulerTick, logger.With("component", "scheduler"), a.Metrics,
	)

	logger.Info("services ready",
		"store", cfg.StoreDriver,
		"channels", channelNames(senders),
		"timezone", cfg.ClinicLocation.String(),
	)
	return a, nil
}

func (a *App) memoryRepositories() repositories {
	store := memstore.New(a.Clock)
	return repositories{
		appointments: store.Appointments(),
		queue:        store.Queue(),
		leaves:       store.Leaves(),
		notes:        store.Notifications(),
		contacts:     store.Directory(),
		otp:          store.OTP(),
		locker:       redisclient.NoopLocker{},
	}
}

func (a *App) postgresRepositories(ctx context.Context) (repositories, error) {
	pool, err := db.ConnectPostgres(ctx, a.Config.PostgresDSN)
	if err != nil {
		return repositories{}, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	a.checks = append(a.checks, api.Check{Name: "postgres", Required: true, Ping: pool.Ping})

	rdb, err := redisclient.Connect(ctx, a.Config)
	if err != nil {
		return repositories{}, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			a.Logger.Warn("close redis", "error", err)
		}
	})
	a.checks = append(a.checks, api.Check{Name: "redis", Required: true, Ping: redisPing(rdb)})

	return pgRepositories(pool, rdb, a.Config), nil
}

func pgRepositories(pool *pgxpool.Pool, rdb *redis.Client, cfg config.Config) repositories {
	return repositories{
		appointments: appointment.NewPgRepository(pool),
		queue:        queue.NewPgRepository(pool),
		leaves:       leave.NewPgRepository(pool),
		notes:        notify.NewPgRepository(pool),
		contacts:     directory.NewPgRepository(pool),
		otp:          booking.NewRedisStore(rdb),
		locker:       redisclient.NewRedisLocker(rdb, cfg.MigrationLockTTL),
	}
}

func redisPing(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// buildSenders returns the configured delivery channels. Unconfigured
// channels are left out of the map; console is added by the dispatcher.
func buildSenders(ctx context.Context, cfg config.Config, logger *logging.Logger) (map[notify.Channel]notify.Sender, error) {
	senders := map[notify.Channel]notify.Sender{}

	if wa := notify.NewWhatsAppSender(notify.WhatsAppConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioWhatsAppFrom,
	}, logger); wa != nil {
		senders[notify.ChannelChat] = wa
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sg == nil {
			return nil, errors.New("EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY")
		}
		senders[notify.ChannelEmail] = sg
	case "ses":
		sesCfg := notify.SESConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			FromEmail:       cfg.EmailFrom,
			FromName:        cfg.EmailFromName,
		}
		client, err := notify.NewSESClient(ctx, sesCfg)
		if err != nil {
			return nil, err
		}
		senders[notify.ChannelEmail] = notify.NewSESSender(client, sesCfg, logger)
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
	return senders, nil
}

func channelNames(senders map[notify.Channel]notify.Sender) []string {
	names := []string{string(notify.ChannelConsole)}
	for _, ch := range []notify.Channel{notify.ChannelChat, notify.ChannelEmail} {
		if senders[ch] != nil {
			names = append(names, string(ch))
		}
	}
	return names
}

// Router builds the HTTP handler over the assembled services.
func (a *App) Router(version string) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Ledger:         a.Ledger,
		Conductor:      a.Conductor,
		Leave:          a.Leave,
		Gateway:        a.Gateway,
		Dispatcher:     a.Dispatcher,
		Checks:         a.checks,
		MetricsHandler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Metrics:        a.Metrics,
		Logger:         a.Logger.With("component", "http"),
		Clock:          a.Clock,
		Location:       a.Config.ClinicLocation,
		Env:            a.Config.Env,
		Version:        version,
		Store:          a.Config.StoreDriver,
	})
}

// Close stops the dispatcher and releases connections, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
