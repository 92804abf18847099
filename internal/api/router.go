// Package api exposes the scheduling services over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/booking"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/leave"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type RouterConfig struct {
	Ledger     *appointment.Ledger
	Conductor  *queue.Conductor
	Leave      *leave.Handler
	Gateway    *booking.Gateway
	Dispatcher *notify.Dispatcher

	Checks         []Check
	MetricsHandler http.Handler // defaults to promhttp.Handler()
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
	Clock          clock.Clock
	Location       *time.Location
	Env            string
	Version        string
	Store          string
}

type server struct {
	ledger     *appointment.Ledger
	conductor  *queue.Conductor
	leave      *leave.Handler
	gateway    *booking.Gateway
	dispatcher *notify.Dispatcher
	logger     *logging.Logger
	clock      clock.Clock
	loc        *time.Location
}

func (s *server) today() time.Time {
	return clock.DateOf(s.clock.Now(), s.loc)
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &server{
		ledger:     cfg.Ledger,
		conductor:  cfg.Conductor,
		leave:      cfg.Leave,
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		loc:        cfg.Location,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version, cfg.Store)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", s.createAppointment)
		r.Get("/", s.listAppointments)
		r.Get("/{code}", s.getAppointment)
		r.Post("/{code}/confirm", s.confirmAppointment)
		r.Post("/{code}/cancel", s.cancelAppointment)
		r.Post("/{code}/complete", s.completeAppointment)
		r.Patch("/{code}/reschedule", s.rescheduleAppointment)
	})
	r.Get("/slots", s.availableSlots)

	r.Post("/otp/request", s.requestOTP)
	r.Post("/otp/verify", s.verifyOTP)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", s.listQueue)
		r.Post("/migrate", s.migrateQueue)
		r.Get("/{code}", s.getQueueEntry)
		r.Patch("/{code}/status", s.advanceQueue)
		r.Patch("/{code}/switch-time", s.switchQueueTime)
		r.Post("/{code}/delete-and-update", s.rebookQueue)
		r.Delete("/{code}", s.cancelQueue)
	})

	r.Route("/leave", func(r chi.Router) {
		r.Post("/", s.applyLeave)
		r.Get("/", s.listLeave)
		r.Put("/{code}", s.updateLeave)
		r.Delete("/{code}", s.deleteLeave)
	})

	r.Post("/notify/test", s.notifyTest)
	r.Get("/notify/logs", s.notifyLogs)

	return r
}
