package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for booking, queue and delivery flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookingsTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	queueMigrated      prometheus.Counter
	cascadeAffected    *prometheus.CounterVec
	jobRunsTotal       *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "ledger",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"origin", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Appointment and queue state transitions",
		}, []string{"entity", "to"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by channel and status",
		}, []string{"channel", "status"}),
		queueMigrated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "queue",
			Name:      "migrated_total",
			Help:      "Appointments consumed into the treatment queue",
		}),
		cascadeAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "leave",
			Name:      "cascade_affected_total",
			Help:      "Appointments and queue entries removed by leave cascades",
		}, []string{"kind", "status"}),
		jobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by result",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduler job runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.transitionsTotal,
		m.notificationsTotal,
		m.queueMigrated,
		m.cascadeAffected,
		m.jobRunsTotal,
		m.jobDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) ObserveBooking(origin, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(origin, outcome).Inc()
}

func (m *Metrics) ObserveTransition(entity, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) ObserveDelivery(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveMigrated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueMigrated.Add(float64(n))
}

func (m *Metrics) ObserveCascade(kind string, ok, failed int) {
	if m == nil {
		return
	}
	m.cascadeAffected.WithLabelValues(kind, "ok").Add(float64(ok))
	m.cascadeAffected.WithLabelValues(kind, "failed").Add(float64(failed))
}

func (m *Metrics) ObserveJob(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
