// Package leave records dentist leave and cascades it onto booked
// appointments and queue entries.
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

// Calendar answers availability checks for the ledger.
type Calendar struct {
	repo Repository
}

func NewCalendar(repo Repository) *Calendar {
	return &Calendar{repo: repo}
}

func (c *Calendar) IsOnLeave(ctx context.Context, dentistCode string, day time.Time) (bool, error) {
	return c.repo.Covering(ctx, dentistCode, clock.DateOf(day, time.UTC))
}

type Ledger interface {
	ListAll(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
	CancelForLeave(ctx context.Context, code, actorCode string) (*appointment.Appointment, error)
}

type Conductor interface {
	List(ctx context.Context, f queue.Filter) ([]queue.Entry, error)
	RemoveForLeave(ctx context.Context, code string) (*queue.Entry, error)
}

type Handler struct {
	repo      Repository
	ledger    Ledger
	conductor Conductor
	clock     clock.Clock
	loc       *time.Location
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func NewHandler(
	repo Repository,
	ledger Ledger,
	conductor Conductor,
	clk clock.Clock,
	loc *time.Location,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		repo:      repo,
		ledger:    ledger,
		conductor: conductor,
		clock:     clk,
		loc:       loc,
		logger:    logger,
		metrics:   m,
	}
}

func validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return apperr.Validationf("dateFrom and dateTo are required")
	}
	if to.Before(from) {
		return apperr.Validationf("dateTo must not be before dateFrom")
	}
	return nil
}

// ApplyLeave records the leave, then cancels the dentist's active
// appointments and removes queue entries inside the range. Each item is
// handled on its own; failures are logged and reported, not retried.
func (h *Handler) ApplyLeave(ctx context.Context, req Request) (*CascadeResult, error) {
	if req.DentistCode == "" {
		return nil, apperr.Validationf("dentistCode is required")
	}
	from := clock.DateOf(req.From, time.UTC)
	to := clock.DateOf(req.To, time.UTC)
	if err := validateRange(req.From, req.To); err != nil {
		return nil, err
	}

	created, err := h.repo.Insert(ctx, Leave{
		DentistCode: req.DentistCode,
		DentistName: req.DentistName,
		DateFrom:    from,
		DateTo:      to,
		Reason:      req.Reason,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   h.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	res := &CascadeResult{Leave: *created}
	log := h.logger.With("leave_code", created.Code, "dentist_code", created.DentistCode)

	start, _ := clock.DayRange(from, h.loc)
	_, end := clock.DayRange(to, h.loc)
	appts, err := h.ledger.ListAll(ctx, appointment.Filter{
		DentistCode: req.DentistCode,
		From:        start,
		To:          end,
		Statuses:    []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed},
	})
	if err != nil {
		return res, fmt.Errorf("list appointments for leave %s: %w", created.Code, err)
	}
	for _, a := range appts {
		if _, err := h.ledger.CancelForLeave(ctx, a.Code, req.CreatedBy); err != nil {
			log.Error("leave cancel appointment failed", "appointment_code", a.Code, "error", err)
			res.Failures = append(res.Failures, Failure{Kind: "appointment", Code: a.Code, Error: err.Error()})
			continue
		}
		res.AppointmentsCancelled++
	}

	entries, err := h.conductor.List(ctx, queue.Filter{
		DentistCode: req.DentistCode,
		DayFrom:     from,
		DayTo:       to,
	})
	if err != nil {
		return res, fmt.Errorf("list queue entries for leave %s: %w", created.Code, err)
	}
	for _, e := range entries {
		if _, err := h.conductor.RemoveForLeave(ctx, e.Code); err != nil {
			log.Error("leave remove queue entry failed", "queue_code", e.Code, "error", err)
			res.Failures = append(res.Failures, Failure{Kind: "queue", Code: e.Code, Error: err.Error()})
			continue
		}
		res.QueueEntriesRemoved++
	}

	failedAppts, failedQueue := 0, 0
	for _, f := range res.Failures {
		if f.Kind == "queue" {
			failedQueue++
		} else {
			failedAppts++
		}
	}
	h.metrics.ObserveCascade("appointment", res.AppointmentsCancelled, failedAppts)
	h.metrics.ObserveCascade("queue", res.QueueEntriesRemoved, failedQueue)

	log.Info("leave applied",
		"appointments_cancelled", res.AppointmentsCancelled,
		"queue_entries_removed", res.QueueEntriesRemoved,
		"failures", len(res.Failures),
	)
	return res, nil
}

func (h *Handler) List(ctx context.Context, dentistCode string) ([]Leave, error) {
	return h.repo.List(ctx, dentistCode)
}

func (h *Handler) Get(ctx context.Context, code string) (*Leave, error) {
	return h.repo.Get(ctx, code)
}

// Update edits a leave. The cascade is not re-run.
func (h *Handler) Update(ctx context.Context, code string, u Update) (*Leave, error) {
	if err := validateRange(u.From, u.To); err != nil {
		return nil, err
	}
	u.From = clock.DateOf(u.From, time.UTC)
	u.To = clock.DateOf(u.To, time.UTC)
	return h.repo.Update(ctx, code, u, h.clock.Now())
}

// Delete removes a leave. Cancelled appointments stay cancelled.
func (h *Handler) Delete(ctx context.Context, code string) error {
	return h.repo.Delete(ctx, code)
}
