// Package queue runs the same-day treatment queue. Appointments are consumed
// into queue entries by the nightly migration or when booked for today;
// entries then move only on explicit dentist action.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

// Ledger is the part of the appointment ledger the conductor needs.
type Ledger interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	ListAll(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Entry, error)
}

type Conductor struct {
	repo     Repository
	ledger   Ledger
	locker   redisclient.Locker
	notifier Notifier
	clock    clock.Clock
	cfg      config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewConductor(
	repo Repository,
	ledger Ledger,
	locker redisclient.Locker,
	notifier Notifier,
	clk clock.Clock,
	cfg config.Config,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Conductor {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if cfg.ClinicLocation == nil {
		cfg.ClinicLocation = time.UTC
	}
	return &Conductor{
		repo:     repo,
		ledger:   ledger,
		locker:   locker,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// MigrateDay consumes the day's pending and confirmed appointments into the
// queue, one transaction per dentist. An empty dentistCode migrates every
// dentist with appointments that day. Re-running only appends what is left.
func (c *Conductor) MigrateDay(ctx context.Context, dentistCode string, day time.Time) (MigrationResult, error) {
	day = clock.DateOf(day, time.UTC)
	res := MigrationResult{
		Day:      day,
		Migrated: map[string]int{},
		Failed:   map[string]string{},
	}

	removed, err := c.repo.DeleteBefore(ctx, dentistCode, day)
	if err != nil {
		return res, err
	}
	res.StaleRemoved = removed

	dentists := []string{dentistCode}
	if dentistCode == "" {
		dentists, err = c.dentistsWithAppointments(ctx, day)
		if err != nil {
			return res, err
		}
	}

	var errs []error
	for _, d := range dentists {
		entries, err := c.consume(ctx, d, day)
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			c.logger.Warn("queue migration already running", "dentist_code", d, "day", day.Format(time.DateOnly))
			res.Skipped = append(res.Skipped, d)
		case err != nil:
			c.logger.Error("queue migration failed", "dentist_code", d, "error", err)
			res.Failed[d] = err.Error()
			errs = append(errs, fmt.Errorf("migrate %s: %w", d, err))
		default:
			res.Migrated[d] = len(entries)
		}
	}

	c.metrics.ObserveMigrated(res.Total())
	c.logger.Info("queue migration finished",
		"day", day.Format(time.DateOnly),
		"migrated", res.Total(),
		"stale_removed", res.StaleRemoved,
		"failed", len(res.Failed),
	)
	return res, errors.Join(errs...)
}

func (c *Conductor) dentistsWithAppointments(ctx context.Context, day time.Time) ([]string, error) {
	from, to := clock.DayRange(day, c.cfg.ClinicLocation)
	appts, err := c.ledger.ListAll(ctx, appointment.Filter{
		From:     from,
		To:       to,
		Statuses: []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed},
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s: %w", day.Format(time.DateOnly), err)
	}
	seen := map[string]bool{}
	var out []string
	for _, a := range appts {
		if !seen[a.DentistCode] {
			seen[a.DentistCode] = true
			out = append(out, a.DentistCode)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Conductor) migrateInput(dentistCode string, day time.Time, appointmentCode string) MigrateInput {
	from, to := clock.DayRange(day, c.cfg.ClinicLocation)
	return MigrateInput{
		DentistCode:     dentistCode,
		Day:             day,
		From:            from,
		To:              to,
		AppointmentCode: appointmentCode,
		Now:             c.clock.Now(),
	}
}

// consume runs a whole-day migration under the dentist's migration lock.
func (c *Conductor) consume(ctx context.Context, dentistCode string, day time.Time) ([]Entry, error) {
	var entries []Entry
	err := c.locker.WithLock(ctx, redisclient.MigrationLockKey(dentistCode, day), func(lockCtx context.Context) error {
		var err error
		entries, err = c.repo.Migrate(lockCtx, c.migrateInput(dentistCode, day, ""))
		return err
	})
	return entries, err
}

// Enqueue adds a single appointment booked for today to the end of its
// dentist's queue. It does not take the migration lock; the repository
// serializes position assignment per dentist day.
func (c *Conductor) Enqueue(ctx context.Context, a appointment.Appointment) error {
	day := clock.DateOf(a.ScheduledAt, c.cfg.ClinicLocation)
	entries, err := c.repo.Migrate(ctx, c.migrateInput(a.DentistCode, day, a.Code))
	if err != nil {
		return err
	}
	for _, e := range entries {
		c.metrics.ObserveMigrated(1)
		c.notify(ctx, e, notify.TemplateQueueAdded, nil)
	}
	return nil
}

// Advance applies a dentist-driven status change.
func (c *Conductor) Advance(ctx context.Context, code string, to Status) (*Entry, error) {
	e, err := c.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}

	updated, err := c.repo.UpdateStatus(ctx, code, e.Status, to, c.clock.Now())
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveTransition("queue", string(to))
	c.history(ctx, *updated, ActionStatusChanged, string(e.Status)+" -> "+string(to))
	c.logger.Info("queue entry advanced", "queue_code", code, "from", e.Status, "to", to)
	return updated, nil
}

// SwitchTime moves a waiting entry to another instant on the same day.
func (c *Conductor) SwitchTime(ctx context.Context, code string, at time.Time) (*Entry, error) {
	if at.IsZero() {
		return nil, apperr.Validationf("new time is required")
	}
	e, err := c.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusWaiting {
		return nil, ErrNotWaiting
	}
	if !clock.DateOf(at, c.cfg.ClinicLocation).Equal(e.QueueDay) {
		return nil, apperr.Validationf("new time must be on %s", e.QueueDay.Format(time.DateOnly))
	}

	updated, err := c.repo.SwitchTime(ctx, code, at.UTC(), c.clock.Now())
	if err != nil {
		return nil, err
	}
	c.history(ctx, *updated, ActionTimeSwitched, "")
	c.notify(ctx, *updated, notify.TemplateQueueTimeSwitched, nil)
	return updated, nil
}

// DeleteAndRebook books a new appointment for the entry's patient and then
// removes the entry. The entry is kept if booking fails.
func (c *Conductor) DeleteAndRebook(ctx context.Context, code string, req RebookRequest) (*appointment.Appointment, error) {
	e, err := c.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, apperr.Validationf("date is required")
	}
	offset, err := config.ParseClockTime(req.Time)
	if err != nil {
		return nil, apperr.Validationf("time must be HH:MM")
	}
	when := clock.At(req.Date, offset, c.cfg.ClinicLocation)
	if !when.After(c.clock.Now()) {
		return nil, apperr.Validationf("rebooked time must be in the future")
	}

	dentist := req.DentistCode
	if dentist == "" {
		dentist = e.DentistCode
	}
	reason := req.Reason
	if reason == "" {
		reason = e.Reason
	}

	booked, err := c.ledger.Book(ctx, appointment.BookRequest{
		PatientCode: e.PatientCode,
		DentistCode: dentist,
		When:        when,
		Reason:      reason,
		Origin:      appointment.OriginRebook,
		ActorCode:   req.ActorCode,
	})
	if err != nil {
		return nil, err
	}

	removed, err := c.repo.Delete(ctx, code, History{
		Action:    ActionDeletedRebooked,
		Reason:    "rebooked as " + booked.Code,
		CreatedAt: c.clock.Now(),
	})
	if err != nil {
		return booked, fmt.Errorf("remove rebooked entry %s: %w", code, err)
	}

	meta := appointment.Metadata(*booked, c.cfg.ClinicLocation)
	meta["queueCode"] = removed.Code
	c.notifyPatient(ctx, removed.PatientCode, notify.TemplateQueueRebooked, meta)
	return booked, nil
}

// Cancel removes a waiting entry.
func (c *Conductor) Cancel(ctx context.Context, code, reason string) (*Entry, error) {
	e, err := c.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusWaiting {
		return nil, ErrNotWaiting
	}
	return c.remove(ctx, code, ActionCancelled, reason, notify.TemplateQueueCancelled)
}

// RemoveForLeave removes an entry regardless of status and notifies the
// patient that the dentist is unavailable.
func (c *Conductor) RemoveForLeave(ctx context.Context, code string) (*Entry, error) {
	return c.remove(ctx, code, ActionRemovedLeave, appointment.ReasonDentistOnLeave, notify.TemplateQueueRemovedLeave)
}

func (c *Conductor) remove(ctx context.Context, code, action, reason, template string) (*Entry, error) {
	removed, err := c.repo.Delete(ctx, code, History{
		Action:    action,
		Reason:    reason,
		CreatedAt: c.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "-"
	}
	c.metrics.ObserveTransition("queue", "removed")
	c.logger.Info("queue entry removed", "queue_code", code, "action", action)
	c.notify(ctx, *removed, template, map[string]any{"reason": reason})
	return removed, nil
}

// CancelByAppointment cancels the entry consumed from appointmentCode.
func (c *Conductor) CancelByAppointment(ctx context.Context, appointmentCode, reason, actorCode string) (*appointment.Appointment, bool, error) {
	e, err := c.repo.GetByAppointment(ctx, appointmentCode)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	removed, err := c.Cancel(ctx, e.Code, reason)
	if err != nil {
		return nil, true, err
	}

	now := c.clock.Now()
	a := asAppointment(*removed)
	a.Status = appointment.StatusCancelled
	a.CancelReason = reason
	a.CancelledBy = actorCode
	a.CancelledAt = &now
	return &a, true, nil
}

// RescheduleByAppointment switches the time of the entry consumed from
// appointmentCode.
func (c *Conductor) RescheduleByAppointment(ctx context.Context, appointmentCode string, at time.Time) (*appointment.Appointment, bool, error) {
	e, err := c.repo.GetByAppointment(ctx, appointmentCode)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	updated, err := c.SwitchTime(ctx, e.Code, at)
	if err != nil {
		return nil, true, err
	}
	a := asAppointment(*updated)
	return &a, true, nil
}

func asAppointment(e Entry) appointment.Appointment {
	return appointment.Appointment{
		Code:        e.AppointmentCode,
		PatientCode: e.PatientCode,
		DentistCode: e.DentistCode,
		ScheduledAt: e.ScheduledAt,
		Reason:      e.Reason,
		Status:      appointment.StatusConfirmed,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (c *Conductor) CountForDay(ctx context.Context, dentistCode string, day time.Time) (int, error) {
	return c.repo.CountForDay(ctx, dentistCode, day)
}

func (c *Conductor) InstantsForDay(ctx context.Context, dentistCode string, day time.Time) ([]time.Time, error) {
	entries, err := c.repo.List(ctx, Filter{DentistCode: dentistCode, DayFrom: day, DayTo: day})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.ScheduledAt
	}
	return out, nil
}

func (c *Conductor) List(ctx context.Context, f Filter) ([]Entry, error) {
	return c.repo.List(ctx, f)
}

func (c *Conductor) Get(ctx context.Context, code string) (*Entry, error) {
	return c.repo.Get(ctx, code)
}

func (c *Conductor) History(ctx context.Context, code string) ([]History, error) {
	return c.repo.History(ctx, code)
}

func (c *Conductor) history(ctx context.Context, e Entry, action, reason string) {
	if err := c.repo.InsertHistory(ctx, History{
		QueueCode: e.Code,
		Action:    action,
		Reason:    reason,
		Snapshot:  Snapshot(e),
		CreatedAt: c.clock.Now(),
	}); err != nil {
		c.logger.Warn("insert queue history failed", "queue_code", e.Code, "action", action, "error", err)
	}
}

func (c *Conductor) notify(ctx context.Context, e Entry, template string, extra map[string]any) {
	local := e.ScheduledAt.In(c.cfg.ClinicLocation)
	reason := e.Reason
	if reason == "" {
		reason = "-"
	}
	meta := map[string]any{
		"appointmentCode": e.AppointmentCode,
		"queueCode":       e.Code,
		"patientCode":     e.PatientCode,
		"dentistCode":     e.DentistCode,
		"position":        strconv.Itoa(e.Position),
		"date":            local.Format("Mon 02 Jan 2006"),
		"time":            local.Format("15:04"),
		"reason":          reason,
	}
	for k, v := range extra {
		meta[k] = v
	}
	c.notifyPatient(ctx, e.PatientCode, template, meta)
}

func (c *Conductor) notifyPatient(ctx context.Context, patientCode, template string, meta map[string]any) {
	if c.notifier == nil {
		return
	}
	if _, err := c.notifier.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: patientCode,
		TemplateKey:   template,
		Metadata:      meta,
	}); err != nil {
		c.logger.Error("record queue notification failed", "patient_code", patientCode, "template", template, "error", err)
	}
}
