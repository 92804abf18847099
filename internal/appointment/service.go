// Package appointment owns the appointment ledger: booking, acceptance,
// cancellation and rescheduling under the per-instant uniqueness rule and the
// daily cap.
package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

var tracer = otel.Tracer("dental.internal.appointment")

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired     = "APPOINTMENT_EXPIRED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentQueued      = "APPOINTMENT_QUEUED"
)

const (
	ReasonAcceptanceExpired = "acceptance window expired"
	ReasonDentistOnLeave    = "dentist on leave"
	ReasonSlotTaken         = "time already taken in today's queue"
)

// listPage caps a single List call.
const listPage = 500

// AvailabilityChecker answers whether a dentist is on leave for a day.
type AvailabilityChecker interface {
	IsOnLeave(ctx context.Context, dentistCode string, day time.Time) (bool, error)
}

// Notifier is the part of the dispatcher the ledger uses.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Entry, error)
	CancelScheduled(ctx context.Context, appointmentCode string) (int, error)
}

// QueueHook lets the ledger reach appointments already consumed into the
// same-day queue. The queue conductor implements it.
type QueueHook interface {
	Enqueue(ctx context.Context, a Appointment) error
	CancelByAppointment(ctx context.Context, appointmentCode, reason, actorCode string) (*Appointment, bool, error)
	RescheduleByAppointment(ctx context.Context, appointmentCode string, at time.Time) (*Appointment, bool, error)
	CountForDay(ctx context.Context, dentistCode string, day time.Time) (int, error)
	InstantsForDay(ctx context.Context, dentistCode string, day time.Time) ([]time.Time, error)
}

type Ledger struct {
	repo     Repository
	leaves   AvailabilityChecker
	notifier Notifier
	queue    QueueHook
	clock    clock.Clock
	cfg      config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewLedger(
	repo Repository,
	leaves AvailabilityChecker,
	notifier Notifier,
	clk clock.Clock,
	cfg config.Config,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.ClinicLocation == nil {
		cfg.ClinicLocation = time.UTC
	}
	return &Ledger{
		repo:     repo,
		leaves:   leaves,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// AttachQueue wires the queue conductor after both are constructed.
func (l *Ledger) AttachQueue(q QueueHook) {
	l.queue = q
}

func (l *Ledger) today() time.Time {
	return clock.DateOf(l.clock.Now(), l.cfg.ClinicLocation)
}

func (l *Ledger) dayOf(t time.Time) time.Time {
	return clock.DateOf(t, l.cfg.ClinicLocation)
}

// Book creates an appointment. Patient bookings start pending; every other
// origin is confirmed immediately and counts against the daily cap.
func (l *Ledger) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.dentist_code", req.DentistCode),
		attribute.String("dental.origin", string(req.Origin)),
	)

	if req.Origin == "" {
		req.Origin = OriginReceptionist
	}
	if err := l.validateBooking(req); err != nil {
		l.metrics.ObserveBooking(string(req.Origin), "invalid")
		return nil, err
	}

	created, err := l.book(ctx, req)
	if err != nil {
		l.metrics.ObserveBooking(string(req.Origin), outcomeOf(err))
		if apperr.KindOf(err) == nil {
			span.RecordError(err)
		}
		return nil, err
	}
	l.metrics.ObserveBooking(string(req.Origin), string(created.Status))
	return created, nil
}

func (l *Ledger) validateBooking(req BookRequest) error {
	if req.PatientCode == "" {
		return apperr.Validationf("patientCode is required")
	}
	if req.DentistCode == "" {
		return apperr.Validationf("dentistCode is required")
	}
	if req.When.IsZero() {
		return apperr.Validationf("appointment time is required")
	}
	if !req.Origin.Valid() {
		return apperr.Validationf("unknown origin %q", req.Origin)
	}
	if l.dayOf(req.When).Before(l.today()) {
		return apperr.Validationf("appointment time %s is in the past", req.When.Format(time.RFC3339))
	}
	return nil
}

func (l *Ledger) book(ctx context.Context, req BookRequest) (*Appointment, error) {
	when := req.When.UTC()
	day := l.dayOf(when)

	if err := l.checkSlot(ctx, req.DentistCode, when, ""); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	appt := Appointment{
		PatientCode: req.PatientCode,
		DentistCode: req.DentistCode,
		ScheduledAt: when,
		Reason:      req.Reason,
		Origin:      req.Origin,
		CreatedBy:   req.ActorCode,
		CreatedAt:   now,
	}
	if req.Origin.Pending() {
		expires := now.Add(l.cfg.PendingWindow)
		appt.Status = StatusPending
		appt.PendingExpiresAt = &expires
	} else {
		if err := l.checkCapacity(ctx, req.DentistCode, day); err != nil {
			return nil, err
		}
		appt.Status = StatusConfirmed
		appt.AcceptedBy = req.ActorCode
		appt.AcceptedAt = &now
	}

	created, err := l.repo.Insert(ctx, appt)
	if err != nil {
		return nil, err
	}

	l.logEvent(ctx, created.Code, EventAppointmentCreated, map[string]any{
		"patient_code": created.PatientCode,
		"dentist_code": created.DentistCode,
		"scheduled_at": created.ScheduledAt,
		"status":       created.Status,
		"origin":       created.Origin,
	})
	l.logger.Info("appointment booked",
		"appointment_code", created.Code,
		"dentist_code", created.DentistCode,
		"status", created.Status,
	)

	if created.Status == StatusPending {
		l.notify(ctx, *created, notify.TemplateAppointmentBooked, nil)
		return created, nil
	}

	if err := l.enqueueIfToday(ctx, *created); errors.Is(err, ErrSlotTaken) {
		l.release(ctx, *created)
		return nil, ErrSlotTaken
	}
	l.notifyConfirmed(ctx, *created)
	return created, nil
}

// release cancels a booking that lost today's queue instant to a concurrent
// booking. No notification goes out; the caller sees ErrSlotTaken.
func (l *Ledger) release(ctx context.Context, appt Appointment) {
	_, err := l.repo.Transition(ctx, appt.Code, Change{
		From:   appt.Status,
		To:     StatusCancelled,
		Reason: ReasonSlotTaken,
		At:     l.clock.Now(),
	})
	if err != nil {
		l.logger.Error("release conflicting booking failed", "appointment_code", appt.Code, "error", err)
		return
	}
	l.logEvent(ctx, appt.Code, EventAppointmentCancelled, map[string]any{"reason": ReasonSlotTaken})
}

// checkSlot runs the leave and exact-instant checks. The unique index stays
// the final arbiter on insert.
func (l *Ledger) checkSlot(ctx context.Context, dentistCode string, when time.Time, excludeCode string) error {
	day := l.dayOf(when)

	if l.leaves != nil {
		onLeave, err := l.leaves.IsOnLeave(ctx, dentistCode, day)
		if err != nil {
			return fmt.Errorf("check leave for %s: %w", dentistCode, err)
		}
		if onLeave {
			return ErrDentistUnavailable
		}
	}

	existing, err := l.repo.FindActiveAt(ctx, dentistCode, when, excludeCode)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check slot: %w", err)
	}
	if existing != nil {
		return ErrSlotTaken
	}

	if l.queue != nil && day.Equal(l.today()) {
		instants, err := l.queue.InstantsForDay(ctx, dentistCode, day)
		if err != nil {
			return fmt.Errorf("check queue instants: %w", err)
		}
		for _, t := range instants {
			if t.Equal(when) {
				return ErrSlotTaken
			}
		}
	}
	return nil
}

// ActiveCount returns confirmed and completed appointments plus queue
// entries for the dentist's clinic day.
func (l *Ledger) ActiveCount(ctx context.Context, dentistCode string, day time.Time) (int, error) {
	from, to := clock.DayRange(day, l.cfg.ClinicLocation)
	n, err := l.repo.CountByStatus(ctx, dentistCode, from, to, []Status{StatusConfirmed, StatusCompleted})
	if err != nil {
		return 0, err
	}
	if l.queue != nil {
		q, err := l.queue.CountForDay(ctx, dentistCode, day)
		if err != nil {
			return 0, fmt.Errorf("count queue for %s: %w", dentistCode, err)
		}
		n += q
	}
	return n, nil
}

func (l *Ledger) checkCapacity(ctx context.Context, dentistCode string, day time.Time) error {
	if l.cfg.DailyAppointmentCap <= 0 {
		return nil
	}
	n, err := l.ActiveCount(ctx, dentistCode, day)
	if err != nil {
		return err
	}
	if n >= l.cfg.DailyAppointmentCap {
		return ErrCapacityExceeded
	}
	return nil
}

// Confirm accepts a pending appointment. An appointment whose acceptance
// window already elapsed is expired instead.
func (l *Ledger) Confirm(ctx context.Context, code, actorCode string) (*Appointment, error) {
	appt, err := l.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot confirm %s appointment", ErrInvalidTransition, appt.Status)
	}

	now := l.clock.Now()
	if appt.PendingExpiresAt != nil && appt.PendingExpiresAt.Before(now) {
		if _, err := l.expire(ctx, *appt); err != nil && !errors.Is(err, ErrInvalidTransition) {
			l.logger.Error("expire during confirm failed", "appointment_code", code, "error", err)
		}
		return nil, ErrPendingExpired
	}

	if err := l.checkCapacity(ctx, appt.DentistCode, l.dayOf(appt.ScheduledAt)); err != nil {
		return nil, err
	}

	updated, err := l.repo.Transition(ctx, code, Change{
		From:  StatusPending,
		To:    StatusConfirmed,
		Actor: actorCode,
		At:    now,
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransition("appointment", string(StatusConfirmed))
	l.logEvent(ctx, code, EventAppointmentConfirmed, map[string]any{"accepted_by": actorCode})

	l.notifyConfirmed(ctx, *updated)
	l.enqueueIfToday(ctx, *updated)
	return updated, nil
}

// Cancel is terminal and idempotent. A code already consumed into the queue
// cancels the queue entry instead.
func (l *Ledger) Cancel(ctx context.Context, code, reason, actorCode string) (*Appointment, error) {
	return l.cancel(ctx, code, reason, actorCode, notify.TemplateAppointmentCancelled)
}

// CancelForLeave cancels with the leave notification template.
func (l *Ledger) CancelForLeave(ctx context.Context, code, actorCode string) (*Appointment, error) {
	return l.cancel(ctx, code, ReasonDentistOnLeave, actorCode, notify.TemplateLeaveCancelled)
}

func (l *Ledger) cancel(ctx context.Context, code, reason, actorCode, template string) (*Appointment, error) {
	appt, err := l.repo.Get(ctx, code)
	if errors.Is(err, ErrAppointmentNotFound) && l.queue != nil {
		cancelled, found, qErr := l.queue.CancelByAppointment(ctx, code, reason, actorCode)
		if qErr != nil {
			return nil, qErr
		}
		if found {
			l.cancelReminders(ctx, code)
			return cancelled, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel %s appointment", ErrInvalidTransition, appt.Status)
	}

	updated, err := l.repo.Transition(ctx, code, Change{
		From:   appt.Status,
		To:     StatusCancelled,
		Actor:  actorCode,
		Reason: reason,
		At:     l.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransition("appointment", string(StatusCancelled))
	l.logEvent(ctx, code, EventAppointmentCancelled, map[string]any{
		"reason":       reason,
		"cancelled_by": actorCode,
		"from":         appt.Status,
	})

	l.cancelReminders(ctx, code)
	l.notify(ctx, *updated, template, map[string]any{"reason": reason})
	return updated, nil
}

// Reschedule moves an active appointment, re-running the slot checks against
// the new instant. Capacity is rechecked only when a confirmed appointment
// changes day.
func (l *Ledger) Reschedule(ctx context.Context, code string, newWhen time.Time, actorCode string) (*Appointment, error) {
	if newWhen.IsZero() {
		return nil, apperr.Validationf("new appointment time is required")
	}
	newWhen = newWhen.UTC()
	if l.dayOf(newWhen).Before(l.today()) {
		return nil, apperr.Validationf("appointment time %s is in the past", newWhen.Format(time.RFC3339))
	}

	appt, err := l.repo.Get(ctx, code)
	if errors.Is(err, ErrAppointmentNotFound) && l.queue != nil {
		moved, found, qErr := l.queue.RescheduleByAppointment(ctx, code, newWhen)
		if qErr != nil {
			return nil, qErr
		}
		if found {
			return moved, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot reschedule %s appointment", ErrInvalidTransition, appt.Status)
	}
	if appt.ScheduledAt.Equal(newWhen) {
		return appt, nil
	}

	if err := l.checkSlot(ctx, appt.DentistCode, newWhen, code); err != nil {
		return nil, err
	}
	newDay := l.dayOf(newWhen)
	if appt.Status == StatusConfirmed && !newDay.Equal(l.dayOf(appt.ScheduledAt)) {
		if err := l.checkCapacity(ctx, appt.DentistCode, newDay); err != nil {
			return nil, err
		}
	}

	updated, err := l.repo.Reschedule(ctx, code, newWhen, l.clock.Now())
	if err != nil {
		return nil, err
	}
	l.logEvent(ctx, code, EventAppointmentRescheduled, map[string]any{
		"from":           appt.ScheduledAt,
		"to":             newWhen,
		"rescheduled_by": actorCode,
	})

	l.notify(ctx, *updated, notify.TemplateAppointmentRescheduled, nil)
	if updated.Status == StatusConfirmed {
		l.cancelReminders(ctx, code)
		l.scheduleReminder(ctx, *updated)
		l.enqueueIfToday(ctx, *updated)
	}
	return updated, nil
}

// Complete marks a confirmed appointment done.
func (l *Ledger) Complete(ctx context.Context, code, actorCode string) (*Appointment, error) {
	updated, err := l.repo.Transition(ctx, code, Change{
		From:  StatusConfirmed,
		To:    StatusCompleted,
		Actor: actorCode,
		At:    l.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransition("appointment", string(StatusCompleted))
	l.logEvent(ctx, code, EventAppointmentCompleted, map[string]any{"completed_by": actorCode})
	l.notify(ctx, *updated, notify.TemplateAppointmentCompleted, nil)
	return updated, nil
}

// ExpirePending cancels pending appointments whose acceptance window has
// elapsed and returns how many were expired.
func (l *Ledger) ExpirePending(ctx context.Context) (int, error) {
	candidates, err := l.repo.FindExpiredPending(ctx, l.clock.Now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, appt := range candidates {
		if _, err := l.expire(ctx, appt); err != nil {
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrAppointmentNotFound) {
				l.logger.Error("expire appointment failed", "appointment_code", appt.Code, "error", err)
			}
			continue
		}
		expired++
	}
	return expired, nil
}

func (l *Ledger) expire(ctx context.Context, appt Appointment) (*Appointment, error) {
	updated, err := l.repo.Transition(ctx, appt.Code, Change{
		From:   StatusPending,
		To:     StatusCancelled,
		Reason: ReasonAcceptanceExpired,
		At:     l.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransition("appointment", "expired")
	l.logEvent(ctx, appt.Code, EventAppointmentExpired, map[string]any{"reason": ReasonAcceptanceExpired})
	l.notify(ctx, *updated, notify.TemplateAppointmentExpired, nil)
	return updated, nil
}

// SendReminders sends day-ahead reminders for pending and confirmed
// appointments on day and returns how many were queued.
func (l *Ledger) SendReminders(ctx context.Context, day time.Time) (int, error) {
	from, to := clock.DayRange(day, l.cfg.ClinicLocation)
	appts, err := l.repo.List(ctx, Filter{
		From:     from,
		To:       to,
		Statuses: []Status{StatusPending, StatusConfirmed},
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, appt := range appts {
		if l.notify(ctx, appt, notify.TemplateAppointmentDayAhead, nil) {
			sent++
		}
	}
	return sent, nil
}

// AvailableSlots lists free slots of durationMinutes across working hours.
// Leave days have no slots; past slots and slots overlapping a booked
// instant are left out.
func (l *Ledger) AvailableSlots(ctx context.Context, dentistCode string, date time.Time, durationMinutes int) ([]Slot, error) {
	if dentistCode == "" {
		return nil, apperr.Validationf("dentistCode is required")
	}
	if durationMinutes == 0 {
		durationMinutes = l.cfg.SlotMinutes
	}
	workLen := l.cfg.WorkDayEnd - l.cfg.WorkDayStart
	size := time.Duration(durationMinutes) * time.Minute
	if durationMinutes < 0 || size > workLen {
		return nil, apperr.Validationf("durationMinutes must be between 1 and %d", int(workLen.Minutes()))
	}

	day := clock.DateOf(date, time.UTC)
	if l.leaves != nil {
		onLeave, err := l.leaves.IsOnLeave(ctx, dentistCode, day)
		if err != nil {
			return nil, fmt.Errorf("check leave for %s: %w", dentistCode, err)
		}
		if onLeave {
			return []Slot{}, nil
		}
	}

	booked, err := l.bookedInstants(ctx, dentistCode, day)
	if err != nil {
		return nil, err
	}

	occupied := time.Duration(l.cfg.SlotMinutes) * time.Minute
	now := l.clock.Now()
	start := clock.At(day, l.cfg.WorkDayStart, l.cfg.ClinicLocation)
	end := clock.At(day, l.cfg.WorkDayEnd, l.cfg.ClinicLocation)

	slots := []Slot{}
	for s := start; !s.Add(size).After(end); s = s.Add(size) {
		e := s.Add(size)
		if s.Before(now) {
			continue
		}
		free := true
		for _, b := range booked {
			if b.Before(e) && b.Add(occupied).After(s) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, Slot{Start: s, End: e})
		}
	}
	return slots, nil
}

func (l *Ledger) bookedInstants(ctx context.Context, dentistCode string, day time.Time) ([]time.Time, error) {
	from, to := clock.DayRange(day, l.cfg.ClinicLocation)
	appts, err := l.repo.List(ctx, Filter{
		DentistCode: dentistCode,
		From:        from,
		To:          to,
		Statuses:    ActiveStatuses,
	})
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.ScheduledAt)
	}
	if l.queue != nil {
		instants, err := l.queue.InstantsForDay(ctx, dentistCode, day)
		if err != nil {
			return nil, fmt.Errorf("queue instants for %s: %w", dentistCode, err)
		}
		out = append(out, instants...)
	}
	return out, nil
}

func (l *Ledger) Get(ctx context.Context, code string) (*Appointment, error) {
	return l.repo.Get(ctx, code)
}

// List returns appointments matching f. A non-zero day narrows f to that
// clinic date.
func (l *Ledger) List(ctx context.Context, f Filter, day time.Time) ([]Appointment, error) {
	if !day.IsZero() {
		f.From, f.To = clock.DayRange(day, l.cfg.ClinicLocation)
	}
	if f.Limit <= 0 || f.Limit > listPage {
		f.Limit = 200
	}
	return l.repo.List(ctx, f)
}

// ListAll pages through every appointment matching f. Callers that must see
// the full set, such as the leave cascade, use it instead of List.
func (l *Ledger) ListAll(ctx context.Context, f Filter) ([]Appointment, error) {
	f.Limit = listPage
	var out []Appointment
	for {
		page, err := l.repo.List(ctx, f)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
		if len(page) < listPage {
			return out, nil
		}
		last := page[len(page)-1]
		f.After = &Cursor{At: last.ScheduledAt, Code: last.Code}
	}
}

// enqueueIfToday hands an active appointment for the current clinic day to
// the queue. Failures are logged and returned.
func (l *Ledger) enqueueIfToday(ctx context.Context, appt Appointment) error {
	if l.queue == nil || !l.dayOf(appt.ScheduledAt).Equal(l.today()) {
		return nil
	}
	if err := l.queue.Enqueue(ctx, appt); err != nil {
		l.logger.Error("add to today's queue failed", "appointment_code", appt.Code, "error", err)
		return err
	}
	l.logEvent(ctx, appt.Code, EventAppointmentQueued, map[string]any{"dentist_code": appt.DentistCode})
	return nil
}

func (l *Ledger) notifyConfirmed(ctx context.Context, appt Appointment) {
	l.notify(ctx, appt, notify.TemplateAppointmentConfirmed, nil)
	l.scheduleReminder(ctx, appt)
}

// scheduleReminder queues the reminder at ReminderLead before the visit,
// only while that instant is still ahead.
func (l *Ledger) scheduleReminder(ctx context.Context, appt Appointment) {
	at := appt.ScheduledAt.Add(-l.cfg.ReminderLead)
	if !at.After(l.clock.Now()) {
		return
	}
	l.notifyAt(ctx, appt, notify.TemplateAppointmentReminder, nil, &at)
}

func (l *Ledger) cancelReminders(ctx context.Context, code string) {
	if l.notifier == nil {
		return
	}
	if _, err := l.notifier.CancelScheduled(ctx, code); err != nil {
		l.logger.Warn("cancel scheduled reminders failed", "appointment_code", code, "error", err)
	}
}

func (l *Ledger) notify(ctx context.Context, appt Appointment, template string, extra map[string]any) bool {
	return l.notifyAt(ctx, appt, template, extra, nil)
}

func (l *Ledger) notifyAt(ctx context.Context, appt Appointment, template string, extra map[string]any, at *time.Time) bool {
	if l.notifier == nil {
		return false
	}
	meta := Metadata(appt, l.cfg.ClinicLocation)
	for k, v := range extra {
		meta[k] = v
	}
	_, err := l.notifier.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: appt.PatientCode,
		TemplateKey:   template,
		ScheduledFor:  at,
		Metadata:      meta,
	})
	if err != nil {
		l.logger.Error("record notification failed",
			"appointment_code", appt.Code,
			"template", template,
			"error", err,
		)
		return false
	}
	return true
}

// Metadata is the template data shared by appointment notifications.
func Metadata(a Appointment, loc *time.Location) map[string]any {
	local := a.ScheduledAt.In(loc)
	reason := a.Reason
	if reason == "" {
		reason = "-"
	}
	return map[string]any{
		"appointmentCode": a.Code,
		"patientCode":     a.PatientCode,
		"dentistCode":     a.DentistCode,
		"date":            local.Format("Mon 02 Jan 2006"),
		"time":            local.Format("15:04"),
		"reason":          reason,
	}
}

func (l *Ledger) logEvent(ctx context.Context, code, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("marshal event payload failed", "event", eventType, "error", err)
		data = nil
	}

	ev := Event{
		EventType:       eventType,
		AppointmentCode: code,
		Payload:         data,
		CreatedAt:       l.clock.Now(),
	}
	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		l.logger.Warn("insert appointment event failed", "event", eventType, "appointment_code", code, "error", err)
	}
}

func outcomeOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrCapacityExceeded:
		return "capacity_exceeded"
	case apperr.ErrUnavailable:
		return "unavailable"
	case apperr.ErrValidation:
		return "invalid"
	}
	return "error"
}
