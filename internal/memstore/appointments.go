package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

type AppointmentRepo struct {
	s *Store
}

var _ appointment.Repository = (*AppointmentRepo)(nil)

// slotHeld must be called with mu held.
func (r *AppointmentRepo) slotHeld(dentistCode string, at time.Time, excludeCode string) *appointment.Appointment {
	for _, a := range r.s.appointments {
		if a.Code != excludeCode && a.DentistCode == dentistCode && a.ScheduledAt.Equal(at) && a.Active() {
			return &a
		}
	}
	return nil
}

func (r *AppointmentRepo) Insert(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a.Active() && r.slotHeld(a.DentistCode, a.ScheduledAt, "") != nil {
		return nil, appointment.ErrSlotTaken
	}
	a.Code = r.s.nextCode("APT")
	a.UpdatedAt = a.CreatedAt
	r.s.appointments[a.Code] = a
	return &a, nil
}

func (r *AppointmentRepo) Get(_ context.Context, code string) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[code]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func matchesFilter(a appointment.Appointment, f appointment.Filter) bool {
	if f.DentistCode != "" && a.DentistCode != f.DentistCode {
		return false
	}
	if f.PatientCode != "" && a.PatientCode != f.PatientCode {
		return false
	}
	if !f.From.IsZero() && a.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.ScheduledAt.Before(f.To) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.After != nil {
		if a.ScheduledAt.Before(f.After.At) {
			return false
		}
		if a.ScheduledAt.Equal(f.After.At) && a.Code <= f.After.Code {
			return false
		}
	}
	return true
}

func sortAppointments(out []appointment.Appointment) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].Code < out[j].Code
	})
}

func (r *AppointmentRepo) List(_ context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range r.s.appointments {
		if matchesFilter(a, f) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *AppointmentRepo) FindActiveAt(_ context.Context, dentistCode string, at time.Time, excludeCode string) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a := r.slotHeld(dentistCode, at, excludeCode); a != nil {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (r *AppointmentRepo) CountByStatus(_ context.Context, dentistCode string, from, to time.Time, statuses []appointment.Status) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f := appointment.Filter{DentistCode: dentistCode, From: from, To: to, Statuses: statuses}
	n := 0
	for _, a := range r.s.appointments {
		if matchesFilter(a, f) {
			n++
		}
	}
	return n, nil
}

func (r *AppointmentRepo) Transition(_ context.Context, code string, c appointment.Change) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[code]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != c.From {
		return nil, appointment.ErrInvalidTransition
	}
	a.Status = c.To
	switch c.To {
	case appointment.StatusConfirmed:
		a.AcceptedBy = c.Actor
		a.AcceptedAt = timePtr(c.At)
	case appointment.StatusCancelled:
		a.CancelledBy = c.Actor
		a.CancelledAt = timePtr(c.At)
		a.CancelReason = c.Reason
	}
	a.PendingExpiresAt = nil
	a.UpdatedAt = c.At
	r.s.appointments[code] = a
	return &a, nil
}

func (r *AppointmentRepo) Reschedule(_ context.Context, code string, at time.Time, updatedAt time.Time) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[code]
	if !ok || (a.Status != appointment.StatusPending && a.Status != appointment.StatusConfirmed) {
		return nil, appointment.ErrAppointmentNotFound
	}
	if r.slotHeld(a.DentistCode, at, code) != nil {
		return nil, appointment.ErrSlotTaken
	}
	a.ScheduledAt = at
	a.UpdatedAt = updatedAt
	r.s.appointments[code] = a
	return &a, nil
}

func (r *AppointmentRepo) FindExpiredPending(_ context.Context, now time.Time) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range r.s.appointments {
		if a.Status == appointment.StatusPending && a.PendingExpiresAt != nil && a.PendingExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PendingExpiresAt.Before(*out[j].PendingExpiresAt) })
	return out, nil
}

func (r *AppointmentRepo) InsertEvent(_ context.Context, ev appointment.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev.ID = int64(len(r.s.events) + 1)
	r.s.events = append(r.s.events, ev)
	return nil
}

// Events returns the recorded appointment events in insert order.
func (r *AppointmentRepo) Events() []appointment.Event {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.events)
}
