package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
)

type QueueRepo struct {
	s *Store
}

var _ queue.Repository = (*QueueRepo)(nil)

// Migrate consumes appointments under the store lock, so concurrent callers
// see either all of a batch or none of it.
func (r *QueueRepo) Migrate(_ context.Context, in queue.MigrateInput) ([]queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	maxPos := 0
	for _, e := range r.s.entries {
		if e.DentistCode == in.DentistCode && e.QueueDay.Equal(in.Day) && e.Position > maxPos {
			maxPos = e.Position
		}
	}

	var sources []appointment.Appointment
	for _, a := range r.s.appointments {
		if a.DentistCode != in.DentistCode {
			continue
		}
		if in.AppointmentCode != "" && a.Code != in.AppointmentCode {
			continue
		}
		if a.Status != appointment.StatusPending && a.Status != appointment.StatusConfirmed {
			continue
		}
		if a.ScheduledAt.Before(in.From) || !a.ScheduledAt.Before(in.To) {
			continue
		}
		sources = append(sources, a)
	}
	sortAppointments(sources)

	for i, a := range sources {
		if i > 0 && sources[i-1].ScheduledAt.Equal(a.ScheduledAt) {
			return nil, appointment.ErrSlotTaken
		}
		for _, e := range r.s.entries {
			if e.AppointmentCode == a.Code {
				return nil, queue.ErrPositionTaken
			}
			if r.sameInstant(e, in.DentistCode, a.ScheduledAt) {
				return nil, appointment.ErrSlotTaken
			}
		}
	}

	created := make([]queue.Entry, 0, len(sources))
	for i, a := range sources {
		delete(r.s.appointments, a.Code)
		e := queue.Entry{
			Code:            r.s.nextCode("Q"),
			AppointmentCode: a.Code,
			PatientCode:     a.PatientCode,
			DentistCode:     in.DentistCode,
			ScheduledAt:     a.ScheduledAt,
			QueueDay:        in.Day,
			Position:        maxPos + i + 1,
			Status:          queue.StatusWaiting,
			Reason:          a.Reason,
			CreatedAt:       in.Now,
			UpdatedAt:       in.Now,
		}
		r.s.entries[e.Code] = e
		r.appendHistory(queue.History{
			QueueCode: e.Code,
			Action:    queue.ActionMigrated,
			Snapshot:  queue.Snapshot(e),
			CreatedAt: in.Now,
		})
		created = append(created, e)
	}
	return created, nil
}

func (r *QueueRepo) DeleteBefore(_ context.Context, dentistCode string, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for code, e := range r.s.entries {
		if dentistCode != "" && e.DentistCode != dentistCode {
			continue
		}
		if e.QueueDay.Before(day) {
			delete(r.s.entries, code)
			n++
		}
	}
	return n, nil
}

func (r *QueueRepo) Get(_ context.Context, code string) (*queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entries[code]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	return &e, nil
}

func (r *QueueRepo) GetByAppointment(_ context.Context, appointmentCode string) (*queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.entries {
		if e.AppointmentCode == appointmentCode {
			return &e, nil
		}
	}
	return nil, queue.ErrEntryNotFound
}

func (r *QueueRepo) List(_ context.Context, f queue.Filter) ([]queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []queue.Entry
	for _, e := range r.s.entries {
		if f.DentistCode != "" && e.DentistCode != f.DentistCode {
			continue
		}
		if !f.DayFrom.IsZero() && e.QueueDay.Before(f.DayFrom) {
			continue
		}
		if !f.DayTo.IsZero() && e.QueueDay.After(f.DayTo) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.QueueDay.Equal(b.QueueDay) {
			return a.QueueDay.Before(b.QueueDay)
		}
		if a.DentistCode != b.DentistCode {
			return a.DentistCode < b.DentistCode
		}
		return a.Position < b.Position
	})
	return out, nil
}

func (r *QueueRepo) CountForDay(_ context.Context, dentistCode string, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, e := range r.s.entries {
		if e.DentistCode == dentistCode && e.QueueDay.Equal(day) {
			n++
		}
	}
	return n, nil
}

func (r *QueueRepo) UpdateStatus(_ context.Context, code string, from, to queue.Status, at time.Time) (*queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entries[code]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	if e.Status != from {
		return nil, queue.ErrInvalidTransition
	}
	switch to {
	case queue.StatusCalled:
		e.CalledAt = timePtr(at)
	case queue.StatusInTreatment:
		e.StartedAt = timePtr(at)
	case queue.StatusCompleted:
		e.CompletedAt = timePtr(at)
	case queue.StatusNoShow:
		e.NoShowAt = timePtr(at)
	default:
		return nil, queue.ErrInvalidTransition
	}
	e.Status = to
	e.UpdatedAt = at
	r.s.entries[code] = e
	return &e, nil
}

// sameInstant mirrors the (dentist_code, scheduled_at) unique index.
func (r *QueueRepo) sameInstant(e queue.Entry, dentistCode string, at time.Time) bool {
	return e.DentistCode == dentistCode && e.ScheduledAt.Equal(at)
}

func (r *QueueRepo) SwitchTime(_ context.Context, code string, to time.Time, at time.Time) (*queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entries[code]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	if e.Status != queue.StatusWaiting {
		return nil, queue.ErrNotWaiting
	}
	for _, other := range r.s.entries {
		if other.Code != code && r.sameInstant(other, e.DentistCode, to) {
			return nil, appointment.ErrSlotTaken
		}
	}
	e.PreviousTime = timePtr(e.ScheduledAt)
	if e.OriginalTime == nil {
		e.OriginalTime = timePtr(e.ScheduledAt)
	}
	e.ScheduledAt = to
	e.UpdatedAt = at
	r.s.entries[code] = e
	return &e, nil
}

func (r *QueueRepo) Delete(_ context.Context, code string, h queue.History) (*queue.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entries[code]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	delete(r.s.entries, code)
	h.QueueCode = e.Code
	h.Snapshot = queue.Snapshot(e)
	r.appendHistory(h)
	return &e, nil
}

func (r *QueueRepo) InsertHistory(_ context.Context, h queue.History) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.appendHistory(h)
	return nil
}

// appendHistory must be called with mu held.
func (r *QueueRepo) appendHistory(h queue.History) {
	h.ID = int64(len(r.s.history) + 1)
	r.s.history = append(r.s.history, h)
}

func (r *QueueRepo) History(_ context.Context, queueCode string) ([]queue.History, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []queue.History
	for _, h := range r.s.history {
		if h.QueueCode == queueCode {
			out = append(out, h)
		}
	}
	return out, nil
}
