package memstore

import (
	"context"
	"maps"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/notify"
)

type NotificationRepo struct {
	s *Store
}

var _ notify.Repository = (*NotificationRepo)(nil)

func cloneEntry(e notify.Entry) notify.Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

func (r *NotificationRepo) Insert(_ context.Context, e notify.Entry) (*notify.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e = cloneEntry(e)
	e.Code = r.s.nextCode("NTF")
	e.Status = notify.StatusQueued
	e.UpdatedAt = e.CreatedAt
	r.s.notes[e.Code] = e
	r.s.noteOrder = append(r.s.noteOrder, e.Code)
	out := cloneEntry(e)
	return &out, nil
}

func (r *NotificationRepo) Get(_ context.Context, code string) (*notify.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.notes[code]
	if !ok {
		return nil, notify.ErrEntryNotFound
	}
	out := cloneEntry(e)
	return &out, nil
}

func claimable(e notify.Entry, now time.Time, lease time.Duration) bool {
	if e.Status != notify.StatusQueued {
		return false
	}
	return e.ClaimedAt == nil || e.ClaimedAt.Before(now.Add(-lease))
}

// claim must be called with mu held.
func (r *NotificationRepo) claim(e notify.Entry, now time.Time) notify.Entry {
	e.ClaimedAt = timePtr(now)
	e.UpdatedAt = now
	r.s.notes[e.Code] = e
	return cloneEntry(e)
}

func (r *NotificationRepo) Claim(_ context.Context, code string, now time.Time, lease time.Duration) (*notify.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.notes[code]
	if !ok || !claimable(e, now, lease) {
		return nil, notify.ErrNotClaimable
	}
	if e.ScheduledFor != nil && e.ScheduledFor.After(now) {
		return nil, notify.ErrNotClaimable
	}
	out := r.claim(e, now)
	return &out, nil
}

func (r *NotificationRepo) ClaimDue(_ context.Context, now, orphanBefore time.Time, lease time.Duration, limit int) ([]notify.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []notify.Entry
	for _, code := range r.s.noteOrder {
		if len(out) >= limit {
			break
		}
		e := r.s.notes[code]
		if !claimable(e, now, lease) {
			continue
		}
		due := (e.ScheduledFor != nil && !e.ScheduledFor.After(now)) ||
			(e.ScheduledFor == nil && !e.CreatedAt.After(orphanBefore))
		if !due {
			continue
		}
		out = append(out, r.claim(e, now))
	}
	return out, nil
}

func (r *NotificationRepo) finish(code string, apply func(*notify.Entry)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.notes[code]
	if !ok || e.Status != notify.StatusQueued {
		return notify.ErrNotClaimable
	}
	apply(&e)
	r.s.notes[code] = e
	return nil
}

func (r *NotificationRepo) MarkSent(_ context.Context, code string, channel notify.Channel, at time.Time) error {
	return r.finish(code, func(e *notify.Entry) {
		e.Status = notify.StatusSent
		e.Channel = channel
		e.SentAt = timePtr(at)
		e.Error = ""
		e.UpdatedAt = at
	})
}

func (r *NotificationRepo) MarkFailed(_ context.Context, code string, channel notify.Channel, errText string, at time.Time) error {
	return r.finish(code, func(e *notify.Entry) {
		e.Status = notify.StatusFailed
		e.Channel = channel
		e.Error = errText
		e.UpdatedAt = at
	})
}

func (r *NotificationRepo) CancelScheduled(_ context.Context, appointmentCode string, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for code, e := range r.s.notes {
		if e.AppointmentCode != appointmentCode || e.Status != notify.StatusQueued {
			continue
		}
		if e.ScheduledFor == nil || !e.ScheduledFor.After(now) {
			continue
		}
		e.Status = notify.StatusCanceled
		e.UpdatedAt = now
		r.s.notes[code] = e
		n++
	}
	return n, nil
}

func (r *NotificationRepo) List(_ context.Context, f notify.Filter) ([]notify.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []notify.Entry
	for _, code := range r.s.noteOrder {
		if len(out) >= limit {
			break
		}
		e := r.s.notes[code]
		if f.AppointmentCode != "" && e.AppointmentCode != f.AppointmentCode {
			continue
		}
		if f.RecipientCode != "" && e.RecipientCode != f.RecipientCode {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	return out, nil
}
