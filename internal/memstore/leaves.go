package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/leave"
)

type LeaveRepo struct {
	s *Store
}

var _ leave.Repository = (*LeaveRepo)(nil)

func (r *LeaveRepo) Insert(_ context.Context, l leave.Leave) (*leave.Leave, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l.Code = r.s.nextCode("LV")
	l.UpdatedAt = l.CreatedAt
	r.s.leaves[l.Code] = l
	return &l, nil
}

func (r *LeaveRepo) Get(_ context.Context, code string) (*leave.Leave, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.leaves[code]
	if !ok {
		return nil, leave.ErrLeaveNotFound
	}
	return &l, nil
}

func (r *LeaveRepo) List(_ context.Context, dentistCode string) ([]leave.Leave, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []leave.Leave
	for _, l := range r.s.leaves {
		if dentistCode == "" || l.DentistCode == dentistCode {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateFrom.Equal(out[j].DateFrom) {
			return out[i].DateFrom.Before(out[j].DateFrom)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (r *LeaveRepo) Update(_ context.Context, code string, u leave.Update, at time.Time) (*leave.Leave, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.leaves[code]
	if !ok {
		return nil, leave.ErrLeaveNotFound
	}
	l.DentistName = u.DentistName
	l.DateFrom = u.From
	l.DateTo = u.To
	l.Reason = u.Reason
	l.UpdatedAt = at
	r.s.leaves[code] = l
	return &l, nil
}

func (r *LeaveRepo) Delete(_ context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.leaves[code]; !ok {
		return leave.ErrLeaveNotFound
	}
	delete(r.s.leaves, code)
	return nil
}

func (r *LeaveRepo) Covering(_ context.Context, dentistCode string, day time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range r.s.leaves {
		if l.DentistCode == dentistCode && l.Covers(day) {
			return true, nil
		}
	}
	return false, nil
}
