package memstore

import (
	"context"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/booking"
)

type otpItem struct {
	rec      booking.Record
	attempts int
	deadline time.Time
}

// OTPStore mirrors the Redis layout: one record per id plus a per-user index,
// both dropped once the time to live passes.
type OTPStore struct {
	s *Store
}

var _ booking.Store = (*OTPStore)(nil)

func otpIndexKey(userID, purpose string) string {
	return userID + ":" + purpose
}

// live must be called with mu held.
func (o *OTPStore) live(id string) (otpItem, bool) {
	item, ok := o.s.otps[id]
	if !ok {
		return otpItem{}, false
	}
	if !o.s.clock.Now().Before(item.deadline) {
		delete(o.s.otps, id)
		return otpItem{}, false
	}
	return item, true
}

func (o *OTPStore) Save(_ context.Context, rec booking.Record, ttl time.Duration) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	idx := otpIndexKey(rec.UserID, rec.Purpose)
	if prev, ok := o.s.otpIndex[idx]; ok && prev != rec.ID {
		delete(o.s.otps, prev)
	}
	o.s.otps[rec.ID] = otpItem{rec: rec, deadline: o.s.clock.Now().Add(ttl)}
	o.s.otpIndex[idx] = rec.ID
	return nil
}

func (o *OTPStore) Get(_ context.Context, id string) (*booking.Record, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	item, ok := o.live(id)
	if !ok {
		return nil, booking.ErrOTPNotFound
	}
	rec := item.rec
	rec.Attempts = item.attempts
	return &rec, nil
}

func (o *OTPStore) Attempt(_ context.Context, id string) (int, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	item, ok := o.live(id)
	if !ok {
		return 0, booking.ErrOTPNotFound
	}
	item.attempts++
	o.s.otps[id] = item
	return item.attempts, nil
}

func (o *OTPStore) Delete(_ context.Context, rec booking.Record) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	delete(o.s.otps, rec.ID)
	idx := otpIndexKey(rec.UserID, rec.Purpose)
	if o.s.otpIndex[idx] == rec.ID {
		delete(o.s.otpIndex, idx)
	}
	return nil
}
