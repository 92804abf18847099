package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by services. Tests swap in a Fake.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// DateOf returns the calendar date of t in loc, as midnight UTC.
// Dates are carried this way so they compare and store like SQL DATE values.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayRange returns the [start, end) instants of a calendar date in loc.
func DayRange(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DateOf(a, loc).Equal(DateOf(b, loc))
}

// ParseDate parses YYYY-MM-DD into a date value.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

// At combines a calendar date with a local wall-clock offset from midnight.
func At(date time.Time, offset time.Duration, loc *time.Location) time.Time {
	start, _ := DayRange(date, loc)
	return start.Add(offset)
}
