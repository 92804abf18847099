package appointment

import (
	"context"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.ErrNotFound, "appointment not found")
	ErrSlotTaken           = apperr.New(apperr.ErrConflict, "slot already booked")
	ErrCapacityExceeded    = apperr.New(apperr.ErrCapacityExceeded, "daily appointment cap reached")
	ErrDentistUnavailable  = apperr.New(apperr.ErrUnavailable, "dentist is on leave")
	ErrInvalidTransition   = apperr.New(apperr.ErrConflict, "invalid status transition")
	ErrPendingExpired      = apperr.New(apperr.ErrExpired, "acceptance window expired")
)

// Repository contains the storage operations needed by the ledger.
type Repository interface {
	// Insert returns ErrSlotTaken when another active appointment holds the
	// dentist's instant.
	Insert(ctx context.Context, a Appointment) (*Appointment, error)
	Get(ctx context.Context, code string) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]Appointment, error)

	// FindActiveAt returns the active appointment at the dentist's instant,
	// ignoring excludeCode, or ErrAppointmentNotFound.
	FindActiveAt(ctx context.Context, dentistCode string, at time.Time, excludeCode string) (*Appointment, error)
	CountByStatus(ctx context.Context, dentistCode string, from, to time.Time, statuses []Status) (int, error)

	// Transition applies c only while the row is still in c.From and returns
	// ErrInvalidTransition otherwise.
	Transition(ctx context.Context, code string, c Change) (*Appointment, error)
	// Reschedule moves an active appointment and returns ErrSlotTaken on a
	// collision.
	Reschedule(ctx context.Context, code string, at time.Time, updatedAt time.Time) (*Appointment, error)

	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev Event) error
}
