package notify

import (
	"context"
	"time"
)

// Repository persists the notification log.
type Repository interface {
	// Insert stores a new queued entry and returns it with its code assigned.
	Insert(ctx context.Context, e Entry) (*Entry, error)
	Get(ctx context.Context, code string) (*Entry, error)

	// Claim leases a single queued entry that is due at now. Entries holding
	// a lease newer than now-lease are skipped.
	Claim(ctx context.Context, code string, now time.Time, lease time.Duration) (*Entry, error)
	// ClaimDue leases queued entries scheduled at or before now, plus
	// unscheduled entries created before orphanBefore.
	ClaimDue(ctx context.Context, now, orphanBefore time.Time, lease time.Duration, limit int) ([]Entry, error)

	MarkSent(ctx context.Context, code string, channel Channel, at time.Time) error
	MarkFailed(ctx context.Context, code string, channel Channel, errText string, at time.Time) error
	// CancelScheduled marks queued entries for an appointment scheduled after
	// now as canceled and returns how many changed.
	CancelScheduled(ctx context.Context, appointmentCode string, now time.Time) (int, error)

	List(ctx context.Context, f Filter) ([]Entry, error)
}
