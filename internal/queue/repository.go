package queue

import (
	"context"
	"time"
)

type Repository interface {
	// Migrate consumes the selected pending and confirmed appointments into
	// waiting entries after the current maximum position, deleting the source
	// rows and writing MIGRATED history in one transaction.
	Migrate(ctx context.Context, in MigrateInput) ([]Entry, error)
	// DeleteBefore removes entries with a queue day before day. An empty
	// dentistCode matches every dentist.
	DeleteBefore(ctx context.Context, dentistCode string, day time.Time) (int, error)

	Get(ctx context.Context, code string) (*Entry, error)
	GetByAppointment(ctx context.Context, appointmentCode string) (*Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	CountForDay(ctx context.Context, dentistCode string, day time.Time) (int, error)

	// UpdateStatus applies from -> to and stamps the matching timestamp.
	UpdateStatus(ctx context.Context, code string, from, to Status, at time.Time) (*Entry, error)
	// SwitchTime moves a waiting entry, keeping previous and original times.
	SwitchTime(ctx context.Context, code string, to time.Time, at time.Time) (*Entry, error)
	// Delete removes the entry and records h in the same transaction.
	Delete(ctx context.Context, code string, h History) (*Entry, error)

	InsertHistory(ctx context.Context, h History) error
	History(ctx context.Context, queueCode string) ([]History, error)
}
