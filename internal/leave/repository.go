package leave

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, l Leave) (*Leave, error)
	Get(ctx context.Context, code string) (*Leave, error)
	// List returns a dentist's leaves, or all leaves for an empty code.
	List(ctx context.Context, dentistCode string) ([]Leave, error)
	Update(ctx context.Context, code string, u Update, at time.Time) (*Leave, error)
	Delete(ctx context.Context, code string) error
	// Covering reports whether any leave of the dentist covers day.
	Covering(ctx context.Context, dentistCode string, day time.Time) (bool, error)
}
