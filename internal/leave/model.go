package leave

import (
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
)

var ErrLeaveNotFound = apperr.New(apperr.ErrNotFound, "leave not found")

// Leave is an inclusive range of clinic dates a dentist is unavailable.
type Leave struct {
	Code        string
	DentistCode string
	DentistName string
	DateFrom    time.Time
	DateTo      time.Time
	Reason      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Covers reports whether day falls inside the leave.
func (l Leave) Covers(day time.Time) bool {
	return !day.Before(l.DateFrom) && !day.After(l.DateTo)
}

type Request struct {
	DentistCode string
	DentistName string
	From        time.Time
	To          time.Time
	Reason      string
	CreatedBy   string
}

type Update struct {
	DentistName string
	From        time.Time
	To          time.Time
	Reason      string
}

// CascadeResult reports what ApplyLeave removed. Counts are accurate even
// when some items failed.
type CascadeResult struct {
	Leave                 Leave
	AppointmentsCancelled int
	QueueEntriesRemoved   int
	Failures              []Failure
}

type Failure struct {
	Kind  string // appointment or queue
	Code  string
	Error string
}
