package appointment

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses occupy a dentist's instant.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted}

// Origin records which path created an appointment.
type Origin string

const (
	OriginReceptionist Origin = "receptionist"
	OriginPatient      Origin = "patient"
	OriginOTP          Origin = "otp"
	OriginRebook       Origin = "rebook"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginReceptionist, OriginPatient, OriginOTP, OriginRebook:
		return true
	}
	return false
}

// Pending reports whether bookings from this origin wait for acceptance.
func (o Origin) Pending() bool { return o == OriginPatient }

type Appointment struct {
	Code             string
	PatientCode      string
	DentistCode      string
	ScheduledAt      time.Time
	Reason           string
	Status           Status
	Origin           Origin
	CreatedBy        string
	AcceptedBy       string
	AcceptedAt       *time.Time
	CancelledBy      string
	CancelledAt      *time.Time
	CancelReason     string
	PendingExpiresAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed || a.Status == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether from -> to is a legal ledger transition.
// Migration into the queue is not a status change; the row is consumed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Change describes a status transition and its audit fields.
type Change struct {
	From   Status
	To     Status
	Actor  string
	Reason string
	At     time.Time
}

type Event struct {
	ID              int64
	EventType       string
	AppointmentCode string
	Payload         []byte
	CreatedAt       time.Time
}

type BookRequest struct {
	PatientCode string
	DentistCode string
	When        time.Time
	Reason      string
	Origin      Origin
	ActorCode   string
}

// Filter selects appointments. Zero fields are ignored; From/To bound
// scheduled_at as [From, To).
type Filter struct {
	DentistCode string
	PatientCode string
	From        time.Time
	To          time.Time
	Statuses    []Status
	Limit       int
	// After resumes a listing strictly past this (scheduled_at, code).
	After *Cursor
}

type Cursor struct {
	At   time.Time
	Code string
}

type Slot struct {
	Start time.Time
	End   time.Time
}
