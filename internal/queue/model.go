package queue

import (
	"encoding/json"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
)

type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusCalled      Status = "called"
	StatusInTreatment Status = "in_treatment"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusWaiting, StatusCalled, StatusInTreatment, StatusCompleted, StatusNoShow:
		return Status(s), true
	}
	return "", false
}

var transitions = map[Status][]Status{
	StatusWaiting:     {StatusCalled, StatusNoShow},
	StatusCalled:      {StatusInTreatment},
	StatusInTreatment: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// History actions.
const (
	ActionMigrated        = "MIGRATED"
	ActionStatusChanged   = "STATUS_CHANGED"
	ActionTimeSwitched    = "TIME_SWITCHED"
	ActionCancelled       = "CANCELLED"
	ActionDeletedRebooked = "DELETED_REBOOKED"
	ActionRemovedLeave    = "REMOVED_LEAVE"
)

var (
	ErrEntryNotFound     = apperr.New(apperr.ErrNotFound, "queue entry not found")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "invalid queue transition")
	ErrNotWaiting        = apperr.New(apperr.ErrConflict, "queue entry is no longer waiting")
	ErrPositionTaken     = apperr.New(apperr.ErrConflict, "queue position already taken")
)

type Entry struct {
	Code            string
	AppointmentCode string
	PatientCode     string
	DentistCode     string
	ScheduledAt     time.Time
	QueueDay        time.Time
	Position        int
	Status          Status
	Reason          string
	CalledAt        *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	NoShowAt        *time.Time
	PreviousTime    *time.Time
	OriginalTime    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type History struct {
	ID        int64
	QueueCode string
	Action    string
	Reason    string
	Snapshot  []byte
	CreatedAt time.Time
}

// Filter selects entries by dentist and an inclusive queue-day range. Zero
// fields are ignored.
type Filter struct {
	DentistCode string
	DayFrom     time.Time
	DayTo       time.Time
}

// MigrateInput selects the appointments to consume into one dentist's day.
// From/To bound scheduled_at; AppointmentCode narrows to one appointment.
type MigrateInput struct {
	DentistCode     string
	Day             time.Time
	From            time.Time
	To              time.Time
	AppointmentCode string
	Now             time.Time
}

type RebookRequest struct {
	DentistCode string
	Date        time.Time
	Time        string // HH:MM clinic time
	Reason      string
	ActorCode   string
}

// MigrationResult reports one MigrateDay run.
type MigrationResult struct {
	Day          time.Time
	StaleRemoved int
	Migrated     map[string]int
	Skipped      []string
	Failed       map[string]string
}

func (r MigrationResult) Total() int {
	n := 0
	for _, c := range r.Migrated {
		n += c
	}
	return n
}

// Snapshot encodes an entry for the history table.
func Snapshot(e Entry) []byte {
	data, err := json.Marshal(map[string]any{
		"code":             e.Code,
		"appointment_code": e.AppointmentCode,
		"patient_code":     e.PatientCode,
		"dentist_code":     e.DentistCode,
		"scheduled_at":     e.ScheduledAt,
		"queue_day":        e.QueueDay.Format(time.DateOnly),
		"position":         e.Position,
		"status":           e.Status,
		"previous_time":    e.PreviousTime,
	})
	if err != nil {
		return nil
	}
	return data
}
