package notify

import (
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

type Channel string

const (
	ChannelChat    Channel = "chat"
	ChannelEmail   Channel = "email"
	ChannelConsole Channel = "console"
)

// fallbackOrder is tried when no usable channel was requested.
var fallbackOrder = []Channel{ChannelChat, ChannelEmail, ChannelConsole}

func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case "", ChannelChat, ChannelEmail, ChannelConsole:
		return Channel(s), true
	}
	return "", false
}

var (
	ErrEntryNotFound = apperr.New(apperr.ErrNotFound, "notification not found")
	// ErrNotClaimable is returned when an entry is not due, already claimed,
	// or no longer queued.
	ErrNotClaimable   = apperr.New(apperr.ErrConflict, "notification not claimable")
	ErrUnknownChannel = apperr.New(apperr.ErrValidation, "unknown channel")
)

// Entry is one row of the notification log.
type Entry struct {
	Code             string
	RecipientType    directory.Kind
	RecipientCode    string
	TemplateKey      string
	RequestedChannel Channel
	Channel          Channel
	ScheduledFor     *time.Time
	SentAt           *time.Time
	Status           Status
	Error            string
	Metadata         map[string]any
	AppointmentCode  string
	ClaimedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Request asks for one notification.
type Request struct {
	RecipientType directory.Kind
	RecipientCode string
	TemplateKey   string
	Channel       Channel
	ScheduledFor  *time.Time
	Metadata      map[string]any
}

type Filter struct {
	AppointmentCode string
	RecipientCode   string
	Limit           int
}

// appointmentCodeOf pulls the appointment code out of metadata so logs can be
// looked up by appointment.
func appointmentCodeOf(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta["appointmentCode"].(string); ok {
		return v
	}
	return ""
}
