package api

import (
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/leave"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
)

type CreateAppointmentRequest struct {
	PatientCode string    `json:"patientCode" validate:"required,max=32"`
	DentistCode string    `json:"dentistCode" validate:"required,max=32"`
	When        time.Time `json:"when" validate:"required"`
	Reason      string    `json:"reason" validate:"max=500"`
	Origin      string    `json:"origin" validate:"omitempty,oneof=receptionist patient"`
	ActorCode   string    `json:"actorCode" validate:"max=32"`
}

type ActorRequest struct {
	ActorCode string `json:"actorCode" validate:"max=32"`
}

type CancelAppointmentRequest struct {
	Reason    string `json:"reason" validate:"max=500"`
	ActorCode string `json:"actorCode" validate:"max=32"`
}

type RescheduleRequest struct {
	When      time.Time `json:"when" validate:"required"`
	ActorCode string    `json:"actorCode" validate:"max=32"`
}

type AppointmentResponse struct {
	Code             string     `json:"code"`
	PatientCode      string     `json:"patientCode"`
	DentistCode      string     `json:"dentistCode"`
	ScheduledAt      time.Time  `json:"scheduledAt"`
	Reason           string     `json:"reason,omitempty"`
	Status           string     `json:"status"`
	Origin           string     `json:"origin"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	AcceptedBy       string     `json:"acceptedBy,omitempty"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	CancelledBy      string     `json:"cancelledBy,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	CancelReason     string     `json:"cancelReason,omitempty"`
	PendingExpiresAt *time.Time `json:"pendingExpiresAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func appointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		Code:             a.Code,
		PatientCode:      a.PatientCode,
		DentistCode:      a.DentistCode,
		ScheduledAt:      a.ScheduledAt.UTC(),
		Reason:           a.Reason,
		Status:           string(a.Status),
		Origin:           string(a.Origin),
		CreatedBy:        a.CreatedBy,
		AcceptedBy:       a.AcceptedBy,
		AcceptedAt:       a.AcceptedAt,
		CancelledBy:      a.CancelledBy,
		CancelledAt:      a.CancelledAt,
		CancelReason:     a.CancelReason,
		PendingExpiresAt: a.PendingExpiresAt,
		CreatedAt:        a.CreatedAt.UTC(),
	}
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type OTPRequest struct {
	UserID      string    `json:"userId" validate:"required,max=64"`
	DentistCode string    `json:"dentistCode" validate:"required,max=32"`
	When        time.Time `json:"when" validate:"required"`
	Reason      string    `json:"reason" validate:"max=500"`
}

type OTPResponse struct {
	OTPID     string    `json:"otpId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type OTPVerifyRequest struct {
	OTPID string `json:"otpId" validate:"required,uuid"`
	Code  string `json:"code" validate:"required,numeric,len=6"`
}

type QueueStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=called in_treatment completed no_show"`
}

type SwitchTimeRequest struct {
	When time.Time `json:"when" validate:"required"`
}

type RebookQueueRequest struct {
	DentistCode string `json:"dentistCode" validate:"required,max=32"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required,datetime=15:04"`
	Reason      string `json:"reason" validate:"max=500"`
	ActorCode   string `json:"actorCode" validate:"max=32"`
}

type CancelQueueRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type MigrateRequest struct {
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DentistCode string `json:"dentistCode" validate:"max=32"`
}

type MigrateResponse struct {
	Day          string            `json:"day"`
	StaleRemoved int               `json:"staleRemoved"`
	Migrated     map[string]int    `json:"migrated"`
	Total        int               `json:"total"`
	Skipped      []string          `json:"skipped,omitempty"`
	Failed       map[string]string `json:"failed,omitempty"`
}

type QueueEntryResponse struct {
	Code            string     `json:"code"`
	AppointmentCode string     `json:"appointmentCode"`
	PatientCode     string     `json:"patientCode"`
	DentistCode     string     `json:"dentistCode"`
	ScheduledAt     time.Time  `json:"scheduledAt"`
	QueueDay        string     `json:"queueDay"`
	Position        int        `json:"position"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	CalledAt        *time.Time `json:"calledAt,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	NoShowAt        *time.Time `json:"noShowAt,omitempty"`
	PreviousTime    *time.Time `json:"previousTime,omitempty"`
	OriginalTime    *time.Time `json:"originalTime,omitempty"`
}

func queueEntryResponse(e *queue.Entry) QueueEntryResponse {
	return QueueEntryResponse{
		Code:            e.Code,
		AppointmentCode: e.AppointmentCode,
		PatientCode:     e.PatientCode,
		DentistCode:     e.DentistCode,
		ScheduledAt:     e.ScheduledAt.UTC(),
		QueueDay:        e.QueueDay.Format(time.DateOnly),
		Position:        e.Position,
		Status:          string(e.Status),
		Reason:          e.Reason,
		CalledAt:        e.CalledAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		NoShowAt:        e.NoShowAt,
		PreviousTime:    e.PreviousTime,
		OriginalTime:    e.OriginalTime,
	}
}

type LeaveRequest struct {
	DentistCode string `json:"dentistCode" validate:"required,max=32"`
	DentistName string `json:"dentistName" validate:"max=120"`
	DateFrom    string `json:"dateFrom" validate:"required,datetime=2006-01-02"`
	DateTo      string `json:"dateTo" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason" validate:"max=500"`
	CreatedBy   string `json:"createdBy" validate:"max=32"`
}

type LeaveUpdateRequest struct {
	DentistName string `json:"dentistName" validate:"max=120"`
	DateFrom    string `json:"dateFrom" validate:"required,datetime=2006-01-02"`
	DateTo      string `json:"dateTo" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason" validate:"max=500"`
}

type LeaveResponse struct {
	Code        string `json:"code"`
	DentistCode string `json:"dentistCode"`
	DentistName string `json:"dentistName,omitempty"`
	DateFrom    string `json:"dateFrom"`
	DateTo      string `json:"dateTo"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
}

func leaveResponse(l *leave.Leave) LeaveResponse {
	return LeaveResponse{
		Code:        l.Code,
		DentistCode: l.DentistCode,
		DentistName: l.DentistName,
		DateFrom:    l.DateFrom.Format(time.DateOnly),
		DateTo:      l.DateTo.Format(time.DateOnly),
		Reason:      l.Reason,
		CreatedBy:   l.CreatedBy,
	}
}

type CascadeResponse struct {
	Leave                 LeaveResponse     `json:"leave"`
	AppointmentsCancelled int               `json:"appointmentsCancelled"`
	QueueEntriesRemoved   int               `json:"queueEntriesRemoved"`
	Failures              []FailureResponse `json:"failures,omitempty"`
}

type FailureResponse struct {
	Kind  string `json:"kind"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func cascadeResponse(r *leave.CascadeResult) CascadeResponse {
	out := CascadeResponse{
		Leave:                 leaveResponse(&r.Leave),
		AppointmentsCancelled: r.AppointmentsCancelled,
		QueueEntriesRemoved:   r.QueueEntriesRemoved,
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, FailureResponse{Kind: f.Kind, Code: f.Code, Error: f.Error})
	}
	return out
}

type NotifyTestRequest struct {
	RecipientType string `json:"recipientType" validate:"required,oneof=patient dentist staff"`
	RecipientCode string `json:"recipientCode" validate:"required,max=32"`
	Channel       string `json:"channel" validate:"omitempty,oneof=chat email console"`
}

type NotificationResponse struct {
	Code             string         `json:"code"`
	RecipientType    string         `json:"recipientType"`
	RecipientCode    string         `json:"recipientCode"`
	TemplateKey      string         `json:"templateKey"`
	RequestedChannel string         `json:"requestedChannel,omitempty"`
	Channel          string         `json:"channel,omitempty"`
	ScheduledFor     *time.Time     `json:"scheduledFor,omitempty"`
	SentAt           *time.Time     `json:"sentAt,omitempty"`
	Status           string         `json:"status"`
	Error            string         `json:"error,omitempty"`
	AppointmentCode  string         `json:"appointmentCode,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// notificationResponse never exposes the metadata of one-time code messages.
func notificationResponse(e *notify.Entry) NotificationResponse {
	meta := e.Metadata
	if e.TemplateKey == notify.TemplateOTPCode {
		meta = nil
	}
	return NotificationResponse{
		Code:             e.Code,
		RecipientType:    string(e.RecipientType),
		RecipientCode:    e.RecipientCode,
		TemplateKey:      e.TemplateKey,
		RequestedChannel: string(e.RequestedChannel),
		Channel:          string(e.Channel),
		ScheduledFor:     e.ScheduledFor,
		SentAt:           e.SentAt,
		Status:           string(e.Status),
		Error:            e.Error,
		AppointmentCode:  e.AppointmentCode,
		Metadata:         meta,
		CreatedAt:        e.CreatedAt.UTC(),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
