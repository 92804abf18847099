package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// Message templates, keyed by template key. Templates see the notification
// metadata plus recipientName.
const (
	TemplateAppointmentBooked      = "appointment_booked"
	TemplateAppointmentConfirmed   = "appointment_confirmed"
	TemplateAppointmentReminder    = "appointment_reminder"
	TemplateAppointmentDayAhead    = "appointment_day_ahead"
	TemplateAppointmentCancelled   = "appointment_cancelled"
	TemplateAppointmentExpired     = "appointment_expired"
	TemplateAppointmentRescheduled = "appointment_rescheduled"
	TemplateAppointmentCompleted   = "appointment_completed"
	TemplateLeaveCancelled         = "leave_cancelled"
	TemplateQueueAdded             = "queue_added"
	TemplateQueueTimeSwitched      = "queue_time_switched"
	TemplateQueueRebooked          = "queue_rebooked"
	TemplateQueueCancelled         = "queue_cancelled"
	TemplateQueueRemovedLeave      = "queue_removed_leave"
	TemplateOTPCode                = "otp_code"
	TemplateTest                   = "test"
)

type messageTemplate struct {
	Subject string
	Body    string
}

var messageTemplates = map[string]messageTemplate{
	TemplateAppointmentBooked: {
		Subject: "Appointment request {{.appointmentCode}} received",
		Body:    "Hi {{.recipientName}}, we received your request for {{.date}} at {{.time}} with {{.dentistCode}}. The clinic will confirm it shortly.",
	},
	TemplateAppointmentConfirmed: {
		Subject: "Appointment {{.appointmentCode}} confirmed",
		Body:    "Hi {{.recipientName}}, your appointment with {{.dentistCode}} on {{.date}} at {{.time}} is confirmed.",
	},
	TemplateAppointmentReminder: {
		Subject: "Reminder: appointment tomorrow",
		Body:    "Hi {{.recipientName}}, this is a reminder of your appointment {{.appointmentCode}} on {{.date}} at {{.time}}.",
	},
	TemplateAppointmentDayAhead: {
		Subject: "Your appointment is tomorrow",
		Body:    "Hi {{.recipientName}}, see you tomorrow {{.date}} at {{.time}} with {{.dentistCode}}.",
	},
	TemplateAppointmentCancelled: {
		Subject: "Appointment {{.appointmentCode}} cancelled",
		Body:    "Hi {{.recipientName}}, your appointment on {{.date}} at {{.time}} was cancelled. Reason: {{.reason}}.",
	},
	TemplateAppointmentExpired: {
		Subject: "Appointment request {{.appointmentCode}} expired",
		Body:    "Hi {{.recipientName}}, your request for {{.date}} at {{.time}} was not accepted in time and has been released.",
	},
	TemplateAppointmentRescheduled: {
		Subject: "Appointment {{.appointmentCode}} moved",
		Body:    "Hi {{.recipientName}}, your appointment has moved to {{.date}} at {{.time}}.",
	},
	TemplateAppointmentCompleted: {
		Subject: "Thank you for visiting",
		Body:    "Hi {{.recipientName}}, your appointment {{.appointmentCode}} is complete.",
	},
	TemplateLeaveCancelled: {
		Subject: "Appointment {{.appointmentCode}} cancelled",
		Body:    "Hi {{.recipientName}}, {{.dentistCode}} is unavailable on {{.date}}. Your appointment at {{.time}} was cancelled. Please book a new time.",
	},
	TemplateQueueAdded: {
		Subject: "You are in the queue",
		Body:    "Hi {{.recipientName}}, you are number {{.position}} in today's queue for {{.dentistCode}} at {{.time}}.",
	},
	TemplateQueueTimeSwitched: {
		Subject: "Queue time changed",
		Body:    "Hi {{.recipientName}}, your visit today moved to {{.time}}. Please confirm with reception.",
	},
	TemplateQueueRebooked: {
		Subject: "Visit moved to {{.date}}",
		Body:    "Hi {{.recipientName}}, your visit was moved to {{.date}} at {{.time}} with {{.dentistCode}}. New appointment: {{.appointmentCode}}.",
	},
	TemplateQueueCancelled: {
		Subject: "Queue visit cancelled",
		Body:    "Hi {{.recipientName}}, your visit today at {{.time}} was cancelled. Reason: {{.reason}}.",
	},
	TemplateQueueRemovedLeave: {
		Subject: "Queue visit cancelled",
		Body:    "Hi {{.recipientName}}, {{.dentistCode}} is unavailable on {{.date}}. Your visit at {{.time}} was cancelled.",
	},
	TemplateOTPCode: {
		Subject: "Your booking code",
		Body:    "{{.prefix}} {{.code}}. It expires in {{.expiresInMinutes}} minutes.",
	},
	TemplateTest: {
		Subject: "Test notification",
		Body:    "Hi {{.recipientName}}, this is a test message.",
	},
}

// Renderer renders small text templates with strict missing-key semantics.
type Renderer struct{}

func (Renderer) Render(name, tmpl string, data any) (string, error) {
	if tmpl == "" {
		return "", fmt.Errorf("templates: template text required")
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("templates: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	return buf.String(), nil
}

// RenderMessage renders subject and body for a template key.
func RenderMessage(key string, data map[string]any) (subject, body string, err error) {
	mt, ok := messageTemplates[key]
	if !ok {
		return "", "", fmt.Errorf("templates: unknown template %q", key)
	}
	var r Renderer
	if subject, err = r.Render(key+".subject", mt.Subject, data); err != nil {
		return "", "", err
	}
	if body, err = r.Render(key+".body", mt.Body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// KnownTemplate reports whether key names a message template.
func KnownTemplate(key string) bool {
	_, ok := messageTemplates[key]
	return ok
}
