package booking

import (
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
)

const PurposeBooking = "booking"

var (
	ErrOTPNotFound     = apperr.New(apperr.ErrNotFound, "one-time code not found")
	ErrOTPExpired      = apperr.New(apperr.ErrExpired, "one-time code expired")
	ErrTooManyAttempts = apperr.New(apperr.ErrTooManyAttempts, "too many attempts")
	ErrInvalidCode     = apperr.New(apperr.ErrValidation, "invalid one-time code")
	ErrNoContact       = apperr.New(apperr.ErrValidation, "patient has no usable contact address")
)

// SlotPayload is the booking materialized when the code is verified.
type SlotPayload struct {
	DentistCode string    `json:"dentist_code"`
	When        time.Time `json:"when"`
	Reason      string    `json:"reason"`
}

type ContactSnapshot struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	ChatAddress string `json:"chat_address,omitempty"`
}

// Record is one outstanding one-time code. Only the bcrypt hash of the code
// is kept.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Purpose     string          `json:"purpose"`
	PatientCode string          `json:"patient_code"`
	CodeHash    string          `json:"code_hash"`
	Contact     ContactSnapshot `json:"contact"`
	Payload     SlotPayload     `json:"payload"`
	Attempts    int             `json:"-"` // filled from the attempt counter on read
	MaxAttempts int             `json:"max_attempts"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Issued struct {
	OTPID     string
	ExpiresAt time.Time
}
