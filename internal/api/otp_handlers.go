package api

import (
	"net/http"

	"github.com/hackgods/dental-queue-scheduling/internal/booking"
)

func (s *server) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	issued, err := s.gateway.RequestOTP(r.Context(), req.UserID, booking.SlotPayload{
		DentistCode: req.DentistCode,
		When:        req.When,
		Reason:      req.Reason,
	})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, OTPResponse{OTPID: issued.OTPID, ExpiresAt: issued.ExpiresAt.UTC()})
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPVerifyRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	appt, err := s.gateway.VerifyOTP(r.Context(), req.OTPID, req.Code)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentResponse(appt))
}
