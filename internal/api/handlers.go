package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

func (s *server) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	origin := appointment.Origin(req.Origin)
	if origin == "" {
		origin = appointment.OriginReceptionist
	}

	appt, err := s.ledger.Book(r.Context(), appointment.BookRequest{
		PatientCode: req.PatientCode,
		DentistCode: req.DentistCode,
		When:        req.When,
		Reason:      req.Reason,
		Origin:      origin,
		ActorCode:   req.ActorCode,
	})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentResponse(appt))
}

func (s *server) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := parseDateParam(r, "date", time.Time{})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	f := appointment.Filter{
		DentistCode: q.Get("dentistCode"),
		PatientCode: q.Get("patientCode"),
	}
	for _, raw := range q["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, appointment.Status(st))
			}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handleError(w, r, s.logger, apperr.Validationf("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	list, err := s.ledger.List(r.Context(), f, day)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, appointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.ledger.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

func (s *server) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	appt, err := s.ledger.Confirm(r.Context(), chi.URLParam(r, "code"), req.ActorCode)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

func (s *server) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	appt, err := s.ledger.Cancel(r.Context(), chi.URLParam(r, "code"), req.Reason, req.ActorCode)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

func (s *server) completeAppointment(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	appt, err := s.ledger.Complete(r.Context(), chi.URLParam(r, "code"), req.ActorCode)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

func (s *server) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	appt, err := s.ledger.Reschedule(r.Context(), chi.URLParam(r, "code"), req.When, req.ActorCode)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

func (s *server) availableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dentist := strings.TrimSpace(q.Get("dentistCode"))
	if dentist == "" {
		handleError(w, r, s.logger, apperr.Validationf("dentistCode is required"))
		return
	}
	day, err := parseDateParam(r, "date", s.today())
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	duration := 0
	if v := q.Get("durationMinutes"); v != "" {
		if duration, err = strconv.Atoi(v); err != nil || duration < 1 {
			handleError(w, r, s.logger, apperr.Validationf("durationMinutes must be a positive integer"))
			return
		}
	}

	slots, err := s.ledger.AvailableSlots(r.Context(), dentist, day, duration)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	out := make([]SlotResponse, 0, len(slots))
	for _, sl := range slots {
		out = append(out, SlotResponse{Start: sl.Start.UTC(), End: sl.End.UTC()})
	}
	writeJSON(w, http.StatusOK, out)
}
