package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/leave"
)

// applyLeave records the leave and runs the cancellation cascade. Partial
// cascade failures still return 201 with the failures listed.
func (s *server) applyLeave(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	from, _ := clock.ParseDate(req.DateFrom)
	to, _ := clock.ParseDate(req.DateTo)

	res, err := s.leave.ApplyLeave(r.Context(), leave.Request{
		DentistCode: req.DentistCode,
		DentistName: req.DentistName,
		From:        from,
		To:          to,
		Reason:      req.Reason,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil && res == nil {
		handleError(w, r, s.logger, err)
		return
	}
	if err != nil {
		s.logger.Error("leave cascade incomplete", "leave_code", res.Leave.Code, "error", err)
		res.Failures = append(res.Failures, leave.Failure{Kind: "cascade", Error: err.Error()})
	}
	writeJSON(w, http.StatusCreated, cascadeResponse(res))
}

func (s *server) listLeave(w http.ResponseWriter, r *http.Request) {
	list, err := s.leave.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("dentistCode")))
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	out := make([]LeaveResponse, 0, len(list))
	for i := range list {
		out = append(out, leaveResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) updateLeave(w http.ResponseWriter, r *http.Request) {
	var req LeaveUpdateRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	from, _ := clock.ParseDate(req.DateFrom)
	to, _ := clock.ParseDate(req.DateTo)

	updated, err := s.leave.Update(r.Context(), chi.URLParam(r, "code"), leave.Update{
		DentistName: req.DentistName,
		From:        from,
		To:          to,
		Reason:      req.Reason,
	})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, leaveResponse(updated))
}

func (s *server) deleteLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.leave.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
