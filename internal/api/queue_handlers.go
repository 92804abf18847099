package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
)

func (s *server) listQueue(w http.ResponseWriter, r *http.Request) {
	day, err := parseDateParam(r, "date", s.today())
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	entries, err := s.conductor.List(r.Context(), queue.Filter{
		DentistCode: strings.TrimSpace(r.URL.Query().Get("dentistCode")),
		DayFrom:     day,
		DayTo:       day,
	})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	out := make([]QueueEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, queueEntryResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getQueueEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.conductor.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queueEntryResponse(e))
}

func (s *server) advanceQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueStatusRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	to, _ := queue.ParseStatus(req.Status)
	e, err := s.conductor.Advance(r.Context(), chi.URLParam(r, "code"), to)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queueEntryResponse(e))
}

func (s *server) switchQueueTime(w http.ResponseWriter, r *http.Request) {
	var req SwitchTimeRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	e, err := s.conductor.SwitchTime(r.Context(), chi.URLParam(r, "code"), req.When)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queueEntryResponse(e))
}

func (s *server) rebookQueue(w http.ResponseWriter, r *http.Request) {
	var req RebookQueueRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	date, _ := clock.ParseDate(req.Date)
	appt, err := s.conductor.DeleteAndRebook(r.Context(), chi.URLParam(r, "code"), queue.RebookRequest{
		DentistCode: req.DentistCode,
		Date:        date,
		Time:        req.Time,
		Reason:      req.Reason,
		ActorCode:   req.ActorCode,
	})
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentResponse(appt))
}

func (s *server) cancelQueue(w http.ResponseWriter, r *http.Request) {
	var req CancelQueueRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	e, err := s.conductor.Cancel(r.Context(), chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queueEntryResponse(e))
}

func (s *server) migrateQueue(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	day := s.today()
	if req.Date != "" {
		day, _ = clock.ParseDate(req.Date)
	}
	res, err := s.conductor.MigrateDay(r.Context(), req.DentistCode, day)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MigrateResponse{
		Day:          res.Day.Format(time.DateOnly),
		StaleRemoved: res.StaleRemoved,
		Migrated:     res.Migrated,
		Total:        res.Total(),
		Skipped:      res.Skipped,
		Failed:       res.Failed,
	})
}
