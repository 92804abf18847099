package api

import (
	"net/http"
	"strconv"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
)

func (s *server) notifyTest(w http.ResponseWriter, r *http.Request) {
	var req NotifyTestRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	entry, err := s.dispatcher.SendTest(r.Context(), directory.Kind(req.RecipientType), req.RecipientCode, notify.Channel(req.Channel))
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, notificationResponse(entry))
}

func (s *server) notifyLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notify.Filter{
		AppointmentCode: q.Get("appointmentCode"),
		RecipientCode:   q.Get("recipientCode"),
	}
	if f.AppointmentCode == "" && f.RecipientCode == "" {
		handleError(w, r, s.logger, apperr.Validationf("appointmentCode or recipientCode is required"))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handleError(w, r, s.logger, apperr.Validationf("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	logs, err := s.dispatcher.Logs(r.Context(), f)
	if err != nil {
		handleError(w, r, s.logger, err)
		return
	}
	out := make([]NotificationResponse, 0, len(logs))
	for i := range logs {
		out = append(out, notificationResponse(&logs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
