package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decode reads a JSON body into dst and runs its validate tags. An empty
// body is accepted so endpoints with all-optional fields can be called bare.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validationf("could not parse JSON: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fromValidationError(err)
	}
	return nil
}

func fromValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validationf("%v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if len(field) > 0 {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return apperr.Validationf("%s", strings.Join(parts, "; "))
}

// errorCode names the specific failure where one is known, falling back to
// the error kind.
func errorCode(err error) string {
	switch {
	case errors.Is(err, appointment.ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, appointment.ErrDentistUnavailable):
		return "dentist_unavailable"
	case errors.Is(err, appointment.ErrInvalidTransition), errors.Is(err, queue.ErrInvalidTransition):
		return "invalid_status_transition"
	case errors.Is(err, queue.ErrNotWaiting):
		return "queue_entry_not_waiting"
	}
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return "validation_error"
	case apperr.ErrUnavailable:
		return "unavailable"
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrCapacityExceeded:
		return "capacity_exceeded"
	case apperr.ErrNotFound:
		return "not_found"
	case apperr.ErrExpired:
		return "expired"
	case apperr.ErrTooManyAttempts:
		return "too_many_attempts"
	case apperr.ErrDeliveryFailed:
		return "delivery_failed"
	}
	return "internal_error"
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation, apperr.ErrUnavailable:
		return http.StatusBadRequest
	case apperr.ErrConflict, apperr.ErrCapacityExceeded:
		return http.StatusConflict
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrExpired:
		return http.StatusGone
	case apperr.ErrTooManyAttempts:
		return http.StatusTooManyRequests
	case apperr.ErrDeliveryFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleError writes err using the shared error body. Infrastructure errors
// are logged and their details hidden.
func handleError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, status, "internal_error", "unexpected server error")
		return
	}
	writeError(w, status, errorCode(err), err.Error())
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback, nil
	}
	d, err := clock.ParseDate(v)
	if err != nil {
		return time.Time{}, apperr.Validationf("%s must be YYYY-MM-DD", name)
	}
	return d, nil
}
