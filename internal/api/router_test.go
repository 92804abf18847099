package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type harness struct {
	app *app.App
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.StoreDriver = config.StoreMemory
	cfg.NotifyWorkers = 1

	clk := clock.NewFake(time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC))
	a, err := app.New(context.Background(), cfg, logging.Discard(),
		app.WithClock(clk),
		app.WithSenders(map[notify.Channel]notify.Sender{}),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Router("test"))
	t.Cleanup(srv.Close)
	return &harness{app: a, srv: srv}
}

func (h *harness) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	status, raw := h.raw(t, method, path, body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (h *harness) list(t *testing.T, path string) (int, []map[string]any) {
	t.Helper()
	status, raw := h.raw(t, http.MethodGet, path, nil)
	var out []map[string]any
	if status == http.StatusOK {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (h *harness) raw(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func booking(dentist, patient, when string) map[string]any {
	return map[string]any{
		"patientCode": patient,
		"dentistCode": dentist,
		"when":        when,
		"origin":      "receptionist",
		"actorCode":   "R-0001",
	}
}

func TestBookingConflictOverHTTP(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodPost, "/appointments", booking("Dr-0007", "P-0001", "2025-03-11T09:00:00Z"))
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "APT-000001", body["code"])

	status, body = h.call(t, http.MethodPost, "/appointments", booking("Dr-0007", "P-0002", "2025-03-11T09:00:00Z"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "slot_taken", body["error"])

	status, slots := h.list(t, "/slots?dentistCode=Dr-0007&date=2025-03-11")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, slots, 15)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodPost, "/appointments", map[string]any{
		"patientCode": "P-0001",
		"when":        "2025-03-11T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])
	assert.Contains(t, body["details"], "dentistCode failed required")

	status, body = h.call(t, http.MethodPost, "/appointments", map[string]any{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])

	status, _ = h.call(t, http.MethodGet, "/slots?dentistCode=Dr-0007&date=11-03-2025", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = h.call(t, http.MethodGet, "/appointments/APT-999999", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestAppointmentLifecycle(t *testing.T) {
	h := newHarness(t)

	req := booking("Dr-0007", "P-0001", "2025-03-12T10:00:00Z")
	req["origin"] = "patient"
	status, body := h.call(t, http.MethodPost, "/appointments", req)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "pending", body["status"])
	code := body["code"].(string)

	status, body = h.call(t, http.MethodPost, "/appointments/"+code+"/confirm", map[string]any{"actorCode": "R-0001"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "R-0001", body["acceptedBy"])

	status, body = h.call(t, http.MethodPatch, "/appointments/"+code+"/reschedule", map[string]any{"when": "2025-03-12T11:00:00Z"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "2025-03-12T11:00:00Z", body["scheduledAt"])

	status, body = h.call(t, http.MethodPost, "/appointments/"+code+"/cancel", map[string]any{"reason": "patient request"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cancelled", body["status"])

	status, body = h.call(t, http.MethodPost, "/appointments/"+code+"/complete", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_status_transition", body["error"])

	status, list := h.list(t, "/appointments?dentistCode=Dr-0007&date=2025-03-12&status=cancelled")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list, 1)
}

func TestQueueOverHTTP(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodPost, "/appointments", booking("Dr-0007", "P-0001", "2025-03-10T10:00:00Z"))
	require.Equal(t, http.StatusCreated, status, body)

	status, entries := h.list(t, "/queue?dentistCode=Dr-0007")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0]["position"])
	assert.Equal(t, "2025-03-10", entries[0]["queueDay"])
	code := entries[0]["code"].(string)

	status, body = h.call(t, http.MethodPatch, "/queue/"+code+"/status", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_status_transition", body["error"])

	status, body = h.call(t, http.MethodPatch, "/queue/"+code+"/status", map[string]any{"status": "called"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "called", body["status"])
	assert.NotEmpty(t, body["calledAt"])

	status, body = h.call(t, http.MethodPost, "/queue/migrate", map[string]any{"date": "2025-03-10"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, body["total"])
}

func TestLeaveOverHTTP(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodPost, "/appointments", booking("Dr-0007", "P-0001", "2025-03-11T09:00:00Z"))
	require.Equal(t, http.StatusCreated, status, body)

	status, body = h.call(t, http.MethodPost, "/leave", map[string]any{
		"dentistCode": "Dr-0007",
		"dentistName": "Dr. Sari",
		"dateFrom":    "2025-03-11",
		"dateTo":      "2025-03-12",
		"reason":      "conference",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 1, body["appointmentsCancelled"])
	leaveCode := body["leave"].(map[string]any)["code"].(string)

	status, body = h.call(t, http.MethodPost, "/appointments", booking("Dr-0007", "P-0002", "2025-03-12T09:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "dentist_unavailable", body["error"])

	status, body = h.call(t, http.MethodPut, "/leave/"+leaveCode, map[string]any{"dateFrom": "2025-03-11", "dateTo": "2025-03-11"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "2025-03-11", body["dateTo"])

	status, list := h.list(t, "/leave?dentistCode=Dr-0007")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list, 1)

	status, _ = h.raw(t, http.MethodDelete, "/leave/"+leaveCode, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestOTPBookingOverHTTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.app.Contacts.Upsert(ctx, directory.Contact{
		Kind:   directory.KindPatient,
		Code:   "P-0042",
		UserID: "user-42",
		Name:   "Rina",
		Email:  "rina@example.com",
	}))

	status, body := h.call(t, http.MethodPost, "/otp/request", map[string]any{
		"userId":      "user-42",
		"dentistCode": "Dr-0007",
		"when":        "2025-03-12T09:00:00Z",
	})
	require.Equal(t, http.StatusAccepted, status, body)
	otpID := body["otpId"].(string)

	logs, err := h.app.Dispatcher.Logs(ctx, notify.Filter{RecipientCode: "P-0042"})
	require.NoError(t, err)
	var code string
	for _, e := range logs {
		if e.TemplateKey == notify.TemplateOTPCode {
			code, _ = e.Metadata["code"].(string)
		}
	}
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	status, body = h.call(t, http.MethodPost, "/otp/verify", map[string]any{"otpId": otpID, "code": wrong})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = h.call(t, http.MethodPost, "/otp/verify", map[string]any{"otpId": otpID, "code": code})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "otp", body["origin"])
	assert.Equal(t, "P-0042", body["patientCode"])

	status, body = h.call(t, http.MethodPost, "/otp/verify", map[string]any{"otpId": otpID, "code": code})
	assert.Equal(t, http.StatusNotFound, status, body)

	status, entries := h.list(t, "/notify/logs?recipientCode=P-0042")
	require.Equal(t, http.StatusOK, status)
	for _, e := range entries {
		if e["templateKey"] == notify.TemplateOTPCode {
			assert.Nil(t, e["metadata"])
		}
	}
}

func TestNotifyTest(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodPost, "/notify/test", map[string]any{
		"recipientType": "staff",
		"recipientCode": "R-0001",
	})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, notify.TemplateTest, body["templateKey"])

	status, _ = h.call(t, http.MethodGet, "/notify/logs", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = h.call(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory", body["store"])

	status, raw := h.raw(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(raw), "dental_http_requests_total"))
}
