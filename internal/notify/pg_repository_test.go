package notify

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noteCols = []string{
	"code", "recipient_type", "recipient_code", "template_key", "requested_channel", "channel",
	"scheduled_for", "sent_at", "status", "error", "metadata", "appointment_code", "claimed_at",
	"created_at", "updated_at",
}

func TestPgClaimLeasesQueuedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	lease := 2 * time.Minute
	appt := "APT-000001"

	mock.ExpectQuery(`UPDATE notification_logs\s+SET claimed_at = \$2`).
		WithArgs("N-000001", now, now.Add(-lease)).
		WillReturnRows(pgxmock.NewRows(noteCols).AddRow(
			"N-000001", "patient", "PT-0001", TemplateAppointmentConfirmed, "", "",
			nil, nil, "queued", "", []byte(`{"appointmentCode":"APT-000001"}`), &appt, nil,
			now, now,
		))
	mock.ExpectQuery("UPDATE notification_logs").
		WithArgs("N-000002", now, now.Add(-lease)).
		WillReturnRows(pgxmock.NewRows(noteCols))

	repo := NewPgRepository(mock)
	e, err := repo.Claim(context.Background(), "N-000001", now, lease)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, appt, e.AppointmentCode)
	assert.Equal(t, "APT-000001", e.Metadata["appointmentCode"])

	_, err = repo.Claim(context.Background(), "N-000002", now, lease)
	assert.ErrorIs(t, err, ErrNotClaimable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkFailedOnlyTouchesQueuedRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)status = 'failed'.*WHERE code = \$1 AND status = 'queued'`).
		WithArgs("N-000001", string(ChannelEmail), now, "smtp: 550").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("status = 'failed'").
		WithArgs("N-000001", "", now, "claim: conn reset").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPgRepository(mock)
	require.NoError(t, repo.MarkFailed(context.Background(), "N-000001", ChannelEmail, "smtp: 550", now))
	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "N-000001", "", "claim: conn reset", now), ErrNotClaimable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
