package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apptCols = []string{
	"code", "patient_code", "dentist_code", "scheduled_at", "reason", "status", "origin",
	"created_by", "accepted_by", "accepted_at", "cancelled_by", "cancelled_at", "cancel_reason",
	"pending_expires_at", "created_at", "updated_at",
}

func apptRow(code string, status Status, at time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(apptCols).AddRow(
		code, "PT-0001", "Dr-0007", at, "checkup", string(status), string(OriginPatient),
		nil, nil, nil, nil, nil, nil,
		nil, at.Add(-time.Hour), at.Add(-time.Hour),
	)
}

func TestPgInsertMapsActiveSlotViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 3, 12, 2, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeSlotIndex})
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_pkey"})

	repo := NewPgRepository(mock)
	a := Appointment{PatientCode: "PT-0001", DentistCode: "Dr-0007", ScheduledAt: at, Status: StatusPending, Origin: OriginPatient, CreatedAt: at}

	_, err = repo.Insert(context.Background(), a)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = repo.Insert(context.Background(), a)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSlotTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTransitionDistinguishesMissingFromMoved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 3, 12, 2, 0, 0, 0, time.UTC)
	change := Change{From: StatusPending, To: StatusConfirmed, Actor: "Dr-0007", At: at}

	mock.ExpectQuery("UPDATE appointments").
		WithArgs("APT-000404", "pending", "confirmed", pgxmock.AnyArg(), at, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(apptCols))
	mock.ExpectQuery("FROM appointments WHERE code").
		WithArgs("APT-000404").
		WillReturnRows(pgxmock.NewRows(apptCols))

	mock.ExpectQuery("UPDATE appointments").
		WillReturnRows(pgxmock.NewRows(apptCols))
	mock.ExpectQuery("FROM appointments WHERE code").
		WithArgs("APT-000001").
		WillReturnRows(apptRow("APT-000001", StatusCancelled, at))

	mock.ExpectQuery("UPDATE appointments").
		WillReturnRows(apptRow("APT-000002", StatusConfirmed, at))

	repo := NewPgRepository(mock)
	ctx := context.Background()

	_, err = repo.Transition(ctx, "APT-000404", change)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.Transition(ctx, "APT-000001", change)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := repo.Transition(ctx, "APT-000002", change)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListResumesAfterCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	cursor := &Cursor{At: from.Add(2 * time.Hour), Code: "APT-000010"}

	mock.ExpectQuery(`dentist_code = \$1 AND scheduled_at >= \$2 AND scheduled_at < \$3 AND status = ANY\(\$4\) AND \(scheduled_at, code\) > \(\$5, \$6\) ORDER BY scheduled_at, code LIMIT \$7`).
		WithArgs("Dr-0007", from, to, []string{"pending", "confirmed"}, cursor.At, cursor.Code, 2).
		WillReturnRows(apptRow("APT-000011", StatusPending, cursor.At.Add(30*time.Minute)))

	got, err := NewPgRepository(mock).List(context.Background(), Filter{
		DentistCode: "Dr-0007",
		From:        from,
		To:          to,
		Statuses:    []Status{StatusPending, StatusConfirmed},
		After:       cursor,
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "APT-000011", got[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
