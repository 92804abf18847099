package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/db"
)

const activeSlotIndex = "appointments_active_slot_uq"

type PgRepository struct {
	conn db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{conn: conn}
}

const appointmentColumns = `
	code, patient_code, dentist_code, scheduled_at, reason, status, origin,
	created_by, accepted_by, accepted_at, cancelled_by, cancelled_at, cancel_reason,
	pending_expires_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                                  Appointment
		status, origin                     string
		createdBy, acceptedBy, cancelledBy *string
		cancelReason                       *string
	)

	err := row.Scan(
		&a.Code,
		&a.PatientCode,
		&a.DentistCode,
		&a.ScheduledAt,
		&a.Reason,
		&status,
		&origin,
		&createdBy,
		&acceptedBy,
		&a.AcceptedAt,
		&cancelledBy,
		&a.CancelledAt,
		&cancelReason,
		&a.PendingExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.Origin = Origin(origin)
	a.CreatedBy = db.StringValue(createdBy)
	a.AcceptedBy = db.StringValue(acceptedBy)
	a.CancelledBy = db.StringValue(cancelledBy)
	a.CancelReason = db.StringValue(cancelReason)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO appointments (
			patient_code, dentist_code, scheduled_at, reason, status, origin,
			created_by, accepted_by, accepted_at, pending_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING `+appointmentColumns,
		a.PatientCode,
		a.DentistCode,
		a.ScheduledAt,
		a.Reason,
		string(a.Status),
		string(a.Origin),
		db.NullableString(a.CreatedBy),
		db.NullableString(a.AcceptedBy),
		a.AcceptedAt,
		a.PendingExpiresAt,
		a.CreatedAt,
	)
	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, code string) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE code = $1`, code)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.DentistCode != "" {
		add("dentist_code = $%d", f.DentistCode)
	}
	if f.PatientCode != "" {
		add("patient_code = $%d", f.PatientCode)
	}
	if !f.From.IsZero() {
		add("scheduled_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("scheduled_at < $%d", f.To)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	if f.After != nil {
		args = append(args, f.After.At, f.After.Code)
		where = append(where, fmt.Sprintf("(scheduled_at, code) > ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at, code`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) FindActiveAt(ctx context.Context, dentistCode string, at time.Time, excludeCode string) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE dentist_code = $1
		  AND scheduled_at = $2
		  AND status IN ('pending', 'confirmed', 'completed')
		  AND code <> $3
		LIMIT 1
	`, dentistCode, at, excludeCode)
	return scanAppointment(row)
}

func (r *PgRepository) CountByStatus(ctx context.Context, dentistCode string, from, to time.Time, statuses []Status) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE dentist_code = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status = ANY($4)
	`, dentistCode, from, to, statusStrings(statuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments for %s: %w", dentistCode, err)
	}
	return n, nil
}

func (r *PgRepository) Transition(ctx context.Context, code string, c Change) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    accepted_by = CASE WHEN $3 = 'confirmed' THEN $4 ELSE accepted_by END,
		    accepted_at = CASE WHEN $3 = 'confirmed' THEN $5 ELSE accepted_at END,
		    cancelled_by = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_by END,
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN $5 ELSE cancelled_at END,
		    cancel_reason = CASE WHEN $3 = 'cancelled' THEN $6 ELSE cancel_reason END,
		    pending_expires_at = NULL,
		    updated_at = $5
		WHERE code = $1 AND status = $2
		RETURNING `+appointmentColumns,
		code, string(c.From), string(c.To), db.NullableString(c.Actor), c.At, db.NullableString(c.Reason),
	)
	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("transition appointment %s: %w", code, err)
	}
	// Distinguish a missing row from one that moved on.
	if _, getErr := r.Get(ctx, code); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

func (r *PgRepository) Reschedule(ctx context.Context, code string, at time.Time, updatedAt time.Time) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2, updated_at = $3
		WHERE code = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns,
		code, at, updatedAt,
	)
	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reschedule appointment %s: %w", code, err)
	}
	return updated, nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND pending_expires_at IS NOT NULL
		  AND pending_expires_at < $1
		ORDER BY pending_expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("find expired pending: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev Event) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_code, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, db.NullableString(ev.AppointmentCode), ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}
