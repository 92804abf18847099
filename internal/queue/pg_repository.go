package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/db"
)

const (
	positionIndex = "queue_entries_position_uq"
	instantIndex  = "queue_entries_instant_uq"
)

type PgRepository struct {
	conn db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{conn: conn}
}

const entryColumns = `
	code, appointment_code, patient_code, dentist_code, scheduled_at, queue_day,
	position, status, reason, called_at, started_at, completed_at, no_show_at,
	previous_time, original_time, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		status string
	)
	err := row.Scan(
		&e.Code,
		&e.AppointmentCode,
		&e.PatientCode,
		&e.DentistCode,
		&e.ScheduledAt,
		&e.QueueDay,
		&e.Position,
		&status,
		&e.Reason,
		&e.CalledAt,
		&e.StartedAt,
		&e.CompletedAt,
		&e.NoShowAt,
		&e.PreviousTime,
		&e.OriginalTime,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type sourceAppointment struct {
	code        string
	patientCode string
	scheduledAt time.Time
	reason      string
}

func (r *PgRepository) Migrate(ctx context.Context, in MigrateInput) ([]Entry, error) {
	var created []Entry

	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		// Serializes position assignment for the dentist's day.
		lockKey := in.DentistCode + ":" + in.Day.Format(time.DateOnly)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("lock queue day: %w", err)
		}

		var maxPos int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(position), 0)
			FROM queue_entries
			WHERE dentist_code = $1 AND queue_day = $2
		`, in.DentistCode, in.Day).Scan(&maxPos); err != nil {
			return fmt.Errorf("read max position: %w", err)
		}

		query := `
			SELECT code, patient_code, scheduled_at, reason
			FROM appointments
			WHERE dentist_code = $1
			  AND scheduled_at >= $2
			  AND scheduled_at < $3
			  AND status IN ('pending', 'confirmed')`
		args := []any{in.DentistCode, in.From, in.To}
		if in.AppointmentCode != "" {
			query += ` AND code = $4`
			args = append(args, in.AppointmentCode)
		}
		query += ` ORDER BY scheduled_at, code FOR UPDATE`

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("load appointments to migrate: %w", err)
		}
		var sources []sourceAppointment
		for rows.Next() {
			var s sourceAppointment
			if err := rows.Scan(&s.code, &s.patientCode, &s.scheduledAt, &s.reason); err != nil {
				rows.Close()
				return err
			}
			sources = append(sources, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i, s := range sources {
			if _, err := tx.Exec(ctx, `DELETE FROM appointments WHERE code = $1`, s.code); err != nil {
				return fmt.Errorf("consume appointment %s: %w", s.code, err)
			}

			e, err := scanEntry(tx.QueryRow(ctx, `
				INSERT INTO queue_entries (
					appointment_code, patient_code, dentist_code, scheduled_at, queue_day,
					position, status, reason, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7, $8, $8)
				RETURNING `+entryColumns,
				s.code, s.patientCode, in.DentistCode, s.scheduledAt, in.Day, maxPos+i+1, s.reason, in.Now,
			))
			if err != nil {
				if db.IsUniqueViolation(err, positionIndex) {
					return ErrPositionTaken
				}
				if db.IsUniqueViolation(err, instantIndex) {
					return appointment.ErrSlotTaken
				}
				return fmt.Errorf("insert queue entry for %s: %w", s.code, err)
			}

			if err := insertHistory(ctx, tx, History{
				QueueCode: e.Code,
				Action:    ActionMigrated,
				Snapshot:  Snapshot(*e),
				CreatedAt: in.Now,
			}); err != nil {
				return err
			}
			created = append(created, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) DeleteBefore(ctx context.Context, dentistCode string, day time.Time) (int, error) {
	query := `DELETE FROM queue_entries WHERE queue_day < $1`
	args := []any{day}
	if dentistCode != "" {
		query += ` AND dentist_code = $2`
		args = append(args, dentistCode)
	}
	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) Get(ctx context.Context, code string) (*Entry, error) {
	return scanEntry(r.conn.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE code = $1`, code))
}

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentCode string) (*Entry, error) {
	return scanEntry(r.conn.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE appointment_code = $1`, appointmentCode))
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Entry, error) {
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
	if !f.DayFrom.IsZero() {
		add("queue_day >= $%d", f.DayFrom)
	}
	if !f.DayTo.IsZero() {
		add("queue_day <= $%d", f.DayTo)
	}

	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY queue_day, dentist_code, position`

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	return scanEntries(rows)
}

func (r *PgRepository) CountForDay(ctx context.Context, dentistCode string, day time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT count(*) FROM queue_entries WHERE dentist_code = $1 AND queue_day = $2
	`, dentistCode, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, code string, from, to Status, at time.Time) (*Entry, error) {
	var stamp string
	switch to {
	case StatusCalled:
		stamp = "called_at"
	case StatusInTreatment:
		stamp = "started_at"
	case StatusCompleted:
		stamp = "completed_at"
	case StatusNoShow:
		stamp = "no_show_at"
	default:
		return nil, ErrInvalidTransition
	}

	e, err := scanEntry(r.conn.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $3, `+stamp+` = $4, updated_at = $4
		WHERE code = $1 AND status = $2
		RETURNING `+entryColumns,
		code, string(from), string(to), at,
	))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			if _, getErr := r.Get(ctx, code); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update queue status %s: %w", code, err)
	}
	return e, nil
}

func (r *PgRepository) SwitchTime(ctx context.Context, code string, to time.Time, at time.Time) (*Entry, error) {
	e, err := scanEntry(r.conn.QueryRow(ctx, `
		UPDATE queue_entries
		SET previous_time = scheduled_at,
		    original_time = COALESCE(original_time, scheduled_at),
		    scheduled_at = $2,
		    updated_at = $3
		WHERE code = $1 AND status = 'waiting'
		RETURNING `+entryColumns,
		code, to, at,
	))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			if _, getErr := r.Get(ctx, code); getErr != nil {
				return nil, getErr
			}
			return nil, ErrNotWaiting
		}
		if db.IsUniqueViolation(err, instantIndex) {
			return nil, appointment.ErrSlotTaken
		}
		return nil, fmt.Errorf("switch queue time %s: %w", code, err)
	}
	return e, nil
}

func (r *PgRepository) Delete(ctx context.Context, code string, h History) (*Entry, error) {
	var deleted *Entry
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		e, err := scanEntry(tx.QueryRow(ctx,
			`DELETE FROM queue_entries WHERE code = $1 RETURNING `+entryColumns, code))
		if err != nil {
			return err
		}
		h.QueueCode = e.Code
		h.Snapshot = Snapshot(*e)
		if err := insertHistory(ctx, tx, h); err != nil {
			return err
		}
		deleted = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *PgRepository) InsertHistory(ctx context.Context, h History) error {
	return insertHistory(ctx, r.conn, h)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertHistory(ctx context.Context, conn execer, h History) error {
	_, err := conn.Exec(ctx, `
		INSERT INTO queue_history (queue_code, action, reason, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, h.QueueCode, h.Action, h.Reason, h.Snapshot, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert queue history: %w", err)
	}
	return nil
}

func (r *PgRepository) History(ctx context.Context, queueCode string) ([]History, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, queue_code, action, reason, snapshot, created_at
		FROM queue_history
		WHERE queue_code = $1
		ORDER BY id
	`, queueCode)
	if err != nil {
		return nil, fmt.Errorf("list queue history: %w", err)
	}
	defer rows.Close()

	var out []History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.QueueCode, &h.Action, &h.Reason, &h.Snapshot, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
