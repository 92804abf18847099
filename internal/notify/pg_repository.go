package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/db"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
)

type PgRepository struct {
	conn db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{conn: conn}
}

const entryColumns = `
	code, recipient_type, recipient_code, template_key, requested_channel, channel,
	scheduled_for, sent_at, status, error, metadata, appointment_code, claimed_at,
	created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                  Entry
		recipientType      string
		requested, channel string
		status             string
		meta               []byte
		apptCode           *string
	)
	err := row.Scan(
		&e.Code, &recipientType, &e.RecipientCode, &e.TemplateKey, &requested, &channel,
		&e.ScheduledFor, &e.SentAt, &status, &e.Error, &meta, &apptCode, &e.ClaimedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RecipientType = directory.Kind(recipientType)
	e.RequestedChannel = Channel(requested)
	e.Channel = Channel(channel)
	e.Status = Status(status)
	e.AppointmentCode = db.StringValue(apptCode)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", e.Code, err)
		}
	}
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

func (r *PgRepository) Insert(ctx context.Context, e Entry) (*Entry, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}

	row := r.conn.QueryRow(ctx, `
		INSERT INTO notification_logs (
			recipient_type, recipient_code, template_key, requested_channel,
			scheduled_for, status, metadata, appointment_code, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7, $8, $8)
		RETURNING `+entryColumns,
		string(e.RecipientType), e.RecipientCode, e.TemplateKey, string(e.RequestedChannel),
		e.ScheduledFor, meta, db.NullableString(e.AppointmentCode), e.CreatedAt,
	)
	created, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, code string) (*Entry, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+entryColumns+` FROM notification_logs WHERE code = $1`, code)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *PgRepository) Claim(ctx context.Context, code string, now time.Time, lease time.Duration) (*Entry, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE notification_logs
		SET claimed_at = $2, updated_at = $2
		WHERE code = $1
		  AND status = 'queued'
		  AND (scheduled_for IS NULL OR scheduled_for <= $2)
		  AND (claimed_at IS NULL OR claimed_at < $3)
		RETURNING `+entryColumns,
		code, now, now.Add(-lease),
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotClaimable
		}
		return nil, err
	}
	return e, nil
}

func (r *PgRepository) ClaimDue(ctx context.Context, now, orphanBefore time.Time, lease time.Duration, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `
		UPDATE notification_logs
		SET claimed_at = $1, updated_at = $1
		WHERE code IN (
			SELECT code
			FROM notification_logs
			WHERE status = 'queued'
			  AND (
			    (scheduled_for IS NOT NULL AND scheduled_for <= $1)
			    OR (scheduled_for IS NULL AND created_at <= $2)
			  )
			  AND (claimed_at IS NULL OR claimed_at < $3)
			ORDER BY COALESCE(scheduled_for, created_at)
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns,
		now, orphanBefore, now.Add(-lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	return scanEntries(rows)
}

func (r *PgRepository) MarkSent(ctx context.Context, code string, channel Channel, at time.Time) error {
	return r.finish(ctx, `
		UPDATE notification_logs
		SET status = 'sent', channel = $2, sent_at = $3, error = '', updated_at = $3
		WHERE code = $1 AND status = 'queued'
	`, code, string(channel), at)
}

func (r *PgRepository) MarkFailed(ctx context.Context, code string, channel Channel, errText string, at time.Time) error {
	return r.finish(ctx, `
		UPDATE notification_logs
		SET status = 'failed', channel = $2, error = $4, updated_at = $3
		WHERE code = $1 AND status = 'queued'
	`, code, string(channel), at, errText)
}

func (r *PgRepository) finish(ctx context.Context, query string, args ...any) error {
	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification %v: %w", args[0], err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *PgRepository) CancelScheduled(ctx context.Context, appointmentCode string, now time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'canceled', updated_at = $2
		WHERE appointment_code = $1
		  AND status = 'queued'
		  AND scheduled_for > $2
	`, appointmentCode, now)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled notifications for %s: %w", appointmentCode, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.AppointmentCode != "" {
		args = append(args, f.AppointmentCode)
		where = append(where, fmt.Sprintf("appointment_code = $%d", len(args)))
	}
	if f.RecipientCode != "" {
		args = append(args, f.RecipientCode)
		where = append(where, fmt.Sprintf("recipient_code = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + entryColumns + ` FROM notification_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at, code LIMIT $%d`, len(args))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return scanEntries(rows)
}
