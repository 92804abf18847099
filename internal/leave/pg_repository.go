package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/db"
)

type PgRepository struct {
	conn db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{conn: conn}
}

const leaveColumns = `code, dentist_code, dentist_name, date_from, date_to, reason, created_by, created_at, updated_at`

func scanLeave(row pgx.Row) (*Leave, error) {
	var l Leave
	err := row.Scan(
		&l.Code,
		&l.DentistCode,
		&l.DentistName,
		&l.DateFrom,
		&l.DateTo,
		&l.Reason,
		&l.CreatedBy,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaveNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *PgRepository) Insert(ctx context.Context, l Leave) (*Leave, error) {
	created, err := scanLeave(r.conn.QueryRow(ctx, `
		INSERT INTO leaves (dentist_code, dentist_name, date_from, date_to, reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+leaveColumns,
		l.DentistCode, l.DentistName, l.DateFrom, l.DateTo, l.Reason, l.CreatedBy, l.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert leave: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, code string) (*Leave, error) {
	return scanLeave(r.conn.QueryRow(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE code = $1`, code))
}

func (r *PgRepository) List(ctx context.Context, dentistCode string) ([]Leave, error) {
	query := `SELECT ` + leaveColumns + ` FROM leaves`
	var args []any
	if dentistCode != "" {
		query += ` WHERE dentist_code = $1`
		args = append(args, dentistCode)
	}
	query += ` ORDER BY date_from, code`

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	defer rows.Close()

	var out []Leave
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *PgRepository) Update(ctx context.Context, code string, u Update, at time.Time) (*Leave, error) {
	updated, err := scanLeave(r.conn.QueryRow(ctx, `
		UPDATE leaves
		SET dentist_name = $2, date_from = $3, date_to = $4, reason = $5, updated_at = $6
		WHERE code = $1
		RETURNING `+leaveColumns,
		code, u.DentistName, u.From, u.To, u.Reason, at,
	))
	if err != nil {
		if errors.Is(err, ErrLeaveNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update leave %s: %w", code, err)
	}
	return updated, nil
}

func (r *PgRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM leaves WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete leave %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaveNotFound
	}
	return nil
}

func (r *PgRepository) Covering(ctx context.Context, dentistCode string, day time.Time) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leaves
			WHERE dentist_code = $1 AND date_from <= $2 AND date_to >= $2
		)
	`, dentistCode, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check leave for %s: %w", dentistCode, err)
	}
	return exists, nil
}
