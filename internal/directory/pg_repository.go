package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/db"
)

type PgRepository struct {
	conn db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{conn: conn}
}

func scanContact(kind Kind, row pgx.Row) (*Contact, error) {
	var (
		c                          Contact
		userID, email, phone, addr *string
	)
	if err := row.Scan(&c.Code, &userID, &c.Name, &email, &phone, &addr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	c.Kind = kind
	c.UserID = db.StringValue(userID)
	c.Email = db.StringValue(email)
	c.Phone = db.StringValue(phone)
	c.ChatAddress = db.StringValue(addr)
	return &c, nil
}

func (r *PgRepository) Lookup(ctx context.Context, kind Kind, code string) (*Contact, error) {
	var query string
	switch kind {
	case KindPatient:
		query = `
			SELECT code, user_id, name, email, phone, chat_address
			FROM patients
			WHERE code = $1
		`
	case KindDentist:
		query = `
			SELECT code, NULL::text, name, email, phone, chat_address
			FROM dentists
			WHERE code = $1
		`
	default:
		return nil, fmt.Errorf("%w: unsupported recipient type %q", ErrContactNotFound, kind)
	}
	return scanContact(kind, r.conn.QueryRow(ctx, query, code))
}

func (r *PgRepository) FindPatientByUser(ctx context.Context, userID string) (*Contact, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT code, user_id, name, email, phone, chat_address
		FROM patients
		WHERE user_id = $1
	`, userID)
	return scanContact(KindPatient, row)
}

// Upsert writes a contact row. Used by the seed command.
func (r *PgRepository) Upsert(ctx context.Context, c Contact) error {
	var err error
	switch c.Kind {
	case KindPatient:
		_, err = r.conn.Exec(ctx, `
			INSERT INTO patients (code, user_id, name, email, phone, chat_address, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (code) DO UPDATE
			SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, email = EXCLUDED.email,
			    phone = EXCLUDED.phone, chat_address = EXCLUDED.chat_address, updated_at = now()
		`, c.Code, db.NullableString(c.UserID), c.Name, db.NullableString(c.Email), db.NullableString(c.Phone), db.NullableString(c.ChatAddress))
	case KindDentist:
		_, err = r.conn.Exec(ctx, `
			INSERT INTO dentists (code, name, email, phone, chat_address, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (code) DO UPDATE
			SET name = EXCLUDED.name, email = EXCLUDED.email,
			    phone = EXCLUDED.phone, chat_address = EXCLUDED.chat_address, updated_at = now()
		`, c.Code, c.Name, db.NullableString(c.Email), db.NullableString(c.Phone), db.NullableString(c.ChatAddress))
	default:
		return fmt.Errorf("upsert contact: unsupported kind %q", c.Kind)
	}
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", c.Kind, c.Code, err)
	}
	return nil
}
