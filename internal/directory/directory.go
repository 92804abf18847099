// Package directory resolves patients and dentists to delivery addresses.
// Record management lives elsewhere; this is read-only lookup.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
)

type Kind string

const (
	KindPatient Kind = "patient"
	KindDentist Kind = "dentist"
	KindStaff   Kind = "staff"
)

var ErrContactNotFound = apperr.New(apperr.ErrNotFound, "contact not found")

type Contact struct {
	Kind        Kind
	Code        string
	UserID      string
	Name        string
	Email       string
	Phone       string
	ChatAddress string
}

// HasAddress reports whether any delivery address is present.
func (c Contact) HasAddress() bool {
	return c.Email != "" || c.Phone != "" || c.ChatAddress != ""
}

type Repository interface {
	Lookup(ctx context.Context, kind Kind, code string) (*Contact, error)
	FindPatientByUser(ctx context.Context, userID string) (*Contact, error)
}

// Directory normalizes contacts loaded from the repository.
type Directory struct {
	repo        Repository
	countryCode string
}

func New(repo Repository, countryCode string) *Directory {
	return &Directory{repo: repo, countryCode: strings.TrimPrefix(countryCode, "+")}
}

func (d *Directory) Lookup(ctx context.Context, kind Kind, code string) (*Contact, error) {
	c, err := d.repo.Lookup(ctx, kind, code)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup %s %s: %w", kind, code, err)
	}
	return d.normalize(c), nil
}

func (d *Directory) FindPatientByUser(ctx context.Context, userID string) (*Contact, error) {
	c, err := d.repo.FindPatientByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find patient for user %s: %w", userID, err)
	}
	return d.normalize(c), nil
}

func (d *Directory) normalize(c *Contact) *Contact {
	out := *c
	out.Email = strings.TrimSpace(out.Email)
	out.Phone = NormalizePhone(out.Phone, d.countryCode)
	out.ChatAddress = strings.TrimSpace(out.ChatAddress)
	return &out
}

// NormalizePhone returns the number in E.164 form. Local numbers starting
// with a trunk 0 get the default country prefix.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(raw, "00"):
		digits = strings.TrimPrefix(digits, "00")
	case international:
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + strings.TrimLeft(digits, "0")
	case countryCode != "" && !strings.HasPrefix(digits, countryCode):
		digits = countryCode + digits
	}
	return "+" + digits
}
