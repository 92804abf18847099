package memstore

import (
	"context"
	"fmt"

	"github.com/hackgods/dental-queue-scheduling/internal/directory"
)

type DirectoryRepo struct {
	s *Store
}

var _ directory.Repository = (*DirectoryRepo)(nil)

func (r *DirectoryRepo) Lookup(_ context.Context, kind directory.Kind, code string) (*directory.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		c  directory.Contact
		ok bool
	)
	switch kind {
	case directory.KindPatient:
		c, ok = r.s.patients[code]
	case directory.KindDentist:
		c, ok = r.s.dentists[code]
	}
	if !ok {
		return nil, directory.ErrContactNotFound
	}
	return &c, nil
}

func (r *DirectoryRepo) FindPatientByUser(_ context.Context, userID string) (*directory.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.patients {
		if c.UserID != "" && c.UserID == userID {
			return &c, nil
		}
	}
	return nil, directory.ErrContactNotFound
}

func (r *DirectoryRepo) Upsert(_ context.Context, c directory.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	switch c.Kind {
	case directory.KindPatient:
		r.s.patients[c.Code] = c
	case directory.KindDentist:
		r.s.dentists[c.Code] = c
	default:
		return fmt.Errorf("upsert contact: unsupported kind %q", c.Kind)
	}
	return nil
}

// DentistCodes lists every known dentist.
func (r *DirectoryRepo) DentistCodes() []string {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]string, 0, len(r.s.dentists))
	for code := range r.s.dentists {
		out = append(out, code)
	}
	return out
}
