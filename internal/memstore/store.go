// Package memstore keeps every repository in process memory behind a single
// mutex. It backs STORE_DRIVER=memory and the service tests, and enforces
// the same uniqueness and claim rules as the Postgres schema.
package memstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/leave"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
)

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	seq map[string]int

	appointments map[string]appointment.Appointment
	events       []appointment.Event
	entries      map[string]queue.Entry
	history      []queue.History
	leaves       map[string]leave.Leave
	notes        map[string]notify.Entry
	noteOrder    []string
	patients     map[string]directory.Contact
	dentists     map[string]directory.Contact
	otps         map[string]otpItem
	otpIndex     map[string]string
}

// New returns an empty store. clk drives one-time code expiry.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:        clk,
		seq:          map[string]int{},
		appointments: map[string]appointment.Appointment{},
		entries:      map[string]queue.Entry{},
		leaves:       map[string]leave.Leave{},
		notes:        map[string]notify.Entry{},
		patients:     map[string]directory.Contact{},
		dentists:     map[string]directory.Contact{},
		otps:         map[string]otpItem{},
		otpIndex:     map[string]string{},
	}
}

// nextCode must be called with mu held.
func (s *Store) nextCode(prefix string) string {
	s.seq[prefix]++
	return fmt.Sprintf("%s-%06d", prefix, s.seq[prefix])
}

func (s *Store) Appointments() *AppointmentRepo { return &AppointmentRepo{s: s} }

func (s *Store) Queue() *QueueRepo { return &QueueRepo{s: s} }

func (s *Store) Leaves() *LeaveRepo { return &LeaveRepo{s: s} }

func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s: s} }

func (s *Store) Directory() *DirectoryRepo { return &DirectoryRepo{s: s} }

func (s *Store) OTP() *OTPStore { return &OTPStore{s: s} }

func timePtr(t time.Time) *time.Time { return &t }
