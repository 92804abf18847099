package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/memstore"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (n *recordingNotifier) Notify(_ context.Context, req notify.Request) (*notify.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return &notify.Entry{Code: "NTF-1"}, nil
}

func (n *recordingNotifier) CancelScheduled(context.Context, string) (int, error) { return 0, nil }

func (n *recordingNotifier) count(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, r := range n.requests {
		if r.TemplateKey == template {
			c++
		}
	}
	return c
}

type fixture struct {
	ledger    *appointment.Ledger
	conductor *queue.Conductor
	appts     *memstore.AppointmentRepo
	clock     *clock.Fake
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	return newLockedFixture(t, cfg, nil)
}

func newLockedFixture(t *testing.T, cfg config.Config, locker redisclient.Locker) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	n := &recordingNotifier{}

	ledger := appointment.NewLedger(store.Appointments(), nil, n, clk, cfg, logging.Discard(), nil)
	conductor := queue.NewConductor(store.Queue(), ledger, locker, n, clk, cfg, logging.Discard(), nil)
	ledger.AttachQueue(conductor)

	return &fixture{
		ledger:    ledger,
		conductor: conductor,
		appts:     store.Appointments(),
		clock:     clk,
		notifier:  n,
	}
}

func date(day int) time.Time {
	return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
}

func at(day, hour int) time.Time {
	return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T, patient string, when time.Time, origin appointment.Origin) *appointment.Appointment {
	t.Helper()
	a, err := f.ledger.Book(context.Background(), appointment.BookRequest{
		PatientCode: patient,
		DentistCode: "Dr-0007",
		When:        when,
		Origin:      origin,
		ActorCode:   "R-0001",
	})
	require.NoError(t, err)
	return a
}

func TestMigrateDayAssignsContiguousPositions(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0003", at(11, 11), appointment.OriginReceptionist)
	f.book(t, "P-0001", at(11, 9), appointment.OriginPatient)
	f.book(t, "P-0002", at(11, 10), appointment.OriginReceptionist)
	cancelled := f.book(t, "P-0004", at(11, 12), appointment.OriginReceptionist)
	_, err := f.ledger.Cancel(ctx, cancelled.Code, "no longer needed", "R-0001")
	require.NoError(t, err)

	f.clock.Set(time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
	res, err := f.conductor.MigrateDay(ctx, "", date(11))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total())
	assert.Equal(t, map[string]int{"Dr-0007": 3}, res.Migrated)

	entries, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007", DayFrom: date(11), DayTo: date(11)})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, queue.StatusWaiting, e.Status)
	}
	assert.Equal(t, "P-0001", entries[0].PatientCode)
	assert.Equal(t, "P-0003", entries[2].PatientCode)

	left, err := f.appts.List(ctx, appointment.Filter{DentistCode: "Dr-0007", Statuses: []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed}})
	require.NoError(t, err)
	assert.Empty(t, left)

	again, err := f.conductor.MigrateDay(ctx, "Dr-0007", date(11))
	require.NoError(t, err)
	assert.Zero(t, again.Total())
}

func TestMigrateDayRemovesStaleEntries(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{DayFrom: date(10), DayTo: date(10)})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f.clock.Set(time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
	res, err := f.conductor.MigrateDay(ctx, "", date(11))
	require.NoError(t, err)
	assert.Equal(t, 1, res.StaleRemoved)

	_, err = f.conductor.Get(ctx, entries[0].Code)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestSameDayBookingJoinsQueue(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	first := f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	second := f.book(t, "P-0002", at(10, 10), appointment.OriginReceptionist)

	e1, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007", DayFrom: date(10), DayTo: date(10)})
	require.NoError(t, err)
	require.Len(t, e1, 2)
	assert.Equal(t, first.Code, e1[0].AppointmentCode)
	assert.Equal(t, second.Code, e1[1].AppointmentCode)
	assert.Equal(t, 2, e1[1].Position)
	assert.Equal(t, 2, f.notifier.count(notify.TemplateQueueAdded))

	_, err = f.ledger.Get(ctx, first.Code)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	_, err = f.ledger.Book(ctx, appointment.BookRequest{
		PatientCode: "P-0003", DentistCode: "Dr-0007", When: at(10, 9),
	})
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)
}

func TestQueueEntriesCountTowardCapacity(t *testing.T) {
	cfg := config.Defaults()
	cfg.DailyAppointmentCap = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	f.book(t, "P-0002", at(10, 10), appointment.OriginReceptionist)

	_, err := f.ledger.Book(ctx, appointment.BookRequest{
		PatientCode: "P-0003", DentistCode: "Dr-0007", When: at(10, 11),
	})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
}

func TestAdvanceRoundTrip(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	code := entries[0].Code

	_, err = f.conductor.Advance(ctx, code, queue.StatusCompleted)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	for _, to := range []queue.Status{queue.StatusCalled, queue.StatusInTreatment, queue.StatusCompleted} {
		f.clock.Advance(10 * time.Minute)
		e, err := f.conductor.Advance(ctx, code, to)
		require.NoError(t, err)
		assert.Equal(t, to, e.Status)
	}

	done, err := f.conductor.Get(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, done.CalledAt)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CalledAt.Before(*done.StartedAt))

	hist, err := f.conductor.History(ctx, code)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, queue.ActionMigrated, hist[0].Action)
	assert.Equal(t, queue.ActionStatusChanged, hist[3].Action)
}

func TestSwitchTimeSameDayOnly(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{})
	require.NoError(t, err)
	code := entries[0].Code

	_, err = f.conductor.SwitchTime(ctx, code, at(11, 9))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	moved, err := f.conductor.SwitchTime(ctx, code, at(10, 15))
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), moved.ScheduledAt)
	require.NotNil(t, moved.PreviousTime)
	assert.Equal(t, at(10, 9), *moved.PreviousTime)

	moved, err = f.conductor.SwitchTime(ctx, code, at(10, 16))
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), *moved.PreviousTime)
	assert.Equal(t, at(10, 9), *moved.OriginalTime)
	assert.Equal(t, 2, f.notifier.count(notify.TemplateQueueTimeSwitched))

	_, err = f.conductor.Advance(ctx, code, queue.StatusCalled)
	require.NoError(t, err)
	_, err = f.conductor.SwitchTime(ctx, code, at(10, 17))
	assert.ErrorIs(t, err, queue.ErrNotWaiting)
}

func TestLedgerCancelReachesQueue(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	appt := f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)

	cancelled, err := f.ledger.Cancel(ctx, appt.Code, "sick", "R-0001")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	assert.Equal(t, "sick", cancelled.CancelReason)

	entries, err := f.conductor.List(ctx, queue.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, f.notifier.count(notify.TemplateQueueCancelled))
}

func TestDeleteAndRebook(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{})
	require.NoError(t, err)
	code := entries[0].Code

	_, err = f.conductor.DeleteAndRebook(ctx, code, queue.RebookRequest{Date: date(9), Time: "10:00"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.conductor.DeleteAndRebook(ctx, code, queue.RebookRequest{Date: date(12), Time: "25:00"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	booked, err := f.conductor.DeleteAndRebook(ctx, code, queue.RebookRequest{Date: date(12), Time: "10:00", ActorCode: "R-0001"})
	require.NoError(t, err)
	assert.Equal(t, appointment.OriginRebook, booked.Origin)
	assert.Equal(t, appointment.StatusConfirmed, booked.Status)
	assert.Equal(t, at(12, 10), booked.ScheduledAt)
	assert.Equal(t, "P-0001", booked.PatientCode)

	_, err = f.conductor.Get(ctx, code)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
	assert.Equal(t, 1, f.notifier.count(notify.TemplateQueueRebooked))

	hist, err := f.conductor.History(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, queue.ActionDeletedRebooked, hist[len(hist)-1].Action)
}

func TestCancelRequiresWaitingButLeaveRemovalDoesNot(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{})
	require.NoError(t, err)
	code := entries[0].Code

	_, err = f.conductor.Advance(ctx, code, queue.StatusCalled)
	require.NoError(t, err)

	_, err = f.conductor.Cancel(ctx, code, "walked out")
	assert.ErrorIs(t, err, queue.ErrNotWaiting)

	removed, err := f.conductor.RemoveForLeave(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, removed.Code)
	assert.Equal(t, 1, f.notifier.count(notify.TemplateQueueRemovedLeave))
}

func TestMigrateDayFindsEveryDentistOnBusyDays(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	insert := func(dentists, startHour int, prefix string) {
		for d := range dentists {
			for k := range 20 {
				_, err := f.appts.Insert(ctx, appointment.Appointment{
					PatientCode: fmt.Sprintf("P-%s%02d%02d", prefix, d, k),
					DentistCode: fmt.Sprintf("Dr-%s%02d", prefix, d),
					ScheduledAt: at(11, startHour).Add(time.Duration(k) * 10 * time.Minute),
					Status:      appointment.StatusConfirmed,
					Origin:      appointment.OriginReceptionist,
					CreatedAt:   f.clock.Now(),
				})
				require.NoError(t, err)
			}
		}
	}
	insert(26, 9, "M")
	insert(4, 14, "A")

	f.clock.Set(time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
	res, err := f.conductor.MigrateDay(ctx, "", date(11))
	require.NoError(t, err)
	assert.Equal(t, 600, res.Total())
	assert.Len(t, res.Migrated, 30)
	assert.Equal(t, 20, res.Migrated["Dr-A03"])

	left, err := f.appts.List(ctx, appointment.Filter{Statuses: []appointment.Status{appointment.StatusConfirmed}})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestConcurrentSameDayBookingsAllJoinQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newLockedFixture(t, config.Defaults(), redisclient.NewRedisLocker(client, time.Minute))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.ledger.Book(ctx, appointment.BookRequest{
				PatientCode: fmt.Sprintf("P-%04d", i+1),
				DentistCode: "Dr-0007",
				When:        at(10, 7+i),
				Origin:      appointment.OriginReceptionist,
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	entries, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007", DayFrom: date(10), DayTo: date(10)})
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
	}

	stranded, err := f.appts.List(ctx, appointment.Filter{DentistCode: "Dr-0007", Statuses: []appointment.Status{appointment.StatusConfirmed}})
	require.NoError(t, err)
	assert.Empty(t, stranded)
}

// staleQueue answers InstantsForDay as if the other booking had not been
// queued yet.
type staleQueue struct {
	*queue.Conductor
}

func (staleQueue) InstantsForDay(context.Context, string, time.Time) ([]time.Time, error) {
	return nil, nil
}

func TestQueuedInstantIsEnforcedOnEnqueue(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	first := f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	f.ledger.AttachQueue(staleQueue{f.conductor})

	_, err := f.ledger.Book(ctx, appointment.BookRequest{
		PatientCode: "P-0002", DentistCode: "Dr-0007", When: at(10, 9), Origin: appointment.OriginReceptionist,
	})
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)

	entries, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007", DayFrom: date(10), DayTo: date(10)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.Code, entries[0].AppointmentCode)

	released, err := f.appts.List(ctx, appointment.Filter{DentistCode: "Dr-0007"})
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, appointment.StatusCancelled, released[0].Status)
	assert.Equal(t, appointment.ReasonSlotTaken, released[0].CancelReason)
	assert.Equal(t, 1, f.notifier.count(notify.TemplateAppointmentConfirmed))
}

func TestSwitchTimeRejectsQueuedInstant(t *testing.T) {
	f := newFixture(t, config.Defaults())
	ctx := context.Background()

	f.book(t, "P-0001", at(10, 9), appointment.OriginReceptionist)
	f.book(t, "P-0002", at(10, 10), appointment.OriginReceptionist)
	entries, err := f.conductor.List(ctx, queue.Filter{DentistCode: "Dr-0007", DayFrom: date(10), DayTo: date(10)})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = f.conductor.SwitchTime(ctx, entries[1].Code, at(10, 9))
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)
}
