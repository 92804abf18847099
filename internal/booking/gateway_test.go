package booking

import (
	"context"
	"errors"
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
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type stubPatients map[string]directory.Contact

func (s stubPatients) FindPatientByUser(_ context.Context, userID string) (*directory.Contact, error) {
	c, ok := s[userID]
	if !ok {
		return nil, directory.ErrContactNotFound
	}
	return &c, nil
}

type recordingSender struct {
	requests []notify.Request
	err      error
}

func (s *recordingSender) Send(_ context.Context, req notify.Request) (*notify.Entry, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &notify.Entry{Code: "N-1", Status: notify.StatusSent}, nil
}

type recordingBooker struct {
	booked []appointment.BookRequest
}

func (b *recordingBooker) Book(_ context.Context, req appointment.BookRequest) (*appointment.Appointment, error) {
	b.booked = append(b.booked, req)
	return &appointment.Appointment{
		Code:        "A-1",
		PatientCode: req.PatientCode,
		DentistCode: req.DentistCode,
		ScheduledAt: req.When,
		Origin:      req.Origin,
		Status:      appointment.StatusPending,
	}, nil
}

type fixture struct {
	mr      *miniredis.Miniredis
	store   *RedisStore
	clock   *clock.Fake
	sender  *recordingSender
	booker  *recordingBooker
	gateway *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Defaults()
	f := &fixture{
		mr:     mr,
		store:  NewRedisStore(client),
		clock:  clock.NewFake(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)),
		sender: &recordingSender{},
		booker: &recordingBooker{},
	}
	patients := stubPatients{
		"user-1": {Kind: directory.KindPatient, Code: "P-0001", Name: "Ayu", Phone: "+628123456789"},
		"user-2": {Kind: directory.KindPatient, Code: "P-0002", Name: "Budi"},
	}
	f.gateway = NewGateway(f.store, patients, f.sender, f.booker, f.clock, cfg, logging.Discard(),
		WithCodeGenerator(func() (string, error) { return "123456", nil }))
	return f
}

func slot() SlotPayload {
	return SlotPayload{
		DentistCode: "Dr-0007",
		When:        time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
		Reason:      "checkup",
	}
}

func TestRequestOTPDeliversCode(t *testing.T) {
	f := newFixture(t)

	issued, err := f.gateway.RequestOTP(context.Background(), "user-1", slot())
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), issued.ExpiresAt)

	require.Len(t, f.sender.requests, 1)
	req := f.sender.requests[0]
	assert.Equal(t, notify.TemplateOTPCode, req.TemplateKey)
	assert.Equal(t, "P-0001", req.RecipientCode)
	assert.Equal(t, "123456", req.Metadata["code"])
	assert.Equal(t, "5", req.Metadata["expiresInMinutes"])

	rec, err := f.store.Get(context.Background(), issued.OTPID)
	require.NoError(t, err)
	assert.NotEqual(t, "123456", rec.CodeHash)
	assert.Equal(t, 15*time.Minute, f.mr.TTL(recordKey(issued.OTPID)))
}

func TestRequestOTPRequiresContact(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.RequestOTP(context.Background(), "user-2", slot())
	assert.ErrorIs(t, err, ErrNoContact)

	_, err = f.gateway.RequestOTP(context.Background(), "user-9", slot())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.sender.requests)
}

func TestRequestOTPDeliveryFailureDropsRecord(t *testing.T) {
	f := newFixture(t)
	f.sender.err = apperr.New(apperr.ErrDeliveryFailed, "twilio: 401")

	_, err := f.gateway.RequestOTP(context.Background(), "user-1", slot())
	assert.ErrorIs(t, err, apperr.ErrDeliveryFailed)
	assert.Empty(t, f.mr.Keys())
}

func TestRequestOTPReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)
	second, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	_, err = f.store.Get(ctx, first.OTPID)
	assert.ErrorIs(t, err, ErrOTPNotFound)
	_, err = f.store.Get(ctx, second.OTPID)
	assert.NoError(t, err)
}

func TestVerifyOTPBooksSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	appt, err := f.gateway.VerifyOTP(ctx, issued.OTPID, "123456")
	require.NoError(t, err)
	assert.Equal(t, "A-1", appt.Code)

	require.Len(t, f.booker.booked, 1)
	booked := f.booker.booked[0]
	assert.Equal(t, appointment.OriginOTP, booked.Origin)
	assert.Equal(t, "P-0001", booked.PatientCode)
	assert.Equal(t, slot().When, booked.When)

	_, err = f.gateway.VerifyOTP(ctx, issued.OTPID, "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyOTPExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.gateway.VerifyOTP(ctx, issued.OTPID, "123456")
	assert.ErrorIs(t, err, ErrOTPExpired)
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.Empty(t, f.booker.booked)

	_, err = f.store.Get(ctx, issued.OTPID)
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyOTPWrongCodeCountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		_, err := f.gateway.VerifyOTP(ctx, issued.OTPID, "000000")
		require.ErrorIs(t, err, ErrInvalidCode)

		rec, err := f.store.Get(ctx, issued.OTPID)
		require.NoError(t, err)
		assert.Equal(t, i, rec.Attempts)
	}

	_, err = f.gateway.VerifyOTP(ctx, issued.OTPID, "000000")
	assert.True(t, errors.Is(err, ErrTooManyAttempts))

	_, err = f.gateway.VerifyOTP(ctx, issued.OTPID, "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Empty(t, f.booker.booked)
}

func TestVerifyOTPConcurrentGuessesShareTheCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	const guesses = 50
	errs := make([]error, guesses)
	var wg sync.WaitGroup
	for i := range guesses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.gateway.VerifyOTP(ctx, issued.OTPID, "000000")
		}()
	}
	wg.Wait()

	invalid, exhausted, gone := 0, 0, 0
	for _, err := range errs {
		switch {
		case errors.Is(err, ErrInvalidCode):
			invalid++
		case errors.Is(err, ErrTooManyAttempts):
			exhausted++
		case errors.Is(err, ErrOTPNotFound):
			gone++
		default:
			t.Fatalf("unexpected verify error: %v", err)
		}
	}
	assert.LessOrEqual(t, invalid, 4)
	assert.GreaterOrEqual(t, exhausted, 1)
	assert.Equal(t, guesses, invalid+exhausted+gone)

	_, err = f.gateway.VerifyOTP(ctx, issued.OTPID, "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Empty(t, f.booker.booked)
}

func TestAttemptCounterFollowsRecordTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.RequestOTP(ctx, "user-1", slot())
	require.NoError(t, err)

	n, err := f.store.Attempt(ctx, issued.OTPID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 15*time.Minute, f.mr.TTL(attemptsKey(issued.OTPID)))

	_, err = f.store.Attempt(ctx, "missing")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.False(t, f.mr.Exists(attemptsKey("missing")))
}

func TestVerifyOTPValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.VerifyOTP(context.Background(), "", "123456")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
