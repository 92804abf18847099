package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/memstore"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type outbox struct {
	mu   sync.Mutex
	sent map[notify.Channel][]notify.Message
	fail map[notify.Channel]error
}

func newOutbox() *outbox {
	return &outbox{sent: map[notify.Channel][]notify.Message{}, fail: map[notify.Channel]error{}}
}

func (o *outbox) sender(ch notify.Channel) notify.Sender {
	return notify.SenderFunc(func(_ context.Context, msg notify.Message) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.fail[ch]; err != nil {
			return err
		}
		o.sent[ch] = append(o.sent[ch], msg)
		return nil
	})
}

func (o *outbox) messages(ch notify.Channel) []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.sent[ch]...)
}

type fixture struct {
	dispatcher *notify.Dispatcher
	repo       *memstore.NotificationRepo
	clock      *clock.Fake
	outbox     *outbox
}

func newFixture(t *testing.T, channels ...notify.Channel) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC))
	store := memstore.New(clk)

	contacts := store.Directory()
	ctx := context.Background()
	require.NoError(t, contacts.Upsert(ctx, directory.Contact{
		Kind: directory.KindPatient, Code: "P-0001", Name: "Ayu", Email: "ayu@example.com", Phone: "08123456789",
	}))
	require.NoError(t, contacts.Upsert(ctx, directory.Contact{
		Kind: directory.KindPatient, Code: "P-0002", Name: "Budi", Email: "budi@example.com",
	}))

	f := &fixture{repo: store.Notifications(), clock: clk, outbox: newOutbox()}
	senders := map[notify.Channel]notify.Sender{}
	for _, ch := range channels {
		senders[ch] = f.outbox.sender(ch)
	}
	f.dispatcher = notify.NewDispatcher(
		f.repo,
		directory.New(contacts, "62"),
		senders,
		clk,
		logging.Discard(),
		nil,
		notify.Options{Workers: 2, QueueSize: 8},
	)
	t.Cleanup(f.dispatcher.Close)
	return f
}

func meta() map[string]any {
	return map[string]any{
		"appointmentCode": "APT-000001",
		"patientCode":     "P-0001",
		"dentistCode":     "Dr-0007",
		"date":            "Wed 12 Mar 2025",
		"time":            "09:00",
		"reason":          "-",
	}
}

func (f *fixture) waitStatus(t *testing.T, code string, want notify.Status) *notify.Entry {
	t.Helper()
	var got *notify.Entry
	require.Eventually(t, func() bool {
		e, err := f.repo.Get(context.Background(), code)
		if err != nil {
			return false
		}
		got = e
		return e.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestNotifyDeliversInBackground(t *testing.T) {
	f := newFixture(t, notify.ChannelChat, notify.ChannelEmail)

	entry, err := f.dispatcher.Notify(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateAppointmentBooked,
		Metadata:      meta(),
	})
	require.NoError(t, err)
	assert.Equal(t, notify.StatusQueued, entry.Status)
	assert.Equal(t, "APT-000001", entry.AppointmentCode)

	sent := f.waitStatus(t, entry.Code, notify.StatusSent)
	assert.Equal(t, notify.ChannelChat, sent.Channel)

	msgs := f.outbox.messages(notify.ChannelChat)
	require.Len(t, msgs, 1)
	assert.Equal(t, "+628123456789", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "Hi Ayu")
}

func TestNotifyFallsBackToEmailThenConsole(t *testing.T) {
	f := newFixture(t, notify.ChannelChat, notify.ChannelEmail)
	ctx := context.Background()

	entry, err := f.dispatcher.Send(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0002",
		TemplateKey:   notify.TemplateTest,
		Channel:       notify.ChannelChat,
	})
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelEmail, entry.Channel)

	unknown, err := f.dispatcher.Send(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0404",
		TemplateKey:   notify.TemplateTest,
	})
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelConsole, unknown.Channel)
	assert.Equal(t, notify.StatusSent, unknown.Status)
}

func TestNotifyUnconfiguredChannelFallsBack(t *testing.T) {
	f := newFixture(t, notify.ChannelEmail)

	entry, err := f.dispatcher.Send(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateAppointmentConfirmed,
		Channel:       notify.ChannelChat,
		Metadata:      meta(),
	})
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelEmail, entry.Channel)

	msgs := f.outbox.messages(notify.ChannelEmail)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "appointment-APT-000001.html", msgs[0].Attachments[0].Filename)
	assert.Equal(t, "text/html", msgs[0].Attachments[0].ContentType)
}

func TestSenderFailureIsRecordedNotReturned(t *testing.T) {
	f := newFixture(t, notify.ChannelChat)
	f.outbox.fail[notify.ChannelChat] = errors.New("twilio: 503")

	entry, err := f.dispatcher.Notify(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateAppointmentBooked,
		Metadata:      meta(),
	})
	require.NoError(t, err)

	failed := f.waitStatus(t, entry.Code, notify.StatusFailed)
	assert.Equal(t, notify.ChannelChat, failed.Channel)
	assert.Contains(t, failed.Error, "twilio: 503")
}

func TestSendReturnsDeliveryFailed(t *testing.T) {
	f := newFixture(t, notify.ChannelChat)
	f.outbox.fail[notify.ChannelChat] = errors.New("twilio: 401")

	entry, err := f.dispatcher.Send(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateOTPCode,
		Metadata:      map[string]any{"prefix": "Code", "code": "123456", "expiresInMinutes": "5"},
	})
	assert.ErrorIs(t, err, apperr.ErrDeliveryFailed)
	require.NotNil(t, entry)
	assert.Equal(t, notify.StatusFailed, entry.Status)
}

type brokenClaims struct {
	*memstore.NotificationRepo
}

func (brokenClaims) Claim(context.Context, string, time.Time, time.Duration) (*notify.Entry, error) {
	return nil, errors.New("conn reset")
}

func TestSendFailsRowWhenClaimErrors(t *testing.T) {
	f := newFixture(t, notify.ChannelChat)
	d := notify.NewDispatcher(
		brokenClaims{f.repo},
		nil,
		map[notify.Channel]notify.Sender{notify.ChannelChat: f.outbox.sender(notify.ChannelChat)},
		f.clock,
		logging.Discard(),
		nil,
		notify.Options{Workers: 1, QueueSize: 1},
	)
	t.Cleanup(d.Close)

	entry, err := d.Send(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateOTPCode,
		Metadata:      map[string]any{"prefix": "Code", "code": "123456", "expiresInMinutes": "5"},
	})
	assert.ErrorIs(t, err, apperr.ErrDeliveryFailed)
	require.NotNil(t, entry)
	assert.Equal(t, notify.StatusFailed, entry.Status)

	stored, err := f.repo.Get(context.Background(), entry.Code)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "conn reset")

	f.clock.Advance(time.Hour)
	n, err := f.dispatcher.FlushDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.outbox.messages(notify.ChannelChat))
}

func TestRenderFailureMarksFailed(t *testing.T) {
	f := newFixture(t)

	entry, err := f.dispatcher.Send(context.Background(), notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateOTPCode,
	})
	assert.ErrorIs(t, err, apperr.ErrDeliveryFailed)
	assert.Equal(t, notify.StatusFailed, entry.Status)
}

func TestScheduledNotificationWaitsForClock(t *testing.T) {
	f := newFixture(t, notify.ChannelEmail)
	ctx := context.Background()
	at := f.clock.Now().Add(2 * time.Hour)

	entry, err := f.dispatcher.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0002",
		TemplateKey:   notify.TemplateAppointmentReminder,
		ScheduledFor:  &at,
		Metadata:      meta(),
	})
	require.NoError(t, err)

	n, err := f.dispatcher.FlushDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := f.dispatcher.Get(ctx, entry.Code)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusQueued, got.Status)

	f.clock.Advance(2 * time.Hour)
	n, err = f.dispatcher.FlushDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.dispatcher.Get(ctx, entry.Code)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.False(t, got.SentAt.Before(at))
}

func TestCancelScheduledLeavesImmediateRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := f.clock.Now().Add(24 * time.Hour)

	_, err := f.dispatcher.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: "P-0001",
		TemplateKey:   notify.TemplateAppointmentReminder,
		ScheduledFor:  &at,
		Metadata:      meta(),
	})
	require.NoError(t, err)

	n, err := f.dispatcher.CancelScheduled(ctx, "APT-000001")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs, err := f.dispatcher.Logs(ctx, notify.Filter{AppointmentCode: "APT-000001"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, notify.StatusCanceled, logs[0].Status)
}

func TestNotifyOneRowPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.dispatcher.Notify(ctx, notify.Request{
			RecipientType: directory.KindPatient,
			RecipientCode: "P-0001",
			TemplateKey:   notify.TemplateTest,
		})
		require.NoError(t, err)
	}
	logs, err := f.dispatcher.Logs(ctx, notify.Filter{RecipientCode: "P-0001"})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestNotifyValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Notify(ctx, notify.Request{RecipientType: directory.KindPatient, TemplateKey: notify.TemplateTest})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.dispatcher.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient, RecipientCode: "P-0001", TemplateKey: "unknown",
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.dispatcher.Notify(ctx, notify.Request{
		RecipientType: directory.KindPatient, RecipientCode: "P-0001", TemplateKey: notify.TemplateTest, Channel: "pigeon",
	})
	assert.ErrorIs(t, err, notify.ErrUnknownChannel)

	_, err = f.dispatcher.Logs(ctx, notify.Filter{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
