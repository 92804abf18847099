// Package notify persists and delivers patient notifications. Every request
// writes a log row before anything else; delivery runs on a bounded worker
// pool and its outcome is only visible through the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

var tracer = otel.Tracer("dental.internal.notify")

const flushBatch = 100

// ContactResolver finds delivery addresses for a recipient.
type ContactResolver interface {
	Lookup(ctx context.Context, kind directory.Kind, code string) (*directory.Contact, error)
}

type Options struct {
	Workers     int
	QueueSize   int
	ClaimLease  time.Duration
	OrphanAfter time.Duration
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 2 * time.Minute
	}
	if o.OrphanAfter <= 0 {
		o.OrphanAfter = time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	return o
}

type Dispatcher struct {
	repo     Repository
	contacts ContactResolver
	senders  map[Channel]Sender
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
	opts     Options

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup
}

// NewDispatcher starts the delivery workers. Senders missing from the map are
// treated as unconfigured; a console sender is always present.
func NewDispatcher(
	repo Repository,
	contacts ContactResolver,
	senders map[Channel]Sender,
	clk clock.Clock,
	logger *logging.Logger,
	m *metrics.Metrics,
	opts Options,
) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	opts = opts.withDefaults()

	configured := make(map[Channel]Sender, len(senders)+1)
	for ch, s := range senders {
		if s != nil {
			configured[ch] = s
		}
	}
	if configured[ChannelConsole] == nil {
		configured[ChannelConsole] = NewConsoleSender(logger)
	}

	d := &Dispatcher{
		repo:     repo,
		contacts: contacts,
		senders:  configured,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		jobs:     make(chan string, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for code := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
		d.deliverCode(ctx, code)
		cancel()
	}
}

// Close stops accepting work and waits for in-flight deliveries. Rows still
// queued are picked up by a later FlushDue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) validate(req Request) error {
	if req.RecipientCode == "" {
		return apperr.Validationf("recipient code is required")
	}
	switch req.RecipientType {
	case directory.KindPatient, directory.KindDentist, directory.KindStaff:
	default:
		return apperr.Validationf("unknown recipient type %q", req.RecipientType)
	}
	if !KnownTemplate(req.TemplateKey) {
		return apperr.Validationf("unknown template %q", req.TemplateKey)
	}
	if _, ok := ParseChannel(string(req.Channel)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, req.Channel)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, req Request) (*Entry, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}
	entry := Entry{
		RecipientType:    req.RecipientType,
		RecipientCode:    req.RecipientCode,
		TemplateKey:      req.TemplateKey,
		RequestedChannel: req.Channel,
		ScheduledFor:     req.ScheduledFor,
		Status:           StatusQueued,
		Metadata:         req.Metadata,
		AppointmentCode:  appointmentCodeOf(req.Metadata),
		CreatedAt:        d.clock.Now(),
	}
	created, err := d.repo.Insert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("record notification %s for %s: %w", req.TemplateKey, req.RecipientCode, err)
	}
	return created, nil
}

// Notify records the request and hands immediate notifications to the
// worker pool. Only the log insert can fail the caller.
func (d *Dispatcher) Notify(ctx context.Context, req Request) (*Entry, error) {
	entry, err := d.record(ctx, req)
	if err != nil {
		return nil, err
	}
	if entry.ScheduledFor != nil && entry.ScheduledFor.After(d.clock.Now()) {
		d.logger.Debug("notification scheduled",
			"notification_code", entry.Code,
			"template", entry.TemplateKey,
			"scheduled_for", entry.ScheduledFor,
		)
		return entry, nil
	}
	d.submit(entry.Code)
	return entry, nil
}

func (d *Dispatcher) submit(code string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, leaving notification for flush", "notification_code", code)
		return
	}
	select {
	case d.jobs <- code:
	default:
		d.logger.Warn("notify queue full, leaving notification for flush", "notification_code", code)
	}
}

// Send records and delivers a notification synchronously. It returns
// ErrDeliveryFailed when the channel rejected the message or the row could
// not be claimed; either way the row ends failed.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Entry, error) {
	req.ScheduledFor = nil
	entry, err := d.record(ctx, req)
	if err != nil {
		return nil, err
	}
	claimed, err := d.repo.Claim(ctx, entry.Code, d.clock.Now(), d.opts.ClaimLease)
	if err != nil {
		if errors.Is(err, ErrNotClaimable) {
			return entry, fmt.Errorf("claim notification %s: %w", entry.Code, err)
		}
		// Fail the row so a later flush does not deliver what the caller saw fail.
		log := d.logger.With("notification_code", entry.Code, "template", entry.TemplateKey, "recipient_code", entry.RecipientCode)
		out := d.fail(ctx, log, entry, "", fmt.Errorf("claim: %w", err))
		return out, apperr.New(apperr.ErrDeliveryFailed, out.Error)
	}
	out := d.deliver(ctx, claimed)
	if out.Status != StatusSent {
		return out, apperr.New(apperr.ErrDeliveryFailed, out.Error)
	}
	return out, nil
}

// SendTest queues a test message for a recipient.
func (d *Dispatcher) SendTest(ctx context.Context, kind directory.Kind, code string, channel Channel) (*Entry, error) {
	return d.Notify(ctx, Request{
		RecipientType: kind,
		RecipientCode: code,
		TemplateKey:   TemplateTest,
		Channel:       channel,
	})
}

// FlushDue delivers queued rows that are due, and unscheduled rows that the
// pool never picked up. It returns how many rows were delivered or failed.
func (d *Dispatcher) FlushDue(ctx context.Context) (int, error) {
	total := 0
	for {
		now := d.clock.Now()
		batch, err := d.repo.ClaimDue(ctx, now, now.Add(-d.opts.OrphanAfter), d.opts.ClaimLease, flushBatch)
		if err != nil {
			return total, err
		}
		for i := range batch {
			d.deliver(ctx, &batch[i])
		}
		total += len(batch)
		if len(batch) < flushBatch || ctx.Err() != nil {
			return total, nil
		}
	}
}

// CancelScheduled cancels reminders still waiting for an appointment.
func (d *Dispatcher) CancelScheduled(ctx context.Context, appointmentCode string) (int, error) {
	if appointmentCode == "" {
		return 0, nil
	}
	return d.repo.CancelScheduled(ctx, appointmentCode, d.clock.Now())
}

func (d *Dispatcher) Logs(ctx context.Context, f Filter) ([]Entry, error) {
	if f.AppointmentCode == "" && f.RecipientCode == "" {
		return nil, apperr.Validationf("appointmentCode or recipientCode is required")
	}
	return d.repo.List(ctx, f)
}

func (d *Dispatcher) Get(ctx context.Context, code string) (*Entry, error) {
	return d.repo.Get(ctx, code)
}

func (d *Dispatcher) deliverCode(ctx context.Context, code string) {
	entry, err := d.repo.Claim(ctx, code, d.clock.Now(), d.opts.ClaimLease)
	if err != nil {
		if !errors.Is(err, ErrNotClaimable) {
			d.logger.Error("claim notification failed", "notification_code", code, "error", err)
		}
		return
	}
	d.deliver(ctx, entry)
}

// deliver renders and sends a claimed entry and records the outcome. Errors
// are recorded on the row, never returned.
func (d *Dispatcher) deliver(ctx context.Context, e *Entry) *Entry {
	ctx, span := tracer.Start(ctx, "notify.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("notify.code", e.Code),
		attribute.String("notify.template", e.TemplateKey),
	)

	log := d.logger.With("notification_code", e.Code, "template", e.TemplateKey, "recipient_code", e.RecipientCode)

	contact, err := d.lookup(ctx, e)
	if err != nil {
		span.RecordError(err)
		return d.fail(ctx, log, e, "", err)
	}

	data := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		data[k] = v
	}
	if _, ok := data["recipientName"]; !ok {
		name := contact.Name
		if name == "" {
			name = contact.Code
		}
		data["recipientName"] = name
	}

	subject, body, err := RenderMessage(e.TemplateKey, data)
	if err != nil {
		span.RecordError(err)
		return d.fail(ctx, log, e, "", err)
	}

	channel, addr := d.resolveChannel(e.RequestedChannel, contact)
	msg := Message{To: addr, ToName: contact.Name, Subject: subject, Body: body}

	if channel == ChannelEmail && e.TemplateKey == TemplateAppointmentConfirmed {
		slip, err := RenderSlip(data)
		if err != nil {
			log.Warn("confirmation slip failed, sending text only", "error", err)
		} else {
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    fmt.Sprintf("appointment-%v.html", data["appointmentCode"]),
				ContentType: "text/html",
				Content:     slip,
			})
		}
	}

	if err := d.senders[channel].Send(ctx, msg); err != nil {
		span.RecordError(err)
		return d.fail(ctx, log, e, channel, err)
	}

	now := d.clock.Now()
	if err := d.repo.MarkSent(ctx, e.Code, channel, now); err != nil {
		log.Error("mark notification sent failed", "error", err)
	}
	d.metrics.ObserveDelivery(string(channel), string(StatusSent))
	log.Info("notification sent", "channel", channel)

	e.Status = StatusSent
	e.Channel = channel
	e.SentAt = &now
	e.Error = ""
	return e
}

func (d *Dispatcher) lookup(ctx context.Context, e *Entry) (*directory.Contact, error) {
	if d.contacts == nil {
		return &directory.Contact{Kind: e.RecipientType, Code: e.RecipientCode}, nil
	}
	c, err := d.contacts.Lookup(ctx, e.RecipientType, e.RecipientCode)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return &directory.Contact{Kind: e.RecipientType, Code: e.RecipientCode}, nil
		}
		return nil, err
	}
	return c, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *logging.Logger, e *Entry, channel Channel, cause error) *Entry {
	now := d.clock.Now()
	if err := d.repo.MarkFailed(ctx, e.Code, channel, cause.Error(), now); err != nil {
		log.Error("mark notification failed", "error", err)
	}
	label := string(channel)
	if label == "" {
		label = "none"
	}
	d.metrics.ObserveDelivery(label, string(StatusFailed))
	log.Warn("notification delivery failed", "channel", channel, "error", cause)

	e.Status = StatusFailed
	e.Channel = channel
	e.Error = cause.Error()
	return e
}

// resolveChannel picks the requested channel when the recipient has an
// address for it and the channel is configured, else the first usable one in
// fallback order.
func (d *Dispatcher) resolveChannel(requested Channel, c *directory.Contact) (Channel, string) {
	if requested != "" {
		if addr := addressFor(requested, c); addr != "" && d.senders[requested] != nil {
			return requested, addr
		}
	}
	for _, ch := range fallbackOrder {
		if addr := addressFor(ch, c); addr != "" && d.senders[ch] != nil {
			return ch, addr
		}
	}
	return ChannelConsole, c.Code
}

func addressFor(ch Channel, c *directory.Contact) string {
	switch ch {
	case ChannelChat:
		if c.ChatAddress != "" {
			return c.ChatAddress
		}
		return c.Phone
	case ChannelEmail:
		return c.Email
	case ChannelConsole:
		if c.Code != "" {
			return c.Code
		}
		return "console"
	}
	return ""
}
