// Package booking lets a patient book a slot by confirming a one-time code
// delivered to their own contact address.
package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/dental-queue-scheduling/internal/apperr"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

type PatientFinder interface {
	FindPatientByUser(ctx context.Context, userID string) (*directory.Contact, error)
}

// CodeSender delivers the code synchronously.
type CodeSender interface {
	Send(ctx context.Context, req notify.Request) (*notify.Entry, error)
}

type Booker interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
}

type Option func(*Gateway)

// WithCodeGenerator replaces the random six digit generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(g *Gateway) { g.generate = gen }
}

type Gateway struct {
	store    Store
	patients PatientFinder
	sender   CodeSender
	ledger   Booker
	clock    clock.Clock
	cfg      config.Config
	logger   *logging.Logger
	generate func() (string, error)
}

func NewGateway(
	store Store,
	patients PatientFinder,
	sender CodeSender,
	ledger Booker,
	clk clock.Clock,
	cfg config.Config,
	logger *logging.Logger,
	opts ...Option,
) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	g := &Gateway{
		store:    store,
		patients: patients,
		sender:   sender,
		ledger:   ledger,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		generate: randomCode,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestOTP issues a code for the slot and delivers it to the patient
// linked to userID. A newer request replaces an outstanding one.
func (g *Gateway) RequestOTP(ctx context.Context, userID string, slot SlotPayload) (*Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("userId is required")
	}
	if slot.DentistCode == "" || slot.When.IsZero() {
		return nil, apperr.Validationf("dentistCode and time are required")
	}

	patient, err := g.patients.FindPatientByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !patient.HasAddress() {
		return nil, ErrNoContact
	}

	code, err := g.generate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	now := g.clock.Now()
	rec := Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Purpose:     PurposeBooking,
		PatientCode: patient.Code,
		CodeHash:    string(hash),
		Contact: ContactSnapshot{
			Name:        patient.Name,
			Email:       patient.Email,
			Phone:       patient.Phone,
			ChatAddress: patient.ChatAddress,
		},
		Payload:     slot,
		MaxAttempts: g.cfg.OTPMaxAttempts,
		ExpiresAt:   now.Add(g.cfg.OTPExpiry),
		CreatedAt:   now,
	}
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = 1
	}
	if err := g.store.Save(ctx, rec, g.cfg.OTPExpiry+g.cfg.OTPRetentionGrace); err != nil {
		return nil, err
	}

	log := g.logger.With("otp_id", rec.ID, "patient_code", patient.Code)
	_, err = g.sender.Send(ctx, notify.Request{
		RecipientType: directory.KindPatient,
		RecipientCode: patient.Code,
		TemplateKey:   notify.TemplateOTPCode,
		Metadata: map[string]any{
			"prefix":           g.cfg.OTPMessagePrefix,
			"code":             code,
			"expiresInMinutes": strconv.Itoa(int(g.cfg.OTPExpiry / time.Minute)),
		},
	})
	if err != nil {
		if delErr := g.store.Delete(ctx, rec); delErr != nil {
			log.Error("drop undelivered otp failed", "error", delErr)
		}
		log.Warn("otp delivery failed", "error", err)
		if apperr.KindOf(err) == apperr.ErrDeliveryFailed {
			return nil, err
		}
		return nil, apperr.New(apperr.ErrDeliveryFailed, err.Error())
	}

	log.Info("otp issued", "expires_at", rec.ExpiresAt)
	return &Issued{OTPID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// VerifyOTP checks the code and books the stored slot on success. The record
// is consumed on success, on expiry and once attempts run out.
func (g *Gateway) VerifyOTP(ctx context.Context, otpID, code string) (*appointment.Appointment, error) {
	if otpID == "" || code == "" {
		return nil, apperr.Validationf("otpId and code are required")
	}
	rec, err := g.store.Get(ctx, otpID)
	if err != nil {
		return nil, err
	}
	log := g.logger.With("otp_id", rec.ID, "patient_code", rec.PatientCode)

	if !g.clock.Now().Before(rec.ExpiresAt) {
		g.drop(ctx, log, *rec)
		return nil, ErrOTPExpired
	}

	// The attempt is counted before the hash comparison so concurrent
	// guesses cannot share one attempt.
	attempts, err := g.store.Attempt(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if attempts > rec.MaxAttempts {
		g.drop(ctx, log, *rec)
		return nil, ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, fmt.Errorf("compare otp: %w", err)
		}
		if attempts >= rec.MaxAttempts {
			g.drop(ctx, log, *rec)
			log.Warn("otp attempts exhausted", "attempts", attempts)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	g.drop(ctx, log, *rec)
	appt, err := g.ledger.Book(ctx, appointment.BookRequest{
		PatientCode: rec.PatientCode,
		DentistCode: rec.Payload.DentistCode,
		When:        rec.Payload.When,
		Reason:      rec.Payload.Reason,
		Origin:      appointment.OriginOTP,
		ActorCode:   rec.PatientCode,
	})
	if err != nil {
		log.Warn("otp booking rejected", "error", err)
		return nil, err
	}
	log.Info("otp verified", "appointment_code", appt.Code)
	return appt, nil
}

func (g *Gateway) drop(ctx context.Context, log *logging.Logger, rec Record) {
	if err := g.store.Delete(ctx, rec); err != nil {
		log.Error("delete otp record failed", "error", err)
	}
}
