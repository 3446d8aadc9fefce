package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

// CheckoutAuditLogger persists checkout audit entries
type CheckoutAuditLogger interface {
	Log(ctx context.Context, audit *models.CheckoutAudit) error
}

// CheckoutOrchestratorConfig holds configuration for the orchestrator
type CheckoutOrchestratorConfig struct {
	SessionTTL      time.Duration // Sliding session lifetime (default 1h)
	HandoffTTL      time.Duration // How long the confirmation snapshot is kept (default 30m)
	ConfirmAttempts int           // Total confirm-payment attempts after a capture (default 3)
	ConfirmBackoff  time.Duration // First retry delay, doubled each attempt (default 500ms)
	DefaultCurrency string        // Currency used when the hotel does not set one (default ZAR)
}

// DefaultCheckoutOrchestratorConfig returns default configuration
func DefaultCheckoutOrchestratorConfig() CheckoutOrchestratorConfig {
	return CheckoutOrchestratorConfig{
		SessionTTL:      time.Hour,
		HandoffTTL:      30 * time.Minute,
		ConfirmAttempts: 3,
		ConfirmBackoff:  500 * time.Millisecond,
		DefaultCurrency: "ZAR",
	}
}

// CheckoutOrchestratorService drives a guest from selection to a paid, confirmed booking
type CheckoutOrchestratorService struct {
	machine   *CheckoutMachine
	bookings  BookingClient
	payments  PaymentClient
	store     database.SessionStore
	audit     CheckoutAuditLogger
	validator *validator.StructValidator
	config    CheckoutOrchestratorConfig
	logger    *logrus.Logger
	locks     *sessionLocks
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// NewCheckoutOrchestratorService creates a new orchestrator service. audit may be nil.
func NewCheckoutOrchestratorService(
	pricing *PricingService,
	bookings BookingClient,
	payments PaymentClient,
	store database.SessionStore,
	audit CheckoutAuditLogger,
	structValidator *validator.StructValidator,
	config CheckoutOrchestratorConfig,
	logger *logrus.Logger,
) *CheckoutOrchestratorService {
	if config.ConfirmAttempts < 1 {
		config.ConfirmAttempts = 1
	}
	return &CheckoutOrchestratorService{
		machine:   NewCheckoutMachine(pricing, structValidator, config.SessionTTL),
		bookings:  bookings,
		payments:  payments,
		store:     store,
		audit:     audit,
		validator: structValidator,
		config:    config,
		logger:    logger,
		locks:     newSessionLocks(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// ============================================================================
// SESSION LIFECYCLE
// ============================================================================

// Begin starts a checkout for the selected hotel
func (s *CheckoutOrchestratorService) Begin(
	ctx context.Context,
	userID uuid.UUID,
	authToken string,
	hotel models.HotelRef,
	client models.ClientInfo,
) (*models.CheckoutSession, error) {
	hotel.HotelID = strings.TrimSpace(hotel.HotelID)
	if fields := s.validator.Validate(hotel); fields != nil {
		return nil, models.NewValidationError(fields)
	}
	if hotel.Currency == "" {
		hotel.Currency = s.config.DefaultCurrency
	}
	hotel.Currency = strings.ToUpper(hotel.Currency)

	now := s.now()
	session := &models.CheckoutSession{
		ID:        uuid.New(),
		UserID:    userID,
		Step:      models.StepSelection,
		Draft:     models.NewBookingDraft(hotel),
		AuthToken: authToken,
		Client:    client,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"user_id":    userID,
		"hotel_id":   hotel.HotelID,
	}).Info("Checkout session started")

	s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventSessionStarted, models.CheckoutSourceGuest).
		ForSession(session).
		SetDetails(map[string]interface{}{"hotel_id": hotel.HotelID, "nightly_rate": hotel.NightlyRate.Float()}))

	return session, nil
}

// Get returns the caller's session
func (s *CheckoutOrchestratorService) Get(ctx context.Context, sessionID, userID uuid.UUID) (*models.CheckoutSession, error) {
	return s.load(ctx, sessionID, userID)
}

// Abandon drops the session. The booking backend is not contacted.
func (s *CheckoutOrchestratorService) Abandon(ctx context.Context, sessionID, userID uuid.UUID) error {
	_, err := s.Dispatch(ctx, sessionID, userID, Event{Type: EventAbandon})
	return err
}

// Dispatch applies a guest event and runs every effect it triggers until the session settles.
// The returned session is the last persisted state; for a confirmed checkout it is no longer in the store.
func (s *CheckoutOrchestratorService) Dispatch(ctx context.Context, sessionID, userID uuid.UUID, ev Event) (*models.CheckoutSession, error) {
	session, effects, err := s.apply(ctx, sessionID, userID, ev)
	if err != nil {
		return nil, err
	}

	// Remote calls must finish even if the guest's connection drops
	ctx = context.WithoutCancel(ctx)

	for len(effects) > 0 {
		result := s.runEffect(ctx, session, effects[0])
		session, effects, err = s.apply(ctx, sessionID, userID, result)
		if err != nil {
			s.release(ctx, sessionID, userID, result, err)
			return nil, err
		}
	}
	return session, nil
}

// release clears the in-flight flag when an effect's result could not be stored.
// The session is failed at its current step so the guest can retry or abandon instead of waiting out the TTL.
func (s *CheckoutOrchestratorService) release(ctx context.Context, sessionID, userID uuid.UUID, result Event, cause error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	logger := s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"event":      result.Type,
	})

	session, err := s.load(ctx, sessionID, userID)
	if err != nil || !session.InFlight {
		return
	}

	ce := models.WrapCheckoutError(models.ErrorKindServiceUnavailable,
		"We could not save your checkout. Please try again.", cause)
	switch result.Type {
	case EventCardSucceeded, EventPaymentConfirmed, EventPaymentConfirmFailed:
		// The card was charged; paying again must not be offered
		ce = models.WrapCheckoutError(models.ErrorKindReconciliation, models.ReconciliationMessage, cause)
	}

	session.InFlight = false
	failedStep := session.Step
	if failedStep == models.StepFailed {
		failedStep = session.FailedStep
	}
	fail(session, failedStep, ce)
	session.UpdatedAt = s.now()

	if err := s.store.SaveSession(ctx, session); err != nil {
		logger.WithError(err).Error("Failed to release in-flight checkout session")
		return
	}
	logger.WithError(cause).WithField("error_kind", ce.Kind).Warn("Checkout result could not be saved, session released")
}

// apply loads, transitions and persists a session under its lock
func (s *CheckoutOrchestratorService) apply(ctx context.Context, sessionID, userID uuid.UUID, ev Event) (*models.CheckoutSession, []Effect, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	current, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}

	next, effects, err := s.machine.Transition(*current, ev, s.now())
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"step":       current.Step,
			"event":      ev.Type,
		}).WithError(err).Debug("Checkout event rejected")
		return nil, nil, err
	}

	switch {
	case ev.Type == EventAbandon:
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete checkout session: %w", err)
		}
		s.logger.WithField("session_id", sessionID).Info("Checkout abandoned")
		s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventAbandoned, models.CheckoutSourceGuest).ForSession(current))
		return &next, nil, nil

	case next.Step == models.StepConfirmed:
		s.complete(ctx, &next)
		return &next, nil, nil
	}

	if err := s.store.SaveSession(ctx, &next); err != nil {
		return nil, nil, fmt.Errorf("failed to save checkout session: %w", err)
	}

	s.logTransition(current, &next, ev)
	return &next, effects, nil
}

// complete hands the settled booking to the confirmation page and drops the session
func (s *CheckoutOrchestratorService) complete(ctx context.Context, session *models.CheckoutSession) {
	handoff := &models.NavigationHandoff{
		BookingID:   session.BookingID,
		UserID:      session.UserID,
		BookingData: session.Booking,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveHandoff(ctx, handoff, s.config.HandoffTTL); err != nil {
		s.logger.WithError(err).WithField("booking_id", session.BookingID).Warn("Failed to save confirmation hand-off")
	}
	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to delete confirmed checkout session")
	}

	logger := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"booking_id": session.BookingID,
	})
	audit := models.NewCheckoutAudit(models.CheckoutEventBookingConfirmed, models.CheckoutSourceBackend).ForSession(session)
	if session.Booking != nil {
		audit.SetAmount(session.Booking.TotalAmount, session.Booking.Currency)
		logger = logger.WithField("total", session.Booking.TotalAmount.String())
	}
	logger.Info("Checkout confirmed")
	s.record(ctx, audit)
}

func (s *CheckoutOrchestratorService) load(ctx context.Context, sessionID, userID uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return session, nil
}

// ============================================================================
// EFFECTS
// ============================================================================

// runEffect performs one remote call and turns its outcome into a result event
func (s *CheckoutOrchestratorService) runEffect(ctx context.Context, session *models.CheckoutSession, effect Effect) Event {
	ctx = WithAuthToken(ctx, session.AuthToken)
	start := time.Now()

	switch effect.Type {
	case EffectCreateBooking:
		booking, err := s.bookings.CreateBooking(ctx, effect.Draft)
		if err != nil {
			s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventBookingFailed, models.CheckoutSourceBackend).
				ForSession(session).SetError(err).SetProcessingTime(start))
			return Event{Type: EventBookingFailed, Err: err}
		}
		s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventBookingCreated, models.CheckoutSourceBackend).
			ForSession(session).SetBooking(booking.ID).
			SetAmount(booking.TotalAmount, booking.Currency).SetProcessingTime(start))
		return Event{Type: EventBookingCreated, Booking: booking}

	case EffectCreatePaymentIntent:
		intent, err := s.payments.CreatePaymentIntent(ctx, effect.BookingID)
		if err != nil {
			s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventIntentFailed, models.CheckoutSourceBackend).
				ForSession(session).SetBooking(effect.BookingID).SetError(err).SetProcessingTime(start))
			return Event{Type: EventIntentFailed, Err: err}
		}
		s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventIntentCreated, models.CheckoutSourceBackend).
			ForSession(session).SetBooking(effect.BookingID).SetIntent(intent).SetProcessingTime(start))
		return Event{Type: EventIntentCreated, Intent: intent}

	case EffectConfirmCard:
		result, err := s.payments.ConfirmCardPayment(ctx, effect.Intent, effect.PaymentMethod)
		return s.cardOutcome(ctx, session, effect, result, err, start)

	case EffectVerifyCard:
		result, err := s.payments.VerifyCardPayment(ctx, effect.Intent)
		return s.cardOutcome(ctx, session, effect, result, err, start)

	case EffectConfirmPayment:
		return s.confirmPayment(ctx, session, effect)
	}

	return Event{Type: EventPaymentConfirmFailed, Err: fmt.Errorf("unknown effect %q", effect.Type)}
}

// cardOutcome audits a processor answer and turns it into a result event
func (s *CheckoutOrchestratorService) cardOutcome(
	ctx context.Context,
	session *models.CheckoutSession,
	effect Effect,
	result *models.ProcessorResult,
	err error,
	start time.Time,
) Event {
	audit := func(eventType models.CheckoutEventType) *models.CheckoutAudit {
		return models.NewCheckoutAudit(eventType, models.CheckoutSourceStripe).
			ForSession(session).SetIntent(effect.Intent).SetAttempt(session.CardAttempts).SetProcessingTime(start)
	}

	switch {
	case err != nil:
		s.record(ctx, audit(models.CheckoutEventCardDeclined).SetError(err))
		return Event{Type: EventCardDeclined, Err: err}
	case result.Status == models.IntentRequiresAction:
		s.record(ctx, audit(models.CheckoutEventCardActionRequired))
		return Event{Type: EventCardActionRequired, Result: result}
	}

	s.record(ctx, audit(models.CheckoutEventCardSucceeded).SetAmount(result.Amount, result.Currency))
	return Event{Type: EventCardSucceeded, Result: result}
}

// confirmPayment settles the booking after the card was charged.
// Only service_unavailable is retried, with exponential backoff, and the intent is never recreated.
func (s *CheckoutOrchestratorService) confirmPayment(ctx context.Context, session *models.CheckoutSession, effect Effect) Event {
	intentID := ""
	if effect.Intent != nil {
		intentID = effect.Intent.ID
	}
	logger := s.logger.WithFields(logrus.Fields{
		"session_id":        session.ID,
		"booking_id":        effect.BookingID,
		"payment_intent_id": intentID,
	})

	var lastErr error
	backoff := s.config.ConfirmBackoff
	for attempt := 1; attempt <= s.config.ConfirmAttempts; attempt++ {
		start := time.Now()
		booking, err := s.payments.ConfirmPayment(ctx, intentID, effect.BookingID)

		switch {
		case err == nil:
			return Event{Type: EventPaymentConfirmed, Booking: booking}

		case models.IsKind(err, models.ErrorKindAlreadyConfirmed):
			logger.Info("Booking was already confirmed")
			if booking == nil {
				booking = settledSnapshot(session.Booking, effect.BookingID)
			}
			return Event{Type: EventPaymentConfirmed, Booking: booking}
		}

		lastErr = err
		if !models.IsKind(err, models.ErrorKindServiceUnavailable) || attempt == s.config.ConfirmAttempts {
			break
		}

		s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventConfirmRetry, models.CheckoutSourceBackend).
			ForSession(session).SetIntent(effect.Intent).SetAttempt(attempt).SetError(err).SetProcessingTime(start))
		logger.WithError(err).WithField("attempt", attempt).Warn("Payment confirmation failed, retrying")
		s.sleep(ctx, backoff)
		backoff *= 2
	}

	eventType := models.CheckoutEventReconciliationFailed
	if models.IsKind(lastErr, models.ErrorKindMismatch) {
		eventType = models.CheckoutEventIntentMismatch
	}
	logger.WithError(lastErr).Error("Payment captured but booking could not be confirmed")
	s.record(ctx, models.NewCheckoutAudit(eventType, models.CheckoutSourceBackend).
		ForSession(session).SetIntent(effect.Intent).SetError(lastErr))

	return Event{Type: EventPaymentConfirmFailed, Err: lastErr}
}

// settledSnapshot marks the local booking copy as paid when the backend only said "already confirmed"
func settledSnapshot(booking *models.Booking, bookingID string) *models.Booking {
	settled := models.Booking{ID: bookingID}
	if booking != nil {
		settled = *booking
	}
	settled.BookingStatus = models.BookingStatusConfirmed
	settled.PaymentStatus = models.PaymentStatusPaid
	return &settled
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *CheckoutOrchestratorService) logTransition(from, to *models.CheckoutSession, ev Event) {
	entry := s.logger.WithFields(logrus.Fields{
		"session_id": to.ID,
		"event":      ev.Type,
		"from_step":  from.Step,
		"to_step":    to.Step,
		"in_flight":  to.InFlight,
	})
	if to.LastError != nil {
		entry = entry.WithFields(logrus.Fields{
			"error_kind": to.LastError.Kind,
			"error_code": to.LastError.Code,
		})
	}
	if to.Step == models.StepFailed {
		entry.Warn("Checkout step failed")
		return
	}
	entry.Info("Checkout transition")
}

// record writes an audit entry. Audit failures never affect the checkout.
func (s *CheckoutOrchestratorService) record(ctx context.Context, audit *models.CheckoutAudit) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Warn("Failed to write checkout audit")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sessionLocks serializes load/transition/save per session id
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sessionLock)}
}

func (l *sessionLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
