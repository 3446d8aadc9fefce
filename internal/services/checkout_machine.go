package services

import (
	"errors"
	"time"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/pkg/validator"
)

// Orchestrator errors that are not session state
var (
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrSessionForbidden   = errors.New("checkout session belongs to another user")
	ErrSubmissionInFlight = errors.New("a submission is already in progress for this checkout")
	ErrInvalidTransition  = errors.New("action is not allowed in the current checkout step")
	ErrNotRetryable       = errors.New("this checkout cannot be retried")
)

// EventType names what happened to a checkout session
type EventType string

const (
	// Guest events
	EventDraftUpdated          EventType = "draft_updated"
	EventSelectionSubmitted    EventType = "selection_submitted"
	EventBack                  EventType = "back"
	EventGuestDetailsSubmitted EventType = "guest_details_submitted"
	EventPaymentSubmitted      EventType = "payment_submitted"
	EventPaymentAuthenticated  EventType = "payment_authenticated"
	EventRetry                 EventType = "retry"
	EventAbandon               EventType = "abandon"

	// Effect results
	EventBookingCreated       EventType = "booking_created"
	EventBookingFailed        EventType = "booking_failed"
	EventIntentCreated        EventType = "payment_intent_created"
	EventIntentFailed         EventType = "payment_intent_failed"
	EventCardDeclined         EventType = "card_declined"
	EventCardSucceeded        EventType = "card_succeeded"
	EventCardActionRequired   EventType = "card_action_required"
	EventPaymentConfirmed     EventType = "payment_confirmed"
	EventPaymentConfirmFailed EventType = "payment_confirm_failed"
)

// Event is the input to Transition. Only the fields relevant to Type are set.
type Event struct {
	Type          EventType
	Patch         *models.DraftPatch
	PaymentMethod string
	AuthToken     string
	Booking       *models.Booking
	Intent        *models.PaymentIntent
	Result        *models.ProcessorResult
	Err           error
}

func (e Event) isResult() bool {
	switch e.Type {
	case EventBookingCreated, EventBookingFailed,
		EventIntentCreated, EventIntentFailed,
		EventCardDeclined, EventCardSucceeded, EventCardActionRequired,
		EventPaymentConfirmed, EventPaymentConfirmFailed:
		return true
	}
	return false
}

// EffectType names a remote call the orchestrator must perform
type EffectType string

const (
	EffectCreateBooking       EffectType = "create_booking"
	EffectCreatePaymentIntent EffectType = "create_payment_intent"
	EffectConfirmCard         EffectType = "confirm_card"
	EffectVerifyCard          EffectType = "verify_card"
	EffectConfirmPayment      EffectType = "confirm_payment"
)

// Effect is a remote call requested by a transition. Its outcome comes back as a result Event.
type Effect struct {
	Type          EffectType
	Draft         *models.BookingDraft
	BookingID     string
	Intent        *models.PaymentIntent
	PaymentMethod string
}

// CheckoutMachine holds the pure transition function and what it needs to price and validate drafts
type CheckoutMachine struct {
	pricing    *PricingService
	validator  *validator.StructValidator
	sessionTTL time.Duration
}

// NewCheckoutMachine creates the state machine
func NewCheckoutMachine(pricing *PricingService, v *validator.StructValidator, sessionTTL time.Duration) *CheckoutMachine {
	return &CheckoutMachine{
		pricing:    pricing,
		validator:  v,
		sessionTTL: sessionTTL,
	}
}

// Transition computes the next session and the effects to run. It performs no I/O and never mutates its input.
func (m *CheckoutMachine) Transition(session models.CheckoutSession, ev Event, now time.Time) (models.CheckoutSession, []Effect, error) {
	if session.IsTerminal() {
		return session, nil, ErrInvalidTransition
	}

	if ev.isResult() {
		if !session.InFlight {
			return session, nil, ErrInvalidTransition
		}
	} else if session.InFlight {
		return session, nil, ErrSubmissionInFlight
	}

	next := session.Clone()
	if ev.AuthToken != "" && next.Step != models.StepFailed {
		next.AuthToken = ev.AuthToken
	}

	var effects []Effect
	var err error

	if next.Draft == nil && (next.Step == models.StepSelection || next.Step == models.StepGuestDetails) {
		return session, nil, ErrInvalidTransition
	}

	switch ev.Type {
	case EventAbandon:
		// The caller deletes the session; nothing to compute
	case EventRetry:
		effects, err = m.retry(&next, ev)
	default:
		switch next.Step {
		case models.StepSelection:
			err = m.onSelection(&next, ev, now)
		case models.StepGuestDetails:
			effects, err = m.onGuestDetails(&next, ev)
		case models.StepPayment:
			effects, err = m.onPayment(&next, ev)
		case models.StepFailed:
			err = m.onFailed(&next, ev)
		default:
			err = ErrInvalidTransition
		}
	}
	if err != nil {
		return session, nil, err
	}

	next.InFlight = len(effects) > 0
	next.UpdatedAt = now
	if !next.IsTerminal() && m.sessionTTL > 0 {
		next.ExpiresAt = now.Add(m.sessionTTL)
	}
	return next, effects, nil
}

func (m *CheckoutMachine) onSelection(s *models.CheckoutSession, ev Event, now time.Time) error {
	switch ev.Type {
	case EventDraftUpdated:
		if ev.Patch == nil {
			return nil
		}
		draft := s.Draft.Apply(*ev.Patch)
		s.Draft = &draft
		s.FieldErrors = nil
		s.LastError = nil
		s.Quote = nil
		if !draft.Dates.CheckIn.IsZero() && !draft.Dates.CheckOut.IsZero() {
			quote, err := m.pricing.QuoteDraft(&draft)
			if err != nil {
				s.FieldErrors = map[string]string{"dates.check_out": "must be after the check-in date"}
			} else {
				s.Quote = quote
			}
		}
		return nil

	case EventSelectionSubmitted:
		fields := m.validateDraft(s.Draft, now)
		if len(fields) > 0 {
			s.FieldErrors = fields
			s.LastError = models.NewValidationError(fields)
			return nil
		}
		quote, err := m.pricing.QuoteDraft(s.Draft)
		if err != nil {
			return err
		}
		s.Quote = quote
		s.FieldErrors = nil
		s.LastError = nil
		s.Step = models.StepGuestDetails
		return nil
	}
	return ErrInvalidTransition
}

// validateDraft runs every local check; no network call is made before it passes
func (m *CheckoutMachine) validateDraft(draft *models.BookingDraft, now time.Time) map[string]string {
	fields := m.validator.Validate(draft)
	if fields == nil {
		fields = map[string]string{}
	}

	checkIn, checkOut := draft.Dates.CheckIn, draft.Dates.CheckOut
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case checkIn.IsZero():
		fields["dates.check_in"] = "is required"
	case checkIn.Before(today):
		fields["dates.check_in"] = "cannot be in the past"
	}
	switch {
	case checkOut.IsZero():
		fields["dates.check_out"] = "is required"
	case !checkIn.IsZero() && !checkOut.After(checkIn):
		fields["dates.check_out"] = "must be after the check-in date"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (m *CheckoutMachine) onGuestDetails(s *models.CheckoutSession, ev Event) ([]Effect, error) {
	switch ev.Type {
	case EventBack:
		s.Step = models.StepSelection
		s.LastError = nil
		return nil, nil

	case EventGuestDetailsSubmitted:
		s.LastError = nil
		draft := *s.Draft
		return []Effect{{Type: EffectCreateBooking, Draft: &draft}}, nil

	case EventBookingCreated:
		if ev.Booking == nil {
			return nil, ErrInvalidTransition
		}
		s.Booking = ev.Booking
		s.BookingID = ev.Booking.ID
		s.Step = models.StepPayment
		// The booking is the source of truth from here on
		s.Draft = nil
		// Entering payment always prepares an intent
		return []Effect{{Type: EffectCreatePaymentIntent, BookingID: s.BookingID}}, nil

	case EventBookingFailed:
		fail(s, models.StepGuestDetails, models.ToCheckoutError(ev.Err))
		return nil, nil
	}
	return nil, ErrInvalidTransition
}

func (m *CheckoutMachine) onPayment(s *models.CheckoutSession, ev Event) ([]Effect, error) {
	switch ev.Type {
	case EventIntentCreated:
		if ev.Intent == nil {
			return nil, ErrInvalidTransition
		}
		s.PaymentIntent = ev.Intent
		s.LastError = nil
		return nil, nil

	case EventIntentFailed:
		fail(s, models.StepPayment, models.ToCheckoutError(ev.Err))
		return nil, nil

	case EventPaymentSubmitted:
		if s.PaymentIntent == nil {
			return nil, ErrInvalidTransition
		}
		if ev.PaymentMethod == "" {
			s.FieldErrors = map[string]string{"payment_method": "is required"}
			s.LastError = models.NewValidationError(s.FieldErrors)
			return nil, nil
		}
		s.FieldErrors = nil
		s.LastError = nil
		s.CardAttempts++
		intent := *s.PaymentIntent
		return []Effect{{Type: EffectConfirmCard, Intent: &intent, PaymentMethod: ev.PaymentMethod}}, nil

	case EventPaymentAuthenticated:
		if s.PaymentIntent == nil || s.PaymentIntent.Status != models.IntentRequiresAction {
			return nil, ErrInvalidTransition
		}
		s.LastError = nil
		intent := *s.PaymentIntent
		return []Effect{{Type: EffectVerifyCard, Intent: &intent}}, nil

	case EventCardActionRequired:
		if s.PaymentIntent == nil {
			return nil, ErrInvalidTransition
		}
		// The guest completes the bank challenge with the client secret, then reports back
		s.PaymentIntent.Status = models.IntentRequiresAction
		s.LastError = nil
		return nil, nil

	case EventCardDeclined:
		ce := models.ToCheckoutError(ev.Err)
		if ce.Kind == models.ErrorKindConfiguration {
			fail(s, models.StepPayment, ce)
			return nil, nil
		}
		if s.PaymentIntent != nil {
			s.PaymentIntent.Status = models.IntentRequiresPaymentMethod
		}
		// Stay in payment; the same client secret is reused on the next attempt
		s.LastError = ce
		return nil, nil

	case EventCardSucceeded:
		s.LastError = nil
		if s.PaymentIntent != nil {
			s.PaymentIntent.Status = models.IntentSucceeded
		}
		return []Effect{{Type: EffectConfirmPayment, BookingID: s.BookingID, Intent: s.PaymentIntent}}, nil

	case EventPaymentConfirmed:
		if ev.Booking == nil {
			return nil, ErrInvalidTransition
		}
		s.Booking = ev.Booking
		s.BookingID = ev.Booking.ID
		s.Step = models.StepConfirmed
		s.Draft = nil
		s.LastError = nil
		s.FieldErrors = nil
		s.AuthToken = ""
		return nil, nil

	case EventPaymentConfirmFailed:
		ce := models.ToCheckoutError(ev.Err)
		if ce.Kind == models.ErrorKindMismatch {
			fail(s, models.StepPayment, ce)
			return nil, nil
		}
		// The card has been charged; the guest must not pay again
		fail(s, models.StepPayment, models.WrapCheckoutError(models.ErrorKindReconciliation,
			models.ReconciliationMessage, ev.Err))
		return nil, nil
	}
	return nil, ErrInvalidTransition
}

func (m *CheckoutMachine) retry(s *models.CheckoutSession, ev Event) ([]Effect, error) {
	if s.Step != models.StepFailed {
		return nil, ErrInvalidTransition
	}
	if s.LastError != nil && !s.LastError.Retryable() {
		return nil, ErrNotRetryable
	}

	if ev.AuthToken != "" {
		s.AuthToken = ev.AuthToken
	}
	if s.AuthToken == "" {
		return nil, models.NewCheckoutError(models.ErrorKindAuthRequired, "Please sign in again to continue")
	}

	// Resending a draft the backend rejected cannot succeed; the guest has to edit it first
	if s.FailedStep == models.StepGuestDetails && s.LastError != nil && s.LastError.Kind == models.ErrorKindValidation {
		return nil, backToSelection(s)
	}

	failedStep := s.FailedStep
	s.FailedStep = ""
	s.LastError = nil
	s.FieldErrors = nil

	switch failedStep {
	case models.StepGuestDetails:
		if s.Draft == nil {
			return nil, ErrInvalidTransition
		}
		s.Step = models.StepGuestDetails
		draft := *s.Draft
		return []Effect{{Type: EffectCreateBooking, Draft: &draft}}, nil
	case models.StepPayment:
		s.Step = models.StepPayment
		if s.PaymentIntent == nil {
			return []Effect{{Type: EffectCreatePaymentIntent, BookingID: s.BookingID}}, nil
		}
		return nil, nil
	}
	return nil, ErrInvalidTransition
}

// onFailed only lets a guest leave a failed booking attempt to edit the draft
func (m *CheckoutMachine) onFailed(s *models.CheckoutSession, ev Event) error {
	if ev.Type != EventBack || s.FailedStep != models.StepGuestDetails {
		return ErrInvalidTransition
	}
	return backToSelection(s)
}

// backToSelection reopens the draft after a failed booking attempt.
// Field errors reported by the backend are kept so the guest sees what to fix.
func backToSelection(s *models.CheckoutSession) error {
	if s.Draft == nil {
		return ErrInvalidTransition
	}
	s.Step = models.StepSelection
	s.FailedStep = ""
	s.FieldErrors = nil
	if s.LastError == nil || s.LastError.Kind != models.ErrorKindValidation {
		s.LastError = nil
		return nil
	}
	if len(s.LastError.Fields) > 0 {
		s.FieldErrors = make(map[string]string, len(s.LastError.Fields))
		for k, v := range s.LastError.Fields {
			s.FieldErrors[k] = v
		}
	}
	return nil
}

// fail moves the session to failed(step, kind). An auth failure drops the rejected token.
func fail(s *models.CheckoutSession, step models.CheckoutStep, ce *models.CheckoutError) {
	s.Step = models.StepFailed
	s.FailedStep = step
	s.LastError = ce
	if ce.Kind == models.ErrorKindAuthRequired {
		s.AuthToken = ""
	}
}
