package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutStep is the orchestrator state
type CheckoutStep string

const (
	StepSelection    CheckoutStep = "selection"
	StepGuestDetails CheckoutStep = "guest_details"
	StepPayment      CheckoutStep = "payment"
	StepConfirmed    CheckoutStep = "confirmed"
	StepFailed       CheckoutStep = "failed"
)

// Quote is the derived price breakdown for a stay
type Quote struct {
	Nights      int    `json:"nights"`
	NightlyRate Money  `json:"nightly_rate"`
	BasePrice   Money  `json:"base_price"`
	Tax         Money  `json:"tax"`
	Total       Money  `json:"total"`
	Currency    string `json:"currency"`
}

// ClientInfo records where the checkout was started from
type ClientInfo struct {
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// CheckoutSession is the per-guest orchestration state.
// AuthToken is stored with the session but never rendered. The intent's client secret is rendered
// only as a PaymentAction while the card needs authentication.
type CheckoutSession struct {
	ID            uuid.UUID         `json:"id"`
	UserID        uuid.UUID         `json:"user_id"`
	Step          CheckoutStep      `json:"step"`
	FailedStep    CheckoutStep      `json:"failed_step,omitempty"`
	Draft         *BookingDraft     `json:"draft,omitempty"`
	Quote         *Quote            `json:"quote,omitempty"`
	BookingID     string            `json:"booking_id,omitempty"`
	Booking       *Booking          `json:"booking,omitempty"`
	PaymentIntent *PaymentIntent    `json:"payment_intent,omitempty"`
	LastError     *CheckoutError    `json:"last_error,omitempty"`
	FieldErrors   map[string]string `json:"field_errors,omitempty"`
	InFlight      bool              `json:"in_flight"`
	AuthToken     string            `json:"auth_token,omitempty"`
	Client        ClientInfo        `json:"client"`
	CardAttempts  int               `json:"card_attempts"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// IsExpired checks if the session outlived its TTL
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// IsTerminal reports whether no further events are accepted
func (s *CheckoutSession) IsTerminal() bool {
	return s.Step == StepConfirmed
}

// Clone returns a deep copy so transitions never mutate their input
func (s CheckoutSession) Clone() CheckoutSession {
	if s.Draft != nil {
		d := *s.Draft
		s.Draft = &d
	}
	if s.Quote != nil {
		q := *s.Quote
		s.Quote = &q
	}
	if s.Booking != nil {
		b := *s.Booking
		if b.GuestContact != nil {
			gc := *b.GuestContact
			b.GuestContact = &gc
		}
		s.Booking = &b
	}
	if s.PaymentIntent != nil {
		pi := *s.PaymentIntent
		s.PaymentIntent = &pi
	}
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	if s.FieldErrors != nil {
		fe := make(map[string]string, len(s.FieldErrors))
		for k, v := range s.FieldErrors {
			fe[k] = v
		}
		s.FieldErrors = fe
	}
	return s
}

// CheckoutSessionView is what the API returns for a session
type CheckoutSessionView struct {
	ID                 uuid.UUID         `json:"id"`
	Step               CheckoutStep      `json:"step"`
	FailedStep         CheckoutStep      `json:"failed_step,omitempty"`
	Draft              *BookingDraft     `json:"draft,omitempty"`
	Quote              *Quote            `json:"quote,omitempty"`
	BookingID          string            `json:"booking_id,omitempty"`
	Booking            *Booking          `json:"booking,omitempty"`
	PaymentIntentID    string            `json:"payment_intent_id,omitempty"`
	PaymentIntentReady bool              `json:"payment_intent_ready"`
	PaymentAction      *PaymentAction    `json:"payment_action,omitempty"`
	LastError          *CheckoutError    `json:"last_error,omitempty"`
	FieldErrors        map[string]string `json:"field_errors,omitempty"`
	InFlight           bool              `json:"in_flight"`
	CanRetry           bool              `json:"can_retry"`
	ExpiresAt          time.Time         `json:"expires_at"`
}

// PaymentActionAuthenticate asks the client to run the bank's authentication challenge
const PaymentActionAuthenticate = "authenticate"

// PaymentAction is what the client needs to finish a card payment the bank is holding
type PaymentAction struct {
	Type         string `json:"type"`
	ClientSecret string `json:"client_secret"`
}

// View renders the session without its secrets
func (s *CheckoutSession) View() CheckoutSessionView {
	v := CheckoutSessionView{
		ID:          s.ID,
		Step:        s.Step,
		FailedStep:  s.FailedStep,
		Draft:       s.Draft,
		Quote:       s.Quote,
		BookingID:   s.BookingID,
		Booking:     s.Booking,
		LastError:   s.LastError,
		FieldErrors: s.FieldErrors,
		InFlight:    s.InFlight,
		ExpiresAt:   s.ExpiresAt,
	}
	if s.PaymentIntent != nil {
		v.PaymentIntentID = s.PaymentIntent.ID
		v.PaymentIntentReady = s.PaymentIntent.ClientSecret != ""
		if s.Step == StepPayment && s.PaymentIntent.Status == IntentRequiresAction {
			v.PaymentAction = &PaymentAction{Type: PaymentActionAuthenticate, ClientSecret: s.PaymentIntent.ClientSecret}
		}
	}
	if s.Step == StepFailed && s.LastError != nil {
		v.CanRetry = s.LastError.Retryable()
	}
	return v
}

// NavigationHandoff carries the settled booking from checkout to the confirmation page
type NavigationHandoff struct {
	BookingID   string    `json:"booking_id"`
	UserID      uuid.UUID `json:"user_id"`
	BookingData *Booking  `json:"booking_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
