package models

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// CheckoutEventType represents the type of checkout event being audited
type CheckoutEventType string

const (
	CheckoutEventSessionStarted       CheckoutEventType = "session_started"
	CheckoutEventBookingCreated       CheckoutEventType = "booking_created"
	CheckoutEventBookingFailed        CheckoutEventType = "booking_failed"
	CheckoutEventIntentCreated        CheckoutEventType = "payment_intent_created"
	CheckoutEventIntentFailed         CheckoutEventType = "payment_intent_failed"
	CheckoutEventCardDeclined         CheckoutEventType = "card_declined"
	CheckoutEventCardSucceeded        CheckoutEventType = "card_succeeded"
	CheckoutEventCardActionRequired   CheckoutEventType = "card_action_required"
	CheckoutEventBookingConfirmed     CheckoutEventType = "booking_confirmed"
	CheckoutEventConfirmRetry         CheckoutEventType = "confirm_retry"
	CheckoutEventReconciliationFailed CheckoutEventType = "reconciliation_failed"
	CheckoutEventIntentMismatch       CheckoutEventType = "payment_intent_mismatch"
	CheckoutEventAbandoned            CheckoutEventType = "session_abandoned"
	CheckoutEventWebhookReceived      CheckoutEventType = "webhook_received"
	CheckoutEventWebhookConfirmed     CheckoutEventType = "webhook_confirmed"
)

// CheckoutEventSource identifies where the event originated
type CheckoutEventSource string

const (
	CheckoutSourceGuest   CheckoutEventSource = "guest"
	CheckoutSourceBackend CheckoutEventSource = "booking_backend"
	CheckoutSourceStripe  CheckoutEventSource = "stripe"
	CheckoutSourceWebhook CheckoutEventSource = "stripe_webhook"
	CheckoutSourceSystem  CheckoutEventSource = "system"
)

// JSONB is a map stored in a PostgreSQL JSONB column
type JSONB map[string]interface{}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(data, j)
}

// CheckoutAudit is an immutable audit log entry for one checkout event
type CheckoutAudit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SessionID       *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	UserID          *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	BookingID       *string    `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`

	// Event info
	EventType   CheckoutEventType   `json:"event_type" db:"event_type"`
	EventSource CheckoutEventSource `json:"event_source" db:"event_source"`
	Step        *string             `json:"step,omitempty" db:"step"`

	// Amounts
	Amount   *float64 `json:"amount,omitempty" db:"amount"`
	Currency *string  `json:"currency,omitempty" db:"currency"`

	// The client secret itself is never stored, only its fingerprint
	SecretFingerprint *string `json:"secret_fingerprint,omitempty" db:"secret_fingerprint"`

	// Error tracking
	ErrorKind    *string `json:"error_kind,omitempty" db:"error_kind"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	Details JSONB `json:"details,omitempty" db:"details"`

	// Processing info
	Attempt          *int    `json:"attempt,omitempty" db:"attempt"`
	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IdempotencyKey   *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	// Metadata
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewCheckoutAudit creates a new audit entry with required fields
func NewCheckoutAudit(eventType CheckoutEventType, source CheckoutEventSource) *CheckoutAudit {
	return &CheckoutAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// ForSession copies the identifying fields of a session
func (a *CheckoutAudit) ForSession(s *CheckoutSession) *CheckoutAudit {
	if s == nil {
		return a
	}
	sessionID, userID := s.ID, s.UserID
	a.SessionID = &sessionID
	a.UserID = &userID
	step := string(s.Step)
	a.Step = &step
	if s.BookingID != "" {
		a.SetBooking(s.BookingID)
	}
	if s.PaymentIntent != nil {
		a.SetIntent(s.PaymentIntent)
	}
	a.SetClient(s.Client)
	return a
}

// SetBooking sets the booking id
func (a *CheckoutAudit) SetBooking(bookingID string) *CheckoutAudit {
	if bookingID != "" {
		a.BookingID = &bookingID
	}
	return a
}

// SetIntent sets the payment intent id and the fingerprint of its client secret
func (a *CheckoutAudit) SetIntent(intent *PaymentIntent) *CheckoutAudit {
	if intent == nil {
		return a
	}
	if intent.ID != "" {
		id := intent.ID
		a.PaymentIntentID = &id
	}
	if intent.ClientSecret != "" {
		fp := FingerprintSecret(intent.ClientSecret)
		a.SecretFingerprint = &fp
	}
	return a
}

// SetIntentID sets only the payment intent id
func (a *CheckoutAudit) SetIntentID(intentID string) *CheckoutAudit {
	if intentID != "" {
		a.PaymentIntentID = &intentID
	}
	return a
}

// SetAmount records the amount involved
func (a *CheckoutAudit) SetAmount(amount Money, currency string) *CheckoutAudit {
	f := amount.Float()
	a.Amount = &f
	if currency != "" {
		a.Currency = &currency
	}
	return a
}

// SetError records a failure
func (a *CheckoutAudit) SetError(err error) *CheckoutAudit {
	if err == nil {
		return a
	}
	ce := ToCheckoutError(err)
	kind := string(ce.Kind)
	a.ErrorKind = &kind
	if ce.Code != "" {
		code := ce.Code
		a.ErrorCode = &code
	}
	msg := err.Error()
	a.ErrorMessage = &msg
	return a
}

// SetDetails stores free-form event details
func (a *CheckoutAudit) SetDetails(details map[string]interface{}) *CheckoutAudit {
	a.Details = JSONB(details)
	return a
}

// SetAttempt records which attempt of a retried call this was
func (a *CheckoutAudit) SetAttempt(attempt int) *CheckoutAudit {
	a.Attempt = &attempt
	return a
}

// SetClient copies request metadata
func (a *CheckoutAudit) SetClient(c ClientInfo) *CheckoutAudit {
	if c.IPAddress != "" {
		ip := c.IPAddress
		a.IPAddress = &ip
	}
	if c.UserAgent != "" {
		ua := c.UserAgent
		a.UserAgent = &ua
	}
	if c.DeviceType != "" {
		dt := c.DeviceType
		a.DeviceType = &dt
	}
	return a
}

// SetProcessingTime calculates and sets processing time
func (a *CheckoutAudit) SetProcessingTime(startTime time.Time) *CheckoutAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	a.ProcessingTimeMs = &durationMs
	return a
}

// SetIdempotencyKey sets the idempotency key
func (a *CheckoutAudit) SetIdempotencyKey(key string) *CheckoutAudit {
	a.IdempotencyKey = &key
	return a
}

// FingerprintSecret returns a short BLAKE2b-256 hex digest used to correlate secrets without storing them
func FingerprintSecret(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
