package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned for webhook payloads that fail Stripe signature verification
var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// ReconciliationAudit is the slice of the audit trail the listener reads and writes
type ReconciliationAudit interface {
	CheckoutAuditLogger
	HasIdempotencyKey(ctx context.Context, eventType models.CheckoutEventType, key string) (bool, error)
	ListReconciliationFailures(ctx context.Context, since time.Time) ([]*models.CheckoutAudit, error)
}

// Webhook outcomes
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeFailed           = "failed"
)

// ReconciliationResult reports what the listener did with one event
type ReconciliationResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	BookingID string `json:"booking_id,omitempty"`
}

// ReconciliationService confirms bookings from Stripe's payment_intent.succeeded events,
// covering guests whose browser never reached the confirm step
type ReconciliationService struct {
	payments      PaymentClient
	audit         ReconciliationAudit
	webhookSecret string
	serviceToken  string
	logger        *logrus.Logger
}

// NewReconciliationService creates the webhook listener
func NewReconciliationService(payments PaymentClient, audit ReconciliationAudit, webhookSecret, serviceToken string, logger *logrus.Logger) *ReconciliationService {
	return &ReconciliationService{
		payments:      payments,
		audit:         audit,
		webhookSecret: webhookSecret,
		serviceToken:  serviceToken,
		logger:        logger,
	}
}

// HandleStripeEvent verifies and processes one webhook delivery.
// An error means Stripe should redeliver; every other outcome is acknowledged.
func (s *ReconciliationService) HandleStripeEvent(ctx context.Context, payload []byte, signature string) (*ReconciliationResult, error) {
	if s.webhookSecret == "" {
		return nil, models.NewCheckoutError(models.ErrorKindConfiguration, "Stripe webhooks are not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.WithError(err).Warn("Rejected Stripe webhook")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := &ReconciliationResult{EventID: event.ID, EventType: string(event.Type)}
	logger := s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if event.Type != stripe.EventTypePaymentIntentSucceeded || event.Data == nil {
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	seen, err := s.audit.HasIdempotencyKey(ctx, models.CheckoutEventWebhookConfirmed, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check webhook idempotency: %w", err)
	}
	if seen {
		logger.Info("Duplicate Stripe webhook ignored")
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		logger.WithError(err).Error("Failed to parse payment intent from webhook")
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	bookingID := pi.Metadata["booking_id"]
	if bookingID == "" {
		bookingID = pi.Metadata["bookingId"]
	}
	result.BookingID = bookingID

	s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventWebhookReceived, models.CheckoutSourceWebhook).
		SetBooking(bookingID).SetIntentID(pi.ID).SetAmount(models.Money(pi.Amount), string(pi.Currency)).
		SetDetails(map[string]interface{}{"event_id": event.ID}))

	if bookingID == "" {
		logger.WithField("payment_intent_id", pi.ID).Warn("Payment intent has no booking metadata")
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	logger = logger.WithFields(logrus.Fields{
		"booking_id":        bookingID,
		"payment_intent_id": pi.ID,
	})

	_, err = s.payments.ConfirmPayment(WithAuthToken(ctx, s.serviceToken), pi.ID, bookingID)
	switch {
	case err == nil:
		result.Outcome = OutcomeConfirmed
		logger.Info("Booking confirmed from Stripe webhook")
	case models.IsKind(err, models.ErrorKindAlreadyConfirmed):
		result.Outcome = OutcomeAlreadyConfirmed
		logger.Debug("Booking already confirmed by checkout")
	case models.IsKind(err, models.ErrorKindServiceUnavailable):
		logger.WithError(err).Warn("Booking backend unavailable, Stripe will redeliver")
		return nil, err
	default:
		logger.WithError(err).Error("Webhook could not confirm booking")
		eventType := models.CheckoutEventReconciliationFailed
		if models.IsKind(err, models.ErrorKindMismatch) {
			eventType = models.CheckoutEventIntentMismatch
		}
		s.record(ctx, models.NewCheckoutAudit(eventType, models.CheckoutSourceWebhook).
			SetBooking(bookingID).SetIntentID(pi.ID).SetError(err).
			SetDetails(map[string]interface{}{"event_id": event.ID}))
		result.Outcome = OutcomeFailed
		return result, nil
	}

	s.record(ctx, models.NewCheckoutAudit(models.CheckoutEventWebhookConfirmed, models.CheckoutSourceWebhook).
		SetBooking(bookingID).SetIntentID(pi.ID).SetIdempotencyKey(event.ID).
		SetDetails(map[string]interface{}{"outcome": result.Outcome}))

	return result, nil
}

// ReportFailures logs every checkout that charged a guest without confirming the booking since the given time
func (s *ReconciliationService) ReportFailures(ctx context.Context, since time.Time) (int, error) {
	failures, err := s.audit.ListReconciliationFailures(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list reconciliation failures: %w", err)
	}

	for _, f := range failures {
		entry := s.logger.WithFields(logrus.Fields{
			"audit_id":   f.ID,
			"event_type": f.EventType,
			"created_at": f.CreatedAt,
		})
		if f.BookingID != nil {
			entry = entry.WithField("booking_id", *f.BookingID)
		}
		if f.PaymentIntentID != nil {
			entry = entry.WithField("payment_intent_id", *f.PaymentIntentID)
		}
		entry.Warn("Checkout needs manual reconciliation")
	}
	return len(failures), nil
}

func (s *ReconciliationService) record(ctx context.Context, audit *models.CheckoutAudit) {
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Warn("Failed to write checkout audit")
	}
}
