package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// CheckoutAuditRepository persists the checkout audit trail
type CheckoutAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCheckoutAuditRepository creates a new checkout audit repository
func NewCheckoutAuditRepository(db *sqlx.DB, logger *logrus.Logger) *CheckoutAuditRepository {
	return &CheckoutAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log inserts an audit entry
func (r *CheckoutAuditRepository) Log(ctx context.Context, audit *models.CheckoutAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO checkout_audits (
			id, session_id, user_id, booking_id, payment_intent_id,
			event_type, event_source, step,
			amount, currency, secret_fingerprint,
			error_kind, error_code, error_message,
			details, attempt, processing_time_ms, idempotency_key,
			ip_address, user_agent, device_type,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.SessionID, audit.UserID, audit.BookingID, audit.PaymentIntentID,
		audit.EventType, audit.EventSource, audit.Step,
		audit.Amount, audit.Currency, audit.SecretFingerprint,
		audit.ErrorKind, audit.ErrorCode, audit.ErrorMessage,
		audit.Details, audit.Attempt, audit.ProcessingTimeMs, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.DeviceType,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"booking_id": audit.BookingID,
		}).Error("Failed to write checkout audit")
		return fmt.Errorf("failed to log checkout audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Checkout audit logged")

	return nil
}

// HasIdempotencyKey reports whether an event with this key was already recorded
func (r *CheckoutAuditRepository) HasIdempotencyKey(ctx context.Context, eventType models.CheckoutEventType, key string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM checkout_audits
		WHERE event_type = $1
		AND idempotency_key = $2`

	if err := r.db.GetContext(ctx, &count, query, eventType, key); err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	return count > 0, nil
}

// GetBySession returns a session's audit trail in order
func (r *CheckoutAuditRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CheckoutAudit, error) {
	var audits []*models.CheckoutAudit
	query := `
		SELECT * FROM checkout_audits
		WHERE session_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get audits by session: %w", err)
	}

	return audits, nil
}

// GetByBooking returns every audit row for a booking, across sessions and webhooks
func (r *CheckoutAuditRepository) GetByBooking(ctx context.Context, bookingID string) ([]*models.CheckoutAudit, error) {
	var audits []*models.CheckoutAudit
	query := `
		SELECT * FROM checkout_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking: %w", err)
	}

	return audits, nil
}

// ListReconciliationFailures returns charged-but-unconfirmed bookings for operators
func (r *CheckoutAuditRepository) ListReconciliationFailures(ctx context.Context, since time.Time) ([]*models.CheckoutAudit, error) {
	var audits []*models.CheckoutAudit
	query := `
		SELECT * FROM checkout_audits
		WHERE event_type = $1
		AND created_at >= $2
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &audits, query, models.CheckoutEventReconciliationFailed, since); err != nil {
		return nil, fmt.Errorf("failed to list reconciliation failures: %w", err)
	}

	return audits, nil
}

// CountCardDeclines counts a guest's card declines since the given time.
// The second value is the most recent decline, or now when there are none.
func (r *CheckoutAuditRepository) CountCardDeclines(ctx context.Context, userID uuid.UUID, since time.Time) (int, time.Time, error) {
	query := `
		SELECT COUNT(*), COALESCE(MAX(created_at), NOW())
		FROM checkout_audits
		WHERE user_id = $1
		AND event_type = $2
		AND error_kind = $3
		AND created_at > $4`

	var count int
	var last time.Time
	err := r.db.QueryRowxContext(ctx, query, userID, models.CheckoutEventCardDeclined, models.ErrorKindCard, since).Scan(&count, &last)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count card declines: %w", err)
	}

	return count, last, nil
}
