package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test"

type memoryAudit struct {
	mu      sync.Mutex
	entries []*models.CheckoutAudit
}

func (m *memoryAudit) Log(_ context.Context, audit *models.CheckoutAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, audit)
	return nil
}

func (m *memoryAudit) HasIdempotencyKey(_ context.Context, eventType models.CheckoutEventType, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EventType == eventType && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAudit) ListReconciliationFailures(_ context.Context, since time.Time) ([]*models.CheckoutAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CheckoutAudit
	for _, e := range m.entries {
		if e.EventType == models.CheckoutEventReconciliationFailed && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func succeededEvent(eventID, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "amount": 517500, "currency": "zar", "metadata": %s}}
	}`, eventID, metadata))
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	}).Header
}

func newTestReconciliation(payments PaymentClient) (*ReconciliationService, *memoryAudit) {
	audit := &memoryAudit{}
	return NewReconciliationService(payments, audit, testWebhookSecret, "service-token", quietLogger()), audit
}

func TestHandleStripeEvent_ConfirmsBooking(t *testing.T) {
	payments := &fakePaymentClient{}
	svc, _ := newTestReconciliation(payments)
	payload := succeededEvent("evt_1", `{"booking_id": "bk_1"}`)

	result, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, "bk_1", result.BookingID)
	assert.Equal(t, 1, payments.confirmCalls)
}

func TestHandleStripeEvent_DuplicateDelivery(t *testing.T) {
	payments := &fakePaymentClient{}
	svc, _ := newTestReconciliation(payments)
	payload := succeededEvent("evt_1", `{"bookingId": "bk_1"}`)

	_, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	result, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
	assert.Equal(t, 1, payments.confirmCalls)
}

func TestHandleStripeEvent_AlreadyConfirmedIsSuccess(t *testing.T) {
	payments := &fakePaymentClient{
		confirmErrs: []error{models.NewCheckoutError(models.ErrorKindAlreadyConfirmed, "Booking already confirmed")},
	}
	svc, audit := newTestReconciliation(payments)
	payload := succeededEvent("evt_2", `{"booking_id": "bk_1"}`)

	result, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, result.Outcome)

	seen, err := audit.HasIdempotencyKey(context.Background(), models.CheckoutEventWebhookConfirmed, "evt_2")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestHandleStripeEvent_BackendDownAsksForRedelivery(t *testing.T) {
	payments := &fakePaymentClient{
		confirmErrs: []error{models.NewCheckoutError(models.ErrorKindServiceUnavailable, "down")},
	}
	svc, audit := newTestReconciliation(payments)
	payload := succeededEvent("evt_3", `{"booking_id": "bk_1"}`)

	_, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	assert.True(t, models.IsKind(err, models.ErrorKindServiceUnavailable))

	seen, _ := audit.HasIdempotencyKey(context.Background(), models.CheckoutEventWebhookConfirmed, "evt_3")
	assert.False(t, seen, "redelivery must be processed again")
}

func TestHandleStripeEvent_FailureIsReported(t *testing.T) {
	payments := &fakePaymentClient{
		confirmErrs: []error{models.NewCheckoutError(models.ErrorKindValidation, "Booking is cancelled")},
	}
	svc, _ := newTestReconciliation(payments)
	payload := succeededEvent("evt_4", `{"booking_id": "bk_1"}`)

	result, err := svc.HandleStripeEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	count, err := svc.ReportFailures(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleStripeEvent_Ignored(t *testing.T) {
	payments := &fakePaymentClient{}
	svc, _ := newTestReconciliation(payments)

	other := []byte(`{"id": "evt_5", "object": "event", "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`)
	result, err := svc.HandleStripeEvent(context.Background(), other, sign(other))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)

	noMetadata := succeededEvent("evt_6", `{}`)
	result, err = svc.HandleStripeEvent(context.Background(), noMetadata, sign(noMetadata))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)

	assert.Equal(t, 0, payments.confirmCalls)
}

func TestHandleStripeEvent_BadSignature(t *testing.T) {
	svc, _ := newTestReconciliation(&fakePaymentClient{})
	payload := succeededEvent("evt_7", `{"booking_id": "bk_1"}`)

	_, err := svc.HandleStripeEvent(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.HandleStripeEvent(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
