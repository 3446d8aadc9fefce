package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	secret string
	err    error
}

func (p *recordingProcessor) ConfirmCardPayment(_ context.Context, clientSecret, _ string) (*models.ProcessorResult, error) {
	p.secret = clientSecret
	if p.err != nil {
		return nil, p.err
	}
	return &models.ProcessorResult{PaymentIntentID: models.IntentIDFromClientSecret(clientSecret), Status: models.IntentSucceeded}, nil
}

func (p *recordingProcessor) VerifyCardPayment(_ context.Context, clientSecret string) (*models.ProcessorResult, error) {
	p.secret = clientSecret
	if p.err != nil {
		return nil, p.err
	}
	return &models.ProcessorResult{PaymentIntentID: models.IntentIDFromClientSecret(clientSecret), Status: models.IntentSucceeded}, nil
}

func newTestPaymentClient(t *testing.T, handler http.HandlerFunc, processor CardProcessor) *PaymentServiceClient {
	api := newTestAPI(t, handler)
	return NewPaymentServiceClient(api, processor, NewBookingServiceClient(api, "ZAR", quietLogger()), "ZAR", quietLogger())
}

func TestCreatePaymentIntent(t *testing.T) {
	var got models.CreatePaymentIntentRequest
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings/payment-intent", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"success":true,"clientSecret":"pi_1_secret_abc"}`)
	}, nil)

	intent, err := client.CreatePaymentIntent(context.Background(), "bk_1")
	require.NoError(t, err)

	assert.Equal(t, "bk_1", got.BookingID)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret_abc", intent.ClientSecret)
}

func TestCreatePaymentIntent_NotConfigured(t *testing.T) {
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"Stripe is not configured on the server"}`)
	}, nil)

	_, err := client.CreatePaymentIntent(context.Background(), "bk_1")

	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
	ce, _ := models.AsCheckoutError(err)
	assert.False(t, ce.Retryable())
}

func TestConfirmCardPayment_UsesStoredSecret(t *testing.T) {
	processor := &recordingProcessor{}
	client := newTestPaymentClient(t, http.NotFound, processor)

	result, err := client.ConfirmCardPayment(context.Background(), testIntent(), "pm_card_visa")
	require.NoError(t, err)

	assert.Equal(t, "pi_1_secret_abc", processor.secret)
	assert.Equal(t, "pi_1", result.PaymentIntentID)

	_, err = client.ConfirmCardPayment(context.Background(), nil, "pm_card_visa")
	assert.True(t, models.IsKind(err, models.ErrorKindInvalidState))

	_, err = client.ConfirmCardPayment(context.Background(), testIntent(), "")
	assert.True(t, models.IsKind(err, models.ErrorKindValidation))
}

func TestConfirmCardPayment_NoProcessor(t *testing.T) {
	client := newTestPaymentClient(t, http.NotFound, nil)

	_, err := client.ConfirmCardPayment(context.Background(), testIntent(), "pm_card_visa")
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestVerifyCardPayment(t *testing.T) {
	processor := &recordingProcessor{}
	client := newTestPaymentClient(t, http.NotFound, processor)

	result, err := client.VerifyCardPayment(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_abc", processor.secret)
	assert.Equal(t, models.IntentSucceeded, result.Status)

	_, err = client.VerifyCardPayment(context.Background(), &models.PaymentIntent{ID: "pi_1"})
	assert.True(t, models.IsKind(err, models.ErrorKindInvalidState))

	_, err = newTestPaymentClient(t, http.NotFound, nil).VerifyCardPayment(context.Background(), testIntent())
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestConfirmPayment(t *testing.T) {
	var got models.ConfirmPaymentRequest
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings/confirm-payment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintf(w, `{"success":true,"booking":%s}`, bookingJSON("confirmed", "paid"))
	}, nil)

	booking, err := client.ConfirmPayment(context.Background(), "pi_1", "bk_1")
	require.NoError(t, err)

	assert.True(t, booking.IsSettled())
	assert.Equal(t, models.ConfirmPaymentRequest{PaymentIntentID: "pi_1", BookingID: "bk_1"}, got)
}

func TestConfirmPayment_StillPendingIsUnexpected(t *testing.T) {
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"booking":%s}`, bookingJSON("pending", "pending"))
	}, nil)

	_, err := client.ConfirmPayment(context.Background(), "pi_1", "bk_1")

	ce, ok := models.AsCheckoutError(err)
	require.True(t, ok)
	assert.Equal(t, codeUnexpectedResponse, ce.Code)
}

func TestConfirmPayment_Mismatch(t *testing.T) {
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Payment intent does not match this booking"}`)
	}, nil)

	_, err := client.ConfirmPayment(context.Background(), "pi_other", "bk_1")
	assert.True(t, models.IsKind(err, models.ErrorKindMismatch))
}

func TestConfirmPayment_AlreadyConfirmedFetchesBooking(t *testing.T) {
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprintf(w, `{"booking":%s}`, bookingJSON("confirmed", "paid"))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Booking is already confirmed"}`)
	}, nil)

	booking, err := client.ConfirmPayment(context.Background(), "pi_1", "bk_1")

	assert.True(t, models.IsKind(err, models.ErrorKindAlreadyConfirmed))
	require.NotNil(t, booking)
	assert.True(t, booking.IsSettled())
}

// Confirming the same payment twice leaves the booking exactly as one confirmation would
func TestConfirmPayment_Idempotent(t *testing.T) {
	var mu sync.Mutex
	confirmed := false
	client := newTestPaymentClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if confirmed {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"message":"Booking already confirmed","code":"ALREADY_CONFIRMED","booking":%s}`, bookingJSON("confirmed", "paid"))
			return
		}
		confirmed = true
		fmt.Fprintf(w, `{"booking":%s}`, bookingJSON("confirmed", "paid"))
	}, nil)

	first, err := client.ConfirmPayment(context.Background(), "pi_1", "bk_1")
	require.NoError(t, err)

	second, err := client.ConfirmPayment(context.Background(), "pi_1", "bk_1")
	assert.True(t, models.IsKind(err, models.ErrorKindAlreadyConfirmed))

	assert.Equal(t, first, second)
}
