package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentClient creates payment intents, drives card confirmation and settles bookings
type PaymentClient interface {
	CreatePaymentIntent(ctx context.Context, bookingID string) (*models.PaymentIntent, error)
	ConfirmCardPayment(ctx context.Context, intent *models.PaymentIntent, paymentMethod string) (*models.ProcessorResult, error)
	VerifyCardPayment(ctx context.Context, intent *models.PaymentIntent) (*models.ProcessorResult, error)
	ConfirmPayment(ctx context.Context, paymentIntentID, bookingID string) (*models.Booking, error)
}

// CardProcessor confirms a card payment against a client secret.
// Declines come back as a card_error *models.CheckoutError carrying the processor's message.
// A result with status requires_action means the bank wants the guest to authenticate first.
type CardProcessor interface {
	ConfirmCardPayment(ctx context.Context, clientSecret, paymentMethod string) (*models.ProcessorResult, error)
	VerifyCardPayment(ctx context.Context, clientSecret string) (*models.ProcessorResult, error)
}

// PaymentServiceClient talks to the booking backend's payment endpoints and delegates card handling to the processor
type PaymentServiceClient struct {
	api             *BackendAPI
	processor       CardProcessor
	bookings        BookingClient
	defaultCurrency string
	logger          *logrus.Logger
}

// NewPaymentServiceClient creates a payment client. processor may be nil when card payments are not configured.
func NewPaymentServiceClient(api *BackendAPI, processor CardProcessor, bookings BookingClient, defaultCurrency string, logger *logrus.Logger) *PaymentServiceClient {
	return &PaymentServiceClient{
		api:             api,
		processor:       processor,
		bookings:        bookings,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// CreatePaymentIntent asks the backend for a processor intent bound to the booking
func (c *PaymentServiceClient) CreatePaymentIntent(ctx context.Context, bookingID string) (*models.PaymentIntent, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "booking id is required")
	}

	resp, err := c.api.do(ctx, http.MethodPost, "/bookings/payment-intent", models.CreatePaymentIntentRequest{BookingID: bookingID})
	if err != nil {
		if ce, ok := models.AsCheckoutError(err); ok && ce.Kind != models.ErrorKindAuthRequired &&
			messageContains(ce, "not configured", "missing stripe", "stripe key") {
			ce.Kind = models.ErrorKindConfiguration
		}
		return nil, err
	}

	intent, err := normalizePaymentIntent(resp.Body, bookingID)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"booking_id":        bookingID,
		"payment_intent_id": intent.ID,
	}).Info("Payment intent created")

	return intent, nil
}

// ConfirmCardPayment hands the card confirmation to the processor
func (c *PaymentServiceClient) ConfirmCardPayment(ctx context.Context, intent *models.PaymentIntent, paymentMethod string) (*models.ProcessorResult, error) {
	if c.processor == nil {
		return nil, models.NewCheckoutError(models.ErrorKindConfiguration, "Card payments are not configured")
	}
	if intent == nil || intent.ClientSecret == "" {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidState, "No payment has been prepared for this booking")
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return nil, models.NewValidationError(map[string]string{"payment_method": "is required"})
	}

	return c.processor.ConfirmCardPayment(ctx, intent.ClientSecret, paymentMethod)
}

// VerifyCardPayment reads back an intent the guest authenticated with their bank
func (c *PaymentServiceClient) VerifyCardPayment(ctx context.Context, intent *models.PaymentIntent) (*models.ProcessorResult, error) {
	if c.processor == nil {
		return nil, models.NewCheckoutError(models.ErrorKindConfiguration, "Card payments are not configured")
	}
	if intent == nil || intent.ClientSecret == "" {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidState, "No payment has been prepared for this booking")
	}

	return c.processor.VerifyCardPayment(ctx, intent.ClientSecret)
}

// ConfirmPayment settles the booking after the processor reported success.
// An already-confirmed booking is returned together with an already_confirmed error; callers treat that as success.
func (c *PaymentServiceClient) ConfirmPayment(ctx context.Context, paymentIntentID, bookingID string) (*models.Booking, error) {
	if paymentIntentID == "" || bookingID == "" {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "payment intent id and booking id are required")
	}

	resp, err := c.api.do(ctx, http.MethodPost, "/bookings/confirm-payment", models.ConfirmPaymentRequest{
		PaymentIntentID: paymentIntentID,
		BookingID:       bookingID,
	})
	if err != nil {
		ce, ok := models.AsCheckoutError(err)
		if !ok || resp == nil {
			return nil, err
		}

		switch {
		case ce.Kind == models.ErrorKindAlreadyConfirmed ||
			(ce.Kind != models.ErrorKindAuthRequired && messageContains(ce, "already confirmed", "already paid")):
			ce.Kind = models.ErrorKindAlreadyConfirmed
			return c.currentBooking(ctx, resp.Body, bookingID, ce)
		case ce.Kind == models.ErrorKindMismatch ||
			((ce.Kind == models.ErrorKindValidation || ce.Kind == models.ErrorKindInvalidState) &&
				messageContains(ce, "mismatch", "does not match", "does not belong")):
			ce.Kind = models.ErrorKindMismatch
		}
		return nil, ce
	}

	booking, err := normalizeBooking(resp.Body, c.defaultCurrency)
	if err != nil {
		return nil, err
	}
	if !booking.IsSettled() {
		return nil, unexpectedResponse("confirmed booking is "+string(booking.BookingStatus)+"/"+string(booking.PaymentStatus), nil)
	}

	c.logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"payment_intent_id": paymentIntentID,
	}).Info("Payment confirmed")

	return booking, nil
}

// currentBooking resolves the settled booking for an already_confirmed response
func (c *PaymentServiceClient) currentBooking(ctx context.Context, body []byte, bookingID string, cause *models.CheckoutError) (*models.Booking, error) {
	if booking, err := normalizeBooking(body, c.defaultCurrency); err == nil && booking.ID == bookingID {
		return booking, cause
	}
	if c.bookings == nil {
		return nil, cause
	}

	booking, err := c.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		c.logger.WithError(err).WithField("booking_id", bookingID).
			Warn("Booking reported as already confirmed but could not be fetched")
		return nil, cause
	}
	if !booking.IsSettled() {
		return nil, unexpectedResponse("booking reported as confirmed is "+string(booking.BookingStatus), nil)
	}
	return booking, cause
}
