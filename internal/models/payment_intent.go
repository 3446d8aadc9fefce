package models

import "strings"

// PaymentIntentStatus mirrors the processor's intent lifecycle
type PaymentIntentStatus string

const (
	IntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  PaymentIntentStatus = "requires_confirmation"
	IntentRequiresAction        PaymentIntentStatus = "requires_action"
	IntentSucceeded             PaymentIntentStatus = "succeeded"
	IntentFailed                PaymentIntentStatus = "failed"
)

// PaymentIntent is a processor-side payment object bound to one booking.
// The client secret is only handed to the guest while the bank asks for authentication.
type PaymentIntent struct {
	ID           string              `json:"id"`
	ClientSecret string              `json:"client_secret"`
	BookingID    string              `json:"booking_id"`
	Status       PaymentIntentStatus `json:"status"`
}

// IntentIDFromClientSecret derives "pi_123" from "pi_123_secret_abc"
func IntentIDFromClientSecret(clientSecret string) string {
	if idx := strings.Index(clientSecret, "_secret_"); idx > 0 {
		return clientSecret[:idx]
	}
	return ""
}

// CreatePaymentIntentRequest is POSTed to /bookings/payment-intent
type CreatePaymentIntentRequest struct {
	BookingID string `json:"bookingId"`
}

// ConfirmPaymentRequest is POSTed to /bookings/confirm-payment
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	BookingID       string `json:"bookingId"`
}

// ProcessorResult is the outcome of a card confirmation that did not decline
type ProcessorResult struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	Status          PaymentIntentStatus `json:"status"`
	Amount          Money               `json:"amount"`
	Currency        string              `json:"currency"`
}
