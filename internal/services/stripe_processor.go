package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hotelease/checkout-backend/internal/config"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

const (
	codeAuthenticationRequired = "authentication_required"
	codeProcessing             = "processing"
	processorUnavailableMsg    = "We could not confirm your payment with the card processor. Please try again; you will not be charged twice."
)

// StripeProcessor confirms card payments directly with Stripe
type StripeProcessor struct {
	intents paymentintent.Client
	logger  *logrus.Logger
}

// NewStripeProcessor creates a processor bound to the configured secret key.
// The Stripe client's own network retries are disabled; the checkout decides what to retry.
func NewStripeProcessor(cfg config.PaymentConfig, logger *logrus.Logger) *StripeProcessor {
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		HTTPClient:        &http.Client{Timeout: cfg.RequestTimeout},
		LeveledLogger:     logger,
	}
	if cfg.StripeAPIURL != "" {
		backendConfig.URL = stripe.String(cfg.StripeAPIURL)
	}

	return &StripeProcessor{
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.StripeSecretKey,
		},
		logger: logger,
	}
}

// ConfirmCardPayment confirms the intent behind clientSecret with the given payment method
func (p *StripeProcessor) ConfirmCardPayment(ctx context.Context, clientSecret, paymentMethod string) (*models.ProcessorResult, error) {
	intentID := models.IntentIDFromClientSecret(clientSecret)
	if intentID == "" {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidState, "The payment could not be prepared. Please try again.")
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethod),
	}
	params.Context = ctx

	pi, err := p.intents.Confirm(intentID, params)
	if err != nil {
		return p.handleConfirmError(ctx, intentID, err)
	}

	return p.resultFor(pi)
}

// VerifyCardPayment re-reads the intent after the guest finished the bank's authentication challenge
func (p *StripeProcessor) VerifyCardPayment(ctx context.Context, clientSecret string) (*models.ProcessorResult, error) {
	intentID := models.IntentIDFromClientSecret(clientSecret)
	if intentID == "" {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidState, "The payment could not be prepared. Please try again.")
	}

	pi, err := p.intents.Get(intentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return p.handleConfirmError(ctx, intentID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"payment_intent_id": intentID,
		"status":            pi.Status,
	}).Info("Payment intent verified after authentication")

	return p.resultFor(pi)
}

// handleConfirmError sorts Stripe failures into declines, configuration problems and outages
func (p *StripeProcessor) handleConfirmError(ctx context.Context, intentID string, err error) (*models.ProcessorResult, error) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		p.logger.WithError(err).WithField("payment_intent_id", intentID).Warn("Stripe request failed")
		return nil, models.WrapCheckoutError(models.ErrorKindServiceUnavailable, processorUnavailableMsg, err).
			WithCode(codeNetworkError)
	}

	logger := p.logger.WithFields(logrus.Fields{
		"payment_intent_id": intentID,
		"stripe_type":       stripeErr.Type,
		"stripe_code":       stripeErr.Code,
		"http_status":       stripeErr.HTTPStatusCode,
	})

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		logger.Info("Card declined")
		code := string(stripeErr.Code)
		if stripeErr.DeclineCode != "" {
			code = string(stripeErr.DeclineCode)
		}
		return nil, models.NewCardError(code, stripeErr.Msg)

	case stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState:
		// Usually a second confirm of an intent that already went through
		pi, getErr := p.intents.Get(intentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
		if getErr == nil && pi.Status == stripe.PaymentIntentStatusSucceeded {
			logger.Info("Payment intent was already confirmed")
			return p.resultFor(pi)
		}
		return nil, models.NewCardError(string(stripeErr.Code), stripeErr.Msg)

	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		logger.Error("Stripe rejected the API key")
		return nil, models.WrapCheckoutError(models.ErrorKindConfiguration,
			"Card payments are not configured correctly", err)

	case stripeErr.Type == stripe.ErrorTypeInvalidRequest && stripeErr.HTTPStatusCode < 500:
		logger.Warn("Stripe rejected the payment request")
		return nil, models.NewCardError(string(stripeErr.Code), stripeErr.Msg)
	}

	logger.WithError(err).Warn("Stripe is unavailable")
	return nil, models.WrapCheckoutError(models.ErrorKindServiceUnavailable, processorUnavailableMsg, err)
}

// resultFor maps a confirmed intent's status onto a result or a card error.
// requires_action is a pending result: the guest still has to authenticate with the bank.
func (p *StripeProcessor) resultFor(pi *stripe.PaymentIntent) (*models.ProcessorResult, error) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresAction:
		return &models.ProcessorResult{
			PaymentIntentID: pi.ID,
			Status:          models.PaymentIntentStatus(pi.Status),
			Amount:          models.Money(pi.Amount),
			Currency:        strings.ToUpper(string(pi.Currency)),
		}, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil && pi.LastPaymentError.Code == stripe.ErrorCodePaymentIntentAuthenticationFailure {
			return nil, models.NewCardError(codeAuthenticationRequired,
				"Your bank could not authenticate this payment. Please try again or use another card.")
		}
		message := "Your card was declined."
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			message = pi.LastPaymentError.Msg
		}
		return nil, models.NewCardError(string(stripe.PaymentIntentStatusRequiresPaymentMethod), message)
	case stripe.PaymentIntentStatusProcessing:
		return nil, models.NewCardError(codeProcessing,
			"Your payment is still processing. Please wait a moment before trying again.")
	}
	return nil, models.NewCardError(string(pi.Status), "The payment could not be completed.")
}
