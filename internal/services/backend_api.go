package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hotelease/checkout-backend/internal/config"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Backend error codes that change how a failure is classified
const (
	codeAlreadyConfirmed      = "ALREADY_CONFIRMED"
	codeIntentMismatch        = "PAYMENT_INTENT_MISMATCH"
	codePaymentNotConfigured  = "PAYMENT_NOT_CONFIGURED"
	codeStripeNotConfigured   = "STRIPE_NOT_CONFIGURED"
	codeInvalidState          = "INVALID_STATE"
	codeTimeout               = "TIMEOUT"
	codeNetworkError          = "NETWORK_ERROR"
	codeUnexpectedResponse    = "UNEXPECTED_RESPONSE"
	defaultUnavailableMessage = "The booking service is temporarily unavailable. Please try again."
)

type authTokenKey struct{}

// WithAuthToken attaches the guest's bearer token to outgoing backend calls
func WithAuthToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, authTokenKey{}, token)
}

// AuthTokenFrom returns the bearer token attached to ctx
func AuthTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(authTokenKey{}).(string)
	return token
}

// BackendAPI is the JSON transport shared by the booking and payment clients
type BackendAPI struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewBackendAPI creates the transport with the configured per-call timeout
func NewBackendAPI(cfg config.BackendConfig, logger *logrus.Logger) *BackendAPI {
	return NewBackendAPIWithClient(cfg.BaseURL, &http.Client{Timeout: cfg.RequestTimeout}, logger)
}

// NewBackendAPIWithClient creates the transport around an existing http.Client
func NewBackendAPIWithClient(baseURL string, httpClient *http.Client, logger *logrus.Logger) *BackendAPI {
	return &BackendAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// backendResponse is returned for every completed HTTP exchange, including error statuses
type backendResponse struct {
	Status int
	Body   []byte
}

// backendErrorBody is the error envelope the booking backend uses
type backendErrorBody struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Errors  json.RawMessage `json:"errors"`
}

// do performs one request. A non-2xx status yields both the response and a *models.CheckoutError.
func (a *BackendAPI) do(ctx context.Context, method, path string, payload interface{}) (*backendResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := AuthTokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Warn("Booking backend request failed")
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapCheckoutError(models.ErrorKindServiceUnavailable, defaultUnavailableMessage, err).
			WithCode(codeNetworkError)
	}

	a.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Booking backend response")

	result := &backendResponse{Status: resp.StatusCode, Body: respBody}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, classifyStatus(resp.StatusCode, respBody)
	}
	return result, nil
}

// classifyTransportError maps network failures and timeouts onto service_unavailable
func classifyTransportError(err error) *models.CheckoutError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.WrapCheckoutError(models.ErrorKindServiceUnavailable,
			"The booking service took too long to respond. Please try again.", err).WithCode(codeTimeout)
	}
	return models.WrapCheckoutError(models.ErrorKindServiceUnavailable, defaultUnavailableMessage, err).
		WithCode(codeNetworkError)
}

// classifyStatus maps an HTTP error status and body onto a typed error
func classifyStatus(status int, body []byte) *models.CheckoutError {
	parsed := parseErrorBody(body)
	message := parsed.message
	if message == "" {
		message = http.StatusText(status)
	}

	var kind models.ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = models.ErrorKindAuthRequired
	case status == http.StatusNotFound:
		kind = models.ErrorKindNotFound
	case status == http.StatusConflict:
		kind = models.ErrorKindInvalidState
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		kind = models.ErrorKindServiceUnavailable
		if parsed.message == "" {
			message = defaultUnavailableMessage
		}
	default:
		kind = models.ErrorKindValidation
	}

	switch strings.ToUpper(parsed.code) {
	case codeAlreadyConfirmed:
		kind = models.ErrorKindAlreadyConfirmed
	case codeIntentMismatch:
		kind = models.ErrorKindMismatch
	case codePaymentNotConfigured, codeStripeNotConfigured:
		kind = models.ErrorKindConfiguration
	case codeInvalidState:
		kind = models.ErrorKindInvalidState
	}

	return &models.CheckoutError{
		Kind:    kind,
		Message: message,
		Code:    parsed.code,
		Fields:  parsed.fields,
		Err:     fmt.Errorf("booking backend returned HTTP %d", status),
	}
}

type parsedErrorBody struct {
	message string
	code    string
	fields  map[string]string
}

// parseErrorBody reads message (falling back to error) and code from an error envelope
func parseErrorBody(body []byte) parsedErrorBody {
	var envelope backendErrorBody
	if len(body) == 0 || json.Unmarshal(body, &envelope) != nil {
		return parsedErrorBody{}
	}

	result := parsedErrorBody{
		message: strings.TrimSpace(envelope.Message),
		code:    strings.TrimSpace(envelope.Code),
	}
	if len(envelope.Errors) > 0 {
		var fields map[string]string
		if json.Unmarshal(envelope.Errors, &fields) == nil && len(fields) > 0 {
			result.fields = fields
		}
	}
	if result.message == "" && len(envelope.Error) > 0 {
		var errText string
		if json.Unmarshal(envelope.Error, &errText) == nil {
			result.message = strings.TrimSpace(errText)
		}
	}
	return result
}

// messageContains is a case-insensitive check used where the backend only signals through text
func messageContains(err *models.CheckoutError, needles ...string) bool {
	lower := strings.ToLower(err.Message)
	for _, needle := range needles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
