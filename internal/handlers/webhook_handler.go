package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// Stripe caps event payloads well below this
const maxWebhookBodyBytes = 65536

// WebhookHandler receives Stripe events
type WebhookHandler struct {
	reconciliation *services.ReconciliationService
	logger         *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(reconciliation *services.ReconciliationService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// StripeWebhook handles POST /api/v1/webhooks/stripe.
// Any non-2xx response makes Stripe redeliver the event.
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "could not read body", Code: CodeInvalidRequest})
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "bad_request", Message: "payload too large", Code: CodeInvalidRequest})
		return
	}

	result, err := h.reconciliation.HandleStripeEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			h.logger.WithField("ip", c.ClientIP()).Warn("Rejected Stripe webhook with invalid signature")
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_signature", Message: err.Error()})
		case models.IsKind(err, models.ErrorKindConfiguration):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: string(models.ErrorKindConfiguration), Message: err.Error()})
		default:
			h.logger.WithError(err).Error("Stripe webhook processing failed, awaiting redelivery")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "processing_failed", Message: "event will be retried"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}
