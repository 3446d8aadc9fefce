package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/middleware"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/internal/services"
	"github.com/hotelease/checkout-backend/internal/utils"
	"github.com/hotelease/checkout-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

// CheckoutHandler handles the checkout session endpoints
type CheckoutHandler struct {
	orchestrator *services.CheckoutOrchestratorService
	pricing      *services.PricingService
	phones       *validator.PhoneValidator
	declines     *services.DeclineLimiter
	logger       *logrus.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(
	orchestrator *services.CheckoutOrchestratorService,
	pricing *services.PricingService,
	phones *validator.PhoneValidator,
	logger *logrus.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		orchestrator: orchestrator,
		pricing:      pricing,
		phones:       phones,
		logger:       logger,
	}
}

// WithDeclineLimiter blocks payment submission for guests with too many recent declines
func (h *CheckoutHandler) WithDeclineLimiter(limiter *services.DeclineLimiter) *CheckoutHandler {
	h.declines = limiter
	return h
}

// ============================================================================
// QUOTE - GET /api/v1/quote
// ============================================================================

// GetQuote prices a stay without starting a checkout
// @Summary Price a stay
// @Tags Checkout
// @Produce json
// @Param nightly_rate query string true "Nightly rate, e.g. 1500.00"
// @Param check_in query string true "YYYY-MM-DD"
// @Param check_out query string true "YYYY-MM-DD"
// @Param currency query string false "ISO currency code"
// @Success 200 {object} models.Quote
// @Failure 422 {object} ErrorResponse
// @Router /quote [get]
func (h *CheckoutHandler) GetQuote(c *gin.Context) {
	fields := map[string]string{}

	rate, err := models.ParseMoney(c.Query("nightly_rate"))
	if err != nil {
		fields["nightly_rate"] = "must be an amount, e.g. 1500.00"
	}
	checkIn, err := time.Parse(models.DateLayout, c.Query("check_in"))
	if err != nil {
		fields["check_in"] = "must be a date in YYYY-MM-DD format"
	}
	checkOut, err := time.Parse(models.DateLayout, c.Query("check_out"))
	if err != nil {
		fields["check_out"] = "must be a date in YYYY-MM-DD format"
	}
	if len(fields) > 0 {
		respondError(c, h.logger, models.NewValidationError(fields))
		return
	}

	quote, err := h.pricing.ComputeQuote(rate, checkIn, checkOut)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if currency := strings.TrimSpace(c.Query("currency")); currency != "" {
		quote.Currency = strings.ToUpper(currency)
	}

	c.JSON(http.StatusOK, quote)
}

// ============================================================================
// SESSIONS
// ============================================================================

// StartSession starts a checkout for a hotel
// @Summary Start checkout
// @Tags Checkout
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.StartCheckoutRequest true "Selected hotel"
// @Success 201 {object} models.CheckoutSessionView
// @Failure 422 {object} ErrorResponse
// @Router /checkout/sessions [post]
func (h *CheckoutHandler) StartSession(c *gin.Context) {
	userCtx, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	session, err := h.orchestrator.Begin(c.Request.Context(), userCtx.UserID, userCtx.Token,
		req.HotelRef(), utils.ClientInfoFromRequest(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, session.View())
}

// GetSession returns the caller's checkout session
// @Summary Get checkout session
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView
// @Failure 404 {object} ErrorResponse
// @Router /checkout/sessions/{session_id} [get]
func (h *CheckoutHandler) GetSession(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	session, err := h.orchestrator.Get(c.Request.Context(), sessionID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, session.View())
}

// UpdateDraft edits dates, guests, rooms or contact details and recomputes the quote
// @Summary Update booking draft
// @Tags Checkout
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body models.UpdateDraftRequest true "Changed fields"
// @Success 200 {object} models.CheckoutSessionView
// @Failure 409 {object} ErrorResponse "Not in selection"
// @Router /checkout/sessions/{session_id}/draft [patch]
func (h *CheckoutHandler) UpdateDraft(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	var req models.UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	patch, fields := req.ToPatch(h.phones.Compose)
	if fields != nil {
		respondError(c, h.logger, models.NewValidationError(fields))
		return
	}

	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventDraftUpdated, Patch: patch}, false)
}

// SubmitSelection validates the draft and moves to guest details
// @Summary Submit selection
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView
// @Failure 422 {object} ErrorResponse "Field errors"
// @Router /checkout/sessions/{session_id}/selection [post]
func (h *CheckoutHandler) SubmitSelection(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}
	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventSelectionSubmitted}, true)
}

// Back returns to selection from guest details or from a failed booking attempt
// @Summary Back to selection
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView
// @Router /checkout/sessions/{session_id}/back [post]
func (h *CheckoutHandler) Back(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}
	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventBack}, false)
}

// SubmitGuestDetails creates the pending booking and prepares the payment intent
// @Summary Submit guest details
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView
// @Failure 401 {object} ErrorResponse "Sign-in expired"
// @Failure 409 {object} ErrorResponse "Submission in flight"
// @Router /checkout/sessions/{session_id}/guest-details [post]
func (h *CheckoutHandler) SubmitGuestDetails(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}
	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventGuestDetailsSubmitted}, true)
}

// SubmitPayment confirms the card and settles the booking
// @Summary Pay
// @Tags Checkout
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body models.SubmitPaymentRequest true "Payment method"
// @Success 200 {object} models.CheckoutSessionView "Confirmed, declined (still payment) or failed"
// @Failure 409 {object} ErrorResponse "Submission in flight"
// @Failure 429 {object} ErrorResponse "Too many declined cards"
// @Router /checkout/sessions/{session_id}/payment [post]
func (h *CheckoutHandler) SubmitPayment(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	var req models.SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := h.declines.Check(c.Request.Context(), userCtx.UserID); err != nil {
		var rateErr *services.RateLimitError
		if errors.As(err, &rateErr) {
			retryAfter := int(time.Until(rateErr.RetryAfter).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "too_many_requests",
			Message: err.Error(),
			Code:    CodeTooManyDeclines,
		})
		return
	}

	h.dispatch(c, userCtx, sessionID, services.Event{
		Type:          services.EventPaymentSubmitted,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	}, true)
}

// AuthenticatePayment resumes a card payment after the guest completed the bank's authentication challenge
// @Summary Payment authenticated
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView "Confirmed, still awaiting authentication, or declined"
// @Failure 409 {object} ErrorResponse "No authentication pending"
// @Router /checkout/sessions/{session_id}/payment/authenticated [post]
func (h *CheckoutHandler) AuthenticatePayment(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}
	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventPaymentAuthenticated}, true)
}

// Retry re-runs the step that failed
// @Summary Retry failed step
// @Tags Checkout
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} models.CheckoutSessionView
// @Failure 409 {object} ErrorResponse "Not retryable"
// @Router /checkout/sessions/{session_id}/retry [post]
func (h *CheckoutHandler) Retry(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}
	h.dispatch(c, userCtx, sessionID, services.Event{Type: services.EventRetry}, false)
}

// AbandonSession drops the checkout. The booking backend is not contacted.
// @Summary Abandon checkout
// @Tags Checkout
// @Param session_id path string true "Session ID"
// @Success 204
// @Router /checkout/sessions/{session_id} [delete]
func (h *CheckoutHandler) AbandonSession(c *gin.Context) {
	userCtx, sessionID, ok := h.sessionRequest(c)
	if !ok {
		return
	}

	if err := h.orchestrator.Abandon(c.Request.Context(), sessionID, userCtx.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ============================================================================
// HELPERS
// ============================================================================

// dispatch forwards a guest event with the caller's current token
func (h *CheckoutHandler) dispatch(c *gin.Context, userCtx middleware.UserContext, sessionID uuid.UUID, ev services.Event, submitted bool) {
	ev.AuthToken = userCtx.Token

	session, err := h.orchestrator.Dispatch(c.Request.Context(), sessionID, userCtx.UserID, ev)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSession(c, http.StatusOK, session, submitted)
}

func (h *CheckoutHandler) sessionRequest(c *gin.Context) (middleware.UserContext, uuid.UUID, bool) {
	userCtx, ok := requireUser(c)
	if !ok {
		return middleware.UserContext{}, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid session_id", Code: CodeInvalidRequest})
		return middleware.UserContext{}, uuid.Nil, false
	}

	return userCtx, sessionID, true
}

func requireUser(c *gin.Context) (middleware.UserContext, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "user not authenticated", Code: CodeAuthRequired})
		return middleware.UserContext{}, false
	}
	return userCtx, true
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid request: " + err.Error(), Code: CodeInvalidRequest})
}
