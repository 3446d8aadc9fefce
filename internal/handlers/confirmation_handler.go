package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// ConfirmationHandler serves the confirmation page data, the printable receipt and cancellations
type ConfirmationHandler struct {
	confirmations *services.ConfirmationService
	logger        *logrus.Logger
}

// NewConfirmationHandler creates a new ConfirmationHandler
func NewConfirmationHandler(confirmations *services.ConfirmationService, logger *logrus.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		confirmations: confirmations,
		logger:        logger,
	}
}

// GetConfirmation returns the settled booking for the confirmation page
// @Summary Booking confirmation
// @Tags Confirmation
// @Produce json
// @Param booking_id path string true "Booking ID"
// @Success 200 {object} services.ConfirmationView
// @Failure 404 {object} ErrorResponse
// @Router /bookings/{booking_id}/confirmation [get]
func (h *ConfirmationHandler) GetConfirmation(c *gin.Context) {
	view, ok := h.present(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, view)
}

// PrintConfirmation renders a plain-text receipt
// @Summary Printable receipt
// @Tags Confirmation
// @Produce plain
// @Param booking_id path string true "Booking ID"
// @Success 200 {string} string
// @Router /bookings/{booking_id}/print [get]
func (h *ConfirmationHandler) PrintConfirmation(c *gin.Context) {
	view, ok := h.present(c)
	if !ok {
		return
	}

	receipt, err := services.RenderReceipt(view)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="booking-`+view.Booking.ID+`.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(receipt))
}

// CancelBooking cancels a pending or confirmed booking
// @Summary Cancel booking
// @Tags Confirmation
// @Accept json
// @Produce json
// @Param booking_id path string true "Booking ID"
// @Param request body models.CancelBookingRequest false "Reason"
// @Success 200 {object} models.Booking
// @Failure 409 {object} ErrorResponse "Not cancellable"
// @Router /bookings/{booking_id}/cancel [put]
func (h *ConfirmationHandler) CancelBooking(c *gin.Context) {
	userCtx, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
	}

	ctx := services.WithAuthToken(c.Request.Context(), userCtx.Token)
	booking, err := h.confirmations.Cancel(ctx, c.Param("booking_id"), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *ConfirmationHandler) present(c *gin.Context) (*services.ConfirmationView, bool) {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil, false
	}

	ctx := services.WithAuthToken(c.Request.Context(), userCtx.Token)
	view, err := h.confirmations.Confirmation(ctx, userCtx.UserID, c.Param("booking_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	return view, true
}
