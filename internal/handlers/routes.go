package handlers

import (
	"github.com/gin-gonic/gin"
)

// Routes groups the handlers mounted under /api/v1
type Routes struct {
	Checkout     *CheckoutHandler
	Confirmation *ConfirmationHandler
	Webhook      *WebhookHandler
	Health       *HealthHandler
}

// Register mounts every endpoint. auth guards everything except health and the Stripe webhook.
func (r Routes) Register(router *gin.Engine, auth gin.HandlerFunc) {
	if r.Health != nil {
		router.GET("/health", r.Health.Health)
	}

	v1 := router.Group("/api/v1")
	if r.Health != nil {
		v1.GET("/health", r.Health.Health)
	}

	// Stripe signs its deliveries; no bearer token
	if r.Webhook != nil {
		v1.POST("/webhooks/stripe", r.Webhook.StripeWebhook)
	}

	protected := v1.Group("")
	protected.Use(auth)
	{
		protected.GET("/quote", r.Checkout.GetQuote)

		sessions := protected.Group("/checkout/sessions")
		{
			sessions.POST("", r.Checkout.StartSession)
			sessions.GET("/:session_id", r.Checkout.GetSession)
			sessions.DELETE("/:session_id", r.Checkout.AbandonSession)
			sessions.PATCH("/:session_id/draft", r.Checkout.UpdateDraft)
			sessions.POST("/:session_id/selection", r.Checkout.SubmitSelection)
			sessions.POST("/:session_id/back", r.Checkout.Back)
			sessions.POST("/:session_id/guest-details", r.Checkout.SubmitGuestDetails)
			sessions.POST("/:session_id/payment", r.Checkout.SubmitPayment)
			sessions.POST("/:session_id/payment/authenticated", r.Checkout.AuthenticatePayment)
			sessions.POST("/:session_id/retry", r.Checkout.Retry)
		}

		bookings := protected.Group("/bookings/:booking_id")
		{
			bookings.GET("/confirmation", r.Confirmation.GetConfirmation)
			bookings.GET("/print", r.Confirmation.PrintConfirmation)
			bookings.PUT("/cancel", r.Confirmation.CancelBooking)
		}
	}
}
