package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/hotelease/checkout-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string                      `json:"error"`
	Message string                      `json:"message"`
	Code    string                      `json:"code,omitempty"`
	Fields  map[string]string           `json:"fields,omitempty"`
	Session *models.CheckoutSessionView `json:"session,omitempty"`
}

// Error codes returned alongside the HTTP status
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeSubmissionInFlight = "SUBMISSION_IN_FLIGHT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotRetryable       = "NOT_RETRYABLE"
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeValidation         = "VALIDATION_FAILED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeTooManyDeclines    = "TOO_MANY_DECLINES"
)

// respondError writes the HTTP form of a service error
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Checkout session not found or expired", Code: CodeSessionNotFound})
		return
	case errors.Is(err, services.ErrSessionForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: err.Error(), Code: CodeForbidden})
		return
	case errors.Is(err, services.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error(), Code: CodeSubmissionInFlight})
		return
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error(), Code: CodeInvalidTransition})
		return
	case errors.Is(err, services.ErrNotRetryable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error(), Code: CodeNotRetryable})
		return
	}

	ce, ok := models.AsCheckoutError(err)
	if !ok {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Checkout request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Something went wrong. Please try again."})
		return
	}

	status := statusForKind(ce.Kind)
	code := ce.Code
	if ce.Kind == models.ErrorKindAuthRequired && code == "" {
		code = CodeAuthRequired
	}
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Checkout dependency failed")
	}
	c.JSON(status, ErrorResponse{Error: string(ce.Kind), Message: ce.Message, Code: code, Fields: ce.Fields})
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindValidation, models.ErrorKindInvalidRange:
		return http.StatusUnprocessableEntity
	case models.ErrorKindAuthRequired:
		return http.StatusUnauthorized
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	case models.ErrorKindInvalidState, models.ErrorKindMismatch, models.ErrorKindAlreadyConfirmed:
		return http.StatusConflict
	case models.ErrorKindCard:
		return http.StatusPaymentRequired
	case models.ErrorKindConfiguration, models.ErrorKindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// respondSession writes a session. A failed(auth_required) session is a 401 so the client re-authenticates;
// field errors after a submit are a 422. Everything else, card declines and failed states included, is a 200.
func respondSession(c *gin.Context, status int, session *models.CheckoutSession, submitted bool) {
	view := session.View()

	if session.Step == models.StepFailed && session.LastError != nil &&
		session.LastError.Kind == models.ErrorKindAuthRequired {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   string(models.ErrorKindAuthRequired),
			Message: session.LastError.Message,
			Code:    CodeAuthRequired,
			Session: &view,
		})
		return
	}

	if submitted && len(session.FieldErrors) > 0 {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   string(models.ErrorKindValidation),
			Message: "Please correct the highlighted fields",
			Code:    CodeValidation,
			Fields:  session.FieldErrors,
			Session: &view,
		})
		return
	}

	c.JSON(status, view)
}
