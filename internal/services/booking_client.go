package services

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingClient creates, fetches and cancels reservation records
type BookingClient interface {
	CreateBooking(ctx context.Context, draft *models.BookingDraft) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, reason string) (*models.Booking, error)
}

// BookingServiceClient talks to the booking backend's /bookings endpoints.
// It never retries: each call creates or mutates at most one record.
type BookingServiceClient struct {
	api             *BackendAPI
	defaultCurrency string
	logger          *logrus.Logger
}

// NewBookingServiceClient creates a booking client
func NewBookingServiceClient(api *BackendAPI, defaultCurrency string, logger *logrus.Logger) *BookingServiceClient {
	return &BookingServiceClient{
		api:             api,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// CreateBooking POSTs the draft and returns the new pending booking
func (c *BookingServiceClient) CreateBooking(ctx context.Context, draft *models.BookingDraft) (*models.Booking, error) {
	if draft == nil {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "booking draft is required")
	}

	resp, err := c.api.do(ctx, http.MethodPost, "/bookings", models.NewCreateBookingRequest(draft))
	if err != nil {
		return nil, err
	}

	booking, err := normalizeBooking(resp.Body, c.currencyFor(draft))
	if err != nil {
		return nil, err
	}

	// A freshly created booking is always pending/pending
	if booking.BookingStatus != models.BookingStatusPending || booking.PaymentStatus != models.PaymentStatusPending {
		return nil, unexpectedResponse("new booking is "+string(booking.BookingStatus)+"/"+string(booking.PaymentStatus), nil)
	}
	if booking.HotelID == "" {
		booking.HotelID = draft.Hotel.HotelID
	}
	if booking.HotelName == "" {
		booking.HotelName = draft.Hotel.HotelName
	}

	c.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"hotel_id":   booking.HotelID,
		"total":      booking.TotalAmount.String(),
	}).Info("Booking created")

	return booking, nil
}

// GetBooking fetches a booking by id
func (c *BookingServiceClient) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "booking id is required")
	}

	resp, err := c.api.do(ctx, http.MethodGet, "/bookings/"+url.PathEscape(bookingID), nil)
	if err != nil {
		return nil, err
	}

	return normalizeBooking(resp.Body, c.defaultCurrency)
}

// CancelBooking cancels a pending or confirmed booking
func (c *BookingServiceClient) CancelBooking(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "booking id is required")
	}

	path := "/bookings/" + url.PathEscape(bookingID) + "/cancel"
	resp, err := c.api.do(ctx, http.MethodPut, path, models.CancelBookingRequest{Reason: strings.TrimSpace(reason)})
	if err != nil {
		// The backend reports illegal cancellations as 400 with a descriptive message
		if ce, ok := models.AsCheckoutError(err); ok && ce.Kind == models.ErrorKindValidation &&
			messageContains(ce, "cannot be cancel", "already cancel", "cannot cancel") {
			ce.Kind = models.ErrorKindInvalidState
		}
		return nil, err
	}

	booking, err := normalizeBooking(resp.Body, c.defaultCurrency)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"status":     booking.BookingStatus,
	}).Info("Booking cancelled")

	return booking, nil
}

func (c *BookingServiceClient) currencyFor(draft *models.BookingDraft) string {
	if draft.Hotel.Currency != "" {
		return draft.Hotel.Currency
	}
	return c.defaultCurrency
}
