package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ConfirmationSource tells the page where the booking data came from
type ConfirmationSource string

const (
	ConfirmationFromServer  ConfirmationSource = "server"
	ConfirmationFromHandoff ConfirmationSource = "handoff"
)

// ConfirmationAction is a link offered on the confirmation page
type ConfirmationAction struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Href  string `json:"href"`
}

// ConfirmationView is everything the confirmation page renders
type ConfirmationView struct {
	Booking *models.Booking      `json:"booking"`
	Source  ConfirmationSource   `json:"source"`
	Nights  int                  `json:"nights"`
	Actions []ConfirmationAction `json:"actions"`
}

// ConfirmationService presents settled bookings and handles cancellations from "my bookings"
type ConfirmationService struct {
	bookings BookingClient
	store    database.SessionStore
	logger   *logrus.Logger
}

// NewConfirmationService creates a confirmation service
func NewConfirmationService(bookings BookingClient, store database.SessionStore, logger *logrus.Logger) *ConfirmationService {
	return &ConfirmationService{
		bookings: bookings,
		store:    store,
		logger:   logger,
	}
}

// Confirmation looks up the caller's hand-off snapshot and presents the booking
func (s *ConfirmationService) Confirmation(ctx context.Context, userID uuid.UUID, bookingID string) (*ConfirmationView, error) {
	handoff, err := s.store.GetHandoff(ctx, bookingID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to load confirmation hand-off")
		}
		handoff = nil
	}
	if handoff != nil && handoff.UserID != userID {
		handoff = nil
	}
	return s.Present(ctx, bookingID, handoff)
}

// Present fetches the booking and falls back to the hand-off snapshot when the fetch fails.
// It errors only when neither source has the booking.
func (s *ConfirmationService) Present(ctx context.Context, bookingID string, handoff *models.NavigationHandoff) (*ConfirmationView, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "booking id is required")
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err == nil {
		return newConfirmationView(booking, ConfirmationFromServer), nil
	}

	if handoff != nil && handoff.BookingID == bookingID && handoff.BookingData != nil && handoff.BookingData.ID == bookingID {
		s.logger.WithError(err).WithField("booking_id", bookingID).Info("Serving confirmation from hand-off snapshot")
		return newConfirmationView(handoff.BookingData, ConfirmationFromHandoff), nil
	}

	return nil, err
}

// Cancel cancels a booking the backend still considers cancellable
func (s *ConfirmationService) Cancel(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	current, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !current.CanCancel() {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidState,
			"This booking can no longer be cancelled").WithCode("NOT_CANCELLABLE")
	}

	cancelled, err := s.bookings.CancelBooking(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":  bookingID,
		"from_status": current.BookingStatus,
	}).Info("Booking cancelled by guest")

	return cancelled, nil
}

func newConfirmationView(booking *models.Booking, source ConfirmationSource) *ConfirmationView {
	return &ConfirmationView{
		Booking: booking,
		Source:  source,
		Nights:  booking.Nights(),
		Actions: []ConfirmationAction{
			{Name: "print", Label: "Print receipt", Href: "/api/v1/bookings/" + booking.ID + "/print"},
			{Name: "browse_hotels", Label: "Browse more hotels", Href: "/hotels"},
			{Name: "my_bookings", Label: "View my bookings", Href: "/profile/bookings"},
		},
	}
}

// ============================================================================
// RECEIPT
// ============================================================================

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"day":   func(t time.Time) string { return t.Format("Mon, 02 Jan 2006") },
	"upper": strings.ToUpper,
}).Parse(`HotelEase booking receipt
=========================

Booking reference: {{.Booking.ID}}
Hotel:             {{if .Booking.HotelName}}{{.Booking.HotelName}}{{else}}{{.Booking.HotelID}}{{end}}
Check-in:          {{day .Booking.CheckIn}}
Check-out:         {{day .Booking.CheckOut}}
Nights:            {{.Nights}}
Guests:            {{.Booking.GuestCount}}
Rooms:             {{.Booking.RoomCount}}
{{with .Booking.GuestContact}}
Lead guest:        {{.Name}}
Email:             {{.Email}}
Phone:             {{.Phone}}
{{end}}
Total paid:        {{upper .Booking.Currency}} {{.Booking.TotalAmount}}
Booking status:    {{.Booking.BookingStatus}}
Payment status:    {{.Booking.PaymentStatus}}
`))

// RenderReceipt renders the printable plain-text receipt
func RenderReceipt(view *ConfirmationView) (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
