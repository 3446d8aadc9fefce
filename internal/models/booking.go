package models

import (
	"strings"
	"time"
)

// ============================================================================
// BOOKING STATUSES (server-owned)
// ============================================================================

// BookingStatus is the lifecycle status of a reservation on the booking backend
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Created, awaiting payment
	BookingStatusConfirmed BookingStatus = "confirmed" // Paid and confirmed
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed" // Stay finished
)

// PaymentStatus is the payment status recorded on a booking
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ParseBookingStatus maps a backend value onto a known status
func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(strings.ToLower(strings.TrimSpace(s))) {
	case BookingStatusPending:
		return BookingStatusPending, true
	case BookingStatusConfirmed:
		return BookingStatusConfirmed, true
	case BookingStatusCancelled, "canceled":
		return BookingStatusCancelled, true
	case BookingStatusCompleted:
		return BookingStatusCompleted, true
	}
	return "", false
}

// ParsePaymentStatus maps a backend value onto a known payment status
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentStatusPending:
		return PaymentStatusPending, true
	case PaymentStatusPaid:
		return PaymentStatusPaid, true
	case PaymentStatusFailed:
		return PaymentStatusFailed, true
	case PaymentStatusRefunded:
		return PaymentStatusRefunded, true
	}
	return "", false
}

// DateLayout is the wire format for check-in and check-out dates
const DateLayout = "2006-01-02"

// ============================================================================
// SHARED VALUE TYPES
// ============================================================================

// HotelRef identifies the hotel and the nightly rate the guest selected
type HotelRef struct {
	HotelID     string `json:"hotel_id" validate:"required"`
	HotelName   string `json:"hotel_name,omitempty"`
	NightlyRate Money  `json:"nightly_rate" validate:"gte=0,lte=1000000000"`
	Currency    string `json:"currency,omitempty"`
}

// DateRange is a check-in/check-out pair
type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// IsZero reports whether neither date has been chosen
func (d DateRange) IsZero() bool {
	return d.CheckIn.IsZero() && d.CheckOut.IsZero()
}

// GuestContact holds the lead guest's contact details
type GuestContact struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,phone"`
	Address string `json:"address,omitempty" validate:"max=300"`
}

// ============================================================================
// BOOKING DRAFT (client-local, ephemeral)
// ============================================================================

// BookingDraft is the guest's in-progress selection. It lives only inside a checkout session.
type BookingDraft struct {
	Hotel        HotelRef     `json:"hotel"`
	Dates        DateRange    `json:"dates"`
	GuestCount   int          `json:"number_of_guests" validate:"gte=1,lte=20"`
	RoomCount    int          `json:"number_of_rooms" validate:"gte=1,lte=10"`
	GuestContact GuestContact `json:"guest_details"`
}

// NewBookingDraft starts a draft for a hotel with one guest in one room
func NewBookingDraft(hotel HotelRef) *BookingDraft {
	return &BookingDraft{
		Hotel:      hotel,
		GuestCount: 1,
		RoomCount:  1,
	}
}

// DraftPatch is a partial update to a draft; nil fields are left untouched
type DraftPatch struct {
	CheckIn      *time.Time    `json:"check_in,omitempty"`
	CheckOut     *time.Time    `json:"check_out,omitempty"`
	GuestCount   *int          `json:"number_of_guests,omitempty"`
	RoomCount    *int          `json:"number_of_rooms,omitempty"`
	GuestContact *GuestContact `json:"guest_details,omitempty"`
}

// Apply returns a copy of the draft with the patch applied
func (d BookingDraft) Apply(p DraftPatch) BookingDraft {
	if p.CheckIn != nil {
		d.Dates.CheckIn = *p.CheckIn
	}
	if p.CheckOut != nil {
		d.Dates.CheckOut = *p.CheckOut
	}
	if p.GuestCount != nil {
		d.GuestCount = *p.GuestCount
	}
	if p.RoomCount != nil {
		d.RoomCount = *p.RoomCount
	}
	if p.GuestContact != nil {
		d.GuestContact = *p.GuestContact
	}
	return d
}

// ============================================================================
// BOOKING (server-owned)
// ============================================================================

// Booking is the normalized view of a reservation record on the booking backend
type Booking struct {
	ID            string        `json:"id"`
	HotelID       string        `json:"hotel_id,omitempty"`
	HotelName     string        `json:"hotel_name,omitempty"`
	CheckIn       time.Time     `json:"check_in"`
	CheckOut      time.Time     `json:"check_out"`
	GuestCount    int           `json:"number_of_guests"`
	RoomCount     int           `json:"number_of_rooms"`
	TotalAmount   Money         `json:"total_amount"`
	Currency      string        `json:"currency"`
	BookingStatus BookingStatus `json:"booking_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	GuestContact  *GuestContact `json:"guest_details,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
	UpdatedAt     *time.Time    `json:"updated_at,omitempty"`
}

// IsSettled reports whether the booking is paid and confirmed
func (b *Booking) IsSettled() bool {
	return b.PaymentStatus == PaymentStatusPaid &&
		(b.BookingStatus == BookingStatusConfirmed || b.BookingStatus == BookingStatusCompleted)
}

// CanCancel reports whether the backend will accept a cancellation
func (b *Booking) CanCancel() bool {
	return b.BookingStatus == BookingStatusPending || b.BookingStatus == BookingStatusConfirmed
}

// CheckConsistency enforces the status pairings a booking may never violate
func (b *Booking) CheckConsistency() error {
	if b.PaymentStatus == PaymentStatusPaid &&
		b.BookingStatus != BookingStatusConfirmed && b.BookingStatus != BookingStatusCompleted {
		return NewCheckoutError(ErrorKindValidation, "booking is paid but not confirmed")
	}
	if b.BookingStatus == BookingStatusConfirmed && b.PaymentStatus == PaymentStatusPending {
		return NewCheckoutError(ErrorKindValidation, "booking is confirmed but payment is still pending")
	}
	return nil
}

// Nights returns the number of nights covered by the booking
func (b *Booking) Nights() int {
	return NightsBetween(b.CheckIn, b.CheckOut)
}

// NightsBetween returns the calendar-day ceiling difference, never negative
func NightsBetween(checkIn, checkOut time.Time) int {
	if !checkOut.After(checkIn) {
		return 0
	}
	diff := checkOut.Sub(checkIn)
	nights := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		nights++
	}
	return nights
}

// CreateBookingRequest is the body POSTed to /bookings
type CreateBookingRequest struct {
	HotelID        string              `json:"hotel_id"`
	CheckInDate    string              `json:"check_in_date"`
	CheckOutDate   string              `json:"check_out_date"`
	NumberOfGuests int                 `json:"number_of_guests"`
	NumberOfRooms  int                 `json:"number_of_rooms"`
	GuestDetails   GuestDetailsPayload `json:"guest_details"`
}

// GuestDetailsPayload is the contact block the backend expects
type GuestDetailsPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// NewCreateBookingRequest maps a draft onto the backend request body
func NewCreateBookingRequest(d *BookingDraft) CreateBookingRequest {
	return CreateBookingRequest{
		HotelID:        d.Hotel.HotelID,
		CheckInDate:    d.Dates.CheckIn.Format(DateLayout),
		CheckOutDate:   d.Dates.CheckOut.Format(DateLayout),
		NumberOfGuests: d.GuestCount,
		NumberOfRooms:  d.RoomCount,
		GuestDetails: GuestDetailsPayload{
			Name:    strings.TrimSpace(d.GuestContact.Name),
			Email:   strings.TrimSpace(d.GuestContact.Email),
			Phone:   d.GuestContact.Phone,
			Address: strings.TrimSpace(d.GuestContact.Address),
		},
	}
}

// CancelBookingRequest is the body PUT to /bookings/{id}/cancel
type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}
