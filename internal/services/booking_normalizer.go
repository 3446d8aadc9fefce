package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotelease/checkout-backend/internal/models"
)

// Field aliases the booking backend has been seen to use, in priority order
var (
	bookingIDKeys     = []string{"id", "booking_id", "bookingId", "_id"}
	hotelIDKeys       = []string{"hotel_id", "hotelId"}
	hotelNameKeys     = []string{"hotel_name", "hotelName"}
	checkInKeys       = []string{"check_in_date", "checkInDate", "check_in", "checkIn"}
	checkOutKeys      = []string{"check_out_date", "checkOutDate", "check_out", "checkOut"}
	guestCountKeys    = []string{"number_of_guests", "numberOfGuests", "guests", "adults"}
	roomCountKeys     = []string{"number_of_rooms", "numberOfRooms", "rooms"}
	totalKeys         = []string{"total_amount", "total_price", "totalAmount", "totalPrice"}
	bookingStatusKeys = []string{"booking_status", "bookingStatus", "status"}
	paymentStatusKeys = []string{"payment_status", "paymentStatus"}
	guestDetailsKeys  = []string{"guest_details", "guestDetails"}
	createdAtKeys     = []string{"created_at", "createdAt"}
	updatedAtKeys     = []string{"updated_at", "updatedAt"}
)

var timeLayouts = []string{models.DateLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"}

// normalizeBooking is the single place that turns a backend booking payload into a Booking.
// Accepted envelopes: {booking}, {data: {booking}}, {data}, and the bare record.
// Anything else is rejected with a validation error instead of being guessed at.
func normalizeBooking(body []byte, defaultCurrency string) (*models.Booking, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, unexpectedResponse("response is not a JSON object", err)
	}

	record := unwrapBookingRecord(root)
	if record == nil {
		return nil, unexpectedResponse("response does not contain a booking", nil)
	}
	return bookingFromRecord(record, defaultCurrency)
}

func unwrapBookingRecord(root map[string]interface{}) map[string]interface{} {
	if booking, ok := root["booking"].(map[string]interface{}); ok {
		return booking
	}
	if data, ok := root["data"].(map[string]interface{}); ok {
		if booking, ok := data["booking"].(map[string]interface{}); ok {
			return booking
		}
		return data
	}
	if _, hasID := pickString(root, bookingIDKeys...); hasID {
		return root
	}
	return nil
}

func bookingFromRecord(record map[string]interface{}, defaultCurrency string) (*models.Booking, error) {
	id, ok := pickString(record, bookingIDKeys...)
	if !ok || id == "" {
		return nil, unexpectedResponse("booking has no id", nil)
	}

	rawStatus, _ := pickString(record, bookingStatusKeys...)
	bookingStatus, ok := models.ParseBookingStatus(rawStatus)
	if !ok {
		return nil, unexpectedResponse(fmt.Sprintf("unknown booking status %q", rawStatus), nil)
	}

	rawPayment, _ := pickString(record, paymentStatusKeys...)
	paymentStatus, ok := models.ParsePaymentStatus(rawPayment)
	if !ok {
		return nil, unexpectedResponse(fmt.Sprintf("unknown payment status %q", rawPayment), nil)
	}

	checkIn, ok := pickTime(record, checkInKeys...)
	if !ok {
		return nil, unexpectedResponse("booking has no check-in date", nil)
	}
	checkOut, ok := pickTime(record, checkOutKeys...)
	if !ok {
		return nil, unexpectedResponse("booking has no check-out date", nil)
	}

	booking := &models.Booking{
		ID:            id,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		BookingStatus: bookingStatus,
		PaymentStatus: paymentStatus,
		Currency:      strings.ToUpper(defaultCurrency),
	}

	booking.HotelID, booking.HotelName = hotelFields(record)
	booking.GuestCount, _ = pickInt(record, guestCountKeys...)
	booking.RoomCount, _ = pickInt(record, roomCountKeys...)
	if booking.RoomCount == 0 {
		booking.RoomCount = 1
	}

	if total, ok := pickMoney(record, totalKeys...); ok {
		booking.TotalAmount = total
	}
	if currency, ok := pickString(record, "currency"); ok && currency != "" {
		booking.Currency = strings.ToUpper(currency)
	}
	if contact := guestContactFrom(record); contact != nil {
		booking.GuestContact = contact
	}
	if createdAt, ok := pickTime(record, createdAtKeys...); ok {
		booking.CreatedAt = &createdAt
	}
	if updatedAt, ok := pickTime(record, updatedAtKeys...); ok {
		booking.UpdatedAt = &updatedAt
	}

	if err := booking.CheckConsistency(); err != nil {
		return nil, err
	}

	return booking, nil
}

// hotelFields reads hotel_id/hotel_name or a populated hotel object
func hotelFields(record map[string]interface{}) (string, string) {
	hotelID, _ := pickString(record, hotelIDKeys...)
	hotelName, _ := pickString(record, hotelNameKeys...)

	switch hotel := record["hotel"].(type) {
	case map[string]interface{}:
		if hotelID == "" {
			hotelID, _ = pickString(hotel, "id", "_id")
		}
		if hotelName == "" {
			hotelName, _ = pickString(hotel, "name")
		}
	case string:
		if hotelID == "" {
			hotelID = hotel
		}
	}
	return hotelID, hotelName
}

func guestContactFrom(record map[string]interface{}) *models.GuestContact {
	for _, key := range guestDetailsKeys {
		details, ok := record[key].(map[string]interface{})
		if !ok {
			continue
		}
		contact := &models.GuestContact{}
		contact.Name, _ = pickString(details, "name")
		contact.Email, _ = pickString(details, "email")
		contact.Phone, _ = pickString(details, "phone")
		contact.Address, _ = pickString(details, "address")
		return contact
	}
	return nil
}

func unexpectedResponse(reason string, cause error) *models.CheckoutError {
	return models.WrapCheckoutError(models.ErrorKindValidation,
		"Unexpected response from the booking service: "+reason, cause).WithCode(codeUnexpectedResponse)
}

// ============================================================================
// FIELD PICKERS
// ============================================================================

func pickString(m map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			return strings.TrimSpace(v), true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

func pickInt(m map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func pickMoney(m map[string]interface{}, keys ...string) (models.Money, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return models.MoneyFromFloat(v), true
		case string:
			if amount, err := models.ParseMoney(v); err == nil {
				return amount, true
			}
		}
	}
	return 0, false
}

func pickTime(m map[string]interface{}, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		raw, ok := m[key].(string)
		if !ok || raw == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// normalizePaymentIntent reads {clientSecret}, {client_secret} or {data: {...}}
func normalizePaymentIntent(body []byte, bookingID string) (*models.PaymentIntent, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, unexpectedResponse("payment intent response is not a JSON object", err)
	}

	record := root
	if data, ok := root["data"].(map[string]interface{}); ok {
		record = data
	}

	secret, _ := pickString(record, "clientSecret", "client_secret")
	if secret == "" {
		return nil, unexpectedResponse("payment intent response has no client secret", nil)
	}

	intentID, _ := pickString(record, "paymentIntentId", "payment_intent_id", "id")
	if intentID == "" {
		intentID = models.IntentIDFromClientSecret(secret)
	}
	if intentID == "" {
		return nil, unexpectedResponse("cannot determine the payment intent id", nil)
	}

	return &models.PaymentIntent{
		ID:           intentID,
		ClientSecret: secret,
		BookingID:    bookingID,
		Status:       models.IntentRequiresPaymentMethod,
	}, nil
}
