package models

import (
	"strings"
	"time"
)

// StartCheckoutRequest is the body of POST /checkout/sessions
type StartCheckoutRequest struct {
	HotelID     string `json:"hotel_id"`
	HotelName   string `json:"hotel_name"`
	NightlyRate Money  `json:"nightly_rate"`
	Currency    string `json:"currency"`
}

// HotelRef converts the request into the hotel the checkout is for
func (r StartCheckoutRequest) HotelRef() HotelRef {
	return HotelRef{
		HotelID:     r.HotelID,
		HotelName:   strings.TrimSpace(r.HotelName),
		NightlyRate: r.NightlyRate,
		Currency:    strings.TrimSpace(r.Currency),
	}
}

// GuestDetailsInput is the contact form. When CountryCode is set, Phone is the local number.
type GuestDetailsInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	CountryCode string `json:"country_code,omitempty"`
	Phone       string `json:"phone"`
	Address     string `json:"address,omitempty"`
}

// UpdateDraftRequest is the body of PATCH /checkout/sessions/:id/draft. Omitted fields are unchanged.
type UpdateDraftRequest struct {
	CheckIn        *string            `json:"check_in"`
	CheckOut       *string            `json:"check_out"`
	NumberOfGuests *int               `json:"number_of_guests"`
	NumberOfRooms  *int               `json:"number_of_rooms"`
	GuestDetails   *GuestDetailsInput `json:"guest_details"`
}

// ToPatch parses the request into a draft patch. composePhone joins a country code with a local number.
// Unparseable dates are reported by field path.
func (r UpdateDraftRequest) ToPatch(composePhone func(countryCode, number string) string) (*DraftPatch, map[string]string) {
	patch := &DraftPatch{
		GuestCount: r.NumberOfGuests,
		RoomCount:  r.NumberOfRooms,
	}
	fields := map[string]string{}

	if r.CheckIn != nil {
		if d, ok := parseDraftDate(*r.CheckIn); ok {
			patch.CheckIn = &d
		} else {
			fields["dates.check_in"] = "must be a date in YYYY-MM-DD format"
		}
	}
	if r.CheckOut != nil {
		if d, ok := parseDraftDate(*r.CheckOut); ok {
			patch.CheckOut = &d
		} else {
			fields["dates.check_out"] = "must be a date in YYYY-MM-DD format"
		}
	}

	if g := r.GuestDetails; g != nil {
		phone := strings.TrimSpace(g.Phone)
		if g.CountryCode != "" && phone != "" && composePhone != nil {
			phone = composePhone(g.CountryCode, phone)
		}
		patch.GuestContact = &GuestContact{
			Name:    strings.TrimSpace(g.Name),
			Email:   strings.TrimSpace(g.Email),
			Phone:   phone,
			Address: strings.TrimSpace(g.Address),
		}
	}

	if len(fields) > 0 {
		return nil, fields
	}
	return patch, nil
}

// parseDraftDate accepts YYYY-MM-DD; an empty string clears the date
func parseDraftDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// SubmitPaymentRequest is the body of POST /checkout/sessions/:id/payment.
// PaymentMethod is a Stripe PaymentMethod id created by the card element.
type SubmitPaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
}
