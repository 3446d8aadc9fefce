package services

import (
	"strings"
	"time"

	"github.com/hotelease/checkout-backend/internal/models"
)

// DefaultTaxRatePercent is the flat tax applied once to the base price
const DefaultTaxRatePercent = 15

// PricingService computes stay quotes. It has no state beyond its configuration and performs no I/O.
type PricingService struct {
	taxRatePercent  int
	defaultCurrency string
}

// NewPricingService creates a pricing service
func NewPricingService(taxRatePercent int, defaultCurrency string) *PricingService {
	if defaultCurrency == "" {
		defaultCurrency = "ZAR"
	}
	return &PricingService{
		taxRatePercent:  taxRatePercent,
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// ComputeQuote prices a stay.
// nights = calendar-day ceiling of (checkOut - checkIn); base = nights * rate;
// tax = round(base * rate%) in minor units; total = base + tax.
func (s *PricingService) ComputeQuote(nightlyRate models.Money, checkIn, checkOut time.Time) (*models.Quote, error) {
	if checkIn.IsZero() || checkOut.IsZero() {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "Check-in and check-out dates are required")
	}
	if !checkOut.After(checkIn) {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidRange, "Check-out date must be after check-in date")
	}
	if nightlyRate < 0 {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "Nightly rate cannot be negative")
	}
	if nightlyRate > models.MaxNightlyRate {
		return nil, models.NewCheckoutError(models.ErrorKindValidation, "Nightly rate is too large")
	}

	nights := models.NightsBetween(checkIn, checkOut)
	base := nightlyRate * models.Money(nights)
	if nightlyRate != 0 && base/nightlyRate != models.Money(nights) {
		return nil, models.NewCheckoutError(models.ErrorKindInvalidRange, "The stay is too long to price")
	}
	tax := base.Percent(s.taxRatePercent)

	return &models.Quote{
		Nights:      nights,
		NightlyRate: nightlyRate,
		BasePrice:   base,
		Tax:         tax,
		Total:       base + tax,
		Currency:    s.defaultCurrency,
	}, nil
}

// QuoteDraft prices a draft in its hotel's currency
func (s *PricingService) QuoteDraft(draft *models.BookingDraft) (*models.Quote, error) {
	quote, err := s.ComputeQuote(draft.Hotel.NightlyRate, draft.Dates.CheckIn, draft.Dates.CheckOut)
	if err != nil {
		return nil, err
	}
	if draft.Hotel.Currency != "" {
		quote.Currency = strings.ToUpper(draft.Hotel.Currency)
	}
	return quote, nil
}
