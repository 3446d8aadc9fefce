package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrMissingCountryCode indicates the number was not given in international form
	ErrMissingCountryCode = errors.New("phone number must include a country code, e.g. +27")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits after the country code")

	// ErrInvalidLength indicates the number is outside the E.164 length range
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")
)

var digitsRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator validates international phone numbers composed as country code + number
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates an international phone number.
// Accepts +27 82 123 4567, +27-82-123-4567, 0027821234567.
// Returns the E.164 form (+27821234567).
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	if !strings.HasPrefix(sanitized, "+") {
		return "", ErrMissingCountryCode
	}

	digits := sanitized[1:]
	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if strings.HasPrefix(digits, "0") {
		return "", ErrMissingCountryCode
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// Sanitize removes separators and rewrites a 00 international prefix to +
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
	phone = replacer.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}

	return phone
}

// Compose joins a country code picked from a list with the local number the guest typed
func (v *PhoneValidator) Compose(countryCode, number string) string {
	code := "+" + strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	local := strings.TrimLeft(v.Sanitize(number), "0")
	return code + local
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
