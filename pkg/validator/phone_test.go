package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"+27821234567", "+27821234567", "E.164"},
		{"+27 82 123 4567", "+27821234567", "With spaces"},
		{"+27-82-123-4567", "+27821234567", "With dashes"},
		{"0027821234567", "+27821234567", "00 international prefix"},
		{"(+44) 20 7946 0958", "+442079460958", "With parentheses"},
		{"+1.415.555.2671", "+14155552671", "With dots"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.Validate(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidate_InvalidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Whitespace only"},
		{"0821234567", ErrMissingCountryCode, "Local format"},
		{"+0821234567", ErrMissingCountryCode, "Country code starting with zero"},
		{"+27abc12345", ErrInvalidFormat, "Contains letters"},
		{"+1234567", ErrInvalidLength, "Too short"},
		{"+1234567890123456", ErrInvalidLength, "Too long"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(tc.input)
			assert.ErrorIs(t, err, tc.expectedErr)
			assert.False(t, validator.IsValid(tc.input))
		})
	}
}

func TestCompose(t *testing.T) {
	validator := NewPhoneValidator()

	assert.Equal(t, "+27821234567", validator.Compose("+27", "082 123 4567"))
	assert.Equal(t, "+27821234567", validator.Compose("27", "821234567"))
	assert.True(t, validator.IsValid(validator.Compose("+44", "020 7946 0958")))
}
