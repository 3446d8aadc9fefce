package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (cents)
type Money int64

// MaxNightlyRate caps a hotel's nightly rate at 10,000,000.00 so stay totals stay well inside int64
const MaxNightlyRate Money = 1_000_000_000

// MoneyFromFloat converts a major-unit amount (e.g. 1500.00) into minor units, rounding half away from zero
func MoneyFromFloat(amount float64) Money {
	return Money(math.Round(amount * 100))
}

// ParseMoney parses "1500", "1500.5" or "1,500.50"
func ParseMoney(s string) (Money, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromFloat(f), nil
}

// Float returns the amount in major units
func (m Money) Float() float64 {
	return float64(m) / 100
}

// String renders the amount with two decimals
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Percent returns round(m * pct / 100) in minor units
func (m Money) Percent(pct int) Money {
	product := int64(m) * int64(pct)
	if product >= 0 {
		return Money((product + 50) / 100)
	}
	return Money((product - 50) / 100)
}

// MarshalJSON renders Money as a JSON number with two decimals
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts numbers and numeric strings
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseMoney(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	*m = MoneyFromFloat(f)
	return nil
}
