// Package money provides currency-safe listing prices using integer minor units.
// It wraps go-money for currency metadata and shopspring/decimal for parsing.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	CAD = "CAD"
	JPY = "JPY" // no minor units
)

var (
	// ErrEmptyAmount is returned when there is nothing to parse.
	ErrEmptyAmount = errors.New("empty amount")
	// ErrNegativeAmount is returned when a listing price is below zero.
	ErrNegativeAmount = errors.New("negative amount")
)

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a new Money value from minor units and currency code.
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{m: money.New(amountMinor, currencyCode)}
}

// NewFromDecimal creates Money from a decimal.Decimal value, rounding to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
		currencyCode = USD
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	minor := amount.Mul(multiplier).Round(0).IntPart()

	return New(minor, currencyCode)
}

// NewFromString parses a string amount and currency.
// Accepts formats like "100.50", "1,234.56", "1.234,56" (European)
func NewFromString(amount string, currencyCode string, europeanFormat bool) (*Money, error) {
	amount = cleanAmount(amount)
	if amount == "" {
		return nil, ErrEmptyAmount
	}

	if europeanFormat {
		amount = strings.ReplaceAll(amount, ".", "")
		amount = strings.ReplaceAll(amount, ",", ".")
	} else {
		amount = strings.ReplaceAll(amount, ",", "")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	return NewFromDecimal(d, currencyCode), nil
}

// ParsePrice parses a seller-supplied price cell, guessing the separator convention.
// Negative values are rejected.
func ParsePrice(raw string, currencyCode string) (*Money, error) {
	m, err := NewFromString(raw, currencyCode, isEuropeanFormat(cleanAmount(raw)))
	if err != nil {
		return nil, err
	}
	if m.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return m, nil
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsZero returns true if the amount is zero
func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// IsNegative returns true if the amount is less than zero
func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts to decimal.Decimal
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	currency := m.m.Currency()
	d := decimal.NewFromInt(m.m.Amount())
	divisor := decimal.New(1, int32(currency.Fraction))
	return d.Div(divisor)
}

func (m *Money) MarshalJSON() ([]byte, error) {
	if m == nil || m.m == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(map[string]interface{}{
		"amount":   m.Amount(),
		"currency": m.Currency(),
		"display":  m.Display(),
	})
}

// cleanAmount strips whitespace, currency symbols and trailing ISO codes
func cleanAmount(amount string) string {
	amount = strings.TrimSpace(amount)
	amount = strings.ReplaceAll(amount, " ", "")

	for _, sym := range []string{"US$", "$", "€", "£", "¥"} {
		amount = strings.ReplaceAll(amount, sym, "")
	}
	upper := strings.ToUpper(amount)
	for _, code := range []string{USD, EUR, GBP, CAD, JPY} {
		if strings.HasPrefix(upper, code) || strings.HasSuffix(upper, code) {
			upper = strings.TrimSuffix(strings.TrimPrefix(upper, code), code)
			amount = upper
			break
		}
	}
	return amount
}

// isEuropeanFormat guesses whether a comma is the decimal separator:
// "1.234,56" and "15,5" are European, "1,234.56" and "15,000" are not.
func isEuropeanFormat(amount string) bool {
	lastComma := strings.LastIndexByte(amount, ',')
	lastDot := strings.LastIndexByte(amount, '.')
	if lastComma < 0 {
		return false
	}
	if lastDot > lastComma {
		return false
	}
	if lastDot >= 0 {
		return true
	}
	return len(amount)-lastComma-1 != 3
}
