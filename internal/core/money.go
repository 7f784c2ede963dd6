// Package core provides money parsing and handling utilities.
//
// Amounts are kept in minor units (cents) so that series arithmetic is exact;
// decimal strings are converted at the edges with shopspring/decimal.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places an amount is rounded to.
const MinorUnits = 2

// maxCents keeps Cents*count arithmetic far away from int64 overflow.
const maxCents = (1<<63 - 1) / 1000

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up on the third decimal place. The result is always positive cents.
// Returns an error for invalid formats, negative values, or zero amounts.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil
//	ParseDecimalToCents("12.344") -> 1234, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	m, err := MoneyFromDecimal(d)
	if err != nil {
		return 0, err
	}
	return m.Cents, nil
}

// ParseMoney is ParseDecimalToCents returning a Money.
func ParseMoney(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

// MoneyFromDecimal rounds d half-up to the minor unit. Zero and negative
// values are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	rounded := d.Round(MinorUnits)
	if !rounded.IsPositive() {
		return Money{}, ErrInvalidAmount
	}
	cents := rounded.Shift(MinorUnits)
	if cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -MinorUnits)
}

// String formats the amount with exactly two decimals, e.g. "33.34".
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnits)
}
