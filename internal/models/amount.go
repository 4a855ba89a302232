package models

import (
	"github.com/shopspring/decimal"
	"spotx/internal/apperr"
)

// NewAmount validates and returns an integral, strictly positive decimal
// amount (quantity, price or balance delta). All monetary and quantity
// figures in this system are integers per spec; decimal.Decimal is kept as
// the wire/storage type for arbitrary precision, but every value flowing
// through it must be whole.
func NewAmount(raw decimal.Decimal) (decimal.Decimal, error) {
	if !raw.IsInteger() {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount %s must be an integer", raw.String())
	}
	if !raw.IsPositive() {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount %s must be positive", raw.String())
	}
	return raw, nil
}

// IsValidTicker reports whether s is a syntactically valid ticker: 2-10
// uppercase ASCII letters.
func IsValidTicker(s string) bool {
	if len(s) < 2 || len(s) > 10 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
