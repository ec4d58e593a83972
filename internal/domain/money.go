package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a BRL amount stored as integer centavos to avoid floating
// point errors in the ledger. The Pix gateway speaks fractional reais, so
// conversion happens only at that boundary.
type Money struct {
	Cents    int64
	Currency string // ISO 4217, always BRL today
}

// NewMoney creates a Money instance from centavos.
func NewMoney(cents int64, currency string) Money {
	return Money{Cents: cents, Currency: currency}
}

// BRL is shorthand for NewMoney(cents, "BRL").
func BRL(cents int64) Money {
	return NewMoney(cents, "BRL")
}

// ToDecimal converts centavos to a decimal amount in whole currency units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Cents).Div(decimal.NewFromInt(100))
}

// FromDecimal converts a decimal currency amount to centavos, rounding to the
// nearest cent.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromDecimalFloat converts a float currency amount (as decoded from JSON)
// to centavos via decimal to sidestep binary rounding.
func FromDecimalFloat(f float64) int64 {
	return FromDecimal(decimal.NewFromFloat(f))
}

// String renders the amount with two decimal places, e.g. "100.00 BRL".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
