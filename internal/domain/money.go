package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a requested transfer amount in one of the board currencies.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"` // ISO 4217
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	return nil
}

// Validate checks the amount and that the currency is supported.
func (m Money) Validate() error {
	if err := ValidateAmount(m.Amount); err != nil {
		return err
	}
	if !IsSupportedCurrency(m.Currency) {
		return NewValidationError("currency", fmt.Sprintf("unsupported currency %q", m.Currency))
	}
	return nil
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

// Totals sums amounts per currency. Amounts in different currencies are never added together.
type Totals map[string]decimal.Decimal

// Add accumulates m into its currency bucket.
func (t Totals) Add(m Money) {
	t[m.Currency] = t[m.Currency].Add(m.Amount)
}

// Sorted returns one Money per currency present, in display order.
func (t Totals) Sorted() []Money {
	out := make([]Money, 0, len(t))
	for _, code := range Currencies() {
		if amount, ok := t[code]; ok {
			out = append(out, NewMoney(amount, code))
		}
	}
	return out
}
