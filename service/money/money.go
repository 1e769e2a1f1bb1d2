package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-like currency code.
type Currency string

const (
	GRIN Currency = "GRIN"
	BTC  Currency = "BTC"
	EUR  Currency = "EUR"
	USD  Currency = "USD"
)

// Precision returns the number of smallest units in one whole unit of the currency.
func (c Currency) Precision() int64 {
	switch c {
	case GRIN:
		return 1_000_000_000
	case BTC:
		return 100_000_000
	default:
		return 100
	}
}

// exponent is the number of decimal places implied by Precision.
func (c Currency) exponent() int32 {
	var e int32
	for p := c.Precision(); p > 1; p /= 10 {
		e++
	}
	return e
}

// ParseCurrency parses a currency code case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case GRIN, BTC, EUR, USD:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

// Money is an amount in the smallest unit of its currency.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// Grin returns an amount of nanogrin as Money.
func Grin(nanogrin int64) Money {
	return Money{Amount: nanogrin, Currency: GRIN}
}

// Decimal returns the amount in whole units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.Currency.exponent())
}

// String renders the amount with the full precision of the currency, e.g. "1.500000000 GRIN".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.Currency.exponent()), m.Currency)
}

// ParseMoney parses a decimal amount in whole units, e.g. "1.5", into Money.
// Amounts with more decimal places than the currency supports are rejected.
func ParseMoney(amount string, c Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	units := d.Shift(c.exponent())
	if !units.Equal(units.Truncate(0)) {
		return Money{}, fmt.Errorf("amount %q exceeds %s precision", amount, c)
	}
	return Money{Amount: units.IntPart(), Currency: c}, nil
}
