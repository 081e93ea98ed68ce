package model

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount. The backend serializes Postgres decimals as
// JSON strings, but older endpoints emit plain numbers; Money accepts both
// on unmarshal. An unparsable value is an error, never zero — a price that
// cannot be read must fail loudly upstream.
type Money struct {
	decimal.Decimal
}

// NewMoney builds a Money from an integer amount (whole currency units).
func NewMoney(v int64) Money {
	return Money{decimal.NewFromInt(v)}
}

// MoneyFromDecimal wraps an existing decimal.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d}
}

// MoneyFromString parses a numeric string into Money.
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{d}, nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	if data[0] == '"' {
		if len(data) < 2 || data[len(data)-1] != '"' {
			return fmt.Errorf("invalid money literal %s", data)
		}
		data = data[1 : len(data)-1]
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parse money %q: %w", data, err)
	}
	m.Decimal = d
	return nil
}

// MarshalJSON emits a fixed two-decimal string, matching what the backend
// produces for decimal columns.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{m.Decimal.Add(other.Decimal)}
}

// MulInt returns m * n.
func (m Money) MulInt(n int64) Money {
	return Money{m.Decimal.Mul(decimal.NewFromInt(n))}
}

// Equal reports value equality regardless of exponent representation.
func (m Money) Equal(other Money) bool {
	return m.Decimal.Equal(other.Decimal)
}
