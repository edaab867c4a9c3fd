package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	default:
		return false
	}
}

// minorUnitScale is the number of decimal places carried by every supported currency.
const minorUnitScale = 2

// Amounts are kept within ±math.MaxInt64 minor units so that Neg never overflows.
var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(-math.MaxInt64)
)

// Money is an amount in integer minor units of a single currency.
type Money struct {
	Amount   int64
	Currency Currency
}

func NewMoney(minor int64, currency Currency) Money {
	return Money{Amount: minor, Currency: currency}
}

func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// MoneyFromDecimal rounds d to two decimals, half to even, and converts it to minor units.
func MoneyFromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("MoneyFromDecimal: %w", ErrInvalidCurrency)
	}
	minor := d.RoundBank(minorUnitScale).Shift(minorUnitScale)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Money{}, fmt.Errorf("MoneyFromDecimal: %s out of range: %w", d, ErrInvalidAmount)
	}
	return Money{Amount: minor.IntPart(), Currency: currency}, nil
}

func MoneyFromFloat(f float64, currency Currency) (Money, error) {
	return MoneyFromDecimal(decimal.NewFromFloat(f), currency)
}

func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("ParseMoney: %q: %w", s, ErrInvalidAmount)
	}
	return MoneyFromDecimal(d, currency)
}

func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("Add: %s and %s: %w", m.Currency, o.Currency, ErrCurrencyMismatch)
	}
	sum, ok := addMinor(m.Amount, o.Amount)
	if !ok {
		return Money{}, fmt.Errorf("Add: %s + %s overflows: %w", m, o, ErrInvalidAmount)
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("Sub: %s and %s: %w", m.Currency, o.Currency, ErrCurrencyMismatch)
	}
	diff, ok := addMinor(m.Amount, -o.Amount)
	if !ok {
		return Money{}, fmt.Errorf("Sub: %s - %s overflows: %w", m, o, ErrInvalidAmount)
	}
	return Money{Amount: diff, Currency: m.Currency}, nil
}

// addMinor reports false when a+b leaves the ±math.MaxInt64 range.
func addMinor(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) || sum == math.MinInt64 {
		return 0, false
	}
	return sum, true
}

// Cmp returns -1, 0 or +1 depending on whether m is less than, equal to or greater than o.
func (m Money) Cmp(o Money) (int, error) {
	if m.Currency != o.Currency {
		return 0, fmt.Errorf("Cmp: %s and %s: %w", m.Currency, o.Currency, ErrCurrencyMismatch)
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

func (m Money) Min(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, fmt.Errorf("Min: %w", err)
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

func (m Money) Abs() Money {
	if m.Amount < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -minorUnitScale)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(minorUnitScale) + " " + string(m.Currency)
}
