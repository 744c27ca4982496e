// Package money provides currency-aware monetary amounts on shopspring/decimal.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrNoCurrency       = errors.New("money: missing currency")
	ErrNegativeAmount   = errors.New("money: negative amount")
	ErrCurrencyMismatch = errors.New("money: cannot operate on different currencies")
	ErrNegativeResult   = errors.New("money: operation would result in negative amount")
	ErrTooManyDecimals  = errors.New("money: too many decimal places for currency")
	ErrInvalidRate      = errors.New("money: rate must be within [0, 1]")
)

// Money is an immutable non-negative amount in a currency.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New creates Money, rejecting negatives and precision finer than the currency allows.
func New(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency.IsZero() {
		return Money{}, ErrNoCurrency
	}
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	if !amount.Equal(amount.Truncate(currency.decimals)) {
		return Money{}, ErrTooManyDecimals
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustNew is New that panics on error.
func MustNew(amount decimal.Decimal, currency Currency) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinor creates Money from minor units (cents for USD).
func FromMinor(minor int64, currency Currency) (Money, error) {
	return New(decimal.New(minor, -currency.decimals), currency)
}

// FromString parses a decimal string such as "350.00".
func FromString(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return New(d, currency)
}

// Zero returns zero in currency.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency.
func (m Money) Currency() Currency { return m.currency }

// Minor returns the amount in minor units.
func (m Money) Minor() int64 {
	return m.amount.Shift(m.currency.decimals).IntPart()
}

// IsZero reports a zero amount.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsPositive reports an amount greater than zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if err := m.checkSameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o, failing if the result would be negative.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.checkSameCurrency(o); err != nil {
		return Money{}, err
	}
	if m.amount.LessThan(o.amount) {
		return Money{}, ErrNegativeResult
	}
	return Money{amount: m.amount.Sub(o.amount), currency: m.currency}, nil
}

// Cmp compares amounts of the same currency: -1, 0 or +1.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.checkSameCurrency(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

// LessThan reports m < o. Different currencies compare false.
func (m Money) LessThan(o Money) bool {
	c, err := m.Cmp(o)
	return err == nil && c < 0
}

// GreaterThan reports m > o. Different currencies compare false.
func (m Money) GreaterThan(o Money) bool {
	c, err := m.Cmp(o)
	return err == nil && c > 0
}

// Equal reports equal currency and amount.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// SplitFee splits m into fee = m×rate (rounded half-up to the currency precision)
// and net = m − fee, so fee + net always equals m.
func (m Money) SplitFee(rate decimal.Decimal) (fee, net Money, err error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Money{}, Money{}, ErrInvalidRate
	}
	feeAmount := m.amount.Mul(rate).Round(m.currency.decimals)
	fee = Money{amount: feeAmount, currency: m.currency}
	net = Money{amount: m.amount.Sub(feeAmount), currency: m.currency}
	return fee, net, nil
}

// String formats as "350.00 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(m.currency.decimals), m.currency.code)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a fixed-point string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.amount.StringFixed(m.currency.decimals),
		Currency: m.currency.code,
	})
}

// UnmarshalJSON decodes {"amount":"..","currency":".."} using the default registry.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	currency, ok := DefaultRegistry().Lookup(raw.Currency)
	if !ok {
		currency = NewCurrency(raw.Currency, 2)
	}
	parsed, err := FromString(raw.Amount, currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) checkSameCurrency(o Money) error {
	if m.currency != o.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency.code, o.currency.code)
	}
	return nil
}
