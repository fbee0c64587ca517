package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the fixed precision of every stored amount (10^-6).
const MicrosPerUnit = 1_000_000

var (
	microsDec = decimal.NewFromInt(MicrosPerUnit)
	maxMicros = decimal.NewFromInt(math.MaxInt64)
	minMicros = decimal.NewFromInt(math.MinInt64)
)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros to avoid floating point errors.
type Money struct {
	Amount   int64 // micros
	Currency Currency
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency Currency) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return MicrosToDecimal(m.Amount)
}

// MicrosToDecimal converts micros to whole units.
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(microsDec)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating sub-micro precision.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsDec).IntPart()
}

// ParseAmount parses a decimal string such as "0.05" into micros.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, Errorf(ErrValidation, "invalid amount %q", s)
	}
	micros := d.Mul(microsDec)
	if !micros.Equal(micros.Truncate(0)) {
		return 0, Errorf(ErrValidation, "amount %q has more than 6 decimal places", s)
	}
	if micros.GreaterThan(maxMicros) || micros.LessThan(minMicros) {
		return 0, Errorf(ErrValidation, "amount %q is out of range", s)
	}
	return micros.IntPart(), nil
}

// AddMicros returns a+b and false when the sum does not fit in an int64.
func AddMicros(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Multiply returns a new Money instance multiplied by a factor, rounding down.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return Money{
		Amount:   FromDecimal(m.ToDecimal().Mul(factor)),
		Currency: m.Currency,
	}
}

// Convert converts the money to a target currency using a given rate (target per source unit).
func (m Money) Convert(targetCurrency Currency, rate decimal.Decimal) Money {
	return Money{
		Amount:   FromDecimal(m.ToDecimal().Mul(rate)),
		Currency: targetCurrency,
	}
}

// DivideBy converts using a rate quoted as source units per target unit.
func (m Money) DivideBy(targetCurrency Currency, rate decimal.Decimal) Money {
	if rate.IsZero() {
		return Money{Currency: targetCurrency}
	}
	return Money{
		Amount:   FromDecimal(m.ToDecimal().Div(rate)),
		Currency: targetCurrency,
	}
}

// Fee returns the fee owed on m at rate (0.05 == 5%), rounded down to the micro.
func (m Money) Fee(rate decimal.Decimal) int64 {
	if rate.IsNegative() || rate.IsZero() {
		return 0
	}
	return FromDecimal(m.ToDecimal().Mul(rate))
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(6), m.Currency)
}
