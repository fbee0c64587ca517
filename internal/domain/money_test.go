package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, CurrencyJY) // 10.50 JY
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	micros := FromDecimal(d)
	assert.Equal(t, int64(10_500_000), micros)
}

func TestParseAmount(t *testing.T) {
	micros, err := ParseAmount("0.05")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), micros)

	micros, err = ParseAmount(" 0.049 ")
	require.NoError(t, err)
	assert.Equal(t, int64(49_000), micros)

	_, err = ParseAmount("1.0000001")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseAmount("abc")
	assert.True(t, errors.Is(err, ErrValidation))

	micros, err = ParseAmount("9223372036854.775807")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), micros)

	for _, raw := range []string{"20000000000000", "9223372036854.775808", "-20000000000000"} {
		_, err = ParseAmount(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrValidation), raw)
	}
}

func TestAddMicros(t *testing.T) {
	sum, ok := AddMicros(5, -7)
	assert.True(t, ok)
	assert.Equal(t, int64(-2), sum)

	_, ok = AddMicros(math.MaxInt64, 1)
	assert.False(t, ok)
	_, ok = AddMicros(math.MinInt64, -1)
	assert.False(t, ok)
}

func TestMoney_Convert(t *testing.T) {
	// 100 JY at 0.25 USD per JY
	source := NewMoney(100_000_000, CurrencyJY)
	target := source.Convert(CurrencyJY, decimal.RequireFromString("0.25"))
	assert.Equal(t, int64(25_000_000), target.Amount)
}

func TestMoney_DivideBy(t *testing.T) {
	// 250 CE at 100 CE per JY -> 2.5 JY
	source := NewMoney(250_000_000, CurrencyCE)
	target := source.DivideBy(CurrencyJY, decimal.NewFromInt(100))
	assert.Equal(t, CurrencyJY, target.Currency)
	assert.Equal(t, int64(2_500_000), target.Amount)

	assert.Equal(t, int64(0), source.DivideBy(CurrencyJY, decimal.Zero).Amount)
}

func TestMoney_Fee(t *testing.T) {
	m := NewMoney(10_000_000, CurrencyCMT)
	assert.Equal(t, int64(500_000), m.Fee(decimal.RequireFromString("0.05")))
	assert.Equal(t, int64(0), m.Fee(decimal.Zero))
	assert.Equal(t, int64(0), m.Fee(decimal.NewFromInt(-1)))
}

func TestErrorsCarryCodes(t *testing.T) {
	err := Errorf(ErrInsufficientFunds, "wallet %s", "w1")
	de, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "INSUFFICIENT_FUNDS", de.Code)
	assert.True(t, IsBusiness(err))
	assert.False(t, IsBusiness(ErrFatalInfrastructure))
	assert.False(t, IsBusiness(errors.New("boom")))
}
