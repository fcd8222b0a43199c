package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound_HalfToEven(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"half_down_to_even", "0.125", "USD", "0.12"},
		{"half_up_to_even", "0.135", "USD", "0.14"},
		{"above_half", "8.8751", "USD", "8.88"},
		{"negative_half", "-0.125", "USD", "-0.12"},
		{"zero_decimal_currency", "104.5", "JPY", "104"},
		{"three_decimal_currency", "1.2345", "KWD", "1.234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Round(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestMinorUnit(t *testing.T) {
	assert.True(t, MinorUnit("usd").Equal(decimal.RequireFromString("0.01")))
	assert.True(t, MinorUnit("JPY").Equal(decimal.NewFromInt(1)))
}

func TestWithinUnits(t *testing.T) {
	a := decimal.RequireFromString("13.00")
	assert.True(t, WithinUnits(a, decimal.RequireFromString("13.01"), 1, "USD"))
	assert.False(t, WithinUnits(a, decimal.RequireFromString("13.02"), 1, "USD"))
}

func TestConverter(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		c, err := NewConverter("cad", "CAD", nil)
		require.NoError(t, err)
		assert.True(t, c.Identity())
		assert.True(t, c.ToHome(decimal.RequireFromString("10.05")).Equal(decimal.RequireFromString("10.05")))
	})

	t.Run("missing_rate", func(t *testing.T) {
		_, err := NewConverter("USD", "CAD", nil)
		assert.ErrorIs(t, err, ErrMissingRate)
	})

	t.Run("zero_rate", func(t *testing.T) {
		zero := decimal.Zero
		_, err := NewConverter("USD", "CAD", &zero)
		assert.ErrorIs(t, err, ErrMissingRate)
	})

	t.Run("converts_and_rounds", func(t *testing.T) {
		rate := decimal.RequireFromString("1.365")
		c, err := NewConverter("USD", "CAD", &rate)
		require.NoError(t, err)
		assert.True(t, c.ToHome(decimal.RequireFromString("13.00")).Equal(decimal.RequireFromString("17.74")))
	})
}
