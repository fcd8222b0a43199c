// Package money holds the fixed-point rules shared by every tax computation:
// currency minor units, banker's rounding and home-currency conversion.
package money

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// RatePlaces is the number of fractional digits kept for rates.
const RatePlaces = 6

// ErrMissingRate is returned when a foreign amount is converted without an exchange rate.
var ErrMissingRate = eris.New("money: exchange rate required for foreign currency amount")

var minorUnits = map[string]int32{
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
}

// Places returns the number of minor-unit digits of a currency (2 unless listed).
func Places(currency string) int32 {
	if p, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return p
	}
	return 2
}

// MinorUnit returns the value of one minor unit, e.g. 0.01 for USD.
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -Places(currency))
}

// Round rounds half-to-even to the currency's minor unit.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(Places(currency))
}

// RoundRate normalises a rate to RatePlaces digits.
func RoundRate(rate decimal.Decimal) decimal.Decimal {
	return rate.Round(RatePlaces)
}

// WithinUnits reports whether |a-b| is at most n minor units of the currency.
func WithinUnits(a, b decimal.Decimal, n int64, currency string) bool {
	limit := MinorUnit(currency).Mul(decimal.NewFromInt(n))
	return a.Sub(b).Abs().LessThanOrEqual(limit)
}

// Converter turns transaction-currency amounts into home-currency amounts.
type Converter struct {
	from string
	home string
	rate decimal.Decimal
}

// NewConverter builds a converter from one currency to the home currency.
// Same-currency conversion is the identity and needs no rate; otherwise a positive rate is mandatory.
func NewConverter(from, home string, rate *decimal.Decimal) (Converter, error) {
	from = strings.ToUpper(from)
	home = strings.ToUpper(home)
	if from == home || from == "" {
		return Converter{from: home, home: home, rate: decimal.NewFromInt(1)}, nil
	}
	if rate == nil || !rate.IsPositive() {
		return Converter{}, eris.Wrapf(ErrMissingRate, "%s -> %s", from, home)
	}
	return Converter{from: from, home: home, rate: *rate}, nil
}

// Identity reports whether the converter is a same-currency conversion.
func (c Converter) Identity() bool {
	return c.from == c.home
}

// Rate returns the applied exchange rate.
func (c Converter) Rate() decimal.Decimal {
	return c.rate
}

// ToHome converts and rounds to the home currency's minor unit.
func (c Converter) ToHome(amount decimal.Decimal) decimal.Decimal {
	if c.Identity() {
		return amount
	}
	return Round(amount.Mul(c.rate), c.home)
}
