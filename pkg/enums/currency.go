package enums

import (
	"fmt"
	"strings"
)

// Currency is the ISO 4217 code carts are priced in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyJPY Currency = "JPY"
)

// minorUnits is the number of fractional digits shown for each currency.
var minorUnits = map[Currency]int32{
	CurrencyUSD: 2,
	CurrencyEUR: 2,
	CurrencyGBP: 2,
	CurrencyCAD: 2,
	CurrencyJPY: 0,
}

func (c Currency) String() string {
	return string(c)
}

func (c Currency) IsValid() bool {
	_, ok := minorUnits[c]
	return ok
}

// Decimals returns how many fractional digits amounts in c are rendered
// with; unknown currencies fall back to 2.
func (c Currency) Decimals() int32 {
	if places, ok := minorUnits[c]; ok {
		return places
	}
	return 2
}

// ParseCurrency accepts any casing and surrounding whitespace.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
