package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a decimal price into the provider's integer minor units
// (pence, cents). Half values round away from zero, so 0.005 becomes 1.
func MinorUnits(price decimal.Decimal) (int64, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, price.String())
	}
	return price.Mul(hundred).Round(0).IntPart(), nil
}
