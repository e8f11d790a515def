// Package benefits derives membership pricing. Every function is pure and
// takes the current time explicitly; none of them return errors.
package benefits

import (
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

var one = decimal.NewFromInt(1)

// DiscountCalculation is the derived pricing of one price/category pair.
type DiscountCalculation struct {
	OriginalPrice      decimal.Decimal `json:"original_price"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	FinalPrice         decimal.Decimal `json:"final_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Savings            decimal.Decimal `json:"savings"`
}

func noDiscount(price decimal.Decimal) DiscountCalculation {
	return DiscountCalculation{
		OriginalPrice:      price,
		DiscountAmount:     decimal.Zero,
		FinalPrice:         price,
		DiscountPercentage: decimal.Zero,
		Savings:            decimal.Zero,
	}
}

// CalculateDiscount applies the membership percentage to price when the
// membership is active at now and covers categoryID.
func CalculateDiscount(price decimal.Decimal, categoryID string, m *memberships.Membership, now time.Time) DiscountCalculation {
	if !price.IsPositive() || !m.IsActive(now) || !m.Benefits.Covers(categoryID) {
		return noDiscount(price)
	}

	pct := clampPercentage(m.Benefits.DiscountPercentage)
	discount := price.Mul(pct).Round(moneyPlaces)
	if discount.GreaterThan(price) {
		discount = price
	}
	return DiscountCalculation{
		OriginalPrice:      price,
		DiscountAmount:     discount,
		FinalPrice:         price.Sub(discount),
		DiscountPercentage: pct,
		Savings:            discount,
	}
}

// IsEligibleForFreeDelivery reports an active membership expiring strictly after now.
func IsEligibleForFreeDelivery(m *memberships.Membership, now time.Time) bool {
	return m.IsActive(now)
}

func clampPercentage(pct decimal.Decimal) decimal.Decimal {
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(one):
		return one
	default:
		return pct
	}
}
