package benefits

import (
	"time"

	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/shopspring/decimal"
)

// LineBenefit annotates one cart line with its membership pricing.
type LineBenefit struct {
	LineID        string              `json:"line_id,omitempty"`
	MerchandiseID string              `json:"merchandise_id"`
	CategoryID    string              `json:"category_id,omitempty"`
	Calculation   DiscountCalculation `json:"calculation"`
}

// CartBenefits is the membership projection over a whole cart.
type CartBenefits struct {
	Lines            []LineBenefit   `json:"lines"`
	TotalSavings     decimal.Decimal `json:"total_savings"`
	DiscountedTotal  decimal.Decimal `json:"discounted_total"`
	FreeDelivery     bool            `json:"free_delivery"`
	MembershipActive bool            `json:"membership_active"`
}

// ForCart prices every line of cart against m at now. Discounts are taken on
// the line cost so rounding happens once per line.
func ForCart(cart *commerce.Cart, m *memberships.Membership, now time.Time) CartBenefits {
	out := CartBenefits{
		Lines:            []LineBenefit{},
		TotalSavings:     decimal.Zero,
		DiscountedTotal:  decimal.Zero,
		MembershipActive: m.IsActive(now),
		FreeDelivery:     IsEligibleForFreeDelivery(m, now),
	}
	if cart == nil {
		return out
	}
	for _, line := range cart.Lines {
		calc := CalculateDiscount(line.Cost, line.Product.CategoryID, m, now)
		out.Lines = append(out.Lines, LineBenefit{
			LineID:        line.ID,
			MerchandiseID: line.MerchandiseID,
			CategoryID:    line.Product.CategoryID,
			Calculation:   calc,
		})
		out.TotalSavings = out.TotalSavings.Add(calc.Savings)
		out.DiscountedTotal = out.DiscountedTotal.Add(calc.FinalPrice)
	}
	return out
}
