package memberships

import (
	"slices"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/shopspring/decimal"
)

// DefaultDiscountPercentage applies when the backend omits a percentage.
var DefaultDiscountPercentage = decimal.RequireFromString("0.15")

// Benefits describes what an active membership grants.
type Benefits struct {
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	FreeDelivery       bool            `json:"free_delivery"`
	EligibleCategories []string        `json:"eligible_categories"`
}

// Covers reports whether categoryID is in the eligible set.
func (b Benefits) Covers(categoryID string) bool {
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return false
	}
	return slices.Contains(b.EligibleCategories, id)
}

// Membership is the customer's paid membership as last reported by the backend.
type Membership struct {
	CustomerID string                 `json:"customer_id"`
	Status     enums.MembershipStatus `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	Benefits   Benefits               `json:"benefits"`
	Source     enums.MembershipSource `json:"source,omitempty"`
}

// IsActive reports status active with an expiration strictly after now.
func (m *Membership) IsActive(now time.Time) bool {
	if m == nil {
		return false
	}
	return m.Status == enums.MembershipStatusActive && m.ExpiresAt.After(now)
}

func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	out := *m
	out.Benefits.EligibleCategories = slices.Clone(m.Benefits.EligibleCategories)
	return &out
}

// Stats aggregates what a customer has gained from the membership so far.
type Stats struct {
	CustomerID         string                 `json:"customer_id"`
	TotalSavings       decimal.Decimal        `json:"total_savings"`
	OrdersWithBenefits int                    `json:"orders_with_benefits"`
	FreeDeliveriesUsed int                    `json:"free_deliveries_used"`
	Source             enums.MembershipSource `json:"source,omitempty"`
}

// ZeroStats is the conservative stats value used when nothing better is known.
func ZeroStats(customerID string) *Stats {
	return &Stats{
		CustomerID:   customerID,
		TotalSavings: decimal.Zero,
		Source:       enums.MembershipSourceFallback,
	}
}

// CheckoutRedirect points the customer at a hosted purchase flow.
type CheckoutRedirect struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}
