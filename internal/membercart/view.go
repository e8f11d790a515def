package membercart

import (
	"time"

	"github.com/angelmondragon/storefront-cart/internal/benefits"
	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
)

// EnhancedCart is the cart merged with its membership pricing. Views are
// rebuilt on every change and never modified afterwards.
type EnhancedCart struct {
	Cart         *commerce.Cart          `json:"cart"`
	Benefits     benefits.CartBenefits   `json:"benefits"`
	Membership   *memberships.Membership `json:"membership,omitempty"`
	Stats        *memberships.Stats      `json:"stats,omitempty"`
	LineStatuses []cart.LineStatus       `json:"line_statuses"`
	ComputedAt   time.Time               `json:"computed_at"`
}

// MembershipSource reports where the membership in the view came from.
func (v *EnhancedCart) MembershipSource() enums.MembershipSource {
	if v == nil || v.Membership == nil {
		return ""
	}
	return v.Membership.Source
}

// ValidationResult is the outcome of a live membership check. A check that
// could not reach the backend is not Completed and carries a Warning; it
// never blocks checkout.
type ValidationResult struct {
	Completed  bool                    `json:"completed"`
	Active     bool                    `json:"active"`
	Membership *memberships.Membership `json:"membership,omitempty"`
	Warning    string                  `json:"warning,omitempty"`
	Err        error                   `json:"-"`
}

func buildView(c *commerce.Cart, statuses []cart.LineStatus, m *memberships.Membership, stats *memberships.Stats, now time.Time) *EnhancedCart {
	if c == nil {
		c = commerce.NewCart("", enums.CurrencyUSD)
	}
	view := &EnhancedCart{
		Cart:         c,
		Benefits:     benefits.ForCart(c, m, now),
		Membership:   m.Clone(),
		LineStatuses: statuses,
		ComputedAt:   now,
	}
	if stats != nil {
		copied := *stats
		view.Stats = &copied
	}
	return view
}
