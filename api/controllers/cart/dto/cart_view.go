package cartdto

import (
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/membercart"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/shopspring/decimal"
)

// AddLineRequest describes the merchandise being added and how many units.
type AddLineRequest struct {
	MerchandiseID string `json:"merchandise_id" validate:"required,max=128"`
	ProductID     string `json:"product_id" validate:"omitempty,max=128"`
	Handle        string `json:"handle" validate:"omitempty,max=256"`
	Title         string `json:"title" validate:"omitempty,max=256"`
	Image         string `json:"image" validate:"omitempty,max=1024"`
	CategoryID    string `json:"category_id" validate:"omitempty,max=128"`
	UnitPrice     string `json:"unit_price" validate:"required,money"`
	Quantity      int    `json:"quantity" validate:"min=1,max=999"`
}

// UpdateLineRequest sets the absolute quantity of a line. Zero removes it.
type UpdateLineRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,max=999"`
}

type Product struct {
	ID         string `json:"id"`
	Handle     string `json:"handle,omitempty"`
	Title      string `json:"title,omitempty"`
	Image      string `json:"image,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

type LineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type Line struct {
	LineID          string          `json:"line_id,omitempty"`
	MerchandiseID   string          `json:"merchandise_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       string          `json:"unit_price"`
	Cost            string          `json:"cost"`
	FinalPrice      string          `json:"final_price"`
	Savings         string          `json:"savings"`
	DiscountPercent string          `json:"discount_percentage"`
	Product         Product         `json:"product"`
	State           enums.LineState `json:"state"`
	Error           *LineError      `json:"error,omitempty"`
}

type Membership struct {
	CustomerID         string                 `json:"customer_id"`
	Status             enums.MembershipStatus `json:"status"`
	ExpiresAt          time.Time              `json:"expires_at"`
	Source             enums.MembershipSource `json:"source"`
	DiscountPercentage string                 `json:"discount_percentage"`
	FreeDelivery       bool                   `json:"free_delivery"`
	EligibleCategories []string               `json:"eligible_categories"`
}

type Stats struct {
	TotalSavings       string `json:"total_savings"`
	OrdersWithBenefits int    `json:"orders_with_benefits"`
	FreeDeliveriesUsed int    `json:"free_deliveries_used"`
}

// CartView is the enhanced cart as rendered by the storefront.
type CartView struct {
	ID               string         `json:"id,omitempty"`
	Currency         enums.Currency `json:"currency"`
	Lines            []Line         `json:"lines"`
	TotalQuantity    int            `json:"total_quantity"`
	Subtotal         string         `json:"subtotal"`
	Total            string         `json:"total"`
	TotalSavings     string         `json:"total_savings"`
	DiscountedTotal  string         `json:"discounted_total"`
	FreeDelivery     bool           `json:"free_delivery"`
	MembershipActive bool           `json:"membership_active"`
	Membership       *Membership    `json:"membership,omitempty"`
	Stats            *Stats         `json:"stats,omitempty"`
	ComputedAt       time.Time      `json:"computed_at"`
}

// Savings is the membership savings summary of the current cart.
type Savings struct {
	TotalSavings     string                 `json:"total_savings"`
	DiscountedTotal  string                 `json:"discounted_total"`
	MembershipActive bool                   `json:"membership_active"`
	Source           enums.MembershipSource `json:"source,omitempty"`
}

type FreeDelivery struct {
	Eligible bool `json:"eligible"`
}

// Validation is the outcome of a live membership check.
type Validation struct {
	Completed  bool        `json:"completed"`
	Active     bool        `json:"active"`
	Warning    string      `json:"warning,omitempty"`
	Membership *Membership `json:"membership,omitempty"`
}

func NewCartView(view *membercart.EnhancedCart) CartView {
	out := CartView{Lines: []Line{}}
	if view == nil || view.Cart == nil {
		return out
	}
	c := view.Cart
	money := moneyIn(c.Totals.Currency)
	out.ID = c.ID
	out.Currency = c.Totals.Currency
	out.TotalQuantity = c.TotalQuantity
	out.Subtotal = money(c.Totals.Subtotal)
	out.Total = money(c.Totals.Total)
	out.TotalSavings = money(view.Benefits.TotalSavings)
	out.DiscountedTotal = money(view.Benefits.DiscountedTotal)
	out.FreeDelivery = view.Benefits.FreeDelivery
	out.MembershipActive = view.Benefits.MembershipActive
	out.Membership = NewMembership(view.Membership)
	out.ComputedAt = view.ComputedAt
	if view.Stats != nil {
		out.Stats = &Stats{
			TotalSavings:       money(view.Stats.TotalSavings),
			OrdersWithBenefits: view.Stats.OrdersWithBenefits,
			FreeDeliveriesUsed: view.Stats.FreeDeliveriesUsed,
		}
	}

	statuses := make(map[string]cart.LineStatus, len(view.LineStatuses))
	for _, st := range view.LineStatuses {
		statuses[st.MerchandiseID] = st
	}
	for i, line := range c.Lines {
		item := Line{
			LineID:        line.ID,
			MerchandiseID: line.MerchandiseID,
			Quantity:      line.Quantity,
			UnitPrice:     money(line.UnitPrice),
			Cost:          money(line.Cost),
			FinalPrice:    money(line.Cost),
			Savings:       money(decimal.Zero),
			Product: Product{
				ID:         line.Product.ID,
				Handle:     line.Product.Handle,
				Title:      line.Product.Title,
				Image:      line.Product.Image,
				CategoryID: line.Product.CategoryID,
			},
			State: enums.LineStateIdle,
		}
		if i < len(view.Benefits.Lines) {
			calc := view.Benefits.Lines[i].Calculation
			item.FinalPrice = money(calc.FinalPrice)
			item.Savings = money(calc.Savings)
			item.DiscountPercent = calc.DiscountPercentage.String()
		}
		if st, ok := statuses[line.MerchandiseID]; ok {
			item.State = st.State
			item.Error = lineError(st.Err)
		}
		out.Lines = append(out.Lines, item)
	}
	return out
}

func NewSavings(view *membercart.EnhancedCart) Savings {
	if view == nil {
		money := moneyIn("")
		return Savings{TotalSavings: money(decimal.Zero), DiscountedTotal: money(decimal.Zero)}
	}
	var currency enums.Currency
	if view.Cart != nil {
		currency = view.Cart.Totals.Currency
	}
	money := moneyIn(currency)
	return Savings{
		TotalSavings:     money(view.Benefits.TotalSavings),
		DiscountedTotal:  money(view.Benefits.DiscountedTotal),
		MembershipActive: view.Benefits.MembershipActive,
		Source:           view.MembershipSource(),
	}
}

func NewValidation(res membercart.ValidationResult) Validation {
	return Validation{
		Completed:  res.Completed,
		Active:     res.Active,
		Warning:    res.Warning,
		Membership: NewMembership(res.Membership),
	}
}

func NewMembership(m *memberships.Membership) *Membership {
	if m == nil {
		return nil
	}
	categories := m.Benefits.EligibleCategories
	if categories == nil {
		categories = []string{}
	}
	return &Membership{
		CustomerID:         m.CustomerID,
		Status:             m.Status,
		ExpiresAt:          m.ExpiresAt,
		Source:             m.Source,
		DiscountPercentage: m.Benefits.DiscountPercentage.String(),
		FreeDelivery:       m.Benefits.FreeDelivery,
		EligibleCategories: categories,
	}
}

func lineError(err error) *LineError {
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return &LineError{Code: string(pkgerrors.CodeInternal), Message: pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage}
	}
	return &LineError{
		Code:    string(typed.Code()),
		Message: pkgerrors.MetadataFor(typed.Code()).PublicMessage,
		Action:  string(typed.Action()),
	}
}

// moneyIn renders amounts with the minor units of currency.
func moneyIn(currency enums.Currency) func(decimal.Decimal) string {
	places := currency.Decimals()
	return func(d decimal.Decimal) string {
		return d.StringFixed(places)
	}
}
