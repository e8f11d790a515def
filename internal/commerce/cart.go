package commerce

import (
	"slices"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/shopspring/decimal"
)

// ProductSummary is the lightweight product reference carried by a cart line.
type ProductSummary struct {
	ID         string `json:"id"`
	Handle     string `json:"handle"`
	Title      string `json:"title"`
	Image      string `json:"image,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

// Merchandise is a purchasable variant with its list price.
type Merchandise struct {
	ID        string          `json:"id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Product   ProductSummary  `json:"product"`
}

type CartLine struct {
	ID            string          `json:"id,omitempty"`
	MerchandiseID string          `json:"merchandise_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Cost          decimal.Decimal `json:"cost"`
	Product       ProductSummary  `json:"product"`
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
	Currency enums.Currency  `json:"currency"`
}

// Cart mirrors the backend cart. Totals and TotalQuantity are derived from
// Lines by Recompute and never edited on their own.
type Cart struct {
	ID            string     `json:"id,omitempty"`
	Lines         []CartLine `json:"lines"`
	Totals        Totals     `json:"totals"`
	TotalQuantity int        `json:"total_quantity"`
}

// LineInput is one entry of an add or update call.
type LineInput struct {
	LineID        string `json:"line_id,omitempty"`
	MerchandiseID string `json:"merchandise_id"`
	Quantity      int    `json:"quantity"`
}

func NewCart(id string, currency enums.Currency) *Cart {
	c := &Cart{ID: id, Lines: []CartLine{}, Totals: Totals{Currency: currency}}
	c.Recompute()
	return c
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Lines = slices.Clone(c.Lines)
	if out.Lines == nil {
		out.Lines = []CartLine{}
	}
	return &out
}

// Reprice sets the line cost to its list price times quantity. Only lines
// edited locally are repriced; lines read from the backend keep the cost it
// reported, promotions included.
func (l *CartLine) Reprice() {
	l.Cost = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Recompute rebuilds the aggregate totals as the sum of line costs.
func (c *Cart) Recompute() {
	subtotal := decimal.Zero
	quantity := 0
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.Cost)
		quantity += line.Quantity
	}
	c.Totals.Subtotal = subtotal
	c.Totals.Total = subtotal
	c.TotalQuantity = quantity
}

// IndexByID returns the index of the line with the given backend id, or -1.
func (c *Cart) IndexByID(lineID string) int {
	if lineID == "" {
		return -1
	}
	return slices.IndexFunc(c.Lines, func(l CartLine) bool { return l.ID == lineID })
}

// IndexByMerchandise returns the index of the line for merchandiseID, or -1.
func (c *Cart) IndexByMerchandise(merchandiseID string) int {
	if merchandiseID == "" {
		return -1
	}
	return slices.IndexFunc(c.Lines, func(l CartLine) bool { return l.MerchandiseID == merchandiseID })
}

// Line returns a copy of the line for merchandiseID.
func (c *Cart) Line(merchandiseID string) (CartLine, bool) {
	idx := c.IndexByMerchandise(merchandiseID)
	if idx < 0 {
		return CartLine{}, false
	}
	return c.Lines[idx], true
}

// MergeAdd folds quantity units of m into the cart: an existing line for the
// same merchandise grows, otherwise a new line is appended.
func (c *Cart) MergeAdd(m Merchandise, quantity int) {
	if quantity <= 0 {
		return
	}
	if idx := c.IndexByMerchandise(m.ID); idx >= 0 {
		line := &c.Lines[idx]
		line.Quantity += quantity
		if line.UnitPrice.IsZero() && !m.UnitPrice.IsZero() {
			line.UnitPrice = m.UnitPrice
		}
		line.Reprice()
	} else {
		line := CartLine{
			MerchandiseID: m.ID,
			Quantity:      quantity,
			UnitPrice:     m.UnitPrice,
			Product:       m.Product,
		}
		line.Reprice()
		c.Lines = append(c.Lines, line)
	}
	c.Recompute()
}

// SetQuantityAt sets the quantity of the line at idx; zero or less removes it.
func (c *Cart) SetQuantityAt(idx, quantity int) {
	if idx < 0 || idx >= len(c.Lines) {
		return
	}
	if quantity <= 0 {
		c.RemoveAt(idx)
		return
	}
	c.Lines[idx].Quantity = quantity
	c.Lines[idx].Reprice()
	c.Recompute()
}

func (c *Cart) RemoveAt(idx int) {
	if idx < 0 || idx >= len(c.Lines) {
		return
	}
	c.Lines = slices.Delete(c.Lines, idx, idx+1)
	c.Recompute()
}

// ReplaceLine swaps the line for line.MerchandiseID with line, appending it
// when absent. line.Cost is taken as given.
func (c *Cart) ReplaceLine(line CartLine) {
	if idx := c.IndexByMerchandise(line.MerchandiseID); idx >= 0 {
		c.Lines[idx] = line
	} else {
		c.Lines = append(c.Lines, line)
	}
	c.Recompute()
}
