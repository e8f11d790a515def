package commerce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/google/uuid"
)

// Operation names used for fault injection and call counting.
const (
	OpCreateCart       = "create_cart"
	OpGetCart          = "get_cart"
	OpAddLines         = "add_lines"
	OpRemoveLines      = "remove_lines"
	OpUpdateLines      = "update_lines"
	OpLookupMembership = "lookup_membership"
	OpPurchase         = "purchase_membership"
	OpRenew            = "renew_membership"
	OpCancel           = "cancel_membership"
	OpStats            = "membership_stats"
)

const membershipTerm = 365 * 24 * time.Hour

// Hook runs before an operation is applied. A non-nil error is returned to the caller.
type Hook func(ctx context.Context) error

// MemoryPlatform is an in-process backend applying the same folding rules as
// the real one. It backs local runs and tests, and supports fault injection.
type MemoryPlatform struct {
	mu          sync.Mutex
	currency    enums.Currency
	catalog     map[string]Merchandise
	carts       map[string]*Cart
	memberships map[string]*memberships.Membership
	stats       map[string]*memberships.Stats
	faults      map[string][]error
	hooks       map[string]Hook
	calls       map[string]int
	nextLine    int
	offline     bool
	now         func() time.Time
}

func NewMemoryPlatform(currency enums.Currency, catalog ...Merchandise) *MemoryPlatform {
	p := &MemoryPlatform{
		currency:    currency,
		catalog:     map[string]Merchandise{},
		carts:       map[string]*Cart{},
		memberships: map[string]*memberships.Membership{},
		stats:       map[string]*memberships.Stats{},
		faults:      map[string][]error{},
		hooks:       map[string]Hook{},
		calls:       map[string]int{},
		now:         time.Now,
	}
	p.AddMerchandise(catalog...)
	return p
}

func (p *MemoryPlatform) AddMerchandise(items ...Merchandise) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range items {
		p.catalog[m.ID] = m
	}
}

func (p *MemoryPlatform) SetMembership(m *memberships.Membership) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memberships[m.CustomerID] = m.Clone()
}

func (p *MemoryPlatform) SetStats(s *memberships.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := *s
	p.stats[s.CustomerID] = &out
}

// FailNext queues errors returned by the next calls to op, one per call.
func (p *MemoryPlatform) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op] = append(p.faults[op], errs...)
}

// OnCall installs a hook for op; pass nil to clear it.
func (p *MemoryPlatform) OnCall(op string, hook Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hook == nil {
		delete(p.hooks, op)
		return
	}
	p.hooks[op] = hook
}

// Calls returns how many times op was invoked, failed calls included.
func (p *MemoryPlatform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *MemoryPlatform) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}

func (p *MemoryPlatform) IsOffline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offline
}

// SetClock replaces the platform clock.
func (p *MemoryPlatform) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *MemoryPlatform) CreateCart(ctx context.Context) (*Cart, error) {
	if err := p.enter(ctx, OpCreateCart); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cart := NewCart(uuid.NewString(), p.currency)
	p.carts[cart.ID] = cart
	return cart.Clone(), nil
}

func (p *MemoryPlatform) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	if err := p.enter(ctx, OpGetCart); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cart, err := p.cartLocked(cartID)
	if err != nil {
		return nil, err
	}
	return cart.Clone(), nil
}

func (p *MemoryPlatform) AddLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error) {
	if err := p.enter(ctx, OpAddLines); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cart, err := p.cartLocked(cartID)
	if err != nil {
		return nil, err
	}
	for _, in := range lines {
		if in.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").WithField("quantity", ">= 1")
		}
		m, ok := p.catalog[in.MerchandiseID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("merchandise %s not found", in.MerchandiseID)).
				WithField("merchandise_id", in.MerchandiseID)
		}
		idx := cart.IndexByMerchandise(m.ID)
		if idx >= 0 {
			cart.Lines[idx].Quantity += in.Quantity
			cart.Lines[idx].UnitPrice = m.UnitPrice
			cart.Lines[idx].Reprice()
			continue
		}
		p.nextLine++
		line := CartLine{
			ID:            fmt.Sprintf("line-%d", p.nextLine),
			MerchandiseID: m.ID,
			Quantity:      in.Quantity,
			UnitPrice:     m.UnitPrice,
			Product:       m.Product,
		}
		line.Reprice()
		cart.Lines = append(cart.Lines, line)
	}
	cart.Recompute()
	return cart.Clone(), nil
}

func (p *MemoryPlatform) RemoveLines(ctx context.Context, cartID string, lineIDs []string) (*Cart, error) {
	if err := p.enter(ctx, OpRemoveLines); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cart, err := p.cartLocked(cartID)
	if err != nil {
		return nil, err
	}
	for _, id := range lineIDs {
		idx := cart.IndexByID(id)
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("line %s not found", id)).WithField("line_id", id)
		}
		cart.RemoveAt(idx)
	}
	return cart.Clone(), nil
}

func (p *MemoryPlatform) UpdateLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error) {
	if err := p.enter(ctx, OpUpdateLines); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cart, err := p.cartLocked(cartID)
	if err != nil {
		return nil, err
	}
	for _, in := range lines {
		idx := cart.IndexByID(in.LineID)
		if idx < 0 {
			idx = cart.IndexByMerchandise(in.MerchandiseID)
		}
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "line not found").WithField("line_id", in.LineID)
		}
		if in.Quantity < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative").WithField("quantity", ">= 0")
		}
		cart.SetQuantityAt(idx, in.Quantity)
	}
	return cart.Clone(), nil
}

func (p *MemoryPlatform) LookupMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	if err := p.enter(ctx, OpLookupMembership); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.memberships[customerID]; ok {
		return m.Clone(), nil
	}
	return &memberships.Membership{CustomerID: customerID, Status: enums.MembershipStatusNone}, nil
}

func (p *MemoryPlatform) PurchaseMembership(ctx context.Context, customerID string) (*memberships.CheckoutRedirect, error) {
	if err := p.enter(ctx, OpPurchase); err != nil {
		return nil, err
	}
	ref := uuid.NewString()
	return &memberships.CheckoutRedirect{
		Reference: ref,
		URL:       "memory://checkout/" + customerID + "/" + ref,
	}, nil
}

func (p *MemoryPlatform) RenewMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	if err := p.enter(ctx, OpRenew); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memberships[customerID]
	if !ok || m.Status == enums.MembershipStatusNone {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found").WithAction(pkgerrors.ActionRenewMembership)
	}
	now := p.now()
	from := m.ExpiresAt
	if from.Before(now) {
		from = now
	}
	m.Status = enums.MembershipStatusActive
	m.ExpiresAt = from.Add(membershipTerm)
	return m.Clone(), nil
}

func (p *MemoryPlatform) CancelMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	if err := p.enter(ctx, OpCancel); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memberships[customerID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
	}
	m.Status = enums.MembershipStatusExpired
	m.ExpiresAt = p.now()
	return m.Clone(), nil
}

func (p *MemoryPlatform) MembershipStats(ctx context.Context, customerID string) (*memberships.Stats, error) {
	if err := p.enter(ctx, OpStats); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stats[customerID]; ok {
		out := *s
		return &out, nil
	}
	return memberships.ZeroStats(customerID), nil
}

// enter counts the call, runs the hook outside the lock, then pops a queued fault.
func (p *MemoryPlatform) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	hook := p.hooks[op]
	offline := p.offline
	p.mu.Unlock()

	if offline {
		return pkgerrors.New(pkgerrors.CodeNetwork, "commerce backend unreachable")
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, op)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if queue := p.faults[op]; len(queue) > 0 {
		err := queue[0]
		p.faults[op] = queue[1:]
		return err
	}
	return nil
}

func (p *MemoryPlatform) cartLocked(cartID string) (*Cart, error) {
	if cartID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required").WithField("cart_id", "non-empty string")
	}
	cart, ok := p.carts[cartID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found").WithField("cart_id", cartID)
	}
	return cart, nil
}
