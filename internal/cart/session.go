// Package cart holds the optimistic cart session. Mutations are applied to the
// local cart at once and reconciled with the commerce backend in the
// background, serialized per merchandise id.
package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const defaultWorkerSlots = 8

// Listener receives a copy of the cart after every local or reconciled change.
type Listener func(ctx context.Context, cart *commerce.Cart)

// LineStatus is the reconciliation read model for one merchandise id.
type LineStatus struct {
	MerchandiseID string          `json:"merchandise_id"`
	LineID        string          `json:"line_id,omitempty"`
	State         enums.LineState `json:"state"`
	Version       uint64          `json:"version"`
	Err           error           `json:"-"`
}

// Session is a handle on one optimistic cart.
type Session interface {
	ID() string
	Cart() *commerce.Cart
	Add(ctx context.Context, m commerce.Merchandise, quantity int) (*Ticket, error)
	Update(ctx context.Context, merchandiseID string, delta int) (*Ticket, error)
	SetQuantity(ctx context.Context, merchandiseID string, quantity int) (*Ticket, error)
	Delete(ctx context.Context, merchandiseID, lineID string) (*Ticket, error)
	Sync(ctx context.Context) (*commerce.Cart, error)
	Settle(ctx context.Context) error
	LineStatus(merchandiseID string) LineStatus
	Subscribe(fn Listener) (unsubscribe func())
}

// SessionParams groups dependencies for a cart session.
type SessionParams struct {
	Platform      commerce.Platform
	Executor      *resilience.Executor
	CartID        string
	Currency      enums.Currency
	FailurePolicy enums.FailurePolicy
	WorkerSlots   int
	Logger        *logger.Logger
	Metrics       *metrics.ReconcileMetrics
}

type lineState struct {
	state     enums.LineState
	version   uint64
	lineID    string
	confirmed *commerce.CartLine
	err       error
	tail      chan struct{}
}

// unsettled reports a mutation in flight or a failure not yet superseded.
func (st *lineState) unsettled() bool {
	return st.tail != nil || st.err != nil
}

type session struct {
	platform commerce.Platform
	exec     *resilience.Executor
	policy   enums.FailurePolicy
	currency enums.Currency
	logg     *logger.Logger
	metrics  *metrics.ReconcileMetrics
	slots    chan struct{}
	group    singleflight.Group

	mu        sync.Mutex
	cart      *commerce.Cart
	lines     map[string]*lineState
	nextID    int
	listeners map[int]Listener
}

// NewSession builds a cart session. CartID may be empty; the backend cart is
// created on the first mutation that needs one.
func NewSession(params SessionParams) (Session, error) {
	if params.Platform == nil {
		return nil, fmt.Errorf("commerce platform required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("resilience executor required")
	}
	policy := params.FailurePolicy
	if policy == "" {
		policy = enums.FailurePolicyKeep
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("invalid failure policy %q", policy)
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	slots := params.WorkerSlots
	if slots <= 0 {
		slots = defaultWorkerSlots
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &session{
		platform:  params.Platform,
		exec:      params.Executor,
		policy:    policy,
		currency:  currency,
		logg:      logg,
		metrics:   params.Metrics,
		slots:     make(chan struct{}, slots),
		cart:      commerce.NewCart(strings.TrimSpace(params.CartID), currency),
		lines:     map[string]*lineState{},
		listeners: map[int]Listener{},
	}, nil
}

func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ID
}

// Cart returns a copy of the current optimistic view.
func (s *session) Cart() *commerce.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Add merges quantity units of m into the cart.
func (s *session) Add(ctx context.Context, m commerce.Merchandise, quantity int) (*Ticket, error) {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchandise id is required").WithField("merchandise_id", "non-empty")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").WithField("quantity", ">= 1")
	}
	if m.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative").WithField("unit_price", ">= 0")
	}

	s.mu.Lock()
	s.cart.MergeAdd(m, quantity)
	mut := s.issueLocked(enums.MutationKindAdd, m.ID, quantity, "")
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	return s.dispatch(ctx, mut, snapshot), nil
}

// Update changes the quantity of an existing line by delta.
func (s *session) Update(ctx context.Context, merchandiseID string, delta int) (*Ticket, error) {
	return s.setQuantity(ctx, merchandiseID, func(current int) int { return current + delta })
}

// SetQuantity sets the quantity of an existing line; zero removes it.
func (s *session) SetQuantity(ctx context.Context, merchandiseID string, quantity int) (*Ticket, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative").WithField("quantity", ">= 0")
	}
	return s.setQuantity(ctx, merchandiseID, func(int) int { return quantity })
}

func (s *session) setQuantity(ctx context.Context, merchandiseID string, target func(current int) int) (*Ticket, error) {
	merchandiseID = strings.TrimSpace(merchandiseID)
	if merchandiseID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchandise id is required").WithField("merchandise_id", "non-empty")
	}

	s.mu.Lock()
	idx := s.cart.IndexByMerchandise(merchandiseID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, lineNotFound(merchandiseID)
	}
	line := s.cart.Lines[idx]
	quantity := max(target(line.Quantity), 0)
	s.cart.SetQuantityAt(idx, quantity)
	kind := enums.MutationKindUpdate
	if quantity == 0 {
		kind = enums.MutationKindRemove
	}
	mut := s.issueLocked(kind, merchandiseID, quantity, line.ID)
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	return s.dispatch(ctx, mut, snapshot), nil
}

// Delete removes a line, located by lineID first and merchandiseID second.
// A line found by neither yields a NOT_FOUND error and leaves the cart as is.
func (s *session) Delete(ctx context.Context, merchandiseID, lineID string) (*Ticket, error) {
	merchandiseID = strings.TrimSpace(merchandiseID)
	lineID = strings.TrimSpace(lineID)

	s.mu.Lock()
	idx := s.cart.IndexByID(lineID)
	if idx < 0 {
		idx = s.cart.IndexByMerchandise(merchandiseID)
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, lineNotFound(merchandiseID)
	}
	line := s.cart.Lines[idx]
	s.cart.RemoveAt(idx)
	mut := s.issueLocked(enums.MutationKindRemove, line.MerchandiseID, 0, line.ID)
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	return s.dispatch(ctx, mut, snapshot), nil
}

// Sync pulls the backend cart and adopts it, except for merchandise ids that
// still have mutations in flight or an unresolved failure, which keep their
// local line.
func (s *session) Sync(ctx context.Context) (*commerce.Cart, error) {
	cartID := s.ID()
	if cartID == "" {
		return s.Cart(), nil
	}
	remote, err := resilience.Execute(ctx, s.exec, "get_cart", func(ctx context.Context) (*commerce.Cart, error) {
		return s.platform.GetCart(ctx, cartID)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	currency := remote.Totals.Currency
	if currency == "" {
		currency = s.currency
	}
	merged := commerce.NewCart(remote.ID, currency)
	seen := map[string]bool{}
	for _, line := range remote.Lines {
		seen[line.MerchandiseID] = true
		st := s.lineLocked(line.MerchandiseID)
		if st.unsettled() {
			if local, ok := s.cart.Line(line.MerchandiseID); ok {
				merged.Lines = append(merged.Lines, local)
			}
			continue
		}
		confirmed := line
		st.lineID = line.ID
		st.confirmed = &confirmed
		if st.state == enums.LineStateIdle {
			st.state = enums.LineStateConfirmed
		}
		merged.Lines = append(merged.Lines, line)
	}
	for _, local := range s.cart.Lines {
		if seen[local.MerchandiseID] {
			continue
		}
		if st := s.lines[local.MerchandiseID]; st != nil && st.unsettled() {
			merged.Lines = append(merged.Lines, local)
		}
	}
	for merchandiseID, st := range s.lines {
		if !seen[merchandiseID] && !st.unsettled() {
			st.lineID = ""
			st.confirmed = nil
		}
	}
	merged.Recompute()
	s.cart = merged
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	s.notify(ctx, snapshot)
	return snapshot.Clone(), nil
}

// Settle waits for every mutation issued so far to be reconciled.
func (s *session) Settle(ctx context.Context) error {
	s.mu.Lock()
	tails := make([]chan struct{}, 0, len(s.lines))
	for _, st := range s.lines {
		if st.tail != nil {
			tails = append(tails, st.tail)
		}
	}
	s.mu.Unlock()

	for _, tail := range tails {
		select {
		case <-tail:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *session) LineStatus(merchandiseID string) LineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lines[merchandiseID]
	if !ok {
		return LineStatus{MerchandiseID: merchandiseID, State: enums.LineStateIdle}
	}
	lineID := st.lineID
	if line, ok := s.cart.Line(merchandiseID); ok && line.ID != "" {
		lineID = line.ID
	}
	return LineStatus{
		MerchandiseID: merchandiseID,
		LineID:        lineID,
		State:         st.state,
		Version:       st.version,
		Err:           st.err,
	}
}

func (s *session) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *session) lineLocked(merchandiseID string) *lineState {
	st, ok := s.lines[merchandiseID]
	if !ok {
		st = &lineState{state: enums.LineStateIdle}
		s.lines[merchandiseID] = st
	}
	return st
}

func (s *session) notify(ctx context.Context, snapshot *commerce.Cart) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, snapshot.Clone())
	}
}

func lineNotFound(merchandiseID string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found").
		WithField("merchandise_id", merchandiseID)
}
