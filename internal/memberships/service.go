package memberships

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
)

// Backend is the membership surface of the commerce platform.
type Backend interface {
	LookupMembership(ctx context.Context, customerID string) (*Membership, error)
	PurchaseMembership(ctx context.Context, customerID string) (*CheckoutRedirect, error)
	RenewMembership(ctx context.Context, customerID string) (*Membership, error)
	CancelMembership(ctx context.Context, customerID string) (*Membership, error)
	MembershipStats(ctx context.Context, customerID string) (*Stats, error)
}

// CheckoutProvider creates hosted checkout sessions for a membership purchase.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, customerID string) (*CheckoutRedirect, error)
}

// Listener is notified when a customer's membership changes.
type Listener func(ctx context.Context, m *Membership)

// Service defines the membership lifecycle surface.
type Service interface {
	Lookup(ctx context.Context, customerID string) (*Membership, error)
	Purchase(ctx context.Context, customerID string) (*CheckoutRedirect, error)
	Renew(ctx context.Context, customerID string) (*Membership, error)
	Cancel(ctx context.Context, customerID string) (*Membership, error)
	Stats(ctx context.Context, customerID string) (*Stats, error)
	Subscribe(fn Listener) (unsubscribe func())
}

// ServiceParams groups dependencies for the membership service.
type ServiceParams struct {
	Backend         Backend
	Checkout        CheckoutProvider
	DefaultDiscount decimal.Decimal
	Logger          *logger.Logger
}

type service struct {
	backend  Backend
	checkout CheckoutProvider
	discount decimal.Decimal
	logg     *logger.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	lastSeen  map[string]enums.MembershipStatus
}

// NewService builds a membership service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("membership backend required")
	}
	discount := params.DefaultDiscount
	if discount.IsZero() {
		discount = DefaultDiscountPercentage
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("default discount must be within [0,1], got %s", discount)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		backend:   params.Backend,
		checkout:  params.Checkout,
		discount:  discount,
		logg:      logg,
		listeners: map[int]Listener{},
		lastSeen:  map[string]enums.MembershipStatus{},
	}, nil
}

// Lookup fetches the live membership. Status changes since the previous
// lookup are pushed to subscribers.
func (s *service) Lookup(ctx context.Context, customerID string) (*Membership, error) {
	id, err := requireCustomer(customerID)
	if err != nil {
		return nil, err
	}
	m, err := s.backend.LookupMembership(ctx, id)
	if err != nil {
		return nil, err
	}
	m = s.normalize(id, m)
	if s.statusChanged(m) {
		s.publish(ctx, m)
	}
	return m, nil
}

// Purchase starts a membership checkout, preferring the hosted provider when configured.
func (s *service) Purchase(ctx context.Context, customerID string) (*CheckoutRedirect, error) {
	id, err := requireCustomer(customerID)
	if err != nil {
		return nil, err
	}
	var redirect *CheckoutRedirect
	if s.checkout != nil {
		redirect, err = s.checkout.CreateCheckout(ctx, id)
	} else {
		redirect, err = s.backend.PurchaseMembership(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if redirect == nil || strings.TrimSpace(redirect.URL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout redirect missing url")
	}
	s.logg.Info(s.logg.WithCustomerID(ctx, id), "membership checkout started")
	return redirect, nil
}

func (s *service) Renew(ctx context.Context, customerID string) (*Membership, error) {
	return s.mutate(ctx, customerID, "renew", s.backend.RenewMembership)
}

func (s *service) Cancel(ctx context.Context, customerID string) (*Membership, error) {
	return s.mutate(ctx, customerID, "cancel", s.backend.CancelMembership)
}

func (s *service) Stats(ctx context.Context, customerID string) (*Stats, error) {
	id, err := requireCustomer(customerID)
	if err != nil {
		return nil, err
	}
	stats, err := s.backend.MembershipStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = ZeroStats(id)
	}
	out := *stats
	out.CustomerID = id
	out.Source = enums.MembershipSourceLive
	return &out, nil
}

func (s *service) Subscribe(fn Listener) func() {
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

func (s *service) mutate(ctx context.Context, customerID, op string, call func(context.Context, string) (*Membership, error)) (*Membership, error) {
	id, err := requireCustomer(customerID)
	if err != nil {
		return nil, err
	}
	m, err := call(ctx, id)
	if err != nil {
		return nil, err
	}
	m = s.normalize(id, m)
	s.statusChanged(m)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"customer_id": id,
		"operation":   op,
		"status":      m.Status,
	}), "membership updated")
	s.publish(ctx, m)
	return m, nil
}

func (s *service) normalize(customerID string, m *Membership) *Membership {
	if m == nil {
		return &Membership{
			CustomerID: customerID,
			Status:     enums.MembershipStatusNone,
			Source:     enums.MembershipSourceLive,
		}
	}
	out := m.Clone()
	if out.CustomerID == "" {
		out.CustomerID = customerID
	}
	if status, err := enums.ParseMembershipStatus(string(out.Status)); err != nil {
		s.logg.Warn(s.logg.WithField(context.Background(), "status", string(out.Status)), "unknown membership status treated as none")
		out.Status = enums.MembershipStatusNone
	} else {
		out.Status = status
	}
	if out.Benefits.DiscountPercentage.IsZero() {
		out.Benefits.DiscountPercentage = s.discount
	}
	out.Source = enums.MembershipSourceLive
	return out
}

func (s *service) statusChanged(m *Membership) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.lastSeen[m.CustomerID]
	s.lastSeen[m.CustomerID] = m.Status
	return !seen || prev != m.Status
}

func (s *service) publish(ctx context.Context, m *Membership) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, m.Clone())
	}
}

func requireCustomer(customerID string) (string, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer id is required").
			WithField("customer_id", "non-empty string")
	}
	return id, nil
}
