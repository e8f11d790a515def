// Package membercart merges the optimistic cart with membership pricing and
// keeps the merged view current as either side changes.
package membercart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/benefits"
	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const validationWarning = "membership status could not be verified; continuing with the last known status"

// Service exposes cart mutations priced against the customer's membership.
type Service interface {
	AddToCartWithBenefits(ctx context.Context, m commerce.Merchandise, quantity int) (*EnhancedCart, error)
	RemoveFromCartWithBenefits(ctx context.Context, merchandiseID, lineID string) (*EnhancedCart, error)
	UpdateQuantityWithBenefits(ctx context.Context, merchandiseID string, quantity int) (*EnhancedCart, error)
	GetMembershipSavings() decimal.Decimal
	IsEligibleForFreeDelivery() bool
	ValidateMembershipStatus(ctx context.Context) ValidationResult
	EnhancedCart() *EnhancedCart
	LoadMembership(ctx context.Context) error
	SetCustomer(ctx context.Context, customerID string) error
	CustomerID() string
	Refresh(ctx context.Context) (*EnhancedCart, error)
	Session() cart.Session
	Close()
}

// ServiceParams groups dependencies for the reconciliation service. Cache
// and Fallbacks are optional; without them a backend failure leaves the
// customer without benefits.
type ServiceParams struct {
	Session     cart.Session
	Memberships memberships.Service
	Executor    *resilience.Executor
	Cache       *resilience.SnapshotCache
	Fallbacks   *resilience.Fallbacks
	CustomerID  string
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	session   cart.Session
	members   memberships.Service
	exec      *resilience.Executor
	cache     *resilience.SnapshotCache
	fallbacks *resilience.Fallbacks
	logg      *logger.Logger
	now       func() time.Time

	recomputeMu sync.Mutex

	mu         sync.RWMutex
	customerID string
	membership *memberships.Membership
	stats      *memberships.Stats
	view       *EnhancedCart
	unsubs     []func()
}

// NewService wires the reconciliation service to a cart session and the
// membership service. It does not load the membership; call LoadMembership
// or SetCustomer for that.
func NewService(params ServiceParams) (Service, error) {
	if params.Session == nil {
		return nil, fmt.Errorf("cart session required")
	}
	if params.Memberships == nil {
		return nil, fmt.Errorf("membership service required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("resilience executor required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	s := &service{
		session:    params.Session,
		members:    params.Memberships,
		exec:       params.Executor,
		cache:      params.Cache,
		fallbacks:  params.Fallbacks,
		logg:       logg,
		now:        now,
		customerID: strings.TrimSpace(params.CustomerID),
	}
	s.unsubs = append(s.unsubs,
		s.session.Subscribe(s.onCartChanged),
		s.members.Subscribe(s.onMembershipChanged),
	)
	s.recompute()
	return s, nil
}

func (s *service) Session() cart.Session {
	return s.session
}

func (s *service) CustomerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customerID
}

// AddToCartWithBenefits adds merchandise and returns the reconciled view.
// On reconciliation failure the current view is returned with the error.
func (s *service) AddToCartWithBenefits(ctx context.Context, m commerce.Merchandise, quantity int) (*EnhancedCart, error) {
	ticket, err := s.session.Add(ctx, m, quantity)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, ticket)
}

// RemoveFromCartWithBenefits removes a line and returns the reconciled view.
func (s *service) RemoveFromCartWithBenefits(ctx context.Context, merchandiseID, lineID string) (*EnhancedCart, error) {
	ticket, err := s.session.Delete(ctx, merchandiseID, lineID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, ticket)
}

// UpdateQuantityWithBenefits sets a line's quantity; zero removes the line.
func (s *service) UpdateQuantityWithBenefits(ctx context.Context, merchandiseID string, quantity int) (*EnhancedCart, error) {
	ticket, err := s.session.SetQuantity(ctx, merchandiseID, quantity)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, ticket)
}

func (s *service) settle(ctx context.Context, ticket *cart.Ticket) (*EnhancedCart, error) {
	err := ticket.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.EnhancedCart(), pkgerrors.Wrap(pkgerrors.CodeNetwork, ctxErr, "waiting for cart reconciliation")
	}
	if err == nil {
		if _, syncErr := s.session.Sync(ctx); syncErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", syncErr.Error()), "cart refresh failed after mutation")
		}
	}
	s.recompute()
	return s.EnhancedCart(), err
}

// Refresh pulls the backend cart and reloads the membership.
func (s *service) Refresh(ctx context.Context) (*EnhancedCart, error) {
	_, syncErr := s.session.Sync(ctx)
	loadErr := s.LoadMembership(ctx)
	s.recompute()
	return s.EnhancedCart(), multierr.Combine(syncErr, loadErr)
}

func (s *service) GetMembershipSavings() decimal.Decimal {
	return s.EnhancedCart().Benefits.TotalSavings
}

func (s *service) IsEligibleForFreeDelivery() bool {
	s.mu.RLock()
	m := s.membership
	s.mu.RUnlock()
	return benefits.IsEligibleForFreeDelivery(m, s.now())
}

func (s *service) EnhancedCart() *EnhancedCart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetCustomer identifies the shopper. A different customer drops the
// previous membership before the new one is loaded.
func (s *service) SetCustomer(ctx context.Context, customerID string) error {
	id := strings.TrimSpace(customerID)
	s.mu.Lock()
	if id != s.customerID {
		s.customerID = id
		s.membership = nil
		s.stats = nil
	}
	s.mu.Unlock()

	if id == "" {
		s.recompute()
		return nil
	}
	return s.LoadMembership(ctx)
}

// LoadMembership fetches membership and stats concurrently, falling back to
// the snapshot cache when the backend is unreachable. Live results are
// written back to the cache.
func (s *service) LoadMembership(ctx context.Context) error {
	id := s.CustomerID()
	if id == "" {
		s.recompute()
		return nil
	}
	ctx = s.logg.WithCustomerID(ctx, id)
	_, fallbacks := s.scoped(id)

	var (
		membership *memberships.Membership
		stats      *memberships.Stats
		memErr     error
		statsErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		membership, memErr = resilience.ExecuteWithFallback(ctx, s.exec, "lookup_membership",
			func(ctx context.Context) (*memberships.Membership, error) {
				return s.members.Lookup(ctx, id)
			},
			func(ctx context.Context, cause error) (*memberships.Membership, error) {
				if fallbacks != nil {
					if m, ok := fallbacks.GetFallbackMembership(ctx, id); ok {
						return m, nil
					}
				}
				return nil, cause
			})
		if pkgerrors.IsCode(memErr, pkgerrors.CodeNotFound) {
			membership = &memberships.Membership{CustomerID: id, Status: enums.MembershipStatusNone, Source: enums.MembershipSourceLive}
			memErr = nil
		}
		return memErr
	})
	g.Go(func() error {
		stats, statsErr = resilience.ExecuteWithFallback(ctx, s.exec, "membership_stats",
			func(ctx context.Context) (*memberships.Stats, error) {
				return s.members.Stats(ctx, id)
			},
			func(ctx context.Context, _ error) (*memberships.Stats, error) {
				if fallbacks != nil {
					return fallbacks.GetFallbackStats(ctx, id), nil
				}
				return memberships.ZeroStats(id), nil
			})
		if statsErr != nil {
			stats = memberships.ZeroStats(id)
		}
		return statsErr
	})
	waitErr := g.Wait()

	s.cacheLive(ctx, id, membership, stats)

	s.mu.Lock()
	if s.customerID == id {
		s.membership = membership
		s.stats = stats
	}
	s.mu.Unlock()
	s.recompute()

	if waitErr != nil {
		err := multierr.Combine(memErr, statsErr)
		s.logg.Error(ctx, "membership load incomplete", err)
		return err
	}
	return nil
}

// ValidateMembershipStatus re-checks the membership against the backend,
// bypassing the cache and fallbacks.
func (s *service) ValidateMembershipStatus(ctx context.Context) ValidationResult {
	now := s.now()
	id := s.CustomerID()
	if id == "" {
		return ValidationResult{Completed: true, Err: memberships.Require(nil, now)}
	}
	ctx = s.logg.WithCustomerID(ctx, id)

	m, err := resilience.Execute(ctx, s.exec, "validate_membership", func(ctx context.Context) (*memberships.Membership, error) {
		return s.members.Lookup(ctx, id)
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		m = &memberships.Membership{CustomerID: id, Status: enums.MembershipStatusNone, Source: enums.MembershipSourceLive}
		err = nil
	}
	if err != nil {
		s.mu.RLock()
		last := s.membership.Clone()
		s.mu.RUnlock()
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), validationWarning)
		return ValidationResult{
			Completed:  false,
			Active:     last.IsActive(now),
			Membership: last,
			Warning:    validationWarning,
			Err:        err,
		}
	}

	s.mu.Lock()
	if s.customerID == id {
		s.membership = m
	}
	stats := s.stats
	s.mu.Unlock()
	s.cacheLive(ctx, id, m, stats)
	s.recompute()

	return ValidationResult{
		Completed:  true,
		Active:     m.IsActive(now),
		Membership: m.Clone(),
		Err:        memberships.Require(m, now),
	}
}

// Close detaches the service from the session and membership events.
func (s *service) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (s *service) onCartChanged(context.Context, *commerce.Cart) {
	s.recompute()
}

func (s *service) onMembershipChanged(ctx context.Context, m *memberships.Membership) {
	if m == nil {
		return
	}
	s.mu.Lock()
	if m.CustomerID != s.customerID || s.customerID == "" {
		s.mu.Unlock()
		return
	}
	s.membership = m.Clone()
	stats := s.stats
	s.mu.Unlock()

	s.cacheLive(ctx, m.CustomerID, m, stats)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"customer_id": m.CustomerID,
		"status":      m.Status,
	}), "membership changed, benefits recomputed")
	s.recompute()
}

func (s *service) cacheLive(ctx context.Context, customerID string, m *memberships.Membership, stats *memberships.Stats) {
	cache, _ := s.scoped(customerID)
	if cache == nil || m == nil || m.Source != enums.MembershipSourceLive {
		return
	}
	if stats == nil || stats.Source != enums.MembershipSourceLive {
		stats = lastCachedStats(ctx, cache, customerID)
	}
	if err := cache.CacheSnapshot(ctx, m, stats); err != nil {
		s.logg.Error(ctx, "cache membership snapshot", err)
	}
}

// lastCachedStats returns the stats of the still-valid snapshot for
// customerID, so a fresh membership never erases the last good stats.
func lastCachedStats(ctx context.Context, cache *resilience.SnapshotCache, customerID string) *memberships.Stats {
	snap, ok := cache.GetCachedSnapshot(ctx)
	if !ok || snap.Stats == nil {
		return nil
	}
	if snap.Stats.CustomerID != "" && snap.Stats.CustomerID != customerID {
		return nil
	}
	return snap.Stats
}

func (s *service) scoped(customerID string) (*resilience.SnapshotCache, *resilience.Fallbacks) {
	if s.cache == nil {
		return nil, s.fallbacks
	}
	cache := s.cache.Scoped(customerID)
	if s.fallbacks == nil {
		return cache, nil
	}
	return cache, s.fallbacks.WithCache(cache)
}

// recompute rebuilds the view from the latest cart. Serialized so a slower
// rebuild never replaces a newer one.
func (s *service) recompute() {
	s.recomputeMu.Lock()
	defer s.recomputeMu.Unlock()

	c := s.session.Cart()
	statuses := make([]cart.LineStatus, 0, len(c.Lines))
	for _, line := range c.Lines {
		statuses = append(statuses, s.session.LineStatus(line.MerchandiseID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = buildView(c, statuses, s.membership, s.stats, s.now())
}
