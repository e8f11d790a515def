package resilience

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/shopspring/decimal"
)

const defaultDegradedValidity = time.Hour

// DegradedPolicy controls whether an unreachable backend may be treated as an
// active membership. Off unless explicitly enabled.
type DegradedPolicy struct {
	Enabled  bool
	Validity time.Duration
	Discount decimal.Decimal
}

func DegradedPolicyFromConfig(cfg config.ResilienceConfig, discount decimal.Decimal) DegradedPolicy {
	return DegradedPolicy{
		Enabled:  cfg.DegradedMembership,
		Validity: cfg.DegradedValidity,
		Discount: discount,
	}
}

// Fallbacks supplies membership values when the backend cannot.
type Fallbacks struct {
	cache    *SnapshotCache
	degraded DegradedPolicy
	logg     *logger.Logger
	metrics  *metrics.ResilienceMetrics
	now      func() time.Time
}

func NewFallbacks(cache *SnapshotCache, degraded DegradedPolicy, logg *logger.Logger, m *metrics.ResilienceMetrics) *Fallbacks {
	if logg == nil {
		logg = logger.Nop()
	}
	if degraded.Validity <= 0 {
		degraded.Validity = defaultDegradedValidity
	}
	if degraded.Discount.IsZero() {
		degraded.Discount = memberships.DefaultDiscountPercentage
	}
	return &Fallbacks{cache: cache, degraded: degraded, logg: logg, metrics: m, now: time.Now}
}

// WithCache returns a copy reading from cache.
func (f *Fallbacks) WithCache(cache *SnapshotCache) *Fallbacks {
	out := *f
	out.cache = cache
	return &out
}

// GetFallbackMembership returns the cached membership labelled cached, or a
// degraded active membership when the policy allows it. ok is false otherwise.
func (f *Fallbacks) GetFallbackMembership(ctx context.Context, customerID string) (*memberships.Membership, bool) {
	if snap, ok := f.snapshotFor(ctx, customerID); ok && snap.Membership != nil {
		m := snap.Membership.Clone()
		m.Source = enums.MembershipSourceCached
		f.metrics.IncFallback("membership", string(enums.MembershipSourceCached))
		return m, true
	}
	if !f.degraded.Enabled {
		return nil, false
	}

	now := f.now()
	f.metrics.IncFallback("membership", string(enums.MembershipSourceDegraded))
	f.logg.Warn(f.logg.WithCustomerID(ctx, customerID), "serving degraded membership")
	return &memberships.Membership{
		CustomerID: customerID,
		Status:     enums.MembershipStatusActive,
		StartedAt:  now,
		ExpiresAt:  now.Add(f.degraded.Validity),
		Benefits: memberships.Benefits{
			DiscountPercentage: f.degraded.Discount,
		},
		Source: enums.MembershipSourceDegraded,
	}, true
}

// GetFallbackStats returns cached stats, or zeroed stats when none are cached.
func (f *Fallbacks) GetFallbackStats(ctx context.Context, customerID string) *memberships.Stats {
	if snap, ok := f.snapshotFor(ctx, customerID); ok && snap.Stats != nil {
		out := *snap.Stats
		out.Source = enums.MembershipSourceCached
		f.metrics.IncFallback("stats", string(enums.MembershipSourceCached))
		return &out
	}
	f.metrics.IncFallback("stats", string(enums.MembershipSourceFallback))
	return memberships.ZeroStats(customerID)
}

func (f *Fallbacks) snapshotFor(ctx context.Context, customerID string) (*Snapshot, bool) {
	if f.cache == nil {
		return nil, false
	}
	snap, ok := f.cache.GetCachedSnapshot(ctx)
	if !ok {
		return nil, false
	}
	if snap.Membership != nil && snap.Membership.CustomerID != "" && snap.Membership.CustomerID != customerID {
		return nil, false
	}
	return snap, true
}
