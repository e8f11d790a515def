package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackMembershipFromCache(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache, _ := newTestCache(clock)
	require.NoError(t, cache.CacheSnapshot(ctx, activeMembership("c1", clock.now), &memberships.Stats{
		CustomerID:         "c1",
		TotalSavings:       decimal.RequireFromString("12.50"),
		OrdersWithBenefits: 3,
	}))

	fb := NewFallbacks(cache, DegradedPolicy{}, nil, nil)
	m, ok := fb.GetFallbackMembership(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, enums.MembershipSourceCached, m.Source)
	assert.True(t, m.IsActive(clock.now))

	stats := fb.GetFallbackStats(ctx, "c1")
	assert.Equal(t, "12.5", stats.TotalSavings.String())
	assert.Equal(t, enums.MembershipSourceCached, stats.Source)
}

func TestFallbackIgnoresOtherCustomersSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	cache, _ := newTestCache(clock)
	require.NoError(t, cache.CacheSnapshot(ctx, activeMembership("c1", clock.now), nil))

	fb := NewFallbacks(cache, DegradedPolicy{}, nil, nil)
	_, ok := fb.GetFallbackMembership(ctx, "c2")
	assert.False(t, ok)
}

func TestFallbackAbsentWithoutCacheOrDegraded(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	cache, _ := newTestCache(clock)

	fb := NewFallbacks(cache, DegradedPolicy{}, nil, nil)
	m, ok := fb.GetFallbackMembership(ctx, "c1")
	assert.False(t, ok)
	assert.Nil(t, m)

	stats := fb.GetFallbackStats(ctx, "c1")
	assert.Equal(t, enums.MembershipSourceFallback, stats.Source, "zeroed stats are not cached data")
	assert.True(t, stats.TotalSavings.IsZero())
	assert.Zero(t, stats.OrdersWithBenefits)
	assert.Zero(t, stats.FreeDeliveriesUsed)
}

func TestFallbackDegradedWhenEnabled(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	cache, _ := newTestCache(clock)

	fb := NewFallbacks(cache, DegradedPolicy{Enabled: true, Validity: time.Hour}, nil, nil)
	fb.now = clock.Now

	m, ok := fb.GetFallbackMembership(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, enums.MembershipSourceDegraded, m.Source)
	assert.Equal(t, enums.MembershipStatusActive, m.Status)
	assert.Equal(t, clock.now.Add(time.Hour), m.ExpiresAt)
	assert.True(t, m.Benefits.DiscountPercentage.Equal(memberships.DefaultDiscountPercentage))
}
