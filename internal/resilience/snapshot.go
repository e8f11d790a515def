package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
)

const (
	DefaultSnapshotKey   = "membership_snapshot"
	DefaultCacheTimeout  = 5 * time.Minute
	DefaultSchemaVersion = 1
)

// Snapshot is the persisted last-known-good membership state.
type Snapshot struct {
	Membership    *memberships.Membership `json:"membership"`
	Stats         *memberships.Stats      `json:"stats"`
	Timestamp     time.Time               `json:"timestamp"`
	SchemaVersion int                     `json:"schemaVersion"`
}

type CacheOptions struct {
	Key           string
	Timeout       time.Duration
	SchemaVersion int
	Logger        *logger.Logger
	Metrics       *metrics.ResilienceMetrics
	Now           func() time.Time
}

// SnapshotCache stores one snapshot under a fixed key. Entries with another
// schema version or an age of Timeout or more are purged on read.
type SnapshotCache struct {
	store   Store
	key     string
	timeout time.Duration
	schema  int
	logg    *logger.Logger
	metrics *metrics.ResilienceMetrics
	now     func() time.Time
}

func NewSnapshotCache(store Store, opts CacheOptions) *SnapshotCache {
	c := &SnapshotCache{
		store:   store,
		key:     strings.TrimSpace(opts.Key),
		timeout: opts.Timeout,
		schema:  opts.SchemaVersion,
		logg:    opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if c.key == "" {
		c.key = DefaultSnapshotKey
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCacheTimeout
	}
	if c.schema <= 0 {
		c.schema = DefaultSchemaVersion
	}
	if c.logg == nil {
		c.logg = logger.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Scoped returns a cache sharing the store under key "<key>:<scope>".
func (c *SnapshotCache) Scoped(scope string) *SnapshotCache {
	out := *c
	if scope = strings.TrimSpace(scope); scope != "" {
		out.key = c.key + ":" + scope
	}
	return &out
}

func (c *SnapshotCache) Key() string {
	return c.key
}

// CacheSnapshot persists membership and stats stamped with the current time.
func (c *SnapshotCache) CacheSnapshot(ctx context.Context, m *memberships.Membership, stats *memberships.Stats) error {
	snap := Snapshot{
		Membership:    m.Clone(),
		Stats:         stats,
		Timestamp:     c.now().UTC(),
		SchemaVersion: c.schema,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// the store TTL is housekeeping only; validity is decided on read
	return c.store.Set(ctx, c.key, raw, 2*c.timeout)
}

// GetCachedSnapshot returns the snapshot only while it is valid. Invalid
// entries are purged and reported as absent; store errors are logged and
// also reported as absent.
func (c *SnapshotCache) GetCachedSnapshot(ctx context.Context) (*Snapshot, bool) {
	ctx = c.logg.WithField(ctx, "snapshot_key", c.key)
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		c.metrics.IncCache("miss")
		return nil, false
	}
	if err != nil {
		c.metrics.IncCache("error")
		c.logg.Error(ctx, "read snapshot", err)
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.metrics.IncCache("invalid")
		c.purge(ctx, "undecodable snapshot")
		return nil, false
	}
	if snap.SchemaVersion != c.schema {
		c.metrics.IncCache("invalid")
		c.purge(ctx, "snapshot schema mismatch")
		return nil, false
	}
	if c.now().Sub(snap.Timestamp) >= c.timeout {
		c.metrics.IncCache("expired")
		c.purge(ctx, "snapshot expired")
		return nil, false
	}
	c.metrics.IncCache("hit")
	return &snap, true
}

// Purge removes the entry.
func (c *SnapshotCache) Purge(ctx context.Context) error {
	return c.store.Delete(ctx, c.key)
}

func (c *SnapshotCache) purge(ctx context.Context, reason string) {
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.logg.Error(ctx, "purge snapshot", err)
		return
	}
	c.logg.Info(c.logg.WithField(ctx, "reason", reason), "snapshot purged")
}
