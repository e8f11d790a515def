package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultNamespace = "sf"
	snapshotPrefix   = "snapshot"
	replayPrefix     = "replay"
)

// ErrMissing is returned when a snapshot or replay entry is absent or expired.
var ErrMissing = errors.New("redis: entry missing")

var errNotReady = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Keyspace lays out storefront keys as <namespace>:<kind>:<parts...>.
type Keyspace struct {
	namespace string
}

func NewKeyspace(namespace string) Keyspace {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return Keyspace{namespace: namespace}
}

// Snapshot is the key of a persisted membership snapshot.
func (k Keyspace) Snapshot(name string) string {
	return k.join(snapshotPrefix, name)
}

// Replay is the key of a stored idempotent response. The scope is hashed so
// paths and session ids never leak separators into the key.
func (k Keyspace) Replay(scope, id string) string {
	if scope == "" {
		return k.join(replayPrefix, id)
	}
	sum := sha1.Sum([]byte(scope))
	return k.join(replayPrefix, hex.EncodeToString(sum[:8]), id)
}

func (k Keyspace) join(parts ...string) string {
	out := []string{k.namespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}

// Client backs the membership snapshot cache and idempotent replays.
type Client struct {
	store cmdable
	raw   *redis.Client
	keys  Keyspace
}

// New dials Redis and verifies connectivity before returning.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	keys := NewKeyspace(cfg.KeyNamespace)
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"redis_db":        opts.DB,
			"redis_namespace": keys.namespace,
		}), "redis connection established")
	}
	return &Client{store: raw, raw: raw, keys: keys}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Snapshot reads a persisted membership snapshot payload.
func (c *Client) Snapshot(ctx context.Context, name string) ([]byte, error) {
	return c.read(ctx, c.keys.Snapshot(name))
}

// PutSnapshot overwrites the snapshot payload; ttl 0 keeps it until deleted.
func (c *Client) PutSnapshot(ctx context.Context, name string, payload []byte, ttl time.Duration) error {
	if c.store == nil {
		return errNotReady
	}
	return c.store.Set(ctx, c.keys.Snapshot(name), payload, ttl).Err()
}

func (c *Client) DropSnapshot(ctx context.Context, name string) error {
	if c.store == nil {
		return errNotReady
	}
	return c.store.Del(ctx, c.keys.Snapshot(name)).Err()
}

// Replay returns the response recorded for an idempotency key within scope.
func (c *Client) Replay(ctx context.Context, scope, id string) ([]byte, error) {
	return c.read(ctx, c.keys.Replay(scope, id))
}

// Remember records a response unless one already exists. It reports whether
// this call wrote the entry.
func (c *Client) Remember(ctx context.Context, scope, id string, payload []byte, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotReady
	}
	return c.store.SetNX(ctx, c.keys.Replay(scope, id), payload, ttl).Result()
}

func (c *Client) read(ctx context.Context, key string) ([]byte, error) {
	if c.store == nil {
		return nil, errNotReady
	}
	raw, err := c.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotReady
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
