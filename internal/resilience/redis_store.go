package resilience

import (
	"context"
	"errors"
	"time"

	pkgredis "github.com/angelmondragon/storefront-cart/pkg/redis"
)

type snapshotKV interface {
	Snapshot(ctx context.Context, name string) ([]byte, error)
	PutSnapshot(ctx context.Context, name string, payload []byte, ttl time.Duration) error
	DropSnapshot(ctx context.Context, name string) error
}

// RedisStore persists snapshots in the redis snapshot keyspace.
type RedisStore struct {
	client snapshotKV
}

func NewRedisStore(client *pkgredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Snapshot(ctx, key)
	if errors.Is(err, pkgredis.ErrMissing) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.PutSnapshot(ctx, key, value, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.DropSnapshot(ctx, key)
}
