package redis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() (*Client, *mockCmdable) {
	mock := newMockCmdable()
	return &Client{store: mock, keys: NewKeyspace("")}, mock
}

func TestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	client, mock := newTestClient()

	require.NoError(t, client.PutSnapshot(ctx, "membership_snapshot:c1", []byte(`{"schemaVersion":1}`), 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mock.ttls["sf:snapshot:membership_snapshot:c1"])

	got, err := client.Snapshot(ctx, "membership_snapshot:c1")
	require.NoError(t, err)
	assert.Equal(t, `{"schemaVersion":1}`, string(got))

	require.NoError(t, client.DropSnapshot(ctx, "membership_snapshot:c1"))
	_, err = client.Snapshot(ctx, "membership_snapshot:c1")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestRememberOnlyWritesOnce(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient()
	scope := "sess-1|cust-1|POST|/api/v1/cart/lines"

	wrote, err := client.Remember(ctx, scope, "idem-1", []byte("first"), time.Hour)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = client.Remember(ctx, scope, "idem-1", []byte("second"), time.Hour)
	require.NoError(t, err)
	assert.False(t, wrote)

	got, err := client.Replay(ctx, scope, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	_, err = client.Replay(ctx, "other-scope", "idem-1")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	assert.Error(t, client.Ping(context.Background()))
	_, err := client.Snapshot(context.Background(), "k")
	assert.Error(t, err)
	_, err = client.Remember(context.Background(), "s", "k", nil, time.Minute)
	assert.Error(t, err)
	assert.NoError(t, client.Close())
}

func TestKeyspace(t *testing.T) {
	keys := NewKeyspace("")
	assert.Equal(t, "sf:snapshot:membership_snapshot", keys.Snapshot("membership_snapshot"))
	assert.Equal(t, "sf:replay:abc", keys.Replay("", "abc"))

	scoped := keys.Replay("sess|cust|POST|/api/v1/cart/lines", "abc")
	assert.True(t, strings.HasPrefix(scoped, "sf:replay:"))
	assert.True(t, strings.HasSuffix(scoped, ":abc"))
	assert.Equal(t, 3, strings.Count(scoped, ":"), "scope separators must not leak into the key")
	assert.NotEqual(t, scoped, keys.Replay("sess|cust|POST|/api/v1/cart/refresh", "abc"))

	assert.Equal(t, "shop:snapshot:x", NewKeyspace(" shop ").Snapshot("x"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
}

type mockCmdable struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = stringify(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = stringify(value)
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func stringify(value any) string {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(value)
}
