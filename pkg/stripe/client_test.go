package stripe

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

func TestNewClientValidatesKeyAgainstEnv(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{}, nil)
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_abc", Env: "test"}, nil)
	assert.ErrorContains(t, err, "sk_test/rk_test")

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc", Env: "staging"}, nil)
	assert.ErrorIs(t, err, errInvalidStripeEnv)

	c, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_live_abc", Env: " LIVE "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "live", c.Environment())

	c, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment())
	assert.NotNil(t, c.CheckoutSessions())
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	assert.Nil(t, c.CheckoutSessions())
	assert.Empty(t, c.Environment())
}

func TestSDKLoggerDemotesInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	l := &sdkLogger{logg: logg, ctx: context.Background()}

	l.Infof("Requesting %s", "/v1/checkout/sessions")
	assert.Zero(t, buf.Len(), "info level hides SDK request chatter")

	l.Warnf("retrying request %d", 1)
	assert.Contains(t, buf.String(), "retrying request 1")
}
