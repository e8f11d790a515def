package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Commerce   CommerceConfig
	Resilience ResilienceConfig
	Cart       CartConfig
	Membership MembershipConfig
	Redis      RedisConfig
	DB         DBConfig
	Stripe     StripeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// CommerceConfig points at the external commerce platform.
type CommerceConfig struct {
	Mode               string        `envconfig:"STOREFRONT_COMMERCE_MODE" default:"http"`
	BaseURL            string        `envconfig:"STOREFRONT_COMMERCE_BASE_URL"`
	APIToken           string        `envconfig:"STOREFRONT_COMMERCE_API_TOKEN"`
	RequestTimeout     time.Duration `envconfig:"STOREFRONT_COMMERCE_REQUEST_TIMEOUT" default:"15s"`
	BreakerMaxFailures uint32        `envconfig:"STOREFRONT_COMMERCE_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"STOREFRONT_COMMERCE_BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerInterval    time.Duration `envconfig:"STOREFRONT_COMMERCE_BREAKER_INTERVAL" default:"60s"`
	// CatalogFile seeds the in-process platform with merchandise (JSON array).
	CatalogFile string `envconfig:"STOREFRONT_COMMERCE_CATALOG_FILE"`
}

// UsesMemory reports whether the in-process platform should stand in for the backend.
func (c CommerceConfig) UsesMemory() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode), CommerceModeMemory)
}

type ResilienceConfig struct {
	RetryAttempts      int           `envconfig:"STOREFRONT_RETRY_ATTEMPTS" default:"3"`
	BaseDelay          time.Duration `envconfig:"STOREFRONT_RETRY_BASE_DELAY" default:"1s"`
	AttemptTimeout     time.Duration `envconfig:"STOREFRONT_RETRY_ATTEMPT_TIMEOUT" default:"15s"`
	CacheTimeout       time.Duration `envconfig:"STOREFRONT_CACHE_TIMEOUT" default:"5m"`
	SchemaVersion      int           `envconfig:"STOREFRONT_CACHE_SCHEMA_VERSION" default:"1"`
	SnapshotStore      string        `envconfig:"STOREFRONT_SNAPSHOT_STORE" default:"memory"`
	SnapshotKey        string        `envconfig:"STOREFRONT_SNAPSHOT_KEY" default:"membership_snapshot"`
	DegradedMembership bool          `envconfig:"STOREFRONT_DEGRADED_MEMBERSHIP" default:"false"`
	DegradedValidity   time.Duration `envconfig:"STOREFRONT_DEGRADED_MEMBERSHIP_VALIDITY" default:"1h"`
}

type CartConfig struct {
	FailurePolicy string `envconfig:"STOREFRONT_CART_FAILURE_POLICY" default:"keep"`
	WorkerSlots   int    `envconfig:"STOREFRONT_CART_WORKER_SLOTS" default:"8"`
	Currency      string `envconfig:"STOREFRONT_CART_CURRENCY" default:"USD"`
	// Sessions untouched for SessionIdleTimeout are closed; MaxSessions caps
	// how many stay open, evicting the least recently used.
	SessionIdleTimeout time.Duration `envconfig:"STOREFRONT_CART_SESSION_IDLE_TIMEOUT" default:"30m"`
	MaxSessions        int           `envconfig:"STOREFRONT_CART_MAX_SESSIONS" default:"10000"`
}

type MembershipConfig struct {
	DiscountPercentage float64 `envconfig:"STOREFRONT_MEMBERSHIP_DISCOUNT_PERCENTAGE" default:"0.15"`
	PurchaseProvider   string  `envconfig:"STOREFRONT_MEMBERSHIP_PURCHASE_PROVIDER" default:"backend"`
	SuccessURL         string  `envconfig:"STOREFRONT_MEMBERSHIP_SUCCESS_URL"`
	CancelURL          string  `envconfig:"STOREFRONT_MEMBERSHIP_CANCEL_URL"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	KeyNamespace string        `envconfig:"STOREFRONT_REDIS_KEY_NAMESPACE" default:"sf"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"200ms"`
}

type StripeConfig struct {
	APIKey            string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Env               string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
	MembershipPriceID string `envconfig:"STOREFRONT_STRIPE_MEMBERSHIP_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (c *Config) validate() error {
	missing := []string{}

	if !c.Commerce.UsesMemory() {
		if !strings.EqualFold(c.Commerce.Mode, CommerceModeHTTP) {
			return fmt.Errorf("%s must be %q or %q", EnvCommerceMode, CommerceModeHTTP, CommerceModeMemory)
		}
		if strings.TrimSpace(c.Commerce.BaseURL) == "" {
			missing = append(missing, EnvCommerceBaseURL)
		}
	}

	switch strings.ToLower(c.Resilience.SnapshotStore) {
	case SnapshotStoreMemory:
	case SnapshotStoreRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			missing = append(missing, EnvRedisURL)
		}
	case SnapshotStoreDB:
		if c.DB.DSN == "" {
			missing = append(missing, EnvDBDSN)
		}
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvSnapshotStore, SnapshotStoreMemory, SnapshotStoreRedis, SnapshotStoreDB)
	}

	switch strings.ToLower(c.Cart.FailurePolicy) {
	case FailurePolicyKeep, FailurePolicyRevert:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvCartFailurePolicy, FailurePolicyKeep, FailurePolicyRevert)
	}

	if c.Membership.DiscountPercentage < 0 || c.Membership.DiscountPercentage > 1 {
		return fmt.Errorf("%s must be within [0,1]", EnvMembershipDiscount)
	}

	if strings.EqualFold(c.Membership.PurchaseProvider, PurchaseProviderStripe) {
		if strings.TrimSpace(c.Stripe.APIKey) == "" {
			missing = append(missing, EnvStripeAPIKey)
		}
		if strings.TrimSpace(c.Stripe.MembershipPriceID) == "" {
			missing = append(missing, EnvStripeMembershipPriceID)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
