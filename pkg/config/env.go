package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "STOREFRONT_APP_ENV"
	EnvPort                    = "STOREFRONT_APP_PORT"
	EnvCommerceMode            = "STOREFRONT_COMMERCE_MODE"
	EnvCommerceBaseURL         = "STOREFRONT_COMMERCE_BASE_URL"
	EnvSnapshotStore           = "STOREFRONT_SNAPSHOT_STORE"
	EnvCacheTimeout            = "STOREFRONT_CACHE_TIMEOUT"
	EnvRetryAttempts           = "STOREFRONT_RETRY_ATTEMPTS"
	EnvCartFailurePolicy       = "STOREFRONT_CART_FAILURE_POLICY"
	EnvMembershipDiscount      = "STOREFRONT_MEMBERSHIP_DISCOUNT_PERCENTAGE"
	EnvMembershipPurchase      = "STOREFRONT_MEMBERSHIP_PURCHASE_PROVIDER"
	EnvRedisURL                = "STOREFRONT_REDIS_URL"
	EnvDBDSN                   = "STOREFRONT_DB_DSN"
	EnvStripeAPIKey            = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeMembershipPriceID = "STOREFRONT_STRIPE_MEMBERSHIP_PRICE_ID"
)

const (
	CommerceModeHTTP   = "http"
	CommerceModeMemory = "memory"

	SnapshotStoreMemory = "memory"
	SnapshotStoreRedis  = "redis"
	SnapshotStoreDB     = "db"

	FailurePolicyKeep   = "keep"
	FailurePolicyRevert = "revert"

	PurchaseProviderBackend = "backend"
	PurchaseProviderStripe  = "stripe"
)
