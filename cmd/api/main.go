package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-cart/api/controllers"
	"github.com/angelmondragon/storefront-cart/api/middleware"
	"github.com/angelmondragon/storefront-cart/api/routes"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/membercart"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/db"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/angelmondragon/storefront-cart/pkg/instance"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/angelmondragon/storefront-cart/pkg/redis"
	"github.com/angelmondragon/storefront-cart/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	resilienceMetrics := metrics.NewResilienceMetrics(registry)
	reconcileMetrics := metrics.NewReconcileMetrics(registry)

	pingers := map[string]controllers.Pinger{}

	store, idem, storeClose, err := snapshotStore(ctx, cfg, logg, pingers)
	if err != nil {
		return err
	}
	if storeClose != nil {
		closers = append(closers, storeClose)
	}

	currency, err := enums.ParseCurrency(cfg.Cart.Currency)
	if err != nil {
		return err
	}
	backend, connectivity, err := commerceBackend(cfg, currency, logg)
	if err != nil {
		return err
	}
	pingers["commerce"] = controllers.PingFunc(func(context.Context) error {
		if connectivity.IsOffline() {
			return errors.New("commerce circuit open")
		}
		return nil
	})

	checkout, err := membershipCheckout(ctx, cfg, logg)
	if err != nil {
		return err
	}

	discount := decimal.NewFromFloat(cfg.Membership.DiscountPercentage)
	membershipSvc, err := memberships.NewService(memberships.ServiceParams{
		Backend:         backend,
		Checkout:        checkout,
		DefaultDiscount: discount,
		Logger:          logg,
	})
	if err != nil {
		return fmt.Errorf("membership service: %w", err)
	}

	executor := resilience.NewExecutor(
		resilience.PolicyFromConfig(cfg.Resilience),
		resilience.WithConnectivity(connectivity),
		resilience.WithLogger(logg),
		resilience.WithMetrics(resilienceMetrics),
	)
	cache := resilience.NewSnapshotCache(store, resilience.CacheOptions{
		Key:           cfg.Resilience.SnapshotKey,
		Timeout:       cfg.Resilience.CacheTimeout,
		SchemaVersion: cfg.Resilience.SchemaVersion,
		Logger:        logg,
		Metrics:       resilienceMetrics,
	})
	fallbacks := resilience.NewFallbacks(cache, resilience.DegradedPolicyFromConfig(cfg.Resilience, discount), logg, resilienceMetrics)

	policy, err := enums.ParseFailurePolicy(strings.ToLower(strings.TrimSpace(cfg.Cart.FailurePolicy)))
	if err != nil {
		return err
	}

	coordinator, err := membercart.NewCoordinator(membercart.CoordinatorParams{
		Platform:      backend,
		Memberships:   membershipSvc,
		Executor:      executor,
		Cache:         cache,
		Fallbacks:     fallbacks,
		CartIndex:     store,
		Currency:      currency,
		FailurePolicy: policy,
		WorkerSlots:   cfg.Cart.WorkerSlots,
		IdleTimeout:   cfg.Cart.SessionIdleTimeout,
		MaxSessions:   cfg.Cart.MaxSessions,
		Logger:        logg,
		Metrics:       reconcileMetrics,
	})
	if err != nil {
		return fmt.Errorf("cart coordinator: %w", err)
	}
	go coordinator.Run(ctx)
	closers = append(closers, func() error {
		coordinator.Close()
		return nil
	})

	params := routes.Params{
		Config:      cfg,
		Logger:      logg,
		Sessions:    coordinator,
		Memberships: membershipSvc,
		Idempotency: idem,
		Pingers:     pingers,
		Gatherer:    registry,
	}

	addr := ":" + cfg.App.Port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"addr":          addr,
		"commerce_mode": cfg.Commerce.Mode,
		"snapshots":     cfg.Resilience.SnapshotStore,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(params),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// snapshotStore opens the configured key/value store. The redis client also
// backs idempotent replays.
func snapshotStore(ctx context.Context, cfg *config.Config, logg *logger.Logger, pingers map[string]controllers.Pinger) (resilience.Store, middleware.IdempotencyStore, func() error, error) {
	switch strings.ToLower(cfg.Resilience.SnapshotStore) {
	case config.SnapshotStoreRedis:
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		pingers["redis"] = client
		return resilience.NewRedisStore(client), client, client.Close, nil
	case config.SnapshotStoreDB:
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap database: %w", err)
		}
		store := resilience.NewGormStore(client.DB())
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, nil, multierr.Append(fmt.Errorf("migrate snapshot table: %w", err), client.Close())
		}
		pingers["db"] = client
		return store, nil, client.Close, nil
	default:
		return resilience.NewMemoryStore(), nil, nil, nil
	}
}

func commerceBackend(cfg *config.Config, currency enums.Currency, logg *logger.Logger) (commerce.Backend, commerce.Connectivity, error) {
	if cfg.Commerce.UsesMemory() {
		platform := commerce.NewMemoryPlatform(currency)
		if path := strings.TrimSpace(cfg.Commerce.CatalogFile); path != "" {
			items, err := loadCatalog(path)
			if err != nil {
				return nil, nil, err
			}
			platform.AddMerchandise(items...)
		}
		logg.Warn(context.Background(), "using in-process commerce platform")
		return platform, platform, nil
	}
	client, err := commerce.NewHTTPClient(cfg.Commerce, commerce.WithLogger(logg))
	if err != nil {
		return nil, nil, fmt.Errorf("commerce client: %w", err)
	}
	return client, client, nil
}

func loadCatalog(path string) ([]commerce.Merchandise, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var items []commerce.Merchandise
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return items, nil
}

func membershipCheckout(ctx context.Context, cfg *config.Config, logg *logger.Logger) (memberships.CheckoutProvider, error) {
	if !strings.EqualFold(cfg.Membership.PurchaseProvider, config.PurchaseProviderStripe) {
		return nil, nil
	}
	client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	checkout, err := memberships.NewStripeCheckout(client.CheckoutSessions(), cfg.Stripe.MembershipPriceID, cfg.Membership.SuccessURL, cfg.Membership.CancelURL)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout: %w", err)
	}
	return checkout, nil
}
