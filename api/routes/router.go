package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-cart/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-cart/api/controllers/cart"
	membershipcontrollers "github.com/angelmondragon/storefront-cart/api/controllers/memberships"
	"github.com/angelmondragon/storefront-cart/api/middleware"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

// Params groups what the router hands to its controllers.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Sessions    cartcontrollers.Sessions
	Memberships memberships.Service
	Idempotency middleware.IdempotencyStore
	Pingers     map[string]controllers.Pinger
	Gatherer    prometheus.Gatherer
}

func NewRouter(params Params) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Pingers))
	})
	r.Get("/healthz", controllers.HealthLive(cfg))

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	cartReplay := middleware.Idempotent(params.Idempotency, logg, middleware.CartReplayTTL)
	membershipReplay := middleware.Idempotent(params.Idempotency, logg, middleware.MembershipReplayTTL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.CartSession(logg))

			r.Get("/", cartcontrollers.CartFetch(params.Sessions, logg))
			r.With(cartReplay).Post("/lines", cartcontrollers.CartAddLine(params.Sessions, logg))
			r.With(cartReplay).Patch("/lines/{merchandiseId}", cartcontrollers.CartUpdateLine(params.Sessions, logg))
			r.Delete("/lines/{merchandiseId}", cartcontrollers.CartRemoveLine(params.Sessions, logg))
			r.Get("/savings", cartcontrollers.CartSavings(params.Sessions, logg))
			r.Get("/free-delivery", cartcontrollers.CartFreeDelivery(params.Sessions, logg))
			r.Post("/membership/validate", cartcontrollers.CartValidateMembership(params.Sessions, logg))
			r.With(cartReplay).Post("/refresh", cartcontrollers.CartRefresh(params.Sessions, logg))
			r.Delete("/session", cartcontrollers.CartRelease(params.Sessions, logg))
		})

		r.Route("/memberships/{customerId}", func(r chi.Router) {
			r.Get("/", membershipcontrollers.MembershipFetch(params.Memberships, logg))
			r.Get("/stats", membershipcontrollers.MembershipStats(params.Memberships, logg))
			r.With(membershipReplay).Post("/purchase", membershipcontrollers.MembershipPurchase(params.Memberships, logg))
			r.With(membershipReplay).Post("/renew", membershipcontrollers.MembershipRenew(params.Memberships, logg))
			r.With(membershipReplay).Post("/cancel", membershipcontrollers.MembershipCancel(params.Memberships, logg))
		})
	})

	return r
}
