package cart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdto "github.com/angelmondragon/storefront-cart/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-cart/api/middleware"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/membercart"
	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/types"
)

var groomingKit = commerce.Merchandise{
	ID:        "kit",
	UnitPrice: decimal.RequireFromString("100"),
	Product:   commerce.ProductSummary{ID: "prod-kit", Title: "Grooming kit", CategoryID: "grooming"},
}

type harness struct {
	platform *commerce.MemoryPlatform
	router   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := commerce.NewMemoryPlatform(enums.CurrencyUSD, groomingKit)
	members, err := memberships.NewService(memberships.ServiceParams{Backend: p})
	require.NoError(t, err)
	exec := resilience.NewExecutor(
		resilience.Policy{RetryAttempts: 2, BaseDelay: time.Millisecond, AttemptTimeout: time.Second},
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
		resilience.WithConnectivity(p),
	)
	cache := resilience.NewSnapshotCache(resilience.NewMemoryStore(), resilience.CacheOptions{})
	coord, err := membercart.NewCoordinator(membercart.CoordinatorParams{
		Platform:      p,
		Memberships:   members,
		Executor:      exec,
		Cache:         cache,
		Fallbacks:     resilience.NewFallbacks(cache, resilience.DegradedPolicy{}, nil, nil),
		Currency:      enums.CurrencyUSD,
		FailurePolicy: enums.FailurePolicyKeep,
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	r := chi.NewRouter()
	r.Use(middleware.CartSession(nil))
	r.Get("/cart", CartFetch(coord, nil))
	r.Post("/cart/lines", CartAddLine(coord, nil))
	r.Patch("/cart/lines/{merchandiseId}", CartUpdateLine(coord, nil))
	r.Delete("/cart/lines/{merchandiseId}", CartRemoveLine(coord, nil))
	r.Get("/cart/savings", CartSavings(coord, nil))
	r.Get("/cart/free-delivery", CartFreeDelivery(coord, nil))
	r.Post("/cart/membership/validate", CartValidateMembership(coord, nil))
	r.Delete("/cart/session", CartRelease(coord, nil))
	return &harness{platform: p, router: r}
}

func (h *harness) do(t *testing.T, method, path, customer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set(middleware.SessionHeader, "sess-1")
	if customer != "" {
		req.Header.Set(middleware.CustomerHeader, customer)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) cartdto.CartView {
	t.Helper()
	var envelope struct {
		Data cartdto.CartView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Data
}

func activeMembership(customerID string) *memberships.Membership {
	return &memberships.Membership{
		CustomerID: customerID,
		Status:     enums.MembershipStatusActive,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		Benefits: memberships.Benefits{
			DiscountPercentage: decimal.RequireFromString("0.15"),
			FreeDelivery:       true,
			EligibleCategories: []string{"grooming"},
		},
	}
}

const addKitBody = `{"merchandise_id":"kit","product_id":"prod-kit","title":"Grooming kit","category_id":"grooming","unit_price":"100","quantity":2}`

func TestCartAddLineAppliesMembershipDiscount(t *testing.T) {
	h := newHarness(t)
	h.platform.SetMembership(activeMembership("cust-1"))

	rec := h.do(t, http.MethodPost, "/cart/lines", "cust-1", addKitBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decodeView(t, rec)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 2, view.TotalQuantity)
	assert.Equal(t, "200.00", view.Subtotal)
	assert.Equal(t, "30.00", view.TotalSavings)
	assert.Equal(t, "170.00", view.DiscountedTotal)
	assert.True(t, view.FreeDelivery)
	assert.Equal(t, enums.LineStateConfirmed, view.Lines[0].State)
	require.NotNil(t, view.Membership)
	assert.Equal(t, enums.MembershipSourceLive, view.Membership.Source)

	savings := h.do(t, http.MethodGet, "/cart/savings", "cust-1", "")
	require.Equal(t, http.StatusOK, savings.Code)
	var env struct {
		Data cartdto.Savings `json:"data"`
	}
	require.NoError(t, json.NewDecoder(savings.Body).Decode(&env))
	assert.Equal(t, "30.00", env.Data.TotalSavings)
}

func TestCartAddLineRejectsInvalidBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/cart/lines", "", `{"merchandise_id":"kit","unit_price":"abc","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, "unit_price", env.Error.Field)
	assert.Equal(t, string(pkgerrors.ActionFixField), env.Error.Action)
}

func TestCartUpdateAndRemoveLine(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/cart/lines", "", addKitBody).Code)

	rec := h.do(t, http.MethodPatch, "/cart/lines/kit", "", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeView(t, rec).TotalQuantity)

	rec = h.do(t, http.MethodDelete, "/cart/lines/kit", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Empty(t, view.Lines)
	assert.Equal(t, "0.00", view.Subtotal)

	rec = h.do(t, http.MethodDelete, "/cart/lines/kit", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCartUpdateLineRequiresQuantity(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPatch, "/cart/lines/kit", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartMutationFailureReturnsViewWithError(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/cart/lines", "", addKitBody).Code)

	down := pkgerrors.New(pkgerrors.CodeServiceUnavailable, "backend down")
	h.platform.FailNext(commerce.OpUpdateLines, down, down)

	rec := h.do(t, http.MethodPatch, "/cart/lines/kit", "", `{"quantity":4}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	var env struct {
		Error types.APIError   `json:"error"`
		Data  cartdto.CartView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(pkgerrors.ActionRetry), env.Error.Action)
	require.Len(t, env.Data.Lines, 1)
	assert.Equal(t, 4, env.Data.Lines[0].Quantity)
	assert.Equal(t, enums.LineStateRolledBack, env.Data.Lines[0].State)
	require.NotNil(t, env.Data.Lines[0].Error)
	assert.Equal(t, string(pkgerrors.CodeServiceUnavailable), env.Data.Lines[0].Error.Code)
}

func TestCartValidateMembership(t *testing.T) {
	h := newHarness(t)
	h.platform.SetMembership(activeMembership("cust-1"))

	rec := h.do(t, http.MethodPost, "/cart/membership/validate", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env struct {
		Data cartdto.Validation `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.True(t, env.Data.Completed)
	assert.True(t, env.Data.Active)

	h.platform.SetOffline(true)
	rec = h.do(t, http.MethodPost, "/cart/membership/validate", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	env.Data = cartdto.Validation{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.False(t, env.Data.Completed)
	assert.NotEmpty(t, env.Data.Warning)
}

func TestCartValidateExpiredMembershipSuggestsRenewal(t *testing.T) {
	h := newHarness(t)
	m := activeMembership("cust-1")
	m.ExpiresAt = time.Now().Add(-time.Hour)
	h.platform.SetMembership(m)

	rec := h.do(t, http.MethodPost, "/cart/membership/validate", "cust-1", "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(pkgerrors.ActionRenewMembership), env.Error.Action)
}

func TestCartFreeDeliveryAndRelease(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/cart/free-delivery", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"eligible":false}}`, rec.Body.String())

	rec = h.do(t, http.MethodDelete, "/cart/session", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type failingSessions struct{}

func (failingSessions) Open(context.Context, string, string) (membercart.Service, error) {
	return nil, errors.New("boom")
}

func (failingSessions) Release(string) {}

func TestCartFetchSurfacesOpenFailure(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(middleware.WithSessionKey(req.Context(), "sess-1"))
	rec := httptest.NewRecorder()
	CartFetch(failingSessions{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCartFetchEmptyCart(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/cart", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeView(t, rec)
	assert.Empty(t, view.Lines)
	assert.Nil(t, view.Membership)
}
