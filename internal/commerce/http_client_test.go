package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(config.CommerceConfig{
		BaseURL:            "http://commerce.test/api/",
		APIToken:           "secret",
		BreakerMaxFailures: 2,
		BreakerOpenTimeout: time.Minute,
	}, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestHTTPClientAddLinesRequest(t *testing.T) {
	var capturedURL, capturedMethod, capturedAuth, capturedCorrelation string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedMethod = req.Method
		capturedAuth = req.Header.Get("Authorization")
		capturedCorrelation = req.Header.Get("X-Correlation-ID")

		var payload struct {
			Lines []LineInput `json:"lines"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if len(payload.Lines) != 1 || payload.Lines[0].MerchandiseID != "gid-1" || payload.Lines[0].Quantity != 2 {
			t.Fatalf("unexpected payload %+v", payload)
		}
		return jsonResponse(http.StatusOK, `{"id":"cart-1","lines":[{"id":"line-1","merchandise_id":"gid-1","quantity":2,"unit_price":"9.99","cost":"17.98"}],"totals":{"currency":"USD"}}`), nil
	})

	ctx := WithCorrelationID(context.Background(), "corr-42")
	cart, err := client.AddLines(ctx, "cart-1", []LineInput{{MerchandiseID: "gid-1", Quantity: 2}})
	if err != nil {
		t.Fatalf("add lines: %v", err)
	}
	if capturedURL != "http://commerce.test/api/carts/cart-1/lines" || capturedMethod != http.MethodPost {
		t.Fatalf("unexpected request %s %s", capturedMethod, capturedURL)
	}
	if capturedAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if capturedCorrelation != "corr-42" {
		t.Fatalf("correlation id not forwarded, got %q", capturedCorrelation)
	}
	if cart.Lines[0].Cost.String() != "17.98" {
		t.Fatalf("backend line cost must be kept, got %s", cart.Lines[0].Cost)
	}
	if cart.Totals.Total.String() != "17.98" {
		t.Fatalf("totals must be the sum of line costs, got %s", cart.Totals.Total)
	}
	if cart.Totals.Currency != enums.CurrencyUSD {
		t.Fatalf("unexpected currency %q", cart.Totals.Currency)
	}
}

func TestHTTPClientPricesLinesWithoutCost(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"cart-1","lines":[`+
			`{"id":"line-1","merchandise_id":"gid-1","quantity":2,"unit_price":"9.99"},`+
			`{"id":"line-2","merchandise_id":"gid-2","quantity":1,"unit_price":"5","cost":"0"}`+
			`],"totals":{"currency":"USD","total":"999"}}`), nil
	})

	cart, err := client.GetCart(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if got := cart.Lines[0].Cost.String(); got != "19.98" {
		t.Fatalf("omitted cost must be priced from the unit price, got %s", got)
	}
	if got := cart.Lines[1].Cost.String(); got != "0" {
		t.Fatalf("a reported zero cost is a free line, got %s", got)
	}
	if got := cart.Totals.Total.String(); got != "19.98" {
		t.Fatalf("reported totals are rebuilt from lines, got %s", got)
	}
	if cart.TotalQuantity != 3 {
		t.Fatalf("unexpected total quantity %d", cart.TotalQuantity)
	}
}

func TestHTTPClientClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusGone, pkgerrors.CodeExpired},
		{http.StatusPaymentRequired, pkgerrors.CodePaymentFailed},
		{http.StatusUnprocessableEntity, pkgerrors.CodeValidation},
		{http.StatusBadGateway, pkgerrors.CodeNetwork},
		{http.StatusServiceUnavailable, pkgerrors.CodeServiceUnavailable},
		{http.StatusTooManyRequests, pkgerrors.CodeServiceUnavailable},
		{http.StatusTeapot, pkgerrors.CodeInternal},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.status, "nope", http.MethodGet, "/carts/x")
		if !pkgerrors.IsCode(err, tt.code) {
			t.Fatalf("status %d: expected %s, got %v", tt.status, tt.code, err)
		}
	}
}

func TestHTTPClientTransportErrorIsNetwork(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.GetCart(context.Background(), "cart-1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("network errors must be retryable")
	}
}

func TestHTTPClientBreakerOpensOnRepeatedFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusServiceUnavailable, "down"), nil
	})
	ctx := context.Background()

	if client.IsOffline() {
		t.Fatal("breaker should start closed")
	}
	for i := 0; i < 2; i++ {
		if _, err := client.GetCart(ctx, "cart-1"); !pkgerrors.IsCode(err, pkgerrors.CodeServiceUnavailable) {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if !client.IsOffline() {
		t.Fatal("breaker should be open after two failures")
	}

	_, err := client.GetCart(ctx, "cart-1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNetwork) {
		t.Fatalf("open breaker should short-circuit as network error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("open breaker must not reach the backend, calls=%d", calls)
	}
}

func TestHTTPClientClientErrorsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, "missing"), nil
	})
	for i := 0; i < 5; i++ {
		_, _ = client.GetCart(context.Background(), "cart-1")
	}
	if client.IsOffline() {
		t.Fatal("not-found responses must not open the breaker")
	}
}

func TestHTTPClientMembershipPaths(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.Method+" "+req.URL.Path)
		switch {
		case strings.HasSuffix(req.URL.Path, "/purchase"):
			return jsonResponse(http.StatusOK, `{"reference":"ref-1","url":"https://pay"}`), nil
		case strings.HasSuffix(req.URL.Path, "/stats"):
			return jsonResponse(http.StatusOK, `{"total_savings":"12.5","orders_with_benefits":2}`), nil
		default:
			return jsonResponse(http.StatusOK, `{"customer_id":"c 1","status":"active","benefits":{"discount_percentage":"0.2"}}`), nil
		}
	})
	ctx := context.Background()

	m, err := client.LookupMembership(ctx, "c 1")
	if err != nil || m.Status != enums.MembershipStatusActive {
		t.Fatalf("lookup: %+v %v", m, err)
	}
	if _, err := client.RenewMembership(ctx, "c 1"); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if _, err := client.CancelMembership(ctx, "c 1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	redirect, err := client.PurchaseMembership(ctx, "c 1")
	if err != nil || redirect.Reference != "ref-1" {
		t.Fatalf("purchase: %+v %v", redirect, err)
	}
	stats, err := client.MembershipStats(ctx, "c 1")
	if err != nil || stats.OrdersWithBenefits != 2 {
		t.Fatalf("stats: %+v %v", stats, err)
	}

	want := []string{
		"GET /api/customers/c 1/membership",
		"POST /api/customers/c 1/membership/renew",
		"POST /api/customers/c 1/membership/cancel",
		"POST /api/customers/c 1/membership/purchase",
		"GET /api/customers/c 1/membership/stats",
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("call %d: expected %q, got %q", i, p, paths[i])
		}
	}
}

func TestHTTPClientRequiresIDs(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.RemoveLines(context.Background(), " ", []string{"l"}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewHTTPClient(config.CommerceConfig{}); err == nil {
		t.Fatal("expected missing base url error")
	}
}
