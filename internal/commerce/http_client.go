package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout            = 15 * time.Second
	responseBodyReadLimit     = 1024
	defaultBreakerMaxFailures = 5
	correlationHeader         = "X-Correlation-ID"
	authorizationHeader       = "Authorization"
	contentTypeHeader         = "Content-Type"
	contentTypeJSON           = "application/json"
	breakerName               = "commerce"
)

var errBaseURLRequired = errors.New("commerce base url is required")

// HTTPClient talks to the commerce backend's JSON API behind a circuit breaker.
// The breaker state doubles as the connectivity signal.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logg       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *HTTPClient) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// NewHTTPClient builds the backend client from config.
func NewHTTPClient(cfg config.CommerceConfig, opts ...Option) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		token:      strings.TrimSpace(cfg.APIToken),
		logg:       logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	client.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// only transport and availability failures count against the backend
			return err == nil || !pkgerrors.IsRetryable(err) || pkgerrors.IsCode(err, pkgerrors.CodePaymentFailed)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := client.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			client.logg.Warn(ctx, "commerce circuit breaker state changed")
		},
	})
	return client, nil
}

// IsOffline reports whether the breaker is open.
func (c *HTTPClient) IsOffline() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

func (c *HTTPClient) CreateCart(ctx context.Context) (*Cart, error) {
	var cart wireCart
	if err := c.do(ctx, http.MethodPost, "/carts", nil, &cart); err != nil {
		return nil, err
	}
	return cart.normalize(), nil
}

func (c *HTTPClient) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	if err := requireCartID(cartID); err != nil {
		return nil, err
	}
	var cart wireCart
	if err := c.do(ctx, http.MethodGet, "/carts/"+url.PathEscape(cartID), nil, &cart); err != nil {
		return nil, err
	}
	return cart.normalize(), nil
}

func (c *HTTPClient) AddLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error) {
	return c.linesCall(ctx, http.MethodPost, cartID, "/lines", map[string]any{"lines": lines})
}

func (c *HTTPClient) RemoveLines(ctx context.Context, cartID string, lineIDs []string) (*Cart, error) {
	return c.linesCall(ctx, http.MethodPost, cartID, "/lines/remove", map[string]any{"line_ids": lineIDs})
}

func (c *HTTPClient) UpdateLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error) {
	return c.linesCall(ctx, http.MethodPatch, cartID, "/lines", map[string]any{"lines": lines})
}

func (c *HTTPClient) LookupMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	var m memberships.Membership
	if err := c.do(ctx, http.MethodGet, membershipPath(customerID, ""), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) PurchaseMembership(ctx context.Context, customerID string) (*memberships.CheckoutRedirect, error) {
	var redirect memberships.CheckoutRedirect
	if err := c.do(ctx, http.MethodPost, membershipPath(customerID, "/purchase"), nil, &redirect); err != nil {
		return nil, err
	}
	return &redirect, nil
}

func (c *HTTPClient) RenewMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	var m memberships.Membership
	if err := c.do(ctx, http.MethodPost, membershipPath(customerID, "/renew"), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) CancelMembership(ctx context.Context, customerID string) (*memberships.Membership, error) {
	var m memberships.Membership
	if err := c.do(ctx, http.MethodPost, membershipPath(customerID, "/cancel"), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) MembershipStats(ctx context.Context, customerID string) (*memberships.Stats, error) {
	var stats memberships.Stats
	if err := c.do(ctx, http.MethodGet, membershipPath(customerID, "/stats"), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) linesCall(ctx context.Context, method, cartID, suffix string, payload any) (*Cart, error) {
	if err := requireCartID(cartID); err != nil {
		return nil, err
	}
	var cart wireCart
	if err := c.do(ctx, method, "/carts/"+url.PathEscape(cartID)+suffix, payload, &cart); err != nil {
		return nil, err
	}
	return cart.normalize(), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "commerce backend unreachable")
		}
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode commerce response")
	}
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal commerce request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build commerce request")
	}
	if payload != nil {
		req.Header.Set(contentTypeHeader, contentTypeJSON)
	}
	if c.token != "" {
		req.Header.Set(authorizationHeader, "Bearer "+c.token)
	}
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set(correlationHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)), method, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "read commerce response")
	}
	return body, nil
}

func classifyStatus(status int, msg, method, path string) error {
	cause := fmt.Errorf("status %d: %s", status, msg)
	op := fmt.Sprintf("%s %s", method, path)
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, cause, op)
	case status == http.StatusGone:
		return pkgerrors.Wrap(pkgerrors.CodeExpired, cause, op)
	case status == http.StatusPaymentRequired:
		return pkgerrors.Wrap(pkgerrors.CodePaymentFailed, cause, op)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, op)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout || status == http.StatusBadGateway:
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, cause, op)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, cause, op)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, cause, op)
	}
}

func membershipPath(customerID, suffix string) string {
	return "/customers/" + url.PathEscape(customerID) + "/membership" + suffix
}

func requireCartID(cartID string) error {
	if strings.TrimSpace(cartID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart id is required").WithField("cart_id", "non-empty string")
	}
	return nil
}

// wireLine tells an omitted cost apart from a reported zero cost.
type wireLine struct {
	CartLine
	Cost *decimal.Decimal `json:"cost"`
}

type wireCart struct {
	Cart
	Lines []wireLine `json:"lines"`
}

// normalize keeps every cost the backend reported, prices lines that came
// without one and rebuilds the totals from the lines.
func (w *wireCart) normalize() *Cart {
	c := w.Cart
	c.Lines = make([]CartLine, 0, len(w.Lines))
	for _, wl := range w.Lines {
		line := wl.CartLine
		if wl.Cost != nil {
			line.Cost = *wl.Cost
		} else {
			line.Reprice()
		}
		c.Lines = append(c.Lines, line)
	}
	c.Recompute()
	return &c
}

type correlationKey struct{}

// WithCorrelationID tags outbound backend requests made with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
