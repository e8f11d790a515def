package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineBody struct {
	MerchandiseID string `json:"merchandise_id" validate:"required,max=128"`
	UnitPrice     string `json:"unit_price" validate:"required,money"`
	Quantity      int    `json:"quantity" validate:"min=1"`
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"merchandise_id":"m1","unit_price":"12.50","quantity":2}`))
	var body lineBody
	require.NoError(t, DecodeJSONBody(httptest.NewRecorder(), req, &body))
	assert.Equal(t, "m1", body.MerchandiseID)
	assert.Equal(t, 2, body.Quantity)
}

func TestDecodeJSONBodyReportsFirstInvalidField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"merchandise_id":"m1","unit_price":"-1","quantity":0}`))
	var body lineBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, "quantity", typed.Context().Field)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a non-negative amount with at most 4 decimals", details["unit_price"])
	assert.Equal(t, "must be at least 1", details["quantity"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"merchandise_id":"m1","unit_price":"1","quantity":1,"extra":true}`))
	var body lineBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "extra", pkgerrors.As(err).Context().Field)
}

func TestDecodeJSONBodyDecodeFailures(t *testing.T) {
	cases := map[string]struct {
		body  string
		msg   string
		field string
	}{
		"empty":           {body: ``, msg: "request body is required"},
		"malformed":       {body: `{"merchandise_id":`, msg: "malformed JSON"},
		"wrong type":      {body: `{"merchandise_id":"m1","unit_price":"1","quantity":"two"}`, msg: "invalid request body", field: "quantity"},
		"two objects":     {body: `{"merchandise_id":"m1","unit_price":"1","quantity":1}{}`, msg: "single JSON object"},
		"too many digits": {body: `{"merchandise_id":"m1","unit_price":"1.00001","quantity":1}`, msg: "validation failed", field: "unit_price"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var body lineBody
			err := DecodeJSONBody(httptest.NewRecorder(), req, &body)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Contains(t, typed.Message(), tc.msg)
			if tc.field != "" {
				assert.Equal(t, tc.field, typed.Context().Field)
			}
		})
	}
}

func TestDecodeJSONBodyEnforcesSizeLimit(t *testing.T) {
	huge := `{"merchandise_id":"` + strings.Repeat("m", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	var body lineBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "request body too large", pkgerrors.As(err).Message())
}

func TestRequirePathParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/lines/m1", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("merchandiseId", " m1 ")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := RequirePathParam(req, "merchandiseId", 64)
	require.NoError(t, err)
	assert.Equal(t, "m1", got)

	_, err = RequirePathParam(req, "customerId", 64)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestIdentifiersAreNeverTruncated(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/lines/m1?line_id=abcdef", nil)
	_, err := ParseQueryID(req, "line_id", 3)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	got, err := ParseQueryID(req, "line_id", 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", got)
}

func TestParseQueryBool(t *testing.T) {
	on, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/api/v1/cart?refresh=TRUE", nil), "refresh")
	require.NoError(t, err)
	assert.True(t, on)

	off, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), "refresh")
	require.NoError(t, err)
	assert.False(t, off)

	_, err = ParseQueryBool(httptest.NewRequest(http.MethodGet, "/api/v1/cart?refresh=soon", nil), "refresh")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewValidatorSurfacesRegistrationErrors(t *testing.T) {
	v, err := newValidator(customTags)
	require.NoError(t, err)
	assert.NoError(t, v.Var("12.3456", "money"))
	assert.Error(t, v.Var("1.23456", "money"))
	assert.Error(t, v.Var("-1", "money"))

	_, err = newValidator(map[string]validator.Func{"": customTags["money"]})
	assert.Error(t, err, "an unregistrable tag must fail at start-up")
}
