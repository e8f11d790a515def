package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-cart/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

const (
	SessionHeader  = "X-Cart-Session"
	CustomerHeader = "X-Customer-Id"

	maxHeaderValueLen = 128
)

// CartSession requires a cart session key and picks up the optional customer
// id. Both are attached to the request context and to the log fields.
func CartSession(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(SessionHeader))
			if key == "" || len(key) > maxHeaderValueLen {
				err := pkgerrors.New(pkgerrors.CodeValidation, SessionHeader+" header required").
					WithField(SessionHeader, "1-128 characters")
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			customerID := strings.TrimSpace(r.Header.Get(CustomerHeader))
			if len(customerID) > maxHeaderValueLen {
				err := pkgerrors.New(pkgerrors.CodeValidation, CustomerHeader+" header too long").
					WithField(CustomerHeader, "at most 128 characters")
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithSessionKey(r.Context(), key)
			ctx = WithCustomerID(ctx, customerID)
			if logg != nil {
				ctx = logg.WithSessionKey(ctx, key)
				if customerID != "" {
					ctx = logg.WithCustomerID(ctx, customerID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
