package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	cartdto "github.com/angelmondragon/storefront-cart/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-cart/api/middleware"
	"github.com/angelmondragon/storefront-cart/api/responses"
	"github.com/angelmondragon/storefront-cart/api/validators"
	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/membercart"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

const maxIDLen = 128

// Sessions hands out the reconciliation service bound to a cart session.
type Sessions interface {
	Open(ctx context.Context, sessionKey, customerID string) (membercart.Service, error)
	Release(sessionKey string)
}

// CartFetch returns the current enhanced cart. ?refresh=true pulls the
// backend cart first.
func CartFetch(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}
		refresh, err := validators.ParseQueryBool(r, "refresh")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view := svc.EnhancedCart()
		if refresh {
			refreshed, err := svc.Refresh(r.Context())
			if err != nil {
				responses.WriteErrorWithData(r.Context(), logg, w, err, cartdto.NewCartView(view))
				return
			}
			view = refreshed
		}
		responses.WriteSuccess(w, cartdto.NewCartView(view))
	}
}

// CartAddLine adds merchandise to the cart and waits for the backend to
// settle the change.
func CartAddLine(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload cartdto.AddLineRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}

		view, err := svc.AddToCartWithBenefits(r.Context(), toMerchandise(payload), payload.Quantity)
		writeMutation(w, r, logg, view, err)
	}
}

// CartUpdateLine sets the absolute quantity of a line.
func CartUpdateLine(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchandiseID, err := validators.RequirePathParam(r, "merchandiseId", maxIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cartdto.UpdateLineRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}

		view, err := svc.UpdateQuantityWithBenefits(r.Context(), merchandiseID, *payload.Quantity)
		writeMutation(w, r, logg, view, err)
	}
}

// CartRemoveLine removes a line. Removing a line that is already gone succeeds.
func CartRemoveLine(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchandiseID, err := validators.RequirePathParam(r, "merchandiseId", maxIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}

		lineID, err := validators.ParseQueryID(r, "line_id", maxIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.RemoveFromCartWithBenefits(r.Context(), merchandiseID, lineID)
		writeMutation(w, r, logg, view, err)
	}
}

func CartSavings(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, cartdto.NewSavings(svc.EnhancedCart()))
	}
}

func CartFreeDelivery(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, cartdto.FreeDelivery{Eligible: svc.IsEligibleForFreeDelivery()})
	}
}

// CartValidateMembership re-checks the membership against the backend. An
// unreachable backend yields a warning, never an error.
func CartValidateMembership(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}
		res := svc.ValidateMembershipStatus(r.Context())
		if res.Completed && res.Err != nil {
			responses.WriteErrorWithData(r.Context(), logg, w, res.Err, cartdto.NewValidation(res))
			return
		}
		responses.WriteSuccess(w, cartdto.NewValidation(res))
	}
}

// CartRefresh syncs the cart and reloads the membership.
func CartRefresh(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := open(w, r, sessions, logg)
		if !ok {
			return
		}
		view, err := svc.Refresh(r.Context())
		writeMutation(w, r, logg, view, err)
	}
}

// CartRelease drops the in-process session. The backend cart is kept and is
// resumed on the next request with the same session key.
func CartRelease(sessions Sessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Release(middleware.SessionKeyFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func open(w http.ResponseWriter, r *http.Request, sessions Sessions, logg *logger.Logger) (membercart.Service, bool) {
	if sessions == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart sessions unavailable"))
		return nil, false
	}
	ctx := r.Context()
	svc, err := sessions.Open(ctx, middleware.SessionKeyFromContext(ctx), middleware.CustomerIDFromContext(ctx))
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return nil, false
	}
	return svc, true
}

func writeMutation(w http.ResponseWriter, r *http.Request, logg *logger.Logger, view *membercart.EnhancedCart, err error) {
	if err != nil {
		if view == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteErrorWithData(r.Context(), logg, w, err, cartdto.NewCartView(view))
		return
	}
	responses.WriteSuccess(w, cartdto.NewCartView(view))
}

func toMerchandise(payload cartdto.AddLineRequest) commerce.Merchandise {
	productID := strings.TrimSpace(payload.ProductID)
	if productID == "" {
		productID = strings.TrimSpace(payload.MerchandiseID)
	}
	return commerce.Merchandise{
		ID:        strings.TrimSpace(payload.MerchandiseID),
		UnitPrice: decimal.RequireFromString(strings.TrimSpace(payload.UnitPrice)),
		Product: commerce.ProductSummary{
			ID:         productID,
			Handle:     strings.TrimSpace(payload.Handle),
			Title:      strings.TrimSpace(payload.Title),
			Image:      strings.TrimSpace(payload.Image),
			CategoryID: strings.TrimSpace(payload.CategoryID),
		},
	}
}
