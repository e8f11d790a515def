package memberships

import (
	"context"
	"net/http"

	cartdto "github.com/angelmondragon/storefront-cart/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-cart/api/responses"
	"github.com/angelmondragon/storefront-cart/api/validators"
	membershipsvc "github.com/angelmondragon/storefront-cart/internal/memberships"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

const maxCustomerIDLen = 128

type statsResponse struct {
	CustomerID         string `json:"customer_id"`
	TotalSavings       string `json:"total_savings"`
	OrdersWithBenefits int    `json:"orders_with_benefits"`
	FreeDeliveriesUsed int    `json:"free_deliveries_used"`
}

type purchaseResponse struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// MembershipFetch returns the live membership of the customer in the path.
func MembershipFetch(svc membershipsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return membershipCall(svc, logg, svc.Lookup)
}

func MembershipRenew(svc membershipsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return membershipCall(svc, logg, svc.Renew)
}

func MembershipCancel(svc membershipsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return membershipCall(svc, logg, svc.Cancel)
}

// MembershipPurchase starts a hosted checkout and returns where to send the customer.
func MembershipPurchase(svc membershipsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := validators.RequirePathParam(r, "customerId", maxCustomerIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		redirect, err := svc.Purchase(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseResponse{
			Reference: redirect.Reference,
			URL:       redirect.URL,
		})
	}
}

func MembershipStats(svc membershipsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := validators.RequirePathParam(r, "customerId", maxCustomerIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statsResponse{
			CustomerID:         stats.CustomerID,
			TotalSavings:       stats.TotalSavings.StringFixed(2),
			OrdersWithBenefits: stats.OrdersWithBenefits,
			FreeDeliveriesUsed: stats.FreeDeliveriesUsed,
		})
	}
}

func membershipCall(svc membershipsvc.Service, logg *logger.Logger, call func(context.Context, string) (*membershipsvc.Membership, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := validators.RequirePathParam(r, "customerId", maxCustomerIDLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			r = r.WithContext(logg.WithCustomerID(r.Context(), customerID))
		}
		m, err := call(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartdto.NewMembership(m))
	}
}
