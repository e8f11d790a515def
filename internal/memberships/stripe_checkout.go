package memberships

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	pkgstripe "github.com/angelmondragon/storefront-cart/pkg/stripe"
	"github.com/stripe/stripe-go/v79"
)

// StripeCheckout starts membership purchases as Stripe subscription checkouts.
type StripeCheckout struct {
	sessions   pkgstripe.CheckoutSessions
	priceID    string
	successURL string
	cancelURL  string
}

// NewStripeCheckout wraps the provided session client so purchases can be tested.
func NewStripeCheckout(sessions pkgstripe.CheckoutSessions, priceID, successURL, cancelURL string) (*StripeCheckout, error) {
	if sessions == nil {
		return nil, fmt.Errorf("stripe checkout sessions client required")
	}
	if strings.TrimSpace(priceID) == "" {
		return nil, fmt.Errorf("membership price id required")
	}
	return &StripeCheckout{
		sessions:   sessions,
		priceID:    strings.TrimSpace(priceID),
		successURL: successURL,
		cancelURL:  cancelURL,
	}, nil
}

func (s *StripeCheckout) CreateCheckout(ctx context.Context, customerID string) (*CheckoutRedirect, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if s.successURL != "" {
		params.SuccessURL = stripe.String(s.successURL)
	}
	if s.cancelURL != "" {
		params.CancelURL = stripe.String(s.cancelURL)
	}
	params.AddMetadata("customer_id", customerID)
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &CheckoutRedirect{Reference: sess.ID, URL: sess.URL}, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "create stripe checkout session")
	}
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, "stripe declined the payment")
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "stripe unavailable")
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stripe rejected checkout parameters").
			WithField(stripeErr.Param, "")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create stripe checkout session")
	}
}
