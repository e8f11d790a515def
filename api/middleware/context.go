package middleware

import "context"

type contextKey string

const (
	ctxRequestID  contextKey = "request_id"
	ctxSessionKey contextKey = "cart_session_key"
	ctxCustomerID contextKey = "customer_id"
)

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRequestID)
}

// SessionKeyFromContext returns the cart session key resolved by CartSession.
func SessionKeyFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxSessionKey)
}

// CustomerIDFromContext returns the customer id, empty for guests.
func CustomerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxCustomerID)
}

// WithSessionKey injects the cart session key into the context.
func WithSessionKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxSessionKey, key)
}

// WithCustomerID injects the customer identifier into the context.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCustomerID, customerID)
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
