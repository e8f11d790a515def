package commerce

import (
	"context"

	"github.com/angelmondragon/storefront-cart/internal/memberships"
)

// Platform is the cart surface of the external commerce backend.
type Platform interface {
	CreateCart(ctx context.Context) (*Cart, error)
	GetCart(ctx context.Context, cartID string) (*Cart, error)
	AddLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error)
	RemoveLines(ctx context.Context, cartID string, lineIDs []string) (*Cart, error)
	UpdateLines(ctx context.Context, cartID string, lines []LineInput) (*Cart, error)
}

// Backend is the full collaborator: cart lines plus membership records.
type Backend interface {
	Platform
	memberships.Backend
}

// Connectivity reports whether the backend is currently reachable.
type Connectivity interface {
	IsOffline() bool
}
