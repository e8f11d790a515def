package resilience

import (
	"context"
	"errors"
	"net"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// Classify maps any error onto the typed taxonomy. Typed errors pass through;
// timeouts and transport failures become retryable network errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "attempt timed out")
	}
	if errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "attempt canceled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "network failure")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected failure")
}

func offlineError(name string) error {
	return pkgerrors.New(pkgerrors.CodeNetwork, "offline: skipped "+name)
}
