package memberships

import (
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// Require returns a typed error unless m is active at now. Absent or
// status-none memberships map to NOT_FOUND, lapsed ones to MEMBERSHIP_EXPIRED.
func Require(m *Membership, now time.Time) error {
	switch {
	case m == nil || m.Status == enums.MembershipStatusNone || m.Status == "":
		return pkgerrors.New(pkgerrors.CodeNotFound, "membership not found").
			WithAction(pkgerrors.ActionRenewMembership)
	case m.IsActive(now):
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeExpired, "membership expired").
			WithField("expires_at", m.ExpiresAt.UTC().Format(time.RFC3339))
	}
}
