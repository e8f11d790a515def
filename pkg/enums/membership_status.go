package enums

import (
	"fmt"
	"strings"
)

// MembershipStatus captures where a customer's paid membership stands.
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "active"
	MembershipStatusExpired MembershipStatus = "expired"
	MembershipStatusNone    MembershipStatus = "none"
)

var validMembershipStatuses = []MembershipStatus{
	MembershipStatusActive,
	MembershipStatusExpired,
	MembershipStatusNone,
}

func (m MembershipStatus) String() string {
	return string(m)
}

func (m MembershipStatus) IsValid() bool {
	for _, candidate := range validMembershipStatuses {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMembershipStatus normalizes a backend status. An empty value means the
// customer never held a membership.
func ParseMembershipStatus(value string) (MembershipStatus, error) {
	normalized := MembershipStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return MembershipStatusNone, nil
	}
	if !normalized.IsValid() {
		return MembershipStatusNone, fmt.Errorf("invalid membership status %q", value)
	}
	return normalized, nil
}
