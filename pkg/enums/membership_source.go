package enums

import "fmt"

// MembershipSource labels where a membership value came from.
type MembershipSource string

const (
	MembershipSourceLive     MembershipSource = "live"
	MembershipSourceCached   MembershipSource = "cached"
	MembershipSourceDegraded MembershipSource = "degraded"
	// MembershipSourceFallback marks conservative zeroed values produced
	// when neither the backend nor the cache had anything.
	MembershipSourceFallback MembershipSource = "fallback"
)

var validMembershipSources = []MembershipSource{
	MembershipSourceLive,
	MembershipSourceCached,
	MembershipSourceDegraded,
	MembershipSourceFallback,
}

// String implements fmt.Stringer.
func (s MembershipSource) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known MembershipSource.
func (s MembershipSource) IsValid() bool {
	for _, candidate := range validMembershipSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseMembershipSource converts raw input into a MembershipSource.
func ParseMembershipSource(value string) (MembershipSource, error) {
	for _, candidate := range validMembershipSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid membership source %q", value)
}
