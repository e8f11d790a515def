package enums

import "fmt"

// FailurePolicy selects how a failed reconciliation is applied to the local cart.
type FailurePolicy string

const (
	FailurePolicyKeep   FailurePolicy = "keep"
	FailurePolicyRevert FailurePolicy = "revert"
)

var validFailurePolicies = []FailurePolicy{
	FailurePolicyKeep,
	FailurePolicyRevert,
}

// String implements fmt.Stringer.
func (p FailurePolicy) String() string {
	return string(p)
}

// IsValid reports whether the value matches a known FailurePolicy.
func (p FailurePolicy) IsValid() bool {
	for _, candidate := range validFailurePolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseFailurePolicy converts raw input into a FailurePolicy.
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	for _, candidate := range validFailurePolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid failure policy %q", value)
}
