package enums

import "fmt"

// MutationKind names the backend call a cart mutation maps to.
type MutationKind string

const (
	MutationKindAdd    MutationKind = "add"
	MutationKindUpdate MutationKind = "update"
	MutationKindRemove MutationKind = "remove"
)

var validMutationKinds = []MutationKind{
	MutationKindAdd,
	MutationKindUpdate,
	MutationKindRemove,
}

// String implements fmt.Stringer.
func (k MutationKind) String() string {
	return string(k)
}

// IsValid reports whether the value matches a known MutationKind.
func (k MutationKind) IsValid() bool {
	for _, candidate := range validMutationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseMutationKind converts raw input into a MutationKind.
func ParseMutationKind(value string) (MutationKind, error) {
	for _, candidate := range validMutationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid mutation kind %q", value)
}
