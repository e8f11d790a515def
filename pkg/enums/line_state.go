package enums

import "fmt"

// LineState tracks a cart line through optimistic reconciliation.
type LineState string

const (
	LineStateIdle              LineState = "idle"
	LineStateOptimisticApplied LineState = "optimistic_applied"
	LineStateReconciling       LineState = "reconciling"
	LineStateConfirmed         LineState = "confirmed"
	LineStateRolledBack        LineState = "rolled_back"
)

var validLineStates = []LineState{
	LineStateIdle,
	LineStateOptimisticApplied,
	LineStateReconciling,
	LineStateConfirmed,
	LineStateRolledBack,
}

// String implements fmt.Stringer.
func (s LineState) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known LineState.
func (s LineState) IsValid() bool {
	for _, candidate := range validLineStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLineState converts raw input into a LineState.
func ParseLineState(value string) (LineState, error) {
	for _, candidate := range validLineStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line state %q", value)
}
