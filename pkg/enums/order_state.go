package enums

import "fmt"

// OrderState tracks an allocated ticket through confirmation or cancellation.
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateProcessed OrderState = "PROCESSED"
	OrderStateCancelled OrderState = "CANCELLED"
)

var validOrderStates = []OrderState{
	OrderStatePending,
	OrderStateProcessed,
	OrderStateCancelled,
}

// String returns the literal string for the state.
func (s OrderState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the record still holds its ticket for the order.
func (s OrderState) IsActive() bool {
	return s == OrderStatePending || s == OrderStateProcessed
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
