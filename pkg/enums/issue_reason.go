package enums

import "fmt"

// IssueReason classifies why the pipeline handed an order to operators.
type IssueReason string

const (
	IssueReasonOrderMismatch         IssueReason = "order_mismatch"
	IssueReasonTooManyItems          IssueReason = "too_many_items"
	IssueReasonInvalidRecipient      IssueReason = "invalid_recipient"
	IssueReasonGatewayUnavailable    IssueReason = "gateway_unavailable"
	IssueReasonInsufficientInventory IssueReason = "insufficient_inventory"
	IssueReasonAllocationConflict    IssueReason = "allocation_conflict"
	IssueReasonDeliveryFailed        IssueReason = "delivery_failed"
	IssueReasonTicketsReleased       IssueReason = "tickets_released"
)

var validIssueReasons = []IssueReason{
	IssueReasonOrderMismatch,
	IssueReasonTooManyItems,
	IssueReasonInvalidRecipient,
	IssueReasonGatewayUnavailable,
	IssueReasonInsufficientInventory,
	IssueReasonAllocationConflict,
	IssueReasonDeliveryFailed,
	IssueReasonTicketsReleased,
}

func (r IssueReason) String() string {
	return string(r)
}

func (r IssueReason) IsValid() bool {
	for _, candidate := range validIssueReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// Retryable reports whether re-running allocation can succeed without the
// order itself changing.
func (r IssueReason) Retryable() bool {
	switch r {
	case IssueReasonGatewayUnavailable,
		IssueReasonInsufficientInventory,
		IssueReasonAllocationConflict,
		IssueReasonTicketsReleased:
		return true
	default:
		return false
	}
}

func ParseIssueReason(value string) (IssueReason, error) {
	for _, candidate := range validIssueReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid issue reason %q", value)
}
