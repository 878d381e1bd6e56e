package enums

import "fmt"

// TransferOrderStatus tracks a stock move between two locations.
type TransferOrderStatus string

const (
	TransferOrderStatusDraft     TransferOrderStatus = "DRAFT"
	TransferOrderStatusRequested TransferOrderStatus = "REQUESTED"
	TransferOrderStatusInTransit TransferOrderStatus = "IN_TRANSIT"
	TransferOrderStatusReceived  TransferOrderStatus = "RECEIVED"
	TransferOrderStatusCancelled TransferOrderStatus = "CANCELLED"
)

var validTransferOrderStatuses = []TransferOrderStatus{
	TransferOrderStatusDraft,
	TransferOrderStatusRequested,
	TransferOrderStatusInTransit,
	TransferOrderStatusReceived,
	TransferOrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransferOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransferOrderStatus.
func (s TransferOrderStatus) IsValid() bool {
	for _, candidate := range validTransferOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TransferOrderStatus) IsTerminal() bool {
	return s == TransferOrderStatusReceived || s == TransferOrderStatusCancelled
}

// ParseTransferOrderStatus converts raw input into a TransferOrderStatus.
func ParseTransferOrderStatus(value string) (TransferOrderStatus, error) {
	for _, candidate := range validTransferOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer order status %q", value)
}
