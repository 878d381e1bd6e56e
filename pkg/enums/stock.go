package enums

import "fmt"

// StockDirection classifies a ledger entry by the kind of quantity movement.
type StockDirection string

const (
	StockDirectionIn          StockDirection = "IN"
	StockDirectionOut         StockDirection = "OUT"
	StockDirectionReserve     StockDirection = "RESERVE"
	StockDirectionRelease     StockDirection = "RELEASE"
	StockDirectionAdjust      StockDirection = "ADJUST"
	StockDirectionTransferIn  StockDirection = "TRANSFER_IN"
	StockDirectionTransferOut StockDirection = "TRANSFER_OUT"
)

var validStockDirections = []StockDirection{
	StockDirectionIn,
	StockDirectionOut,
	StockDirectionReserve,
	StockDirectionRelease,
	StockDirectionAdjust,
	StockDirectionTransferIn,
	StockDirectionTransferOut,
}

// String implements fmt.Stringer.
func (d StockDirection) String() string {
	return string(d)
}

// IsValid reports whether the value is a known StockDirection.
func (d StockDirection) IsValid() bool {
	for _, candidate := range validStockDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseStockDirection converts raw input into a StockDirection.
func ParseStockDirection(value string) (StockDirection, error) {
	for _, candidate := range validStockDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock direction %q", value)
}

// StockRefType names the business record that caused a ledger entry.
type StockRefType string

const (
	StockRefTypeOrder         StockRefType = "ORDER"
	StockRefTypeTransfer      StockRefType = "TRANSFER"
	StockRefTypeAdjustment    StockRefType = "ADJUSTMENT"
	StockRefTypeReservation   StockRefType = "RESERVATION"
	StockRefTypeReturn        StockRefType = "RETURN"
	StockRefTypePurchaseOrder StockRefType = "PO"
)

var validStockRefTypes = []StockRefType{
	StockRefTypeOrder,
	StockRefTypeTransfer,
	StockRefTypeAdjustment,
	StockRefTypeReservation,
	StockRefTypeReturn,
	StockRefTypePurchaseOrder,
}

// String implements fmt.Stringer.
func (t StockRefType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known StockRefType.
func (t StockRefType) IsValid() bool {
	for _, candidate := range validStockRefTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStockRefType converts raw input into a StockRefType.
func ParseStockRefType(value string) (StockRefType, error) {
	for _, candidate := range validStockRefTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock ref type %q", value)
}
