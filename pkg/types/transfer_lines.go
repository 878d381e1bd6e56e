package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TransferLine is one product/variant quantity within a transfer order.
type TransferLine struct {
	ProductID uuid.UUID  `json:"productId"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Qty       int        `json:"qty"`
}

// TransferLines persists the line set as one jsonb column; lines move through
// the state machine as a unit, so there is no per-line table.
type TransferLines []TransferLine

// TotalQty sums the quantities across all lines.
func (l TransferLines) TotalQty() int {
	total := 0
	for _, line := range l {
		total += line.Qty
	}
	return total
}

// Value implements driver.Valuer for jsonb columns.
func (l TransferLines) Value() (driver.Value, error) {
	if l == nil {
		l = TransferLines{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for jsonb columns.
func (l *TransferLines) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("transfer lines: unsupported scan type %T", value)
	}
}
