package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/enums"
	"github.com/meridianops/stockflow-backend/pkg/types"
)

// TransferOrder is a planned stock move between two locations. The lines
// travel as one jsonb document because they transition as a unit.
type TransferOrder struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromLocationID uuid.UUID `gorm:"column:from_location_id;type:uuid;not null;index:idx_transfers_route,priority:1"`
	ToLocationID   uuid.UUID `gorm:"column:to_location_id;type:uuid;not null;index:idx_transfers_route,priority:2"`

	Lines    types.TransferLines       `gorm:"column:lines;type:jsonb;not null"`
	Status   enums.TransferOrderStatus `gorm:"column:status;type:transfer_order_status;not null;index;index:idx_transfers_route,priority:3"`
	Metadata json.RawMessage           `gorm:"column:metadata;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the row id when the caller did not.
func (o *TransferOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
