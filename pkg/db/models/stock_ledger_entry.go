package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/enums"
)

// StockLedgerEntry is one immutable journal row for a quantity change. Rows
// are append-only: the entries for a stock key replayed in occurred_at order
// reconstruct the current StockItem quantities.
type StockLedgerEntry struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index:idx_ledger_key,priority:1"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:uuid;index:idx_ledger_key,priority:2"`
	LocationID uuid.UUID  `gorm:"column:location_id;type:uuid;not null;index:idx_ledger_key,priority:3"`

	Qty       int                  `gorm:"column:qty;not null"`
	Direction enums.StockDirection `gorm:"column:direction;type:stock_direction;not null"`
	Reason    string               `gorm:"column:reason;not null"`

	RefType *enums.StockRefType `gorm:"column:ref_type;type:stock_ref_type"`
	RefID   *uuid.UUID          `gorm:"column:ref_id;type:uuid"`

	OccurredAt time.Time `gorm:"column:occurred_at;not null;index:idx_ledger_key,priority:4,sort:desc"`
	Actor      string    `gorm:"column:actor;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the row id when the caller did not.
func (e *StockLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
