package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockItem is the source-of-truth quantity row for one
// (product, variant, location) key. Absence of a row means zero stock; rows
// are created lazily by the mutation engine and never by read paths.
type StockItem struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_stock_key"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:uuid;uniqueIndex:idx_stock_key"`
	LocationID uuid.UUID  `gorm:"column:location_id;type:uuid;not null;uniqueIndex:idx_stock_key"`

	OnHand   int `gorm:"column:on_hand;not null;default:0"`
	Reserved int `gorm:"column:reserved;not null;default:0"`
	Incoming int `gorm:"column:incoming;not null;default:0"`

	SafetyStock  int `gorm:"column:safety_stock;not null;default:0"`
	ReorderPoint int `gorm:"column:reorder_point;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the row id when the caller did not.
func (s *StockItem) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Available is the sellable quantity, floored at zero because dropship rows
// may legitimately run negative.
func (s StockItem) Available() int {
	available := s.OnHand - s.Reserved
	if available < 0 {
		return 0
	}
	return available
}
