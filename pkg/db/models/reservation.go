package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/enums"
)

// Reservation is a time-bounded stock hold against an order. One row exists
// per plan leg line, so a split order carries several rows.
type Reservation struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index:idx_reservations_order,priority:1"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	LocationID uuid.UUID  `gorm:"column:location_id;type:uuid;not null"`

	ReservedQty int                     `gorm:"column:reserved_qty;not null"`
	Status      enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'active';index:idx_reservations_order,priority:2;index:idx_reservations_expiry,priority:2"`
	ExpiresAt   time.Time               `gorm:"column:expires_at;not null;index:idx_reservations_expiry,priority:1"`
	Notes       *string                 `gorm:"column:notes"`

	ReleasedAt  *time.Time `gorm:"column:released_at"`
	ConvertedAt *time.Time `gorm:"column:converted_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the row id when the caller did not.
func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
