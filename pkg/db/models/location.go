package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/enums"
	"github.com/meridianops/stockflow-backend/pkg/geo"
	"github.com/meridianops/stockflow-backend/pkg/types"
)

// Location is a fulfillment node (warehouse, store, dropship supplier or
// buffer). Rows are soft-deleted only; uniqueness on code and on the
// (country, region, pincode) triple applies to non-deleted rows and is
// enforced by partial indexes in the migrations.
type Location struct {
	ID       uuid.UUID              `gorm:"type:uuid;primaryKey"`
	Code     string                 `gorm:"column:code;not null"`
	Name     string                 `gorm:"column:name;not null"`
	Type     enums.LocationType     `gorm:"column:type;type:location_type;not null"`
	Lat      *float64               `gorm:"column:lat"`
	Lng      *float64               `gorm:"column:lng"`
	Pincode  *string                `gorm:"column:pincode"`
	Country  *string                `gorm:"column:country"`
	Region   *string                `gorm:"column:region"`
	Priority int                    `gorm:"column:priority;not null;default:0"`
	Active   bool                   `gorm:"column:active;not null;default:true"`
	Metadata types.LocationMetadata `gorm:"column:metadata;type:jsonb"`

	DeletedAt *time.Time `gorm:"column:deleted_at;index"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the row id when the caller did not.
func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsDeleted reports whether the location has been retired.
func (l Location) IsDeleted() bool {
	return l.DeletedAt != nil
}

// GeoPoint returns the location coordinates, or nil when geo data is absent.
func (l Location) GeoPoint() *geo.Point {
	if l.Lat == nil || l.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *l.Lat, Lng: *l.Lng}
}
