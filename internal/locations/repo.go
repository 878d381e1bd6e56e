package locations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	"github.com/meridianops/stockflow-backend/pkg/pagination"
)

// DeletionState selects which soft-delete partition a list query covers.
type DeletionState string

const (
	DeletionStateActive  DeletionState = "active"
	DeletionStateDeleted DeletionState = "deleted"
	DeletionStateAll     DeletionState = "all"
)

// ListFilter narrows a location listing.
type ListFilter struct {
	Type    *enums.LocationType
	Active  *bool
	Region  *string
	Country *string
	State   DeletionState
	Limit   int
	Offset  int
}

// Repository handles location persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to location operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create persists a new location row.
func (r *Repository) Create(ctx context.Context, location *models.Location) error {
	if location == nil {
		return fmt.Errorf("location is required")
	}
	return r.db.WithContext(ctx).Create(location).Error
}

// FindByID loads a location; deleted rows are excluded unless requested.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.Location, error) {
	query := r.db.WithContext(ctx).Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	var location models.Location
	if err := query.First(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

// FindByCode loads the non-deleted location with the given code.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).
		Where("code = ? AND deleted_at IS NULL", strings.TrimSpace(code)).
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

// FindByGeoKey loads the non-deleted location at the exact
// (country, region, pincode) triple.
func (r *Repository) FindByGeoKey(ctx context.Context, country, region, pincode string) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).
		Where("country = ? AND region = ? AND pincode = ? AND deleted_at IS NULL", country, region, pincode).
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

// List returns locations matching the filter, sorted by priority descending
// then recency, plus the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Location, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Location{})

	switch filter.State {
	case DeletionStateDeleted:
		query = query.Where("deleted_at IS NOT NULL")
	case DeletionStateAll:
	default:
		query = query.Where("deleted_at IS NULL")
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.Region != nil {
		query = query.Where("region = ?", *filter.Region)
	}
	if filter.Country != nil {
		query = query.Where("country = ?", *filter.Country)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Location
	err := query.
		Order("priority DESC").
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListAllActive returns every active, non-deleted location ordered by
// priority. The picking engine walks this set when scoring candidates.
func (r *Repository) ListAllActive(ctx context.Context) ([]models.Location, error) {
	var rows []models.Location
	err := r.db.WithContext(ctx).
		Where("active = ? AND deleted_at IS NULL", true).
		Order("priority DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Update saves the provided location.
func (r *Repository) Update(ctx context.Context, location *models.Location) error {
	if location == nil {
		return fmt.Errorf("location is required")
	}
	return r.db.WithContext(ctx).Save(location).Error
}

// CountNonDeleted returns how many locations have not been soft-deleted.
func (r *Repository) CountNonDeleted(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("deleted_at IS NULL").
		Count(&count).Error
	return count, err
}
