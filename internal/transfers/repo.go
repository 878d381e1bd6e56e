package transfers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	"github.com/meridianops/stockflow-backend/pkg/pagination"
)

// ListFilter narrows a transfer order listing.
type ListFilter struct {
	Status         *enums.TransferOrderStatus
	FromLocationID *uuid.UUID
	ToLocationID   *uuid.UUID
	Limit          int
	Offset         int
}

// Repository provides data access for transfer orders.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, order *models.TransferOrder) error {
	if order == nil {
		return fmt.Errorf("transfer order is required")
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TransferOrder, error) {
	var order models.TransferOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) Save(ctx context.Context, order *models.TransferOrder) error {
	if order == nil {
		return fmt.Errorf("transfer order is required")
	}
	return r.db.WithContext(ctx).Save(order).Error
}

// List returns a filtered page of transfer orders, newest first, with the
// total matching count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.TransferOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.TransferOrder{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.FromLocationID != nil {
		query = query.Where("from_location_id = ?", *filter.FromLocationID)
	}
	if filter.ToLocationID != nil {
		query = query.Where("to_location_id = ?", *filter.ToLocationID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.TransferOrder
	err := query.
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
