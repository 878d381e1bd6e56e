package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db/models"
)

// Checker is the collaborator surface the inventory core needs from the
// catalog: existence and variant-ownership lookups, nothing else.
type Checker interface {
	WithTx(tx *gorm.DB) Checker
	ProductExists(ctx context.Context, productID uuid.UUID) (bool, error)
	VariantBelongsToProduct(ctx context.Context, productID, variantID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog checker bound to the provided database.
func NewRepository(db *gorm.DB) Checker {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Checker {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ProductExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Select("id").
		First(&product, "id = ?", productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) VariantBelongsToProduct(ctx context.Context, productID, variantID uuid.UUID) (bool, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Select("id").
		First(&variant, "id = ? AND product_id = ?", variantID, productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
