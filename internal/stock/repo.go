package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/pagination"
)

// Repository handles stock item and ledger persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to stock operations.
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

func applyVariant(query *gorm.DB, variantID *uuid.UUID) *gorm.DB {
	if variantID == nil {
		return query.Where("variant_id IS NULL")
	}
	return query.Where("variant_id = ?", *variantID)
}

// FindItem loads the stock row for one key.
func (r *Repository) FindItem(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, locationID uuid.UUID) (*models.StockItem, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND location_id = ?", productID, locationID)
	query = applyVariant(query, variantID)

	var item models.StockItem
	if err := query.First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts a new stock row.
func (r *Repository) CreateItem(ctx context.Context, item *models.StockItem) error {
	if item == nil {
		return fmt.Errorf("stock item is required")
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// SaveItem persists the provided stock row.
func (r *Repository) SaveItem(ctx context.Context, item *models.StockItem) error {
	if item == nil {
		return fmt.Errorf("stock item is required")
	}
	return r.db.WithContext(ctx).Save(item).Error
}

// ListItemsForKey returns all stock rows for a product/variant across
// locations.
func (r *Repository) ListItemsForKey(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) ([]models.StockItem, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	query = applyVariant(query, variantID)

	var items []models.StockItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListItemsAtLocations returns the stock rows for a product/variant limited
// to the provided locations.
func (r *Repository) ListItemsAtLocations(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, locationIDs []uuid.UUID) ([]models.StockItem, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Where("location_id IN ?", locationIDs)
	query = applyVariant(query, variantID)

	var items []models.StockItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListItems returns stock rows, optionally narrowed to a product/variant or
// location.
func (r *Repository) ListItems(ctx context.Context, filter QueryFilter) ([]models.StockItem, error) {
	query := r.db.WithContext(ctx).Model(&models.StockItem{})
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
		query = applyVariant(query, filter.VariantID)
	}
	if filter.LocationID != nil {
		query = query.Where("location_id = ?", *filter.LocationID)
	}

	var items []models.StockItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// AppendLedger inserts one immutable journal row. There is deliberately no
// update or delete counterpart.
func (r *Repository) AppendLedger(ctx context.Context, entry *models.StockLedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("ledger entry is required")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// LedgerHistory returns the newest journal rows for a key, keyset-paged on
// (occurred_at, id). The second return value is the cursor for the next
// page, empty when no further rows exist.
func (r *Repository) LedgerHistory(ctx context.Context, filter LedgerFilter) ([]models.StockLedgerEntry, string, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ?", filter.ProductID)
	query = applyVariant(query, filter.VariantID)
	if filter.LocationID != nil {
		query = query.Where("location_id = ?", *filter.LocationID)
	}

	cursor, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		query = query.Where(
			"occurred_at < ? OR (occurred_at = ? AND id < ?)",
			cursor.Timestamp, cursor.Timestamp, cursor.ID,
		)
	}

	limit := pagination.NormalizeLimit(filter.Limit)
	var entries []models.StockLedgerEntry
	err = query.
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&entries).Error
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next = pagination.EncodeCursor(pagination.Cursor{Timestamp: last.OccurredAt, ID: last.ID})
	}
	return entries, next, nil
}

// LedgerReplay returns every journal row for one full key in insertion
// order, oldest first, for reconstruction.
func (r *Repository) LedgerReplay(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, locationID uuid.UUID) ([]models.StockLedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND location_id = ?", productID, locationID)
	query = applyVariant(query, variantID)

	var entries []models.StockLedgerEntry
	err := query.
		Order("occurred_at ASC").
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
