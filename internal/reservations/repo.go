package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
)

// Repository provides data access for reservation rows.
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

// CreateAll inserts the reservation rows in one statement.
func (r *Repository) CreateAll(ctx context.Context, reservations []*models.Reservation) error {
	if len(reservations) == 0 {
		return fmt.Errorf("reservations are required")
	}
	return r.db.WithContext(ctx).Create(&reservations).Error
}

// ListActiveByOrder returns the order's reservations still holding stock.
func (r *Repository) ListActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusActive).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListByOrder returns all of the order's reservations regardless of status.
func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListExpired returns active reservations whose hold lapsed at or before now,
// oldest expiry first.
func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// Save persists reservation mutations.
func (r *Repository) Save(ctx context.Context, reservation *models.Reservation) error {
	if reservation == nil {
		return fmt.Errorf("reservation is required")
	}
	return r.db.WithContext(ctx).Save(reservation).Error
}
