package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/internal/picking"
	"github.com/meridianops/stockflow-backend/internal/stock"
	"github.com/meridianops/stockflow-backend/pkg/config"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/geo"
	"github.com/meridianops/stockflow-backend/pkg/logger"
)

// ReleaseReasonExpired selects the expired terminal status on release; any
// other reason ends the reservations as cancelled.
const ReleaseReasonExpired = "expired"

// ReasonOrderReserve is the ledger reason for reserve-side increments
// written during order reservation.
const ReasonOrderReserve = "ORDER_RESERVE"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReserveInput describes a reservation request for one order.
type ReserveInput struct {
	OrderID          uuid.UUID
	UserID           uuid.UUID
	Items            []picking.ItemRequest
	ExpiresInMinutes *int
	ShipTo           *geo.Point
	SplitAllowed     *bool
}

// Service manages the reservation lifecycle. Reservations are created
// atomically with their stock holds and end in exactly one terminal state.
type Service interface {
	ReserveOrderItems(ctx context.Context, input ReserveInput) ([]models.Reservation, error)
	// ReleaseOrderReservations frees the order's active holds and returns
	// how many reservations were released. Zero active holds is a no-op.
	ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID, reason string) (int, error)
	ConvertReservationsToStock(ctx context.Context, orderID, byUserID uuid.UUID) (int, error)
	// ExpireStaleReservations releases lapsed holds order by order and
	// returns the number of reservations expired. Safe to run concurrently
	// with payment conversion; the active status guards both paths.
	ExpireStaleReservations(ctx context.Context, limit int, now time.Time) (int, error)
	ListOrderReservations(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error)
}

type service struct {
	db     txRunner
	repo   *Repository
	engine picking.Engine
	stock  stock.Service
	cfg    config.ReservationConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewService(db txRunner, repo *Repository, engine picking.Engine, stockSvc stock.Service, cfg config.ReservationConfig, log *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if engine == nil {
		return nil, fmt.Errorf("picking engine required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:     db,
		repo:   repo,
		engine: engine,
		stock:  stockSvc,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}, nil
}

func (s *service) ReserveOrderItems(ctx context.Context, input ReserveInput) ([]models.Reservation, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items are required")
	}

	ttlMinutes := s.cfg.DefaultTTLMinutes
	if input.ExpiresInMinutes != nil {
		ttlMinutes = *input.ExpiresInMinutes
	}
	if ttlMinutes < 1 {
		ttlMinutes = 1
	}
	expiresAt := s.now().UTC().Add(time.Duration(ttlMinutes) * time.Minute)

	// The quote runs outside the transaction; the allocation below
	// re-validates availability so a stale quote aborts instead of
	// over-reserving.
	plan, err := s.engine.QuotePlan(ctx, picking.QuoteInput{
		ShipTo:       input.ShipTo,
		Items:        input.Items,
		SplitAllowed: input.SplitAllowed,
	})
	if err != nil {
		return nil, err
	}
	if plan.FillRate <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "no stock available for the requested items").
			WithDetails(map[string]any{"reason": plan.Reason})
	}
	if plan.FillRate < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock to fully cover the requested items").
			WithDetails(map[string]any{"fillRate": plan.FillRate})
	}

	reservations := make([]*models.Reservation, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		for _, line := range leg.Lines {
			reservations = append(reservations, &models.Reservation{
				OrderID:     input.OrderID,
				UserID:      input.UserID,
				ProductID:   line.ProductID,
				VariantID:   line.VariantID,
				LocationID:  leg.LocationID,
				ReservedQty: line.Qty,
				Status:      enums.ReservationStatusActive,
				ExpiresAt:   expiresAt,
			})
		}
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.engine.AllocatePlan(ctx, tx, plan, input.OrderID, input.UserID.String(), ReasonOrderReserve); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).CreateAll(ctx, reservations); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservations")
		}
		return nil
	})
	logCtx := s.log.WithOrderID(ctx, input.OrderID.String())
	logCtx = s.log.WithActor(logCtx, input.UserID.String())
	if err != nil {
		s.log.Error(logCtx, "order reservation failed", err)
		return nil, err
	}
	s.log.Info(s.log.WithField(logCtx, "reservations", len(reservations)), "order reservations created")

	created := make([]models.Reservation, 0, len(reservations))
	for _, reservation := range reservations {
		created = append(created, *reservation)
	}
	return created, nil
}

func (s *service) ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID, reason string) (int, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	released := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		active, err := repo.ListActiveByOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active reservations")
		}
		if len(active) == 0 {
			return nil
		}

		adjustments := make([]stock.Adjustment, 0, len(active))
		for _, reservation := range active {
			adjustments = append(adjustments, stock.Adjustment{
				ProductID:      reservation.ProductID,
				VariantID:      reservation.VariantID,
				LocationID:     reservation.LocationID,
				ReservedChange: -reservation.ReservedQty,
			})
		}
		refType := enums.StockRefTypeReservation
		refID := orderID
		err = s.stock.AdjustStockLevels(ctx, tx, stock.AdjustInput{
			Adjustments: adjustments,
			Reason:      stock.ReasonReservationRelease,
			Actor:       "system",
			RefType:     &refType,
			RefID:       &refID,
		})
		if err != nil {
			return err
		}

		terminal := enums.ReservationStatusCancelled
		if reason == ReleaseReasonExpired {
			terminal = enums.ReservationStatusExpired
		}
		releasedAt := s.now().UTC()
		for i := range active {
			active[i].Status = terminal
			active[i].ReleasedAt = &releasedAt
			if err := repo.Save(ctx, &active[i]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save reservation")
			}
		}
		released = len(active)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logCtx := s.log.WithOrderID(ctx, orderID.String())
		s.log.Info(s.log.WithFields(logCtx, map[string]any{
			"released": released,
			"reason":   reason,
		}), "order reservations released")
	}
	return released, nil
}

func (s *service) ConvertReservationsToStock(ctx context.Context, orderID, byUserID uuid.UUID) (int, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	converted := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		active, err := repo.ListActiveByOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active reservations")
		}
		if len(active) == 0 {
			return nil
		}

		adjustments := make([]stock.Adjustment, 0, len(active))
		for _, reservation := range active {
			adjustments = append(adjustments, stock.Adjustment{
				ProductID:      reservation.ProductID,
				VariantID:      reservation.VariantID,
				LocationID:     reservation.LocationID,
				QtyChange:      -reservation.ReservedQty,
				ReservedChange: -reservation.ReservedQty,
			})
		}
		refType := enums.StockRefTypeOrder
		refID := orderID
		err = s.stock.AdjustStockLevels(ctx, tx, stock.AdjustInput{
			Adjustments: adjustments,
			Reason:      stock.ReasonFulfillment,
			Actor:       byUserID.String(),
			RefType:     &refType,
			RefID:       &refID,
		})
		if err != nil {
			return err
		}

		convertedAt := s.now().UTC()
		for i := range active {
			active[i].Status = enums.ReservationStatusConverted
			active[i].ConvertedAt = &convertedAt
			if err := repo.Save(ctx, &active[i]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save reservation")
			}
		}
		converted = len(active)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if converted > 0 {
		logCtx := s.log.WithOrderID(ctx, orderID.String())
		logCtx = s.log.WithActor(logCtx, byUserID.String())
		s.log.Info(s.log.WithField(logCtx, "converted", converted), "order reservations converted to stock")
	}
	return converted, nil
}

func (s *service) ExpireStaleReservations(ctx context.Context, limit int, now time.Time) (int, error) {
	stale, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	orderIDs := make([]uuid.UUID, 0, len(stale))
	seen := make(map[uuid.UUID]struct{}, len(stale))
	for _, reservation := range stale {
		if _, ok := seen[reservation.OrderID]; ok {
			continue
		}
		seen[reservation.OrderID] = struct{}{}
		orderIDs = append(orderIDs, reservation.OrderID)
	}

	// One failing order must not block the rest of the sweep; errors are
	// collected and the batch is retried on the next cycle.
	expired := 0
	var sweepErr error
	for _, orderID := range orderIDs {
		count, err := s.ReleaseOrderReservations(ctx, orderID, ReleaseReasonExpired)
		if err != nil {
			sweepErr = multierr.Append(sweepErr, err)
			continue
		}
		expired += count
	}
	return expired, sweepErr
}

func (s *service) ListOrderReservations(ctx context.Context, orderID uuid.UUID) ([]models.Reservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	reservations, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	return reservations, nil
}
