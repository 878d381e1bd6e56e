package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/internal/catalog"
	"github.com/meridianops/stockflow-backend/internal/locations"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/geo"
	"github.com/meridianops/stockflow-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the single choke point for all stock quantity mutation. No
// other component writes StockItem or ledger rows.
type Service interface {
	// AdjustStockLevels applies every adjustment atomically. Passing a
	// transaction composes the batch into a caller-owned unit of work;
	// passing nil opens one.
	AdjustStockLevels(ctx context.Context, tx *gorm.DB, input AdjustInput) error
	ReconcileStock(ctx context.Context, input ReconcileInput) error
	QueryStock(ctx context.Context, filter QueryFilter) ([]StockRow, error)
	// GetAvailableStock sums sellable quantity across active locations.
	// unlimited is true when a dropship location can source the product.
	GetAvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (qty int, unlimited bool, err error)
	// LedgerHistory pages newest-first through the journal for a key. The
	// returned cursor selects the next page; empty means the history is
	// exhausted.
	LedgerHistory(ctx context.Context, filter LedgerFilter) ([]models.StockLedgerEntry, string, error)
}

type service struct {
	db        txRunner
	repo      *Repository
	locations *locations.Repository
	catalog   catalog.Checker
	log       *logger.Logger
	now       func() time.Time
}

// NewService wires the stock mutation engine.
func NewService(db txRunner, repo *Repository, locationsRepo *locations.Repository, catalogRepo catalog.Checker, log *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if locationsRepo == nil {
		return nil, fmt.Errorf("locations repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog checker required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:        db,
		repo:      repo,
		locations: locationsRepo,
		catalog:   catalogRepo,
		log:       log,
		now:       time.Now,
	}, nil
}

func (s *service) AdjustStockLevels(ctx context.Context, tx *gorm.DB, input AdjustInput) error {
	if len(input.Adjustments) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustments are required")
	}
	if input.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if input.Actor == "" {
		input.Actor = "system"
	}
	if input.RefType != nil && !input.RefType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ref type %q", *input.RefType))
	}

	if tx != nil {
		return s.applyAdjustments(ctx, tx, input)
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyAdjustments(ctx, tx, input)
	})
}

func (s *service) applyAdjustments(ctx context.Context, tx *gorm.DB, input AdjustInput) error {
	repo := s.repo.WithTx(tx)
	locationsRepo := s.locations.WithTx(tx)
	catalogRepo := s.catalog.WithTx(tx)
	occurredAt := s.now().UTC()

	for _, adj := range input.Adjustments {
		if adj.QtyChange == 0 && adj.ReservedChange == 0 && adj.IncomingChange == 0 {
			continue
		}

		if adj.VariantID != nil {
			ok, err := catalogRepo.VariantBelongsToProduct(ctx, adj.ProductID, *adj.VariantID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check variant ownership")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeVariantMismatch,
					fmt.Sprintf("variant %s does not belong to product %s", adj.VariantID, adj.ProductID))
			}
		} else {
			ok, err := catalogRepo.ProductExists(ctx, adj.ProductID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check product")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", adj.ProductID))
			}
		}

		location, err := locationsRepo.FindByID(ctx, adj.LocationID, false)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("location %s not found", adj.LocationID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
		}

		item, err := repo.FindItem(ctx, adj.ProductID, adj.VariantID, adj.LocationID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
			}
			item = &models.StockItem{
				ProductID:  adj.ProductID,
				VariantID:  adj.VariantID,
				LocationID: adj.LocationID,
			}
			if err := repo.CreateItem(ctx, item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock item")
			}
		}

		newOnHand := item.OnHand + adj.QtyChange
		newReserved := item.Reserved + adj.ReservedChange
		newIncoming := item.Incoming + adj.IncomingChange

		if !location.Type.IsDropship() {
			if newOnHand < 0 || newReserved < 0 || newReserved > newOnHand {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, "stock adjustment would violate quantity invariants").
					WithDetails(map[string]any{
						"productId":   adj.ProductID,
						"locationId":  adj.LocationID,
						"onHand":      item.OnHand,
						"reserved":    item.Reserved,
						"newOnHand":   newOnHand,
						"newReserved": newReserved,
					})
			}
		}
		if newIncoming < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "incoming quantity cannot go negative").
				WithDetails(map[string]any{
					"productId":  adj.ProductID,
					"locationId": adj.LocationID,
					"incoming":   item.Incoming,
				})
		}

		item.OnHand = newOnHand
		item.Reserved = newReserved
		item.Incoming = newIncoming
		if err := repo.SaveItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save stock item")
		}

		if err := s.appendEntries(ctx, repo, adj, input, occurredAt); err != nil {
			return err
		}
	}
	return nil
}

// appendEntries writes one journal row per non-zero delta component.
func (s *service) appendEntries(ctx context.Context, repo *Repository, adj Adjustment, input AdjustInput, occurredAt time.Time) error {
	base := models.StockLedgerEntry{
		ProductID:  adj.ProductID,
		VariantID:  adj.VariantID,
		LocationID: adj.LocationID,
		Reason:     input.Reason,
		RefType:    input.RefType,
		RefID:      input.RefID,
		OccurredAt: occurredAt,
		Actor:      input.Actor,
	}

	if adj.QtyChange != 0 {
		entry := base
		entry.Qty = adj.QtyChange
		entry.Direction = qtyDirection(adj.QtyChange, input.RefType)
		if err := repo.AppendLedger(ctx, &entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
		}
	}
	if adj.ReservedChange != 0 {
		entry := base
		entry.Qty = adj.ReservedChange
		entry.Direction = enums.StockDirectionReserve
		if adj.ReservedChange < 0 {
			entry.Direction = enums.StockDirectionRelease
		}
		if err := repo.AppendLedger(ctx, &entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
		}
	}
	if adj.IncomingChange != 0 {
		entry := base
		entry.Qty = adj.IncomingChange
		entry.Direction = enums.StockDirectionIn
		if adj.IncomingChange < 0 {
			entry.Direction = enums.StockDirectionOut
		}
		if entry.RefType == nil {
			refType := enums.StockRefTypePurchaseOrder
			entry.RefType = &refType
		}
		if err := repo.AppendLedger(ctx, &entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
		}
	}
	return nil
}

func qtyDirection(delta int, refType *enums.StockRefType) enums.StockDirection {
	transfer := refType != nil && *refType == enums.StockRefTypeTransfer
	switch {
	case transfer && delta >= 0:
		return enums.StockDirectionTransferIn
	case transfer:
		return enums.StockDirectionTransferOut
	case delta >= 0:
		return enums.StockDirectionIn
	default:
		return enums.StockDirectionOut
	}
}

func (s *service) ReconcileStock(ctx context.Context, input ReconcileInput) error {
	if input.CountedOnHand < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "counted on-hand cannot be negative")
	}
	if input.CountedReserved != nil && *input.CountedReserved < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "counted reserved cannot be negative")
	}

	currentOnHand := 0
	currentReserved := 0
	item, err := s.repo.FindItem(ctx, input.ProductID, input.VariantID, input.LocationID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
	}
	if item != nil {
		currentOnHand = item.OnHand
		currentReserved = item.Reserved
	}

	adjustment := Adjustment{
		ProductID:  input.ProductID,
		VariantID:  input.VariantID,
		LocationID: input.LocationID,
		QtyChange:  input.CountedOnHand - currentOnHand,
	}
	if input.CountedReserved != nil {
		adjustment.ReservedChange = *input.CountedReserved - currentReserved
	}
	if adjustment.QtyChange == 0 && adjustment.ReservedChange == 0 {
		return nil
	}

	logCtx := s.log.WithProductID(ctx, input.ProductID.String())
	logCtx = s.log.WithLocationID(logCtx, input.LocationID.String())
	logCtx = s.log.WithActor(logCtx, input.Actor)

	refType := enums.StockRefTypeAdjustment
	err = s.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{adjustment},
		Reason:      ReasonReconciliation,
		Actor:       input.Actor,
		RefType:     &refType,
	})
	if err != nil {
		s.log.Error(logCtx, "stock reconciliation failed", err)
		return err
	}
	s.log.Info(s.log.WithFields(logCtx, map[string]any{
		"qty_change":      adjustment.QtyChange,
		"reserved_change": adjustment.ReservedChange,
	}), "stock reconciled")
	return nil
}

func (s *service) QueryStock(ctx context.Context, filter QueryFilter) ([]StockRow, error) {
	candidates, err := s.locations.ListAllActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list locations")
	}

	locationByID := make(map[uuid.UUID]models.Location, len(candidates))
	for _, location := range candidates {
		if filter.Region != nil && (location.Region == nil || *location.Region != *filter.Region) {
			continue
		}
		if filter.Country != nil && (location.Country == nil || *location.Country != *filter.Country) {
			continue
		}
		locationByID[location.ID] = location
	}

	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock items")
	}

	rows := make([]StockRow, 0, len(items))
	for _, item := range items {
		location, ok := locationByID[item.LocationID]
		if !ok {
			continue
		}

		var distance *float64
		if filter.Origin != nil {
			point := location.GeoPoint()
			if point != nil {
				km := geo.DistanceKm(*filter.Origin, *point)
				distance = &km
			}
			if filter.RadiusKm != nil {
				if distance == nil || *distance > *filter.RadiusKm {
					continue
				}
			}
		}

		row := StockRow{
			Item:       item,
			Location:   location,
			Available:  item.Available(),
			DistanceKm: distance,
		}
		if filter.IncludeIncoming {
			incoming := item.Incoming
			row.Incoming = &incoming
		}
		if filter.IncludeReserved {
			reserved := item.Reserved
			row.Reserved = &reserved
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Location.Priority > rows[j].Location.Priority
	})
	return rows, nil
}

func (s *service) GetAvailableStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, bool, error) {
	candidates, err := s.locations.ListAllActive(ctx)
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list locations")
	}

	constrained := make(map[uuid.UUID]struct{}, len(candidates))
	for _, location := range candidates {
		if location.Type.IsDropship() {
			// Dropship sourcing is never stock-constrained.
			return 0, true, nil
		}
		constrained[location.ID] = struct{}{}
	}

	items, err := s.repo.ListItemsForKey(ctx, productID, variantID)
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock items")
	}

	total := 0
	for _, item := range items {
		if _, ok := constrained[item.LocationID]; !ok {
			continue
		}
		total += item.Available()
	}
	return total, false, nil
}

func (s *service) LedgerHistory(ctx context.Context, filter LedgerFilter) ([]models.StockLedgerEntry, string, error) {
	if filter.ProductID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	entries, next, err := s.repo.LedgerHistory(ctx, filter)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger history")
	}
	return entries, next, nil
}

// ReplayQuantities folds journal rows into the quantities they produce.
// Incoming deltas share the IN/OUT directions with on-hand movements, so the
// caller must scope the entries to windows without incoming changes when
// verifying on-hand.
func ReplayQuantities(entries []models.StockLedgerEntry) (onHand, reserved int) {
	for _, entry := range entries {
		switch entry.Direction {
		case enums.StockDirectionIn, enums.StockDirectionOut,
			enums.StockDirectionTransferIn, enums.StockDirectionTransferOut,
			enums.StockDirectionAdjust:
			onHand += entry.Qty
		case enums.StockDirectionReserve, enums.StockDirectionRelease:
			reserved += entry.Qty
		}
	}
	return onHand, reserved
}
