package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/internal/catalog"
	"github.com/meridianops/stockflow-backend/internal/locations"
	"github.com/meridianops/stockflow-backend/internal/stock"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/logger"
	"github.com/meridianops/stockflow-backend/pkg/types"
)

// allowedTransitions is the state machine table. DRAFT leaves only through
// SubmitTransferOrder; RECEIVED and CANCELLED are terminal.
var allowedTransitions = map[enums.TransferOrderStatus][]enums.TransferOrderStatus{
	enums.TransferOrderStatusRequested: {enums.TransferOrderStatusInTransit, enums.TransferOrderStatusCancelled},
	enums.TransferOrderStatusInTransit: {enums.TransferOrderStatusReceived, enums.TransferOrderStatusCancelled},
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateTransferInput describes a new transfer order.
type CreateTransferInput struct {
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	Lines          types.TransferLines
	Metadata       json.RawMessage
	Actor          string
}

// UpdateTransferInput patches a DRAFT transfer order. Nil fields keep their
// current values.
type UpdateTransferInput struct {
	FromLocationID *uuid.UUID
	ToLocationID   *uuid.UUID
	Lines          types.TransferLines
	Metadata       json.RawMessage
}

// Service drives transfer orders through their state machine. Stock side
// effects commit in the same transaction as the status write.
type Service interface {
	// CreateTransferOrder inserts directly in REQUESTED.
	CreateTransferOrder(ctx context.Context, input CreateTransferInput) (*models.TransferOrder, error)
	// CreateDraftTransferOrder inserts in DRAFT for later editing.
	CreateDraftTransferOrder(ctx context.Context, input CreateTransferInput) (*models.TransferOrder, error)
	SubmitTransferOrder(ctx context.Context, id uuid.UUID) (*models.TransferOrder, error)
	UpdateTransferOrder(ctx context.Context, id uuid.UUID, patch UpdateTransferInput) (*models.TransferOrder, error)
	TransitionTransferOrder(ctx context.Context, id uuid.UUID, next enums.TransferOrderStatus, actor string) (*models.TransferOrder, error)
	GetTransferOrder(ctx context.Context, id uuid.UUID) (*models.TransferOrder, error)
	ListTransferOrders(ctx context.Context, filter ListFilter) ([]models.TransferOrder, int64, error)
}

type service struct {
	db        txRunner
	repo      *Repository
	locations *locations.Repository
	catalog   catalog.Checker
	stock     stock.Service
	log       *logger.Logger
}

func NewService(db txRunner, repo *Repository, locationsRepo *locations.Repository, catalogRepo catalog.Checker, stockSvc stock.Service, log *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("transfers repository required")
	}
	if locationsRepo == nil {
		return nil, fmt.Errorf("locations repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog checker required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:        db,
		repo:      repo,
		locations: locationsRepo,
		catalog:   catalogRepo,
		stock:     stockSvc,
		log:       log,
	}, nil
}

func (s *service) CreateTransferOrder(ctx context.Context, input CreateTransferInput) (*models.TransferOrder, error) {
	return s.create(ctx, input, enums.TransferOrderStatusRequested)
}

func (s *service) CreateDraftTransferOrder(ctx context.Context, input CreateTransferInput) (*models.TransferOrder, error) {
	return s.create(ctx, input, enums.TransferOrderStatusDraft)
}

func (s *service) create(ctx context.Context, input CreateTransferInput, status enums.TransferOrderStatus) (*models.TransferOrder, error) {
	if err := s.validateRoute(ctx, input.FromLocationID, input.ToLocationID); err != nil {
		return nil, err
	}
	if err := s.validateLines(ctx, input.Lines); err != nil {
		return nil, err
	}

	order := &models.TransferOrder{
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Lines:          input.Lines,
		Status:         status,
		Metadata:       input.Metadata,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transfer order")
	}
	return order, nil
}

func (s *service) validateRoute(ctx context.Context, fromID, toID uuid.UUID) error {
	if fromID == uuid.Nil || toID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "source and destination locations are required")
	}
	if fromID == toID {
		return pkgerrors.New(pkgerrors.CodeValidation, "source and destination must differ")
	}
	for _, id := range []uuid.UUID{fromID, toID} {
		if _, err := s.locations.FindByID(ctx, id, false); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("location %s not found", id))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
		}
	}
	return nil
}

func (s *service) validateLines(ctx context.Context, lines types.TransferLines) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer lines are required")
	}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "line product id is required")
		}
		if line.Qty < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line qty must be at least 1")
		}
		if line.VariantID != nil {
			ok, err := s.catalog.VariantBelongsToProduct(ctx, line.ProductID, *line.VariantID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check variant ownership")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeVariantMismatch,
					fmt.Sprintf("variant %s does not belong to product %s", line.VariantID, line.ProductID))
			}
		} else {
			ok, err := s.catalog.ProductExists(ctx, line.ProductID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check product")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
			}
		}
	}
	return nil
}

func (s *service) SubmitTransferOrder(ctx context.Context, id uuid.UUID) (*models.TransferOrder, error) {
	var submitted *models.TransferOrder
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if order.Status != enums.TransferOrderStatusDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("only DRAFT transfer orders can be submitted, current status is %s", order.Status))
		}
		order.Status = enums.TransferOrderStatusRequested
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save transfer order")
		}
		submitted = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return submitted, nil
}

func (s *service) UpdateTransferOrder(ctx context.Context, id uuid.UUID, patch UpdateTransferInput) (*models.TransferOrder, error) {
	var updated *models.TransferOrder
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if order.Status != enums.TransferOrderStatusDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "Only DRAFT transfer orders can be updated")
		}

		if patch.FromLocationID != nil {
			order.FromLocationID = *patch.FromLocationID
		}
		if patch.ToLocationID != nil {
			order.ToLocationID = *patch.ToLocationID
		}
		if patch.Lines != nil {
			order.Lines = patch.Lines
		}
		if patch.Metadata != nil {
			order.Metadata = patch.Metadata
		}

		if err := s.validateRoute(ctx, order.FromLocationID, order.ToLocationID); err != nil {
			return err
		}
		if err := s.validateLines(ctx, order.Lines); err != nil {
			return err
		}
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save transfer order")
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) TransitionTransferOrder(ctx context.Context, id uuid.UUID, next enums.TransferOrderStatus, actor string) (*models.TransferOrder, error) {
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transfer status %q", next))
	}

	var transitioned *models.TransferOrder
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("transfer order is already %s", order.Status))
		}
		if !transitionAllowed(order.Status, next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot transition transfer order from %s to %s", order.Status, next))
		}

		if err := s.applyStockEffects(ctx, tx, order, next, actor); err != nil {
			return err
		}

		order.Status = next
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save transfer order")
		}
		transitioned = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.log.WithLocationID(ctx, transitioned.FromLocationID.String())
	logCtx = s.log.WithActor(logCtx, actor)
	s.log.Info(s.log.WithFields(logCtx, map[string]any{
		"transfer_id":    transitioned.ID.String(),
		"to_location_id": transitioned.ToLocationID.String(),
		"status":         transitioned.Status,
	}), "transfer order transitioned")
	return transitioned, nil
}

func transitionAllowed(current, next enums.TransferOrderStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// applyStockEffects issues the stock movements a transition implies.
// Entering IN_TRANSIT debits the source; RECEIVED credits the destination;
// CANCELLED from IN_TRANSIT credits the debited quantity back to the source.
func (s *service) applyStockEffects(ctx context.Context, tx *gorm.DB, order *models.TransferOrder, next enums.TransferOrderStatus, actor string) error {
	var locationID uuid.UUID
	var sign int
	switch {
	case next == enums.TransferOrderStatusInTransit:
		locationID, sign = order.FromLocationID, -1
	case next == enums.TransferOrderStatusReceived:
		locationID, sign = order.ToLocationID, 1
	case next == enums.TransferOrderStatusCancelled && order.Status == enums.TransferOrderStatusInTransit:
		locationID, sign = order.FromLocationID, 1
	default:
		return nil
	}

	adjustments := make([]stock.Adjustment, 0, len(order.Lines))
	for _, line := range order.Lines {
		adjustments = append(adjustments, stock.Adjustment{
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			LocationID: locationID,
			QtyChange:  sign * line.Qty,
		})
	}

	refType := enums.StockRefTypeTransfer
	refID := order.ID
	return s.stock.AdjustStockLevels(ctx, tx, stock.AdjustInput{
		Adjustments: adjustments,
		Reason:      stock.ReasonTransfer,
		Actor:       actor,
		RefType:     &refType,
		RefID:       &refID,
	})
}

func (s *service) GetTransferOrder(ctx context.Context, id uuid.UUID) (*models.TransferOrder, error) {
	return s.load(ctx, s.repo, id)
}

func (s *service) load(ctx context.Context, repo *Repository, id uuid.UUID) (*models.TransferOrder, error) {
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("transfer order %s not found", id))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transfer order")
	}
	return order, nil
}

func (s *service) ListTransferOrders(ctx context.Context, filter ListFilter) ([]models.TransferOrder, int64, error) {
	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transfer orders")
	}
	return orders, total, nil
}
