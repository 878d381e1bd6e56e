package picking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/internal/locations"
	"github.com/meridianops/stockflow-backend/internal/stock"
	"github.com/meridianops/stockflow-backend/pkg/config"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/geo"
)

// neutralMetadataScore substitutes for handling and age scores a location
// never configured, so unconfigured locations rank mid-field on those terms.
const neutralMetadataScore = 0.5

// Engine scores candidate locations and turns requested lines into a
// fulfillment plan. Quoting is read-only; AllocatePlan is the only mutating
// entry point and routes through the stock mutation engine.
type Engine interface {
	QuotePlan(ctx context.Context, input QuoteInput) (*Plan, error)
	AllocatePlan(ctx context.Context, tx *gorm.DB, plan *Plan, orderID uuid.UUID, actor, reason string) error
}

type engine struct {
	cfg       config.PickingConfig
	locations *locations.Repository
	stockRepo *stock.Repository
	stock     stock.Service
}

// NewEngine wires the allocation engine. Scoring weights come from cfg and
// stay fixed for the engine's lifetime.
func NewEngine(cfg config.PickingConfig, locationsRepo *locations.Repository, stockRepo *stock.Repository, stockSvc stock.Service) (Engine, error) {
	if locationsRepo == nil {
		return nil, fmt.Errorf("locations repository required")
	}
	if stockRepo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	return &engine{
		cfg:       cfg,
		locations: locationsRepo,
		stockRepo: stockRepo,
		stock:     stockSvc,
	}, nil
}

// itemKey identifies an aggregated request line. VariantID is the zero UUID
// for base-product lines.
type itemKey struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
}

func (k itemKey) variantPtr() *uuid.UUID {
	if k.VariantID == uuid.Nil {
		return nil
	}
	variantID := k.VariantID
	return &variantID
}

// candidate is one scored location with its availability per requested key.
type candidate struct {
	location  models.Location
	score     float64
	distance  *float64
	available map[itemKey]int
	dropship  bool
}

func (e *engine) QuotePlan(ctx context.Context, input QuoteInput) (*Plan, error) {
	required, order, err := aggregateItems(input.Items)
	if err != nil {
		return nil, err
	}

	candidates, err := e.scoreCandidates(ctx, input.ShipTo, required)
	if err != nil {
		return nil, err
	}

	splitAllowed := e.cfg.AllowSplit
	if input.SplitAllowed != nil {
		splitAllowed = *input.SplitAllowed
	}

	if !splitAllowed {
		return e.singleLocationPlan(candidates, required, order), nil
	}
	return e.greedySplitPlan(candidates, required, order), nil
}

// aggregateItems folds duplicate (product, variant) lines together with a
// minimum quantity of one per line, preserving first-seen key order.
func aggregateItems(items []ItemRequest) (map[itemKey]int, []itemKey, error) {
	if len(items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "items are required")
	}

	required := make(map[itemKey]int, len(items))
	order := make([]itemKey, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id is required")
		}
		qty := item.Qty
		if qty < 1 {
			qty = 1
		}
		key := itemKey{ProductID: item.ProductID}
		if item.VariantID != nil {
			key.VariantID = *item.VariantID
		}
		if _, seen := required[key]; !seen {
			order = append(order, key)
		}
		required[key] += qty
	}
	return required, order, nil
}

func (e *engine) scoreCandidates(ctx context.Context, shipTo *geo.Point, required map[itemKey]int) ([]candidate, error) {
	active, err := e.locations.ListAllActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list locations")
	}

	activeIDs := make([]uuid.UUID, 0, len(active))
	for _, location := range active {
		activeIDs = append(activeIDs, location.ID)
	}

	// available[key][locationID], one query per requested key, restricted to
	// the active candidate set.
	availableByKey := make(map[itemKey]map[uuid.UUID]int, len(required))
	for key := range required {
		items, err := e.stockRepo.ListItemsAtLocations(ctx, key.ProductID, key.variantPtr(), activeIDs)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock items")
		}
		byLocation := make(map[uuid.UUID]int, len(items))
		for _, item := range items {
			byLocation[item.LocationID] = item.Available()
		}
		availableByKey[key] = byLocation
	}

	candidates := make([]candidate, 0, len(active))
	for _, location := range active {
		c := candidate{
			location:  location,
			dropship:  location.Type.IsDropship(),
			available: make(map[itemKey]int, len(required)),
		}

		availabilityFactor := 1.0
		for key, qty := range required {
			available := availableByKey[key][location.ID]
			c.available[key] = available
			if c.dropship {
				continue
			}
			ratio := float64(available) / float64(qty)
			if ratio > 1 {
				ratio = 1
			}
			if ratio < availabilityFactor {
				availabilityFactor = ratio
			}
		}

		distanceScore := 1.0
		if shipTo != nil {
			if point := location.GeoPoint(); point != nil {
				km := geo.DistanceKm(*shipTo, *point)
				c.distance = &km
				distanceScore = 1 / (1 + math.Max(km, 0))
			}
		}

		priorityScore := math.Min(math.Max(float64(location.Priority), 0), 100) / 100
		handlingScore := location.Metadata.HandlingOrDefault(neutralMetadataScore)
		ageScore := location.Metadata.AgeOrDefault(neutralMetadataScore)

		base := e.cfg.PriorityWeight*priorityScore +
			e.cfg.DistanceWeight*distanceScore +
			e.cfg.HandlingWeight*handlingScore +
			e.cfg.AgeWeight*ageScore
		c.score = base * (0.5 + 0.5*availabilityFactor)

		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].location.Priority > candidates[j].location.Priority
	})
	return candidates, nil
}

func (e *engine) singleLocationPlan(candidates []candidate, required map[itemKey]int, order []itemKey) *Plan {
	for _, c := range candidates {
		if !c.dropship && !covers(c, required) {
			continue
		}

		lines := make([]LegLine, 0, len(order))
		for _, key := range order {
			lines = append(lines, LegLine{ProductID: key.ProductID, VariantID: key.variantPtr(), Qty: required[key]})
		}
		return &Plan{
			Legs:     []PlanLeg{newLeg(c, lines)},
			FillRate: 1,
			Split:    false,
		}
	}
	return &Plan{FillRate: 0, Reason: PlanReasonNoSingleLocation}
}

func covers(c candidate, required map[itemKey]int) bool {
	for key, qty := range required {
		if c.available[key] < qty {
			return false
		}
	}
	return true
}

func (e *engine) greedySplitPlan(candidates []candidate, required map[itemKey]int, order []itemKey) *Plan {
	outstanding := make(map[itemKey]int, len(required))
	totalRequired := 0
	for key, qty := range required {
		outstanding[key] = qty
		totalRequired += qty
	}

	legs := make([]PlanLeg, 0, 2)
	allocated := 0
	for _, c := range candidates {
		if allocated == totalRequired {
			break
		}

		lines := make([]LegLine, 0, len(order))
		for _, key := range order {
			remaining := outstanding[key]
			if remaining == 0 {
				continue
			}
			take := remaining
			if !c.dropship && c.available[key] < take {
				take = c.available[key]
			}
			if take == 0 {
				continue
			}
			lines = append(lines, LegLine{ProductID: key.ProductID, VariantID: key.variantPtr(), Qty: take})
			outstanding[key] -= take
			allocated += take
		}
		if len(lines) > 0 {
			legs = append(legs, newLeg(c, lines))
		}
	}

	plan := &Plan{
		Legs:  legs,
		Split: len(legs) > 1,
	}
	if totalRequired > 0 {
		plan.FillRate = float64(allocated) / float64(totalRequired)
	}
	return plan
}

func newLeg(c candidate, lines []LegLine) PlanLeg {
	distanceKm := -1.0
	if c.distance != nil {
		distanceKm = *c.distance
	}
	return PlanLeg{
		LocationID:   c.location.ID,
		LocationCode: c.location.Code,
		Dropship:     c.dropship,
		Score:        c.score,
		DistanceKm:   c.distance,
		SLA:          geo.InferSLA(distanceKm),
		Lines:        lines,
	}
}

func (e *engine) AllocatePlan(ctx context.Context, tx *gorm.DB, plan *Plan, orderID uuid.UUID, actor, reason string) error {
	if plan == nil || len(plan.Legs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan has no legs to allocate")
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	adjustments := make([]stock.Adjustment, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		for _, line := range leg.Lines {
			adjustments = append(adjustments, stock.Adjustment{
				ProductID:      line.ProductID,
				VariantID:      line.VariantID,
				LocationID:     leg.LocationID,
				ReservedChange: line.Qty,
			})
		}
	}

	refType := enums.StockRefTypeReservation
	refID := orderID
	return e.stock.AdjustStockLevels(ctx, tx, stock.AdjustInput{
		Adjustments: adjustments,
		Reason:      reason,
		Actor:       actor,
		RefType:     &refType,
		RefID:       &refID,
	})
}
