package picking

import (
	"github.com/google/uuid"

	"github.com/meridianops/stockflow-backend/pkg/geo"
)

// PlanReasonNoSingleLocation marks an empty plan returned because no single
// location could cover every requested line with splitting disallowed.
const PlanReasonNoSingleLocation = "NO_SINGLE_LOCATION"

// ItemRequest is one requested line before aggregation.
type ItemRequest struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Qty       int
}

// QuoteInput describes a plan request. SplitAllowed overrides the configured
// default when set.
type QuoteInput struct {
	ShipTo       *geo.Point
	Items        []ItemRequest
	SplitAllowed *bool
}

// LegLine is one allocated quantity within a plan leg.
type LegLine struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Qty       int
}

// PlanLeg is the allocation assigned to one location.
type PlanLeg struct {
	LocationID   uuid.UUID
	LocationCode string
	Dropship     bool
	Score        float64
	DistanceKm   *float64
	SLA          geo.SLA
	Lines        []LegLine
}

// Plan is the quoted fulfillment plan. FillRate below 1 means the request
// could not be fully covered and Legs describe the partial coverage found.
type Plan struct {
	Legs     []PlanLeg
	FillRate float64
	Split    bool
	Reason   string
}

// TotalQty sums the allocated quantity across all legs.
func (p Plan) TotalQty() int {
	total := 0
	for _, leg := range p.Legs {
		for _, line := range leg.Lines {
			total += line.Qty
		}
	}
	return total
}
