package stock

import (
	"github.com/google/uuid"

	"github.com/meridianops/stockflow-backend/pkg/enums"
	"github.com/meridianops/stockflow-backend/pkg/geo"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
)

// Canonical mutation reasons written to the ledger. Reason stays free-form
// in storage; these are the values this core emits itself.
const (
	ReasonReconciliation     = "RECONCILIATION"
	ReasonReservationRelease = "RESERVATION_RELEASE"
	ReasonFulfillment        = "FULFILLMENT"
	ReasonTransfer           = "TRANSFER"
	ReasonPurchaseOrder      = "PO"
)

// Adjustment is one quantity delta against a (product, variant, location)
// key. Omitted fields default to zero and produce no ledger entry.
type Adjustment struct {
	ProductID  uuid.UUID
	VariantID  *uuid.UUID
	LocationID uuid.UUID

	QtyChange      int
	ReservedChange int
	IncomingChange int
}

// AdjustInput is the full payload for one atomic adjustment batch.
type AdjustInput struct {
	Adjustments []Adjustment
	Reason      string
	Actor       string
	RefType     *enums.StockRefType
	RefID       *uuid.UUID
}

// ReconcileInput aligns a stock row with a physical count.
type ReconcileInput struct {
	ProductID  uuid.UUID
	VariantID  *uuid.UUID
	LocationID uuid.UUID

	CountedOnHand   int
	CountedReserved *int
	Actor           string
}

// QueryFilter narrows a stock query. Radius filtering applies great-circle
// distance from Origin and skips locations without geo data.
type QueryFilter struct {
	ProductID  *uuid.UUID
	VariantID  *uuid.UUID
	LocationID *uuid.UUID
	Region     *string
	Country    *string

	Origin   *geo.Point
	RadiusKm *float64

	IncludeIncoming bool
	IncludeReserved bool
}

// StockRow is a stock item enriched with its location for read paths.
type StockRow struct {
	Item       models.StockItem
	Location   models.Location
	Available  int
	DistanceKm *float64

	Incoming *int
	Reserved *int
}

// LedgerFilter narrows a ledger history read. Cursor is an opaque token
// from a previous page; empty means the first page.
type LedgerFilter struct {
	ProductID  uuid.UUID
	VariantID  *uuid.UUID
	LocationID *uuid.UUID
	Limit      int
	Cursor     string
}
