package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/internal/catalog"
	"github.com/meridianops/stockflow-backend/internal/locations"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/geo"
	"github.com/meridianops/stockflow-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ProductVariant{},
		&models.Location{},
		&models.StockItem{},
		&models.StockLedgerEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	return newTestServiceWithLogs(t, io.Discard)
}

func newTestServiceWithLogs(t *testing.T, out io.Writer) (Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "stock-test", Output: out})
	svc, err := NewService(gormTxRunner{db: db}, NewRepository(db), locations.NewRepository(db), catalog.NewRepository(db), logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func mustCreateProduct(t *testing.T, db *gorm.DB) *models.Product {
	t.Helper()
	product := &models.Product{ID: uuid.New(), Name: "Test Product", Active: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func mustCreateVariant(t *testing.T, db *gorm.DB, productID uuid.UUID) *models.ProductVariant {
	t.Helper()
	variant := &models.ProductVariant{ID: uuid.New(), ProductID: productID, SKU: "SKU-" + uuid.NewString()[:8]}
	if err := db.Create(variant).Error; err != nil {
		t.Fatalf("create variant: %v", err)
	}
	return variant
}

func mustCreateLocation(t *testing.T, db *gorm.DB, locationType enums.LocationType, priority int) *models.Location {
	t.Helper()
	location := &models.Location{
		ID:       uuid.New(),
		Code:     "LOC-" + uuid.NewString()[:8],
		Name:     "Test Location",
		Type:     locationType,
		Priority: priority,
		Active:   true,
	}
	if err := db.Create(location).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	return location
}

func floatPtr(f float64) *float64 { return &f }

func TestAdjustCreatesItemAndLedger(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: 10}},
		Reason:      "RECEIPT",
		Actor:       "alice",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	var item models.StockItem
	if err := db.Where("product_id = ? AND location_id = ?", product.ID, location.ID).First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if item.OnHand != 10 || item.Reserved != 0 {
		t.Fatalf("unexpected quantities: on_hand=%d reserved=%d", item.OnHand, item.Reserved)
	}

	var entries []models.StockLedgerEntry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Qty != 10 || entry.Direction != enums.StockDirectionIn {
		t.Fatalf("unexpected entry: qty=%d direction=%s", entry.Qty, entry.Direction)
	}
	if entry.Reason != "RECEIPT" || entry.Actor != "alice" {
		t.Fatalf("unexpected entry attribution: reason=%s actor=%s", entry.Reason, entry.Actor)
	}
}

func TestAdjustBatchIsAtomic(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{
			{ProductID: product.ID, LocationID: location.ID, QtyChange: 10},
			{ProductID: product.ID, LocationID: location.ID, QtyChange: -25},
		},
		Reason: "RECEIPT",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var itemCount, entryCount int64
	db.Model(&models.StockItem{}).Count(&itemCount)
	db.Model(&models.StockLedgerEntry{}).Count(&entryCount)
	if itemCount != 0 || entryCount != 0 {
		t.Fatalf("expected rollback, got %d items and %d entries", itemCount, entryCount)
	}
}

func TestAdjustRejectsOverReservation(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeStore, 0)

	seed := AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: 5}},
		Reason:      "RECEIPT",
	}
	if err := svc.AdjustStockLevels(ctx, nil, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, ReservedChange: 6}},
		Reason:      "RESERVE",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if typed.Details() == nil {
		t.Fatal("expected quantity details on error")
	}
}

func TestAdjustDropshipMayRunNegative(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeDropship, 0)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: -4}},
		Reason:      "FULFILLMENT",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	var item models.StockItem
	if err := db.Where("product_id = ?", product.ID).First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if item.OnHand != -4 {
		t.Fatalf("expected on_hand -4, got %d", item.OnHand)
	}
	if item.Available() != 0 {
		t.Fatalf("available must floor at zero, got %d", item.Available())
	}
}

func TestAdjustRejectsForeignVariant(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	other := mustCreateProduct(t, db)
	variant := mustCreateVariant(t, db, other.ID)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, VariantID: &variant.ID, LocationID: location.ID, QtyChange: 1}},
		Reason:      "RECEIPT",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeVariantMismatch {
		t.Fatalf("expected variant mismatch, got %v", err)
	}
}

func TestAdjustRejectsUnknownLocation(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: uuid.New(), QtyChange: 1}},
		Reason:      "RECEIPT",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetAvailableStockSumsAcrossLocations(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	first := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)
	second := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{
			{ProductID: product.ID, LocationID: first.ID, QtyChange: 12},
			{ProductID: product.ID, LocationID: second.ID, QtyChange: 5},
			{ProductID: product.ID, LocationID: first.ID, ReservedChange: 2},
		},
		Reason: "RECEIPT",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	qty, unlimited, err := svc.GetAvailableStock(ctx, product.ID, nil)
	if err != nil {
		t.Fatalf("get available: %v", err)
	}
	if unlimited {
		t.Fatal("expected constrained availability")
	}
	if qty != 15 {
		t.Fatalf("expected 15 available, got %d", qty)
	}
}

func TestGetAvailableStockDropshipUnlimited(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)
	mustCreateLocation(t, db, enums.LocationTypeDropship, 0)

	qty, unlimited, err := svc.GetAvailableStock(ctx, product.ID, nil)
	if err != nil {
		t.Fatalf("get available: %v", err)
	}
	if !unlimited {
		t.Fatal("expected unlimited availability with a dropship location")
	}
	if qty != 0 {
		t.Fatalf("expected zero qty with unlimited flag, got %d", qty)
	}
}

func TestReconcileWritesCorrectiveEntry(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	seed := AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: 10}},
		Reason:      "RECEIPT",
	}
	if err := svc.AdjustStockLevels(ctx, nil, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := svc.ReconcileStock(ctx, ReconcileInput{
		ProductID:     product.ID,
		LocationID:    location.ID,
		CountedOnHand: 7,
		Actor:         "auditor",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var item models.StockItem
	if err := db.Where("product_id = ?", product.ID).First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if item.OnHand != 7 {
		t.Fatalf("expected on_hand 7, got %d", item.OnHand)
	}

	var entries []models.StockLedgerEntry
	if err := db.Where("reason = ?", ReasonReconciliation).Find(&entries).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 reconciliation entry, got %d", len(entries))
	}
	if entries[0].Qty != -3 || entries[0].Direction != enums.StockDirectionOut {
		t.Fatalf("unexpected entry: qty=%d direction=%s", entries[0].Qty, entries[0].Direction)
	}
}

func TestReconcileLogsKeyFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	svc, db := newTestServiceWithLogs(t, &buf)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	err := svc.ReconcileStock(ctx, ReconcileInput{
		ProductID:     product.ID,
		LocationID:    location.ID,
		CountedOnHand: 4,
		Actor:         "auditor",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var entry map[string]any
	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		if entry["message"] == "stock reconciled" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected a reconciliation log line, got %q", buf.String())
	}
	if entry["product_id"] != product.ID.String() || entry["location_id"] != location.ID.String() {
		t.Fatalf("reconciliation log should carry product and location: %v", entry)
	}
	if entry["actor"] != "auditor" {
		t.Fatalf("reconciliation log should carry the actor: %v", entry)
	}
}

func TestReconcileNoopWhenCountMatches(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	seed := AdjustInput{
		Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: 10}},
		Reason:      "RECEIPT",
	}
	if err := svc.AdjustStockLevels(ctx, nil, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := svc.ReconcileStock(ctx, ReconcileInput{
		ProductID:     product.ID,
		LocationID:    location.ID,
		CountedOnHand: 10,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var entryCount int64
	db.Model(&models.StockLedgerEntry{}).Where("reason = ?", ReasonReconciliation).Count(&entryCount)
	if entryCount != 0 {
		t.Fatalf("expected no corrective entries, got %d", entryCount)
	}
}

func TestLedgerReplayReconstructsQuantities(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 0)

	steps := []AdjustInput{
		{Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: 20}}, Reason: "RECEIPT"},
		{Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, ReservedChange: 6}}, Reason: "RESERVE"},
		{Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, QtyChange: -3, ReservedChange: -3}}, Reason: ReasonFulfillment},
		{Adjustments: []Adjustment{{ProductID: product.ID, LocationID: location.ID, ReservedChange: -1}}, Reason: ReasonReservationRelease},
	}
	for _, step := range steps {
		if err := svc.AdjustStockLevels(ctx, nil, step); err != nil {
			t.Fatalf("adjust %q: %v", step.Reason, err)
		}
	}

	repo := NewRepository(db)
	entries, err := repo.LedgerReplay(ctx, product.ID, nil, location.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	onHand, reserved := ReplayQuantities(entries)

	var item models.StockItem
	if err := db.Where("product_id = ?", product.ID).First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if onHand != item.OnHand || reserved != item.Reserved {
		t.Fatalf("replay mismatch: got on_hand=%d reserved=%d, item has on_hand=%d reserved=%d",
			onHand, reserved, item.OnHand, item.Reserved)
	}
}

func TestQueryStockFiltersByRadiusAndSortsByPriority(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, db)

	berlin := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 10)
	berlin.Lat, berlin.Lng = floatPtr(52.52), floatPtr(13.405)
	potsdam := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 50)
	potsdam.Lat, potsdam.Lng = floatPtr(52.3906), floatPtr(13.0645)
	munich := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 90)
	munich.Lat, munich.Lng = floatPtr(48.1374), floatPtr(11.5755)
	for _, location := range []*models.Location{berlin, potsdam, munich} {
		if err := db.Save(location).Error; err != nil {
			t.Fatalf("save location: %v", err)
		}
	}

	err := svc.AdjustStockLevels(ctx, nil, AdjustInput{
		Adjustments: []Adjustment{
			{ProductID: product.ID, LocationID: berlin.ID, QtyChange: 5},
			{ProductID: product.ID, LocationID: potsdam.ID, QtyChange: 5},
			{ProductID: product.ID, LocationID: munich.ID, QtyChange: 5},
		},
		Reason: "RECEIPT",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	origin := geo.Point{Lat: 52.52, Lng: 13.405}
	rows, err := svc.QueryStock(ctx, QueryFilter{
		ProductID: &product.ID,
		Origin:    &origin,
		RadiusKm:  floatPtr(100),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows inside radius, got %d", len(rows))
	}
	if rows[0].Location.ID != potsdam.ID || rows[1].Location.ID != berlin.ID {
		t.Fatalf("expected priority ordering potsdam,berlin; got %s,%s", rows[0].Location.Code, rows[1].Location.Code)
	}
	if rows[0].DistanceKm == nil || *rows[0].DistanceKm <= 0 {
		t.Fatal("expected positive distance for potsdam")
	}
}

func TestLedgerHistoryPagesNewestFirst(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()

	product := mustCreateProduct(t, db)
	location := mustCreateLocation(t, db, enums.LocationTypeWarehouse, 10)

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := &models.StockLedgerEntry{
			ProductID:  product.ID,
			LocationID: location.ID,
			Qty:        i + 1,
			Direction:  enums.StockDirectionIn,
			Reason:     "RESTOCK",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Actor:      "tester",
		}
		if err := db.Create(entry).Error; err != nil {
			t.Fatalf("seed ledger entry: %v", err)
		}
	}

	first, cursor, err := svc.LedgerHistory(ctx, LedgerFilter{ProductID: product.ID, Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(first))
	}
	if cursor == "" {
		t.Fatal("expected next cursor on first page")
	}
	if first[0].Qty != 5 || first[1].Qty != 4 {
		t.Fatalf("expected newest first, got qtys %d, %d", first[0].Qty, first[1].Qty)
	}

	second, cursor, err := svc.LedgerHistory(ctx, LedgerFilter{ProductID: product.ID, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(second))
	}
	if second[0].Qty != 3 || second[1].Qty != 2 {
		t.Fatalf("expected continuation, got qtys %d, %d", second[0].Qty, second[1].Qty)
	}

	last, cursor, err := svc.LedgerHistory(ctx, LedgerFilter{ProductID: product.ID, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(last) != 1 || last[0].Qty != 1 {
		t.Fatalf("expected final row with qty 1, got %d rows", len(last))
	}
	if cursor != "" {
		t.Fatalf("expected empty cursor on final page, got %q", cursor)
	}
}
