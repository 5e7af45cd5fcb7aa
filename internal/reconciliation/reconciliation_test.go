package reconciliation

import (
	"fmt"
	"testing"
	"time"

	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/suspense"
	"github.com/msgtosan/taxledger-api/internal/truth"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func setupReconciliationTest(t *testing.T) (*gorm.DB, *Service, *suspense.Service) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&GoldenReference{},
		&GoldenHolding{},
		&ReconciliationRun{},
		&ReconciliationEvent{},
		&types.AcquisitionLot{},
		&types.SecurityPrice{},
		&types.MatchRecord{},
		&types.AuditRecord{},
		&truth.TruthPriority{},
		&suspense.SuspenseItem{},
		&rules.HoldingPeriodRule{},
		&rules.GrandfatheringRule{},
		&rules.ToleranceRule{},
		&rules.ExemptionRule{},
		&rules.FMVRecord{},
	))

	rulesService := rules.NewService(db)
	require.NoError(t, rulesService.SeedDefaults())
	truthService := truth.NewService(db)
	require.NoError(t, truthService.SeedDefaults())
	suspenseService := suspense.NewService(db)

	service := NewService(db, truthService, rulesService, suspenseService)
	return db, service, suspenseService
}

func createOpenLot(t *testing.T, db *gorm.DB, securityKey, units string) {
	t.Helper()
	quantity := decimal.RequireFromString(units)
	require.NoError(t, db.Create(&types.AcquisitionLot{
		LotID:             "LOT_" + securityKey,
		SecurityKey:       securityKey,
		AssetClass:        types.AssetClassEquity,
		AcquisitionDate:   time.Date(2022, 5, 10, 0, 0, 0, 0, time.UTC),
		SourceEventID:     "SRC_" + securityKey,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		UnitCost:          decimal.NewFromInt(100),
		Status:            "OPEN",
	}).Error)
}

func statement(holdings ...GoldenHoldingInput) GoldenStatementInput {
	return GoldenStatementInput{
		SourceType:    types.SourceNSDLCAS,
		StatementDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Period:        "2023-24",
		Holdings:      holdings,
	}
}

func equityHolding(isin, units string) GoldenHoldingInput {
	return GoldenHoldingInput{
		ISIN:       isin,
		AssetClass: types.AssetClassEquity,
		Units:      decimal.RequireFromString(units),
	}
}

func TestIngestGoldenStatement_Supersession(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	first, err := service.IngestGoldenStatement(statement(equityHolding("INE001A01036", "100")), "tester")
	require.NoError(t, err)
	second, err := service.IngestGoldenStatement(statement(equityHolding("INE001A01036", "105")), "tester")
	require.NoError(t, err)

	active, err := NewDatabase(db).GetActiveReference(types.SourceNSDLCAS, "2023-24")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ReferenceID, active.ReferenceID)

	var superseded GoldenReference
	require.NoError(t, db.Where("reference_id = ?", first.ReferenceID).First(&superseded).Error)
	assert.Equal(t, ReferenceSuperseded, superseded.Status)
}

func TestIngestGoldenStatement_InvalidPeriod(t *testing.T) {
	_, service, _ := setupReconciliationTest(t)

	input := statement(equityHolding("INE001A01036", "100"))
	input.Period = "FY2024"
	_, err := service.IngestGoldenStatement(input, "tester")
	assert.Error(t, err)
}

func TestReconcile_HoldingUnits(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	createOpenLot(t, db, "INE001A01036", "100")
	createOpenLot(t, db, "INE002A01018", "50")
	createOpenLot(t, db, "INE030A01027", "25")

	_, err := service.IngestGoldenStatement(statement(
		equityHolding("INE001A01036", "100"),     // exact
		equityHolding("INE002A01018", "50.0005"), // inside the 0.001 unit tolerance
		equityHolding("INE040A01034", "10"),      // unknown to the system
	), "tester")
	require.NoError(t, err)

	result, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricHoldingUnits,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, types.SourceNSDLCAS, result.SourceType)
	assert.Equal(t, 1, result.ExactCount)
	assert.Equal(t, 1, result.WithinToleranceCount)
	assert.Equal(t, 0, result.MismatchCount)
	assert.Equal(t, 1, result.MissingInSystemCount)
	assert.Equal(t, 1, result.MissingInGoldenCount)

	events, err := NewDatabase(db).GetEventsByRun(result.RunID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for _, event := range events {
		assert.Equal(t, types.SourceNSDLCAS, event.SourceType)
		assert.Equal(t, "2023-24", event.Period)
	}

	// The run's audit row committed with the results
	var auditRows []types.AuditRecord
	require.NoError(t, db.Where("entity_type = ? AND entity_id = ?", "reconciliation_run", result.RunID).Find(&auditRows).Error)
	require.Len(t, auditRows, 1)
	assert.Equal(t, "COMPLETED", auditRows[0].Action)
	assert.Equal(t, "USER_1", auditRows[0].Actor)
}

func TestReconcile_MismatchOpensSuspense(t *testing.T) {
	db, service, suspenseService := setupReconciliationTest(t)

	createOpenLot(t, db, "INE001A01036", "100")
	_, err := service.IngestGoldenStatement(statement(equityHolding("INE001A01036", "90")), "tester")
	require.NoError(t, err)

	req := ReconcileRequest{
		MetricType: types.MetricHoldingUnits,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	}
	result, err := service.Reconcile("USER_1", req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MismatchCount)
	assert.Equal(t, 1, result.SuspenseOpened)

	open, err := suspenseService.OpenItems("")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "INE001A01036", open[0].SecurityKey)
	assert.True(t, open[0].SuspenseValue.Equal(decimal.NewFromInt(10)))

	// Re-running finds the item already open and does not duplicate it
	rerun, err := service.Reconcile("USER_1", req)
	require.NoError(t, err)
	assert.Equal(t, 1, rerun.MismatchCount)
	assert.Equal(t, 0, rerun.SuspenseOpened)

	open, err = suspenseService.OpenItems("")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconcile_NoGoldenSourceFallsBackToSystem(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	createOpenLot(t, db, "INE001A01036", "100")

	result, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricHoldingUnits,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)

	assert.Equal(t, types.SourceSystem, result.SourceType)
	assert.Equal(t, 1, result.MissingInGoldenCount)
	assert.Equal(t, 0, result.MismatchCount)
}

func TestReconcile_HoldingValueUsesLatestPrice(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	createOpenLot(t, db, "INE001A01036", "10")
	require.NoError(t, db.Create(&types.SecurityPrice{
		SecurityKey: "INE001A01036",
		PriceDate:   time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
		Price:       decimal.NewFromInt(250),
	}).Error)
	// A later price outside the period must not be picked up
	require.NoError(t, db.Create(&types.SecurityPrice{
		SecurityKey: "INE001A01036",
		PriceDate:   time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		Price:       decimal.NewFromInt(400),
	}).Error)

	input := statement(GoldenHoldingInput{
		ISIN:        "INE001A01036",
		AssetClass:  types.AssetClassEquity,
		Units:       decimal.NewFromInt(10),
		MarketValue: decimal.NewFromInt(2500),
	})
	_, err := service.IngestGoldenStatement(input, "tester")
	require.NoError(t, err)

	result, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricHoldingValue,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExactCount)
}

func TestReconcile_HoldingValueFallsBackToBookCost(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	// 10 units at cost 100, no price history
	createOpenLot(t, db, "INE001A01036", "10")

	input := statement(GoldenHoldingInput{
		ISIN:        "INE001A01036",
		AssetClass:  types.AssetClassEquity,
		Units:       decimal.NewFromInt(10),
		MarketValue: decimal.NewFromInt(1000),
	})
	_, err := service.IngestGoldenStatement(input, "tester")
	require.NoError(t, err)

	result, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricHoldingValue,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExactCount)
}

func TestReconcile_RealizedGain(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	require.NoError(t, db.Create(&types.MatchRecord{
		MatchID:     "MTC_1",
		RunID:       "RUN_1",
		SecurityKey: "INE001A01036",
		AssetClass:  types.AssetClassEquity,
		Period:      "2023-24",
		GrossGain:   decimal.NewFromInt(5000),
		Status:      types.MatchStatusMatched,
	}).Error)

	input := statement(GoldenHoldingInput{
		ISIN:         "INE001A01036",
		AssetClass:   types.AssetClassEquity,
		RealizedGain: decimal.NewFromInt(5000),
	})
	input.SourceType = types.SourceRTACAS
	_, err := service.IngestGoldenStatement(input, "tester")
	require.NoError(t, err)

	result, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricRealizedGain,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceRTACAS, result.SourceType)
	assert.Equal(t, 1, result.ExactCount)
}

func TestReconcile_UnknownMetricFailsRun(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	_, err := service.Reconcile("USER_1", ReconcileRequest{
		MetricType: "DIVIDEND_YIELD",
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.Error(t, err)

	var run ReconciliationRun
	require.NoError(t, db.Order("created_at DESC").First(&run).Error)
	assert.Equal(t, RunStatusFailed, run.Status)
}

func TestSummary(t *testing.T) {
	db, service, _ := setupReconciliationTest(t)

	createOpenLot(t, db, "INE001A01036", "100")
	createOpenLot(t, db, "INE002A01018", "50")
	_, err := service.IngestGoldenStatement(statement(
		equityHolding("INE001A01036", "100"),
		equityHolding("INE002A01018", "40"),
	), "tester")
	require.NoError(t, err)

	_, err = service.Reconcile("USER_1", ReconcileRequest{
		MetricType: types.MetricHoldingUnits,
		AssetClass: types.AssetClassEquity,
		Period:     "2023-24",
	})
	require.NoError(t, err)

	summaries, err := service.Summary(types.AssetClassEquity, "2023-24")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, types.MetricHoldingUnits, summaries[0].MetricType)
	assert.Equal(t, 1, summaries[0].MismatchCount)
	assert.InDelta(t, 0.5, summaries[0].MatchRate, 0.0001)
}
