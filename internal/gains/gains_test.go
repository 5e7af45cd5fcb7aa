package gains

import (
	"fmt"
	"testing"
	"time"

	"github.com/msgtosan/taxledger-api/internal/rules"
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

// setupGainsTest creates an in-memory SQLite database with seeded rules and a
// ready gains service
func setupGainsTest(t *testing.T) (*gorm.DB, *rules.Service, *Service) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&types.AcquisitionLot{},
		&types.DisposalEvent{},
		&types.MatchRecord{},
		&types.AuditRecord{},
		&GainsRun{},
		&rules.HoldingPeriodRule{},
		&rules.GrandfatheringRule{},
		&rules.ToleranceRule{},
		&rules.ExemptionRule{},
		&rules.FMVRecord{},
	))

	rulesService := rules.NewService(db)
	require.NoError(t, rulesService.SeedDefaults())

	return db, rulesService, NewService(db, rulesService)
}

func createLot(t *testing.T, db *gorm.DB, lotID, securityKey string, date time.Time, sourceEventID string, quantity, unitCost int64) {
	require.NoError(t, db.Create(&types.AcquisitionLot{
		LotID:             lotID,
		SecurityKey:       securityKey,
		AssetClass:        types.AssetClassEquity,
		AcquisitionDate:   date,
		SourceEventID:     sourceEventID,
		OriginalQuantity:  decimal.NewFromInt(quantity),
		RemainingQuantity: decimal.NewFromInt(quantity),
		UnitCost:          decimal.NewFromInt(unitCost),
		Status:            "OPEN",
	}).Error)
}

func createDisposal(t *testing.T, db *gorm.DB, disposalID, securityKey string, date time.Time, sourceEventID string, quantity, unitProceeds int64) {
	require.NoError(t, db.Create(&types.DisposalEvent{
		DisposalID:    disposalID,
		SecurityKey:   securityKey,
		AssetClass:    types.AssetClassEquity,
		DisposalDate:  date,
		SourceEventID: sourceEventID,
		Quantity:      decimal.NewFromInt(quantity),
		UnitProceeds:  decimal.NewFromInt(unitProceeds),
		Status:        "PENDING",
	}).Error)
}

func TestRunGains_FIFOSplitAcrossLots(t *testing.T) {
	db, _, service := setupGainsTest(t)

	// 100 @ 10, later 50 @ 12, sell 120 @ 20: FIFO takes the whole first lot
	// and 20 units of the second
	createLot(t, db, "L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 100, 10)
	createLot(t, db, "L2", "INE001", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), "E2", 50, 12)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 120, 20)

	result, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.DisposalsProcessed)
	assert.Equal(t, 1, result.DisposalsMatched)
	assert.Equal(t, 2, result.MatchRecordCount)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byLot := map[string]types.MatchRecord{}
	for _, record := range records {
		byLot[record.LotID] = record
	}

	first := byLot["L1"]
	assert.True(t, first.MatchedQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, first.CostBasisPerUnit.Equal(decimal.NewFromInt(10)))
	assert.True(t, first.GrossGain.Equal(decimal.NewFromInt(1000)), "got %s", first.GrossGain)
	assert.True(t, first.IsLongTerm)

	second := byLot["L2"]
	assert.True(t, second.MatchedQuantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, second.CostBasisPerUnit.Equal(decimal.NewFromInt(12)))
	assert.True(t, second.GrossGain.Equal(decimal.NewFromInt(160)), "got %s", second.GrossGain)

	// Both matches fall under the LTCG equity exemption, so nothing is taxable
	assert.True(t, first.TaxableGain.IsZero())
	assert.True(t, second.TaxableGain.IsZero())

	// Ledger state persisted: first lot exhausted, second partially consumed
	var l1, l2 types.AcquisitionLot
	require.NoError(t, db.Where("lot_id = ?", "L1").First(&l1).Error)
	require.NoError(t, db.Where("lot_id = ?", "L2").First(&l2).Error)
	assert.True(t, l1.RemainingQuantity.IsZero())
	assert.Equal(t, "EXHAUSTED", l1.Status)
	assert.True(t, l2.RemainingQuantity.Equal(decimal.NewFromInt(30)))

	// The run's audit row committed with the results
	var auditRows []types.AuditRecord
	require.NoError(t, db.Where("entity_type = ? AND entity_id = ?", "gains_run", result.RunID).Find(&auditRows).Error)
	require.Len(t, auditRows, 1)
	assert.Equal(t, "COMPLETED", auditRows[0].Action)
}

func TestRunGains_ShortTermClassification(t *testing.T) {
	db, _, service := setupGainsTest(t)

	createLot(t, db, "L1", "INE001", time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), "E1", 10, 100)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC), "S1", 10, 150)

	_, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.False(t, records[0].IsLongTerm)
	// No exemption for the short-term bucket: gain is fully taxable
	assert.True(t, records[0].GrossGain.Equal(decimal.NewFromInt(500)))
	assert.True(t, records[0].TaxableGain.Equal(decimal.NewFromInt(500)))
}

func TestRunGains_GrandfatheredBasis(t *testing.T) {
	db, rulesService, service := setupGainsTest(t)
	cutoff := time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC)

	// Pre-cutoff lot at 100 with cutoff FMV 150, sold at 200:
	// basis = max(100, min(150, 200)) = 150
	require.NoError(t, rulesService.AddFMVRecord("INE001", cutoff, decimal.NewFromInt(150)))
	createLot(t, db, "L1", "INE001", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10, 100)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 10, 200)

	// A second security where proceeds dipped below the FMV, sold at 120 with
	// FMV 150: basis clamps to proceeds, gain is nil rather than a phantom loss
	require.NoError(t, rulesService.AddFMVRecord("INE002", cutoff, decimal.NewFromInt(150)))
	createLot(t, db, "L2", "INE002", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), "E2", 10, 100)
	createDisposal(t, db, "D2", "INE002", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S2", 10, 120)

	_, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byLot := map[string]types.MatchRecord{}
	for _, record := range records {
		byLot[record.LotID] = record
	}

	assert.True(t, byLot["L1"].CostBasisPerUnit.Equal(decimal.NewFromInt(150)))
	assert.True(t, byLot["L1"].GrossGain.Equal(decimal.NewFromInt(500)), "got %s", byLot["L1"].GrossGain)

	assert.True(t, byLot["L2"].CostBasisPerUnit.Equal(decimal.NewFromInt(120)))
	assert.True(t, byLot["L2"].GrossGain.IsZero(), "got %s", byLot["L2"].GrossGain)
}

func TestRunGains_GrandfatheringFMVMissing(t *testing.T) {
	db, _, service := setupGainsTest(t)

	// Pre-cutoff lot with no FMV on record: original cost stands, flagged
	createLot(t, db, "L1", "INE001", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10, 100)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 10, 200)

	_, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].CostBasisPerUnit.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, records[0].Flags, types.FlagGrandfatheringFMVMissing)
}

func TestRunGains_PreRegimeDisposalExempt(t *testing.T) {
	db, _, service := setupGainsTest(t)

	// Disposal before the regime took effect, with disposal charges that must
	// not bleed into the exempted gain
	createLot(t, db, "L1", "INE001", time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10, 100)
	require.NoError(t, db.Create(&types.DisposalEvent{
		DisposalID:      "D1",
		SecurityKey:     "INE001",
		AssetClass:      types.AssetClassEquity,
		DisposalDate:    time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceEventID:   "S1",
		Quantity:        decimal.NewFromInt(10),
		UnitProceeds:    decimal.NewFromInt(300),
		DisposalCharges: decimal.NewFromInt(25),
		Status:          "PENDING",
	}).Error)

	_, err := service.RunGains("2017-18", types.AssetClassEquity)
	require.NoError(t, err)

	records, err := service.GainsForPeriod("2017-18", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].GrossGain.IsZero(), "got %s", records[0].GrossGain)
	assert.True(t, records[0].TaxableGain.IsZero())
	assert.Contains(t, records[0].Flags, types.FlagPreRegimeDisposal)
}

func TestRunGains_InsufficientLots(t *testing.T) {
	db, _, service := setupGainsTest(t)

	createLot(t, db, "L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 100, 10)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 150, 20)

	result, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DisposalsInsufficient)
	assert.Equal(t, 0, result.DisposalsMatched)
	assert.Equal(t, 2, result.MatchRecordCount)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var matched, insufficient *types.MatchRecord
	for i := range records {
		switch records[i].Status {
		case types.MatchStatusMatched:
			matched = &records[i]
		case types.MatchStatusInsufficientLots:
			insufficient = &records[i]
		}
	}

	require.NotNil(t, matched)
	assert.True(t, matched.MatchedQuantity.Equal(decimal.NewFromInt(100)))

	// Remainder record carries no lot and the unmatched quantity
	require.NotNil(t, insufficient)
	assert.Empty(t, insufficient.LotID)
	assert.True(t, insufficient.MatchedQuantity.Equal(decimal.NewFromInt(50)))

	var disposal types.DisposalEvent
	require.NoError(t, db.Where("disposal_id = ?", "D1").First(&disposal).Error)
	assert.Equal(t, types.MatchStatusInsufficientLots, disposal.Status)
}

func TestRunGains_SellBeforeRepurchase(t *testing.T) {
	db, _, service := setupGainsTest(t)

	// 100 units held, 150 sold, then 100 repurchased after the sale. The
	// repurchase cannot back the earlier sale: 100 match, 50 are short.
	createLot(t, db, "L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 100, 10)
	createLot(t, db, "L2", "INE001", time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC), "E2", 100, 10)
	createDisposal(t, db, "D1", "INE001", time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 150, 20)

	result, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DisposalsProcessed)
	assert.Equal(t, 1, result.DisposalsInsufficient)
	assert.Equal(t, 0, result.DisposalsSkipped)
	assert.Equal(t, 2, result.MatchRecordCount)

	records, err := service.GainsForPeriod("2022-23", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byStatus := map[string]types.MatchRecord{}
	for _, record := range records {
		byStatus[record.Status] = record
	}
	assert.Equal(t, "L1", byStatus[types.MatchStatusMatched].LotID)
	assert.True(t, byStatus[types.MatchStatusMatched].MatchedQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, byStatus[types.MatchStatusInsufficientLots].MatchedQuantity.Equal(decimal.NewFromInt(50)))

	// The old lot is exhausted; the repurchase lot is untouched
	var l1, l2 types.AcquisitionLot
	require.NoError(t, db.Where("lot_id = ?", "L1").First(&l1).Error)
	require.NoError(t, db.Where("lot_id = ?", "L2").First(&l2).Error)
	assert.True(t, l1.RemainingQuantity.IsZero())
	assert.True(t, l2.RemainingQuantity.Equal(decimal.NewFromInt(100)))
}

func TestRunGains_DisposalBeforeAnyLot(t *testing.T) {
	db, _, service := setupGainsTest(t)

	createLot(t, db, "L1", "INE001", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 100, 10)
	// Disposal dated before the only lot that could serve it: nothing is
	// eligible, the whole quantity is an unmatched remainder
	createDisposal(t, db, "D1", "INE001", time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 50, 20)
	// A later valid disposal must still see the full lot
	createDisposal(t, db, "D2", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S2", 100, 20)

	result, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DisposalsInsufficient)
	assert.Equal(t, 1, result.DisposalsMatched)

	var short types.DisposalEvent
	require.NoError(t, db.Where("disposal_id = ?", "D1").First(&short).Error)
	assert.Equal(t, types.MatchStatusInsufficientLots, short.Status)

	// The short disposal consumed nothing: D2 matched the full 100 units
	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "D2", records[0].DisposalID)
	assert.True(t, records[0].MatchedQuantity.Equal(decimal.NewFromInt(100)))
}

func TestRunGains_ExemptionThresholdApplied(t *testing.T) {
	db, _, service := setupGainsTest(t)

	// Long-term gain of 200000 against the 100000 LTCG equity exemption
	createLot(t, db, "L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 10000, 10)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 10000, 30)

	_, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	records, err := service.GainsForPeriod("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].GrossGain.Equal(decimal.NewFromInt(200000)))
	assert.True(t, records[0].TaxableGain.Equal(decimal.NewFromInt(100000)), "got %s", records[0].TaxableGain)
}

func TestRunGains_RerunIsDeterministic(t *testing.T) {
	db, _, service := setupGainsTest(t)

	createLot(t, db, "L1", "INE001", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "E1", 100, 10)
	createLot(t, db, "L2", "INE001", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), "E2", 50, 12)
	createDisposal(t, db, "D1", "INE001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), "S1", 120, 20)

	first, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)
	second, err := service.RunGains("2023-24", types.AssetClassEquity)
	require.NoError(t, err)

	assert.Equal(t, first.MatchRecordCount, second.MatchRecordCount)
	assert.Equal(t, first.DisposalsMatched, second.DisposalsMatched)
	assert.Equal(t, first.TaxableByBucket, second.TaxableByBucket)

	// Replay resets consumption: the second run leaves lots identical
	var l2 types.AcquisitionLot
	require.NoError(t, db.Where("lot_id = ?", "L2").First(&l2).Error)
	assert.True(t, l2.RemainingQuantity.Equal(decimal.NewFromInt(30)))
}

func TestRunGains_InvalidPeriod(t *testing.T) {
	_, _, service := setupGainsTest(t)

	_, err := service.RunGains("2023", types.AssetClassEquity)
	assert.Error(t, err)
}
