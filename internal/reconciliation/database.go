package reconciliation

import (
	"errors"
	"fmt"
	"time"

	"github.com/msgtosan/taxledger-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveGoldenStatement stores a new golden reference with its holdings and
// supersedes any previously active statement for the same (source, period)
// in the same transaction.
func (d *Database) SaveGoldenStatement(reference *GoldenReference, holdings []GoldenHolding) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Model(&GoldenReference{}).
		Where("source_type = ? AND period = ? AND status = ?", reference.SourceType, reference.Period, ReferenceActive).
		Update("status", ReferenceSuperseded).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to supersede previous statement: %w", err)
	}

	if err := tx.Create(reference).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create golden reference: %w", err)
	}

	if len(holdings) > 0 {
		if err := tx.Create(&holdings).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create golden holdings: %w", err)
		}
	}

	return tx.Commit().Error
}

// GetActiveReference returns the active statement for a source and period,
// or nil when that source has not been ingested for the period.
func (d *Database) GetActiveReference(sourceType, period string) (*GoldenReference, error) {
	var reference GoldenReference
	err := d.db.Where("source_type = ? AND period = ? AND status = ?", sourceType, period, ReferenceActive).
		First(&reference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reference, nil
}

func (d *Database) GetHoldings(referenceID, assetClass string) ([]GoldenHolding, error) {
	var holdings []GoldenHolding
	query := d.db.Where("reference_id = ?", referenceID)
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch golden holdings: %w", err)
	}
	return holdings, nil
}

// GetOpenLots returns lots with remaining quantity for system-side holdings.
func (d *Database) GetOpenLots(assetClass string) ([]types.AcquisitionLot, error) {
	var lots []types.AcquisitionLot
	query := d.db.Where("remaining_quantity > 0")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open lots: %w", err)
	}
	return lots, nil
}

// GetMatchRecordsForPeriod returns the latest completed gains run's records
// for system-side realized gains.
func (d *Database) GetMatchRecordsForPeriod(period, assetClass string) ([]types.MatchRecord, error) {
	var records []types.MatchRecord
	query := d.db.Where("period = ? AND status = ?", period, types.MatchStatusMatched).
		Order("created_at DESC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch match records: %w", err)
	}

	// Keep only the newest run's records: older runs are audit history.
	latestRun := ""
	filtered := records[:0]
	for _, record := range records {
		if latestRun == "" {
			latestRun = record.RunID
		}
		if record.RunID == latestRun {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// GetLatestPrice returns the most recent price for a security on or before
// the cutoff, or nil when the security has no price history.
func (d *Database) GetLatestPrice(securityKey string, cutoff time.Time) (*types.SecurityPrice, error) {
	var price types.SecurityPrice
	err := d.db.Where("security_key = ? AND price_date <= ?", securityKey, cutoff).
		Order("price_date DESC").
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (d *Database) CreateRun(run *ReconciliationRun) error {
	return d.db.Create(run).Error
}

func (d *Database) UpdateRun(run *ReconciliationRun) error {
	return d.db.Save(run).Error
}

// SaveRunResults persists the run manifest, its events and its audit trail
// atomically. audit runs inside the transaction, after the run manifest is
// saved.
func (d *Database) SaveRunResults(run *ReconciliationRun, events []ReconciliationEvent, audit func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if len(events) > 0 {
		if err := tx.Create(&events).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save reconciliation events: %w", err)
		}
	}

	if err := tx.Save(run).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save run manifest: %w", err)
	}

	if audit != nil {
		if err := audit(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record audit trail: %w", err)
		}
	}

	return tx.Commit().Error
}

// GetLatestRuns returns the newest completed run per metric type for an
// asset class and period.
func (d *Database) GetLatestRuns(assetClass, period string) ([]ReconciliationRun, error) {
	var runs []ReconciliationRun
	if err := d.db.Where("asset_class = ? AND period = ? AND status = ?", assetClass, period, RunStatusCompleted).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch reconciliation runs: %w", err)
	}

	seen := make(map[string]bool)
	latest := runs[:0]
	for _, run := range runs {
		if seen[run.MetricType] {
			continue
		}
		seen[run.MetricType] = true
		latest = append(latest, run)
	}
	return latest, nil
}

func (d *Database) GetEventsByRun(runID string) ([]ReconciliationEvent, error) {
	var events []ReconciliationEvent
	if err := d.db.Where("run_id = ?", runID).Order("security_key ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch reconciliation events: %w", err)
	}
	return events, nil
}
