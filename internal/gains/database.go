package gains

import (
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

func (d *Database) GetLots(assetClass string) ([]types.AcquisitionLot, error) {
	var lots []types.AcquisitionLot
	query := d.db.Order("acquisition_date ASC, source_event_id ASC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch lots: %w", err)
	}
	return lots, nil
}

// GetDisposalsUpTo returns disposals dated on or before the cutoff, ordered
// by (disposal_date, source_event_id) for deterministic FIFO replay.
func (d *Database) GetDisposalsUpTo(assetClass string, cutoff time.Time) ([]types.DisposalEvent, error) {
	var disposals []types.DisposalEvent
	query := d.db.Where("disposal_date <= ?", cutoff).
		Order("disposal_date ASC, source_event_id ASC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&disposals).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch disposals: %w", err)
	}
	return disposals, nil
}

func (d *Database) CreateRun(run *GainsRun) error {
	return d.db.Create(run).Error
}

func (d *Database) GetRun(runID string) (*GainsRun, error) {
	var run GainsRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch gains run: %w", err)
	}
	return &run, nil
}

func (d *Database) UpdateRun(run *GainsRun) error {
	return d.db.Save(run).Error
}

// SaveRunResults persists the whole outcome of a run atomically: match
// records, consumed lot quantities, disposal statuses, the run manifest and
// its audit trail commit together or not at all, so lots are never left
// partially consumed without their match records. audit runs inside the
// transaction, after the run manifest is saved.
func (d *Database) SaveRunResults(run *GainsRun, records []types.MatchRecord, lots []*types.AcquisitionLot, disposals []*types.DisposalEvent, audit func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if len(records) > 0 {
		if err := tx.Create(&records).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save match records: %w", err)
		}
	}

	for _, lot := range lots {
		if err := tx.Model(&types.AcquisitionLot{}).
			Where("lot_id = ?", lot.LotID).
			Updates(map[string]interface{}{
				"remaining_quantity": lot.RemainingQuantity,
				"status":             lot.Status,
			}).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update lot %s: %w", lot.LotID, err)
		}
	}

	for _, disposal := range disposals {
		if err := tx.Model(&types.DisposalEvent{}).
			Where("disposal_id = ?", disposal.DisposalID).
			Update("status", disposal.Status).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update disposal %s: %w", disposal.DisposalID, err)
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

// GetMatchRecords returns classified gains for a period, optionally filtered
// by asset class.
func (d *Database) GetMatchRecords(period, assetClass string) ([]types.MatchRecord, error) {
	var records []types.MatchRecord
	query := d.db.Where("period = ?", period).Order("security_key ASC, disposal_id ASC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch match records: %w", err)
	}
	return records, nil
}

// GetLatestRunMatchRecords returns the match records of the most recent
// completed run for a period.
func (d *Database) GetLatestRunMatchRecords(period, assetClass string) ([]types.MatchRecord, error) {
	var run GainsRun
	query := d.db.Where("period = ? AND status = ?", period, RunStatusCompleted).Order("created_at DESC")
	if assetClass != "" {
		query = query.Where("asset_class IN (?, '')", assetClass)
	}
	if err := query.First(&run).Error; err != nil {
		return nil, fmt.Errorf("no completed gains run for period %s: %w", period, err)
	}

	var records []types.MatchRecord
	recordQuery := d.db.Where("run_id = ? AND period = ?", run.RunID, period).
		Order("security_key ASC, disposal_id ASC")
	if assetClass != "" {
		recordQuery = recordQuery.Where("asset_class = ?", assetClass)
	}
	if err := recordQuery.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch match records: %w", err)
	}
	return records, nil
}
