package ledger

import (
	"errors"
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

func (d *Database) CreateLot(lot *types.AcquisitionLot) error {
	return d.db.Create(lot).Error
}

func (d *Database) CreateDisposal(disposal *types.DisposalEvent) error {
	return d.db.Create(disposal).Error
}

// FindLotByIdentity looks up a lot by its ingestion identity key. Returns
// nil when absent, mirroring the get-then-create idempotency pattern.
func (d *Database) FindLotByIdentity(securityKey string, acquisitionDate time.Time, sourceEventID string) (*types.AcquisitionLot, error) {
	var lot types.AcquisitionLot
	err := d.db.Where("security_key = ? AND acquisition_date = ? AND source_event_id = ?",
		securityKey, acquisitionDate, sourceEventID).First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func (d *Database) FindDisposalByIdentity(securityKey string, disposalDate time.Time, sourceEventID string) (*types.DisposalEvent, error) {
	var disposal types.DisposalEvent
	err := d.db.Where("security_key = ? AND disposal_date = ? AND source_event_id = ?",
		securityKey, disposalDate, sourceEventID).First(&disposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &disposal, nil
}

func (d *Database) CreatePrice(price *types.SecurityPrice) error {
	return d.db.Create(price).Error
}

func (d *Database) FindPriceByIdentity(securityKey string, priceDate time.Time) (*types.SecurityPrice, error) {
	var price types.SecurityPrice
	err := d.db.Where("security_key = ? AND price_date = ?", securityKey, priceDate).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// GetLots returns all lots for an asset class, empty class meaning all.
func (d *Database) GetLots(assetClass string) ([]types.AcquisitionLot, error) {
	var lots []types.AcquisitionLot
	query := d.db.Order("acquisition_date ASC, source_event_id ASC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// GetDisposals returns disposals for an asset class within a date window,
// ordered for deterministic FIFO processing.
func (d *Database) GetDisposals(assetClass string, start, end time.Time) ([]types.DisposalEvent, error) {
	var disposals []types.DisposalEvent
	query := d.db.Where("disposal_date >= ? AND disposal_date <= ?", start, end).
		Order("disposal_date ASC, source_event_id ASC")
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&disposals).Error; err != nil {
		return nil, err
	}
	return disposals, nil
}
