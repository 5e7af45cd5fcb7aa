package suspense

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateItem(item *SuspenseItem) error {
	return d.db.Create(item).Error
}

// FindOpenItem returns the OPEN item for a (security, metric, period) triple,
// or nil. At most one such item can exist at a time.
func (d *Database) FindOpenItem(securityKey, metricType, period string) (*SuspenseItem, error) {
	var item SuspenseItem
	err := d.db.Where("security_key = ? AND metric_type = ? AND period = ? AND status = ?",
		securityKey, metricType, period, StatusOpen).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (d *Database) GetItem(itemID string) (*SuspenseItem, error) {
	var item SuspenseItem
	if err := d.db.Where("item_id = ?", itemID).First(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch suspense item: %w", err)
	}
	return &item, nil
}

func (d *Database) UpdateItem(item *SuspenseItem) error {
	return d.db.Save(item).Error
}

// ListItems returns items by status, optionally filtered by asset class.
func (d *Database) ListItems(status, assetClass string) ([]SuspenseItem, error) {
	var items []SuspenseItem
	query := d.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if assetClass != "" {
		query = query.Where("asset_class = ?", assetClass)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list suspense items: %w", err)
	}
	return items, nil
}
