package truth

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetPriority returns the priority row for an exact (scope, metric, class)
// key, or nil when absent.
func (d *Database) GetPriority(scope, metricType, assetClass string) (*TruthPriority, error) {
	var row TruthPriority
	err := d.db.Where("scope = ? AND metric_type = ? AND asset_class = ?", scope, metricType, assetClass).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertPriority replaces (not merges) the priority list for a key.
func (d *Database) UpsertPriority(row *TruthPriority) error {
	existing, err := d.GetPriority(row.Scope, row.MetricType, row.AssetClass)
	if err != nil {
		return err
	}
	if existing == nil {
		return d.db.Create(row).Error
	}

	existing.Priorities = row.Priorities
	existing.Reason = row.Reason
	return d.db.Save(existing).Error
}

func (d *Database) CountGlobalPriorities() (int64, error) {
	var count int64
	err := d.db.Model(&TruthPriority{}).Where("scope = ?", ScopeGlobal).Count(&count).Error
	return count, err
}

func (d *Database) CreatePriorities(rows []TruthPriority) error {
	if len(rows) == 0 {
		return nil
	}
	return d.db.Create(&rows).Error
}
