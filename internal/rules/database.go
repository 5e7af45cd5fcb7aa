package rules

import (
	"errors"
	"net/http"
	"time"

	"github.com/msgtosan/taxledger-api/pkg/response"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ErrNoRule is returned when no rule row covers the requested date.
var ErrNoRule = response.NewError(http.StatusUnprocessableEntity,
	response.ErrCodeUnprocessable, "no rule in effect for the requested date")

func (d *Database) GetHoldingPeriodRule(assetClass string, asOf time.Time) (*HoldingPeriodRule, error) {
	var rule HoldingPeriodRule
	err := d.db.Where("asset_class = ? AND effective_from <= ? AND effective_to >= ?", assetClass, asOf, asOf).
		Order("effective_from DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRule
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (d *Database) GetGrandfatheringRule(assetClass string, asOf time.Time) (*GrandfatheringRule, error) {
	var rule GrandfatheringRule
	err := d.db.Where("asset_class = ? AND effective_from <= ? AND effective_to >= ?", assetClass, asOf, asOf).
		Order("effective_from DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRule
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetToleranceRule prefers an exact asset-class match over the "*" wildcard.
func (d *Database) GetToleranceRule(metricType, assetClass string, asOf time.Time) (*ToleranceRule, error) {
	var rule ToleranceRule
	err := d.db.Where("metric_type = ? AND asset_class IN (?, '*') AND effective_from <= ? AND effective_to >= ?",
		metricType, assetClass, asOf, asOf).
		Order("CASE WHEN asset_class = '*' THEN 1 ELSE 0 END, effective_from DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRule
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (d *Database) GetExemptionRule(bucket string, asOf time.Time) (*ExemptionRule, error) {
	var rule ExemptionRule
	err := d.db.Where("bucket = ? AND effective_from <= ? AND effective_to >= ?", bucket, asOf, asOf).
		Order("effective_from DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRule
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (d *Database) GetFMVRecord(securityKey string) (*FMVRecord, error) {
	var record FMVRecord
	err := d.db.Where("security_key = ?", securityKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRule
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (d *Database) CreateFMVRecord(record *FMVRecord) error {
	return d.db.Create(record).Error
}

func (d *Database) CountHoldingPeriodRules() (int64, error) {
	var count int64
	err := d.db.Model(&HoldingPeriodRule{}).Count(&count).Error
	return count, err
}

func (d *Database) CreateDefaults(holding []HoldingPeriodRule, grandfathering []GrandfatheringRule, tolerances []ToleranceRule, exemptions []ExemptionRule) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if len(holding) > 0 {
		if err := tx.Create(&holding).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if len(grandfathering) > 0 {
		if err := tx.Create(&grandfathering).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if len(tolerances) > 0 {
		if err := tx.Create(&tolerances).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if len(exemptions) > 0 {
		if err := tx.Create(&exemptions).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}
