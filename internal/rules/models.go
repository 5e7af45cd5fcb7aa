package rules

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Rule rows are versioned by an effective date window. Changing a tax rule is
// an insert with a new window, never an update of an existing row.

type HoldingPeriodRule struct {
	gorm.Model    `json:"-"`
	AssetClass    string    `gorm:"index" json:"asset_class"`
	ThresholdDays int       `json:"threshold_days"`
	EffectiveFrom time.Time `json:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to"`
}

type GrandfatheringRule struct {
	gorm.Model          `json:"-"`
	AssetClass          string    `gorm:"index" json:"asset_class"`
	CutoffDate          time.Time `json:"cutoff_date"`
	RegimeEffectiveDate time.Time `json:"regime_effective_date"`
	EffectiveFrom       time.Time `json:"effective_from"`
	EffectiveTo         time.Time `json:"effective_to"`
}

type ToleranceRule struct {
	gorm.Model         `json:"-"`
	MetricType         string          `gorm:"index" json:"metric_type"`
	AssetClass         string          `gorm:"index" json:"asset_class"` // "*" matches any class
	Absolute           decimal.Decimal `gorm:"type:decimal(20,8)" json:"absolute"`
	Percentage         decimal.Decimal `gorm:"type:decimal(20,8)" json:"percentage"`
	Critical           decimal.Decimal `gorm:"type:decimal(20,8)" json:"critical"`
	EscalateToSuspense bool            `json:"escalate_to_suspense"`
	EffectiveFrom      time.Time       `json:"effective_from"`
	EffectiveTo        time.Time       `json:"effective_to"`
}

type ExemptionRule struct {
	gorm.Model    `json:"-"`
	Bucket        string          `gorm:"index" json:"bucket"` // e.g. LTCG_EQUITY
	Threshold     decimal.Decimal `gorm:"type:decimal(20,8)" json:"threshold"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   time.Time       `json:"effective_to"`
}

// FMVRecord holds the fair market value of a security at the grandfathering
// cutoff date, sourced from exchange bhav copies or RTA NAV history.
type FMVRecord struct {
	gorm.Model  `json:"-"`
	SecurityKey string          `gorm:"uniqueIndex" json:"security_key"`
	CutoffDate  time.Time       `json:"cutoff_date"`
	FMV         decimal.Decimal `gorm:"type:decimal(20,8)" json:"fmv"`
}
