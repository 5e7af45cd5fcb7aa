package truth

import (
	"gorm.io/gorm"
)

// ScopeGlobal marks rows of the default priority table; any other scope value
// is a user ID carrying that user's override.
const ScopeGlobal = "GLOBAL"

// TruthPriority is one row of the source-priority table: for a
// (metric, asset class) pair, the ordered list of golden sources to consult.
type TruthPriority struct {
	gorm.Model `json:"-"`
	Scope      string `gorm:"uniqueIndex:idx_truth_key" json:"scope"`
	MetricType string `gorm:"uniqueIndex:idx_truth_key" json:"metric_type"`
	AssetClass string `gorm:"uniqueIndex:idx_truth_key" json:"asset_class"`
	Priorities string `json:"priorities"` // comma-separated source types, highest authority first
	Reason     string `json:"reason"`
}

// OverrideRequest replaces a user's priority list for one key pair.
type OverrideRequest struct {
	MetricType string   `json:"metric_type" binding:"required"`
	AssetClass string   `json:"asset_class" binding:"required"`
	Priorities []string `json:"priorities" binding:"required"`
	Reason     string   `json:"reason" binding:"required"`
}

type ResolveResponse struct {
	MetricType string   `json:"metric_type"`
	AssetClass string   `json:"asset_class"`
	Priorities []string `json:"priorities"`
	Source     string   `json:"source"` // OVERRIDE, GLOBAL or FALLBACK
}
