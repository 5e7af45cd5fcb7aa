package suspense

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusOpen       = "OPEN"
	StatusResolved   = "RESOLVED"
	StatusWrittenOff = "WRITTEN_OFF"
)

// SuspenseItem parks one reconciliation discrepancy for manual disposition.
// OPEN is the only non-terminal state; a recurring discrepancy after
// resolution gets a fresh item rather than a reopened one.
type SuspenseItem struct {
	gorm.Model     `json:"-"`
	ItemID         string          `gorm:"uniqueIndex" json:"item_id"`
	EventID        string          `gorm:"index" json:"event_id"`
	SecurityKey    string          `gorm:"index" json:"security_key"`
	MetricType     string          `json:"metric_type"`
	AssetClass     string          `gorm:"index" json:"asset_class"`
	Period         string          `json:"period"`
	SuspenseValue  decimal.Decimal `gorm:"type:decimal(20,8)" json:"suspense_value"`
	Reason         string          `json:"reason"`
	Status         string          `json:"status"` // OPEN, RESOLVED, WRITTEN_OFF
	ResolutionNote string          `json:"resolution_note,omitempty"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// OpenParams carries everything needed to open a suspense item from a
// reconciliation event.
type OpenParams struct {
	EventID       string
	SecurityKey   string
	MetricType    string
	AssetClass    string
	Period        string
	SuspenseValue decimal.Decimal
	Reason        string
}

type DispositionRequest struct {
	Note string `json:"note" binding:"required"`
}
