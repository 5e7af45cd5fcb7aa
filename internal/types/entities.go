package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset classes recognised by the rules tables
const (
	AssetClassEquity     = "EQUITY"
	AssetClassMFEquity   = "MUTUAL_FUND_EQUITY"
	AssetClassMFDebt     = "MUTUAL_FUND_DEBT"
	AssetClassUnlisted   = "UNLISTED_EQUITY"
)

// Metric types compared during reconciliation
const (
	MetricHoldingUnits = "HOLDING_UNITS"
	MetricHoldingValue = "HOLDING_VALUE"
	MetricRealizedGain = "REALIZED_GAIN"
)

// Golden source types, in rough order of typical authority
const (
	SourceRTACAS  = "RTA_CAS"
	SourceNSDLCAS = "NSDL_CAS"
	SourceCDSLCAS = "CDSL_CAS"
	SourceBroker  = "BROKER"
	SourceSystem  = "SYSTEM"
)

type AcquisitionLot struct {
	gorm.Model         `json:"-"`
	LotID              string          `gorm:"uniqueIndex" json:"lot_id"`
	SecurityKey        string          `gorm:"index;uniqueIndex:idx_lot_identity" json:"security_key"`
	AssetClass         string          `json:"asset_class"`
	AcquisitionDate    time.Time       `gorm:"uniqueIndex:idx_lot_identity" json:"acquisition_date"`
	SourceEventID      string          `gorm:"uniqueIndex:idx_lot_identity" json:"source_event_id"`
	OriginalQuantity   decimal.Decimal `gorm:"type:decimal(20,8)" json:"original_quantity"`
	RemainingQuantity  decimal.Decimal `gorm:"type:decimal(20,8)" json:"remaining_quantity"`
	UnitCost           decimal.Decimal `gorm:"type:decimal(20,8)" json:"unit_cost"`
	AcquisitionCharges decimal.Decimal `gorm:"type:decimal(20,8)" json:"acquisition_charges"`
	Status             string          `json:"status"` // OPEN, EXHAUSTED
}

type DisposalEvent struct {
	gorm.Model      `json:"-"`
	DisposalID      string          `gorm:"uniqueIndex" json:"disposal_id"`
	SecurityKey     string          `gorm:"index;uniqueIndex:idx_disposal_identity" json:"security_key"`
	AssetClass      string          `json:"asset_class"`
	DisposalDate    time.Time       `gorm:"uniqueIndex:idx_disposal_identity" json:"disposal_date"`
	SourceEventID   string          `gorm:"uniqueIndex:idx_disposal_identity" json:"source_event_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	UnitProceeds    decimal.Decimal `gorm:"type:decimal(20,8)" json:"unit_proceeds"`
	DisposalCharges decimal.Decimal `gorm:"type:decimal(20,8)" json:"disposal_charges"`
	Status          string          `json:"status"` // PENDING, MATCHED, INSUFFICIENT_LOTS, SKIPPED_INVALID_DATE
}

// MatchRecord statuses and flags
const (
	MatchStatusMatched          = "MATCHED"
	MatchStatusInsufficientLots = "INSUFFICIENT_LOTS"

	FlagGrandfatheringFMVMissing = "GRANDFATHERING_FMV_MISSING"
	FlagPreRegimeDisposal        = "PRE_REGIME_DISPOSAL"
)

type MatchRecord struct {
	gorm.Model        `json:"-"`
	MatchID           string          `gorm:"uniqueIndex" json:"match_id"`
	RunID             string          `gorm:"index" json:"run_id"`
	LotID             string          `json:"lot_id"`
	DisposalID        string          `gorm:"index" json:"disposal_id"`
	SecurityKey       string          `gorm:"index" json:"security_key"`
	AssetClass        string          `json:"asset_class"`
	Period            string          `gorm:"index" json:"period"`
	MatchedQuantity   decimal.Decimal `gorm:"type:decimal(20,8)" json:"matched_quantity"`
	HoldingPeriodDays int             `json:"holding_period_days"`
	IsLongTerm        bool            `json:"is_long_term"`
	CostBasisPerUnit  decimal.Decimal `gorm:"type:decimal(20,8)" json:"cost_basis_per_unit"`
	GrossGain         decimal.Decimal `gorm:"type:decimal(20,8)" json:"gross_gain"`
	TaxableGain       decimal.Decimal `gorm:"type:decimal(20,8)" json:"taxable_gain"`
	Status            string          `json:"status"` // MATCHED, INSUFFICIENT_LOTS
	Flags             string          `json:"flags"`  // comma-separated, e.g. GRANDFATHERING_FMV_MISSING
}

// SecurityPrice is a market price point used to value open holdings.
type SecurityPrice struct {
	gorm.Model  `json:"-"`
	SecurityKey string          `gorm:"index;uniqueIndex:idx_price_identity" json:"security_key"`
	PriceDate   time.Time       `gorm:"uniqueIndex:idx_price_identity" json:"price_date"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
}

type AuditRecord struct {
	gorm.Model `json:"-"`
	AuditID    string    `gorm:"uniqueIndex" json:"audit_id"`
	EntityType string    `gorm:"index" json:"entity_type"`
	EntityID   string    `gorm:"index" json:"entity_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Details    string    `json:"details"` // JSON payload
	CreatedAt  time.Time `json:"created_at"`
}
