package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ReferenceActive     = "ACTIVE"
	ReferenceSuperseded = "SUPERSEDED"
	ReferenceInvalid    = "INVALID"

	ResultExact           = "EXACT"
	ResultWithinTolerance = "WITHIN_TOLERANCE"
	ResultMismatch        = "MISMATCH"
	ResultMissingInSystem = "MISSING_IN_SYSTEM"
	ResultMissingInGolden = "MISSING_IN_GOLDEN"

	EventPending  = "PENDING"
	EventMatched  = "MATCHED"
	EventMismatch = "MISMATCH"

	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// GoldenReference is one ingested external statement. A newer statement for
// the same (source_type, period) supersedes the old one; nothing is deleted.
type GoldenReference struct {
	gorm.Model    `json:"-"`
	ReferenceID   string    `gorm:"uniqueIndex" json:"reference_id"`
	SourceType    string    `gorm:"index" json:"source_type"`
	StatementDate time.Time `json:"statement_date"`
	Period        string    `gorm:"index" json:"period"`
	Status        string    `json:"status"` // ACTIVE, SUPERSEDED, INVALID
}

// GoldenHolding is a single position row inside a golden statement. Immutable.
type GoldenHolding struct {
	gorm.Model   `json:"-"`
	ReferenceID  string          `gorm:"index" json:"reference_id"`
	ISIN         string          `json:"isin"`
	FolioNumber  string          `json:"folio_number"`
	SchemeName   string          `json:"scheme_name"`
	AssetClass   string          `json:"asset_class"`
	Units        decimal.Decimal `gorm:"type:decimal(20,8)" json:"units"`
	MarketValue  decimal.Decimal `gorm:"type:decimal(20,8)" json:"market_value"`
	RealizedGain decimal.Decimal `gorm:"type:decimal(20,8)" json:"realized_gain"`
	Currency     string          `json:"currency"`
	FxRateToBase decimal.Decimal `gorm:"type:decimal(20,8)" json:"fx_rate_to_base"`
}

// SecurityKey returns the identity used to match against system records:
// ISIN when present, otherwise folio+scheme for mutual fund positions.
// Matching is exact-key; an empty key is reported, never guessed.
func (h *GoldenHolding) SecurityKey() string {
	if h.ISIN != "" {
		return h.ISIN
	}
	if h.FolioNumber != "" && h.SchemeName != "" {
		return h.FolioNumber + "/" + h.SchemeName
	}
	return ""
}

// ReconciliationEvent is one comparison outcome. Immutable: a re-run creates
// new events rather than editing old ones, preserving the audit trail.
type ReconciliationEvent struct {
	gorm.Model    `json:"-"`
	EventID       string          `gorm:"uniqueIndex" json:"event_id"`
	RunID         string          `gorm:"index" json:"run_id"`
	MetricType    string          `json:"metric_type"`
	AssetClass    string          `json:"asset_class"`
	SecurityKey   string          `gorm:"index" json:"security_key"`
	Period        string          `json:"period"`
	SystemValue   decimal.Decimal `gorm:"type:decimal(20,8)" json:"system_value"`
	GoldenValue   decimal.Decimal `gorm:"type:decimal(20,8)" json:"golden_value"`
	Difference    decimal.Decimal `gorm:"type:decimal(20,8)" json:"difference"`
	ToleranceUsed decimal.Decimal `gorm:"type:decimal(20,8)" json:"tolerance_used"`
	SourceType    string          `json:"source_type"`
	MatchResult   string          `json:"match_result"` // EXACT, WITHIN_TOLERANCE, MISMATCH, MISSING_IN_SYSTEM, MISSING_IN_GOLDEN
	Status        string          `json:"status"`       // PENDING, MATCHED, MISMATCH, RESOLVED
}

// ReconciliationRun is the manifest of one correlation pass.
type ReconciliationRun struct {
	gorm.Model           `json:"-"`
	RunID                string          `gorm:"uniqueIndex" json:"run_id"`
	UserID               string          `json:"user_id"`
	MetricType           string          `gorm:"index" json:"metric_type"`
	AssetClass           string          `gorm:"index" json:"asset_class"`
	Period               string          `gorm:"index" json:"period"`
	SourceType           string          `json:"source_type"` // golden source actually used
	Status               string          `json:"status"`
	ExactCount           int             `json:"exact_count"`
	WithinToleranceCount int             `json:"within_tolerance_count"`
	MismatchCount        int             `json:"mismatch_count"`
	MissingInSystemCount int             `json:"missing_in_system_count"`
	MissingInGoldenCount int             `json:"missing_in_golden_count"`
	SuspenseOpened       int             `json:"suspense_opened"`
	TotalDifference      decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_difference"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// GoldenHoldingInput is one position row of a statement being ingested.
type GoldenHoldingInput struct {
	ISIN         string          `json:"isin"`
	FolioNumber  string          `json:"folio_number"`
	SchemeName   string          `json:"scheme_name"`
	AssetClass   string          `json:"asset_class" binding:"required"`
	Units        decimal.Decimal `json:"units"`
	MarketValue  decimal.Decimal `json:"market_value"`
	RealizedGain decimal.Decimal `json:"realized_gain"`
	Currency     string          `json:"currency"`
	FxRateToBase decimal.Decimal `json:"fx_rate_to_base"`
}

// GoldenStatementInput ingests one external statement with its positions.
type GoldenStatementInput struct {
	SourceType    string               `json:"source_type" binding:"required"`
	StatementDate time.Time            `json:"statement_date" binding:"required"`
	Period        string               `json:"period" binding:"required"`
	Holdings      []GoldenHoldingInput `json:"holdings" binding:"required"`
}

// ReconcileRequest triggers a reconciliation run.
type ReconcileRequest struct {
	MetricType string `json:"metric_type" binding:"required"`
	AssetClass string `json:"asset_class" binding:"required"`
	Period     string `json:"period" binding:"required"`
}

type RunResponse struct {
	RunID                string    `json:"run_id"`
	MetricType           string    `json:"metric_type"`
	AssetClass           string    `json:"asset_class"`
	Period               string    `json:"period"`
	SourceType           string    `json:"source_type,omitempty"`
	Status               string    `json:"status"`
	ExactCount           int       `json:"exact_count"`
	WithinToleranceCount int       `json:"within_tolerance_count"`
	MismatchCount        int       `json:"mismatch_count"`
	MissingInSystemCount int       `json:"missing_in_system_count"`
	MissingInGoldenCount int       `json:"missing_in_golden_count"`
	SuspenseOpened       int       `json:"suspense_opened"`
	TotalDifference      string    `json:"total_difference"`
	Timestamp            time.Time `json:"timestamp"`
}

// SummaryResponse is the read-only reconciliation summary for reporting.
type SummaryResponse struct {
	AssetClass      string  `json:"asset_class"`
	Period          string  `json:"period"`
	MetricType      string  `json:"metric_type"`
	MatchRate       float64 `json:"match_rate"`
	MismatchCount   int     `json:"mismatch_count"`
	TotalDifference string  `json:"total_difference"`
}
