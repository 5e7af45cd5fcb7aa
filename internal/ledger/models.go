package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotInput is one acquisition row from an external parser.
type LotInput struct {
	SecurityKey        string          `json:"security_key" binding:"required"`
	AssetClass         string          `json:"asset_class" binding:"required"`
	AcquisitionDate    time.Time       `json:"acquisition_date" binding:"required"`
	SourceEventID      string          `json:"source_event_id" binding:"required"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	AcquisitionCharges decimal.Decimal `json:"acquisition_charges"`
}

// DisposalInput is one disposal row from an external parser.
type DisposalInput struct {
	SecurityKey     string          `json:"security_key" binding:"required"`
	AssetClass      string          `json:"asset_class" binding:"required"`
	DisposalDate    time.Time       `json:"disposal_date" binding:"required"`
	SourceEventID   string          `json:"source_event_id" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitProceeds    decimal.Decimal `json:"unit_proceeds"`
	DisposalCharges decimal.Decimal `json:"disposal_charges"`
}

// PriceInput is one end-of-day price row for a security.
type PriceInput struct {
	SecurityKey string          `json:"security_key" binding:"required"`
	PriceDate   time.Time       `json:"price_date" binding:"required"`
	Price       decimal.Decimal `json:"price"`
}

// RejectedRow reports why one row of a batch was not ingested.
type RejectedRow struct {
	SourceEventID string `json:"source_event_id"`
	Reason        string `json:"reason"`
}

// IngestResult summarises a batch ingestion. Duplicates are reported, not
// fatal: re-submitting a parser's output is expected and must be harmless.
type IngestResult struct {
	Accepted int           `json:"accepted"`
	Rejected []RejectedRow `json:"rejected,omitempty"`
}
