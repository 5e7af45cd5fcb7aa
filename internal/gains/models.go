package gains

import (
	"time"

	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// GainsRun is the manifest of one matching+classification run: counts of
// clean and flagged work so a consumer can tell "computed with caveats" from
// "fully computed".
type GainsRun struct {
	gorm.Model            `json:"-"`
	RunID                 string     `gorm:"uniqueIndex" json:"run_id"`
	Period                string     `gorm:"index" json:"period"`
	AssetClass            string     `json:"asset_class"`
	Status                string     `json:"status"` // RUNNING, COMPLETED, FAILED
	DisposalsProcessed    int        `json:"disposals_processed"`
	DisposalsMatched      int        `json:"disposals_matched"`
	DisposalsInsufficient int        `json:"disposals_insufficient"`
	DisposalsSkipped      int        `json:"disposals_skipped"`
	MatchRecordCount      int        `json:"match_record_count"`
	FlaggedRecordCount    int        `json:"flagged_record_count"`
	TaxableByBucket       string     `json:"taxable_by_bucket"` // JSON map of bucket:period to taxable gain
	FailureReason         string     `json:"failure_reason,omitempty"`
	StartedAt             time.Time  `json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// RunRequest triggers a gains run for a period.
type RunRequest struct {
	Period     string `json:"period" binding:"required"`
	AssetClass string `json:"asset_class"`
}

type RunResponse struct {
	RunID                 string            `json:"run_id"`
	Period                string            `json:"period"`
	AssetClass            string            `json:"asset_class,omitempty"`
	Status                string            `json:"status"`
	DisposalsProcessed    int               `json:"disposals_processed"`
	DisposalsMatched      int               `json:"disposals_matched"`
	DisposalsInsufficient int               `json:"disposals_insufficient"`
	DisposalsSkipped      int               `json:"disposals_skipped"`
	MatchRecordCount      int               `json:"match_record_count"`
	FlaggedRecordCount    int               `json:"flagged_record_count"`
	TaxableByBucket       map[string]string `json:"taxable_by_bucket,omitempty"`
	Timestamp             time.Time         `json:"timestamp"`
}
