package migrations

import (
	"github.com/msgtosan/taxledger-api/internal/reconciliation"
	"gorm.io/gorm"
)

// AddReconciliationEvents creates the immutable reconciliation event table
// and required indexes.
func AddReconciliationEvents(db *gorm.DB) error {
	if err := db.AutoMigrate(&reconciliation.ReconciliationEvent{}); err != nil {
		return err
	}

	indexes := []string{
		// Index for run-scoped event listings
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_events_run
		 ON reconciliation_events(run_id)`,

		// Composite index for summary queries
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_events_scope
		 ON reconciliation_events(metric_type, asset_class, period)`,

		// Index for match result filtering
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_events_result
		 ON reconciliation_events(match_result)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
