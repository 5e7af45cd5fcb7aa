package migrations

import (
	"github.com/msgtosan/taxledger-api/internal/types"
	"gorm.io/gorm"
)

// AddMatchRecords creates the match record table and its query indexes.
func AddMatchRecords(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.MatchRecord{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for period reporting queries
		`CREATE INDEX IF NOT EXISTS idx_match_records_period_class
		 ON match_records(period, asset_class)`,

		// Index for run-scoped lookups
		`CREATE INDEX IF NOT EXISTS idx_match_records_run
		 ON match_records(run_id)`,

		// Index for per-security aggregation
		`CREATE INDEX IF NOT EXISTS idx_match_records_security
		 ON match_records(security_key)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
