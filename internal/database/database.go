package database

import (
	"fmt"
	"os"

	"github.com/msgtosan/taxledger-api/internal/database/migrations"
	"github.com/msgtosan/taxledger-api/internal/gains"
	"github.com/msgtosan/taxledger-api/internal/reconciliation"
	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/suspense"
	"github.com/msgtosan/taxledger-api/internal/truth"
	"github.com/msgtosan/taxledger-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection. The path
// comes from DATABASE_PATH, defaulting to a local file.
func NewDatabase() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_PATH")
	if dsn == "" {
		dsn = "taxledger.db"
	}
	return Open(dsn)
}

// Open connects to the given sqlite DSN and runs all migrations. Tests use
// this directly with an in-memory DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddMatchRecords(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddReconciliationEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.AcquisitionLot{},
		&types.DisposalEvent{},
		&types.SecurityPrice{},
		&types.AuditRecord{},
		&gains.GainsRun{},
		&reconciliation.GoldenReference{},
		&reconciliation.GoldenHolding{},
		&reconciliation.ReconciliationRun{},
		&truth.TruthPriority{},
		&suspense.SuspenseItem{},
		&rules.HoldingPeriodRule{},
		&rules.GrandfatheringRule{},
		&rules.ToleranceRule{},
		&rules.ExemptionRule{},
		&rules.FMVRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
