package database

import (
	"github.com/ksred/sdrflow/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection with the
// schema migrated.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the four logical tables plus the orphan
// correction quarantine.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.RawTradeReport{},
		&types.StructuredTrade{},
		&types.Commentary{},
		&types.ProcessingLog{},
		&types.OrphanCorrection{},
	)
}
