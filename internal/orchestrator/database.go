package orchestrator

import (
	"errors"

	"github.com/ksred/sdrflow/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateLog(entry *types.ProcessingLog) error {
	return d.db.Create(entry).Error
}

func (d *Database) UpdateLog(entry *types.ProcessingLog) error {
	return d.db.Save(entry).Error
}

// GetLatestLog returns the most recent finished or running cycle record, or
// nil when no cycle has ever run.
func (d *Database) GetLatestLog() (*types.ProcessingLog, error) {
	var entry types.ProcessingLog
	err := d.db.Order("run_timestamp desc, id desc").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetRecentLogs returns the newest cycle records bounded by limit.
func (d *Database) GetRecentLogs(limit int) ([]types.ProcessingLog, error) {
	var entries []types.ProcessingLog
	err := d.db.Order("run_timestamp desc, id desc").Limit(limit).Find(&entries).Error
	return entries, err
}
