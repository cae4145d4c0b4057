package ingest

import (
	"errors"
	"time"

	"github.com/ksred/sdrflow/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateReport(report *types.RawTradeReport) error {
	return d.db.Create(report).Error
}

// GetLiveReport returns the live report under the given dissemination id,
// or nil when none exists.
func (d *Database) GetLiveReport(disseminationID string) (*types.RawTradeReport, error) {
	var report types.RawTradeReport
	err := d.db.Where("dissemination_id = ? AND live = ?", disseminationID, true).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// GetReport returns the stored report under the given dissemination id
// regardless of liveness, or nil when none exists.
func (d *Database) GetReport(disseminationID string) (*types.RawTradeReport, error) {
	var report types.RawTradeReport
	err := d.db.Where("dissemination_id = ?", disseminationID).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// MarkSuperseded flips the live flag off and records which report replaced
// it. The row is never deleted.
func (d *Database) MarkSuperseded(disseminationID, supersededBy string) error {
	return d.db.Model(&types.RawTradeReport{}).
		Where("dissemination_id = ?", disseminationID).
		Updates(map[string]interface{}{
			"live":          false,
			"superseded_by": supersededBy,
		}).Error
}

func (d *Database) UpdateReport(report *types.RawTradeReport) error {
	return d.db.Save(report).Error
}

func (d *Database) CountLiveReports() (int64, error) {
	var count int64
	err := d.db.Model(&types.RawTradeReport{}).Where("live = ?", true).Count(&count).Error
	return count, err
}

// GetLiveReportsForDay returns live reports for one currency executed inside
// the given analysis day, ordered by execution time.
func (d *Database) GetLiveReportsForDay(currency string, day time.Time) ([]types.RawTradeReport, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var reports []types.RawTradeReport
	err := d.db.
		Where("live = ? AND currency = ? AND execution_time >= ? AND execution_time < ?",
			true, currency, dayStart, dayEnd).
		Order("execution_time asc").
		Find(&reports).Error
	return reports, err
}

// DeleteStructuresReferencing removes structures whose source ids contain
// the given dissemination id. They are rebuilt on the next reconstruction
// pass. The delete is unscoped: a soft-deleted row would still hold the
// unique source key and block the rebuild. Returns the number of structures
// invalidated.
func (d *Database) DeleteStructuresReferencing(disseminationID string) (int64, error) {
	result := d.db.Unscoped().
		Where("source_ids LIKE ?", `%"`+disseminationID+`"%`).
		Delete(&types.StructuredTrade{})
	return result.RowsAffected, result.Error
}

// GetLiveReports returns live reports filtered by execution window, newest
// first, bounded by limit.
func (d *Database) GetLiveReports(from, to time.Time, limit int) ([]types.RawTradeReport, error) {
	query := d.db.Where("live = ?", true).Order("execution_time desc")
	if !from.IsZero() {
		query = query.Where("execution_time >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("execution_time <= ?", to)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var reports []types.RawTradeReport
	err := query.Find(&reports).Error
	return reports, err
}

func (d *Database) CreateOrphan(orphan *types.OrphanCorrection) error {
	return d.db.Create(orphan).Error
}

func (d *Database) GetOrphans(limit int) ([]types.OrphanCorrection, error) {
	var orphans []types.OrphanCorrection
	err := d.db.Order("received_at desc").Limit(limit).Find(&orphans).Error
	return orphans, err
}
