package commentary

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

// GetCommentary returns the commentary for one currency and analysis day,
// or nil when none exists.
func (d *Database) GetCommentary(currency string, day time.Time) (*types.Commentary, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var commentary types.Commentary
	err := d.db.Where("currency = ? AND analysis_date = ?", currency, dayStart).First(&commentary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &commentary, nil
}

// UpsertCommentary overwrites the commentary for its (analysis_date,
// currency) key, creating it when absent. Exactly one row per key survives.
func (d *Database) UpsertCommentary(commentary *types.Commentary) error {
	existing, err := d.GetCommentary(commentary.Currency, commentary.AnalysisDate)
	if err != nil {
		return err
	}
	if existing == nil {
		return d.db.Create(commentary).Error
	}

	existing.CommentaryText = commentary.CommentaryText
	existing.TradeCount = commentary.TradeCount
	existing.TotalDV01 = commentary.TotalDV01
	existing.StructuresSummary = commentary.StructuresSummary
	existing.GeneratedAt = commentary.GeneratedAt
	if err := d.db.Save(existing).Error; err != nil {
		return err
	}
	*commentary = *existing
	return nil
}

// GetCommentaries returns commentary rows filtered by currency and date
// range, newest first.
func (d *Database) GetCommentaries(currency string, from, to time.Time, limit int) ([]types.Commentary, error) {
	query := d.db.Model(&types.Commentary{}).Order("analysis_date desc, currency asc")
	if currency != "" {
		query = query.Where("currency = ?", currency)
	}
	if !from.IsZero() {
		query = query.Where("analysis_date >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("analysis_date <= ?", to)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var commentaries []types.Commentary
	err := query.Find(&commentaries).Error
	return commentaries, err
}

// DistinctCurrencies returns the currencies with stored commentary.
func (d *Database) DistinctCurrencies() ([]string, error) {
	var currencies []string
	err := d.db.Model(&types.Commentary{}).
		Distinct().
		Order("currency asc").
		Pluck("currency", &currencies).Error
	return currencies, err
}

// DateRange returns the earliest and latest analysis dates with commentary.
func (d *Database) DateRange() (time.Time, time.Time, error) {
	var earliest, latest types.Commentary
	if err := d.db.Order("analysis_date asc").First(&earliest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, time.Time{}, nil
		}
		return time.Time{}, time.Time{}, err
	}
	if err := d.db.Order("analysis_date desc").First(&latest).Error; err != nil {
		return time.Time{}, time.Time{}, err
	}
	return earliest.AnalysisDate, latest.AnalysisDate, nil
}
