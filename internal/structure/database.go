package structure

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

func (d *Database) CreateStructure(structure *types.StructuredTrade) error {
	return d.db.Create(structure).Error
}

// GetStructureBySourceKey returns the stored structure built from exactly
// this set of source trades, or nil when none exists.
func (d *Database) GetStructureBySourceKey(sourceKey string) (*types.StructuredTrade, error) {
	var structure types.StructuredTrade
	err := d.db.Where("source_key = ?", sourceKey).First(&structure).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &structure, nil
}

// GetStructuresForDay returns stored structures for one currency and
// analysis day, oldest first.
func (d *Database) GetStructuresForDay(currency string, day time.Time) ([]types.StructuredTrade, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var structures []types.StructuredTrade
	err := d.db.
		Where("currency = ? AND analysis_date = ?", currency, dayStart).
		Order("id asc").
		Find(&structures).Error
	return structures, err
}

// GetStructures returns stored structures for a currency across a date
// range, newest analysis day first.
func (d *Database) GetStructures(currency string, from, to time.Time, limit int) ([]types.StructuredTrade, error) {
	query := d.db.Model(&types.StructuredTrade{}).Order("analysis_date desc, id asc")
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

	var structures []types.StructuredTrade
	err := query.Find(&structures).Error
	return structures, err
}

// EmbeddedSourceIDs returns the dissemination ids already embedded in a
// stored structure for the given currency and day.
func (d *Database) EmbeddedSourceIDs(currency string, day time.Time) (map[string]bool, error) {
	structures, err := d.GetStructuresForDay(currency, day)
	if err != nil {
		return nil, err
	}

	embedded := make(map[string]bool)
	for i := range structures {
		ids, err := structures[i].DecodeSourceIDs()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			embedded[id] = true
		}
	}
	return embedded, nil
}

func (d *Database) UpdateStructure(structure *types.StructuredTrade) error {
	return d.db.Save(structure).Error
}
