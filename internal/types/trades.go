package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Directions for a swap leg. PAY means the reporting party pays fixed.
const (
	DirectionPay     = "PAY"
	DirectionReceive = "RECEIVE"
)

// Upstream action types on a disseminated report.
const (
	ActionNew     = "NEW"
	ActionCorrect = "CORRECT"
	ActionCancel  = "CANCEL"
)

// Structure classifications.
const (
	StructureOutright  = "OUTRIGHT"
	StructureSpread    = "SPREAD"
	StructureButterfly = "BUTTERFLY"
	StructureUnwind    = "UNWIND"
	StructureResidual  = "RESIDUAL"
)

// RawTradeReport is one disseminated trade event from the upstream feed.
// At most one live row exists per DisseminationID; a correction or cancel
// flips Live on the prior row instead of deleting it.
type RawTradeReport struct {
	gorm.Model              `json:"-"`
	DisseminationID         string    `gorm:"uniqueIndex" json:"dissemination_id"`
	OriginalDisseminationID string    `json:"original_dissemination_id,omitempty"`
	Currency                string    `gorm:"index" json:"currency"`
	ExecutionTime           time.Time `gorm:"index" json:"execution_time"`
	EffectiveDate           time.Time `json:"effective_date"`
	MaturityDate            time.Time `json:"maturity_date"`
	Notional                float64   `json:"notional"`
	FixedRate               float64   `json:"fixed_rate"`
	Direction               string    `json:"direction"` // PAY or RECEIVE
	Action                  string    `json:"action"`    // NEW, CORRECT, CANCEL
	Live                    bool      `gorm:"index" json:"live"`
	SupersededBy            string    `json:"superseded_by,omitempty"`
}

// TenorYears returns the leg tenor implied by the effective and maturity
// dates, in years.
func (r *RawTradeReport) TenorYears() float64 {
	if r.MaturityDate.IsZero() || r.EffectiveDate.IsZero() {
		return 0
	}
	return r.MaturityDate.Sub(r.EffectiveDate).Hours() / 24 / 365.25
}

// Leg is one leg of a reconstructed structure.
type Leg struct {
	Tenor     string  `json:"tenor"`
	TenorYrs  float64 `json:"tenor_years"`
	Notional  float64 `json:"notional"`
	Rate      float64 `json:"rate"`
	Direction string  `json:"direction"`
	DV01      float64 `json:"dv01"`
}

// StructuredTrade is a reconstructed multi-leg structure for one analysis
// date and currency. SourceKey is the sorted set of composing dissemination
// ids, which makes rebuilds idempotent: the same live inputs always map to
// the same key.
type StructuredTrade struct {
	gorm.Model    `json:"-"`
	StructureID   string    `gorm:"uniqueIndex" json:"structure_id"`
	StructureType string    `gorm:"index" json:"structure_type"`
	Currency      string    `gorm:"index" json:"currency"`
	AnalysisDate  time.Time `gorm:"index" json:"analysis_date"`
	Legs          string    `json:"legs"`       // JSON array of Leg
	SourceIDs     string    `json:"source_ids"` // JSON array of dissemination ids
	SourceKey     string    `gorm:"uniqueIndex" json:"source_key"`
	NetDV01       float64   `json:"net_dv01"`
	GrossDV01     float64   `json:"gross_dv01"`
	IsRiskNeutral bool      `json:"is_risk_neutral"`
	MetricBps     float64   `json:"metric_bps"`
}

// DecodeLegs unmarshals the stored leg array.
func (s *StructuredTrade) DecodeLegs() ([]Leg, error) {
	if s.Legs == "" {
		return nil, nil
	}
	var legs []Leg
	if err := json.Unmarshal([]byte(s.Legs), &legs); err != nil {
		return nil, err
	}
	return legs, nil
}

// EncodeLegs stores the leg array on the structure.
func (s *StructuredTrade) EncodeLegs(legs []Leg) error {
	data, err := json.Marshal(legs)
	if err != nil {
		return err
	}
	s.Legs = string(data)
	return nil
}

// DecodeSourceIDs unmarshals the composing dissemination ids.
func (s *StructuredTrade) DecodeSourceIDs() ([]string, error) {
	if s.SourceIDs == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.SourceIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Commentary is one generated text block per (analysis_date, currency).
// Regeneration overwrites the existing row.
type Commentary struct {
	gorm.Model        `json:"-"`
	CommentaryID      string    `gorm:"uniqueIndex" json:"commentary_id"`
	Currency          string    `gorm:"uniqueIndex:idx_commentary_day_ccy" json:"currency"`
	AnalysisDate      time.Time `gorm:"uniqueIndex:idx_commentary_day_ccy" json:"analysis_date"`
	CommentaryText    string    `json:"commentary_text"`
	TradeCount        int       `json:"trade_count"`
	TotalDV01         float64   `json:"total_dv01"`
	StructuresSummary string    `json:"structures_summary"` // JSON counts by structure type
	GeneratedAt       time.Time `json:"generated_at"`
}

// Processing cycle types and statuses.
const (
	ProcessTypeFetch   = "fetch"
	ProcessTypeAnalyze = "analyze"
	ProcessTypeBoth    = "both"

	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ProcessingLog records one orchestrator cycle. Append-only.
type ProcessingLog struct {
	gorm.Model           `json:"-"`
	RunTimestamp         time.Time `gorm:"index" json:"run_timestamp"`
	ProcessType          string    `json:"process_type"` // fetch, analyze, both
	Status               string    `json:"status"`       // running, success, error
	RecordsProcessed     int       `json:"records_processed"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	ErrorMessage         string    `json:"error_message,omitempty"`
}

// OrphanCorrection quarantines a correction or cancel whose original
// dissemination id matched nothing live, for manual review.
type OrphanCorrection struct {
	gorm.Model              `json:"-"`
	DisseminationID         string    `json:"dissemination_id"`
	OriginalDisseminationID string    `json:"original_dissemination_id"`
	Action                  string    `json:"action"`
	Reason                  string    `json:"reason"`
	ReceivedAt              time.Time `json:"received_at"`
}
