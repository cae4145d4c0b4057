package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrCorrectionTargetNotFound marks a correction or cancel whose original
// dissemination id matches nothing live. The report is quarantined for
// manual review rather than silently dropped.
var ErrCorrectionTargetNotFound = errors.New("correction target not found")

// AdmitResult is the outcome of admitting one report.
type AdmitResult int

const (
	Inserted AdmitResult = iota
	Replaced
	Skipped
)

func (r AdmitResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// BatchResult aggregates per-record outcomes for one admitted page.
type BatchResult struct {
	Inserted int
	Replaced int
	Skipped  int
	Orphans  int
	Failed   int
}

// Processed is the number of records that changed stored state.
func (b BatchResult) Processed() int {
	return b.Inserted + b.Replaced
}

// Gate resolves incoming reports against stored state. It is the sole
// writer of report liveness; every other component reads only.
type Gate struct {
	db  *Database
	cfg *config.Config
}

// NewGate creates a deduplication and correction gate.
func NewGate(gormDB *gorm.DB, cfg *config.Config) *Gate {
	return &Gate{
		db:  NewDatabase(gormDB),
		cfg: cfg,
	}
}

// Admit resolves one report against stored state, applying
// insert/replace/skip policy per the report's action.
func (g *Gate) Admit(report types.RawTradeReport) (AdmitResult, error) {
	logger := log.With().
		Str("component", "ingest_gate").
		Str("dissemination_id", report.DisseminationID).
		Str("action", report.Action).
		Logger()

	if report.DisseminationID == "" {
		return Skipped, fmt.Errorf("report has no dissemination id")
	}

	// Unsupported currencies are excluded silently: logged, not failed.
	if !g.cfg.SupportsCurrency(report.Currency) {
		logger.Debug().Str("currency", report.Currency).Msg("currency not in supported set, skipping")
		return Skipped, nil
	}

	switch report.Action {
	case types.ActionCorrect:
		return g.admitCorrection(report, logger)
	case types.ActionCancel:
		return g.admitCancel(report, logger)
	default:
		return g.admitNew(report, logger)
	}
}

func (g *Gate) admitNew(report types.RawTradeReport, logger zerolog.Logger) (AdmitResult, error) {
	existing, err := g.db.GetReport(report.DisseminationID)
	if err != nil {
		return Skipped, err
	}

	if existing == nil {
		report.Live = true
		if err := g.db.CreateReport(&report); err != nil {
			return Skipped, err
		}
		logger.Debug().Msg("report inserted")
		return Inserted, nil
	}

	if !existing.Live {
		// A superseded id re-delivered as NEW is stale upstream replay.
		logger.Debug().Msg("report already superseded, skipping re-delivery")
		return Skipped, nil
	}

	if sameContent(existing, &report) {
		logger.Debug().Msg("identical re-delivery, skipping")
		return Skipped, nil
	}

	// Same id, different content: treat as an in-place correction so the
	// one-live-row invariant holds, and rebuild anything built on it.
	existing.Currency = report.Currency
	existing.ExecutionTime = report.ExecutionTime
	existing.EffectiveDate = report.EffectiveDate
	existing.MaturityDate = report.MaturityDate
	existing.Notional = report.Notional
	existing.FixedRate = report.FixedRate
	existing.Direction = report.Direction
	if err := g.db.UpdateReport(existing); err != nil {
		return Skipped, err
	}
	invalidated, err := g.db.DeleteStructuresReferencing(report.DisseminationID)
	if err != nil {
		return Skipped, err
	}
	logger.Info().Int64("structures_invalidated", invalidated).Msg("report content replaced in place")
	return Replaced, nil
}

func (g *Gate) admitCorrection(report types.RawTradeReport, logger zerolog.Logger) (AdmitResult, error) {
	// Idempotent re-delivery of a correction already applied.
	if existing, err := g.db.GetReport(report.DisseminationID); err != nil {
		return Skipped, err
	} else if existing != nil {
		logger.Debug().Msg("correction already applied, skipping")
		return Skipped, nil
	}

	target, err := g.db.GetLiveReport(report.OriginalDisseminationID)
	if err != nil {
		return Skipped, err
	}
	if target == nil {
		g.quarantine(report, "correction references no live report", logger)
		return Skipped, fmt.Errorf("%w: %s", ErrCorrectionTargetNotFound, report.OriginalDisseminationID)
	}

	if err := g.db.MarkSuperseded(target.DisseminationID, report.DisseminationID); err != nil {
		return Skipped, err
	}

	report.Live = true
	if err := g.db.CreateReport(&report); err != nil {
		return Skipped, err
	}

	invalidated, err := g.db.DeleteStructuresReferencing(target.DisseminationID)
	if err != nil {
		return Skipped, err
	}

	logger.Info().
		Str("superseded", target.DisseminationID).
		Int64("structures_invalidated", invalidated).
		Msg("correction applied")
	return Replaced, nil
}

func (g *Gate) admitCancel(report types.RawTradeReport, logger zerolog.Logger) (AdmitResult, error) {
	if existing, err := g.db.GetReport(report.DisseminationID); err != nil {
		return Skipped, err
	} else if existing != nil {
		logger.Debug().Msg("cancel already applied, skipping")
		return Skipped, nil
	}

	target, err := g.db.GetLiveReport(report.OriginalDisseminationID)
	if err != nil {
		return Skipped, err
	}
	if target == nil {
		g.quarantine(report, "cancel references no live report", logger)
		return Skipped, fmt.Errorf("%w: %s", ErrCorrectionTargetNotFound, report.OriginalDisseminationID)
	}

	if err := g.db.MarkSuperseded(target.DisseminationID, report.DisseminationID); err != nil {
		return Skipped, err
	}

	// The cancel itself is stored non-live for audit; it carries no risk.
	report.Live = false
	if err := g.db.CreateReport(&report); err != nil {
		return Skipped, err
	}

	invalidated, err := g.db.DeleteStructuresReferencing(target.DisseminationID)
	if err != nil {
		return Skipped, err
	}

	logger.Info().
		Str("cancelled", target.DisseminationID).
		Int64("structures_invalidated", invalidated).
		Msg("cancel applied")
	return Replaced, nil
}

func (g *Gate) quarantine(report types.RawTradeReport, reason string, logger zerolog.Logger) {
	orphan := &types.OrphanCorrection{
		DisseminationID:         report.DisseminationID,
		OriginalDisseminationID: report.OriginalDisseminationID,
		Action:                  report.Action,
		Reason:                  reason,
		ReceivedAt:              time.Now().UTC(),
	}
	if err := g.db.CreateOrphan(orphan); err != nil {
		logger.Error().Err(err).Msg("failed to quarantine orphan correction")
		return
	}
	logger.Warn().
		Str("original_dissemination_id", report.OriginalDisseminationID).
		Msg("orphan correction quarantined")
}

// AdmitBatch admits a fetched page of reports. Per-record errors are
// downgraded to logged skips so one bad record cannot abort a cycle.
func (g *Gate) AdmitBatch(reports []types.RawTradeReport) BatchResult {
	logger := log.With().Str("component", "ingest_gate").Logger()

	var result BatchResult
	for _, report := range reports {
		outcome, err := g.Admit(report)
		if err != nil {
			if errors.Is(err, ErrCorrectionTargetNotFound) {
				result.Orphans++
			} else {
				logger.Error().
					Err(err).
					Str("dissemination_id", report.DisseminationID).
					Msg("failed to admit report")
				result.Failed++
			}
			continue
		}
		switch outcome {
		case Inserted:
			result.Inserted++
		case Replaced:
			result.Replaced++
		case Skipped:
			result.Skipped++
		}
	}

	logger.Info().
		Int("inserted", result.Inserted).
		Int("replaced", result.Replaced).
		Int("skipped", result.Skipped).
		Int("orphans", result.Orphans).
		Int("failed", result.Failed).
		Msg("admitted report batch")

	return result
}

func sameContent(a, b *types.RawTradeReport) bool {
	return a.Currency == b.Currency &&
		a.ExecutionTime.Equal(b.ExecutionTime) &&
		a.EffectiveDate.Equal(b.EffectiveDate) &&
		a.MaturityDate.Equal(b.MaturityDate) &&
		a.Notional == b.Notional &&
		a.FixedRate == b.FixedRate &&
		a.Direction == b.Direction
}
