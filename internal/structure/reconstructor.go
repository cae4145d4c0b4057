package structure

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/ingest"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Reconstructor groups same-day live trade reports into candidate multi-leg
// structures. It reads liveness state only; the ingest gate owns all writes
// to it.
type Reconstructor struct {
	db      *Database
	reports *ingest.Database
	cfg     *config.Config
}

// NewReconstructor creates a structure reconstructor.
func NewReconstructor(gormDB *gorm.DB, cfg *config.Config) *Reconstructor {
	return &Reconstructor{
		db:      NewDatabase(gormDB),
		reports: ingest.NewDatabase(gormDB),
		cfg:     cfg,
	}
}

// Database exposes the structure store for persisting validated structures.
func (r *Reconstructor) Database() *Database {
	return r.db
}

// Reconstruct builds candidate structures from the live reports for one
// currency and analysis day. Reports already embedded in a stored structure
// are left alone, so re-running on unchanged data produces nothing new.
// The returned structures are not yet persisted or risk-validated.
func (r *Reconstructor) Reconstruct(currency string, analysisDate time.Time) ([]types.StructuredTrade, error) {
	logger := log.With().
		Str("component", "reconstructor").
		Str("currency", currency).
		Logger()

	reports, err := r.reports.GetLiveReportsForDay(currency, analysisDate)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}

	embedded, err := r.db.EmbeddedSourceIDs(currency, analysisDate)
	if err != nil {
		return nil, err
	}

	free := reports[:0:0]
	for _, report := range reports {
		if !embedded[report.DisseminationID] {
			free = append(free, report)
		}
	}
	if len(free) == 0 {
		logger.Debug().Msg("all live reports already structured")
		return nil, nil
	}

	var structures []types.StructuredTrade
	for _, group := range r.groupByProximity(free) {
		for _, candidate := range r.classifyGroup(group) {
			structure, err := r.buildStructure(candidate, currency, analysisDate)
			if err != nil {
				logger.Error().Err(err).Msg("failed to build structure")
				continue
			}

			// Same source set already stored means an idempotent re-run.
			existing, err := r.db.GetStructureBySourceKey(structure.SourceKey)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				continue
			}
			structures = append(structures, *structure)
		}
	}

	logger.Info().
		Int("live_reports", len(reports)).
		Int("structures", len(structures)).
		Msg("reconstruction pass complete")

	return structures, nil
}

// groupByProximity splits execution-time-ordered reports into candidate
// co-leg groups: a report joins the open group while it executed within the
// configured window of the group's first leg.
func (r *Reconstructor) groupByProximity(reports []types.RawTradeReport) [][]types.RawTradeReport {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].ExecutionTime.Before(reports[j].ExecutionTime)
	})

	var groups [][]types.RawTradeReport
	var current []types.RawTradeReport
	var groupStart time.Time

	for _, report := range reports {
		if len(current) == 0 || report.ExecutionTime.Sub(groupStart) > r.cfg.GroupingWindow {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []types.RawTradeReport{report}
			groupStart = report.ExecutionTime
			continue
		}
		current = append(current, report)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// candidate is a classified set of co-legs.
type candidate struct {
	structureType string
	legs          []types.RawTradeReport
}

// classifyGroup matches a proximity group against the known structure
// shapes. Butterflies are extracted first, then two-leg structures, then
// singletons as outrights. Unmatched legs from a multi-trade group become
// one residual per leg: false positives are worse than leaving trades
// unstructured.
func (r *Reconstructor) classifyGroup(group []types.RawTradeReport) []candidate {
	if len(group) == 1 {
		return []candidate{{structureType: types.StructureOutright, legs: group}}
	}

	used := make(map[string]bool)
	var candidates []candidate

	// Butterflies: three distinct ordered tenors, signed notionals near zero.
	for _, triplet := range combinations(group, 3) {
		if anyUsed(used, triplet) {
			continue
		}
		if r.isButterfly(triplet) {
			candidates = append(candidates, candidate{structureType: types.StructureButterfly, legs: triplet})
			markUsed(used, triplet)
		}
	}

	// Unwinds before spreads: an identical-tenor offsetting pair is the
	// stricter match.
	for _, pair := range combinations(group, 2) {
		if anyUsed(used, pair) {
			continue
		}
		if isUnwind(pair) {
			candidates = append(candidates, candidate{structureType: types.StructureUnwind, legs: pair})
			markUsed(used, pair)
		}
	}

	for _, pair := range combinations(group, 2) {
		if anyUsed(used, pair) {
			continue
		}
		if r.isSpread(pair) {
			candidates = append(candidates, candidate{structureType: types.StructureSpread, legs: pair})
			markUsed(used, pair)
		}
	}

	for _, report := range group {
		if used[report.DisseminationID] {
			continue
		}
		candidates = append(candidates, candidate{
			structureType: types.StructureResidual,
			legs:          []types.RawTradeReport{report},
		})
	}

	return candidates
}

func (r *Reconstructor) isButterfly(legs []types.RawTradeReport) bool {
	tenors := make(map[string]bool, 3)
	var signed, gross float64
	for _, leg := range legs {
		tenors[TenorLabel(leg.TenorYears())] = true
		signed += signedNotional(leg)
		gross += math.Abs(leg.Notional)
	}
	if len(tenors) != 3 || gross == 0 {
		return false
	}
	return math.Abs(signed) <= r.cfg.ToleranceFraction*gross
}

func (r *Reconstructor) isSpread(legs []types.RawTradeReport) bool {
	a, b := legs[0], legs[1]
	if a.Direction == b.Direction {
		return false
	}
	if TenorLabel(a.TenorYears()) == TenorLabel(b.TenorYears()) {
		return false
	}
	larger := math.Max(math.Abs(a.Notional), math.Abs(b.Notional))
	if larger == 0 {
		return false
	}
	return math.Abs(a.Notional-b.Notional) <= r.cfg.ToleranceFraction*larger
}

func isUnwind(legs []types.RawTradeReport) bool {
	a, b := legs[0], legs[1]
	return a.Direction != b.Direction &&
		TenorLabel(a.TenorYears()) == TenorLabel(b.TenorYears())
}

// buildStructure assembles the persisted shape: legs ordered by tenor
// (earlier execution breaks ties), sorted source ids, and the bps metric
// for spreads and butterflies.
func (r *Reconstructor) buildStructure(c candidate, currency string, analysisDate time.Time) (*types.StructuredTrade, error) {
	reports := append([]types.RawTradeReport(nil), c.legs...)
	sort.SliceStable(reports, func(i, j int) bool {
		ti, tj := reports[i].TenorYears(), reports[j].TenorYears()
		if ti != tj {
			return ti < tj
		}
		return reports[i].ExecutionTime.Before(reports[j].ExecutionTime)
	})

	legs := make([]types.Leg, 0, len(reports))
	ids := make([]string, 0, len(reports))
	rates := make([]float64, 0, len(reports))
	for _, report := range reports {
		legs = append(legs, types.Leg{
			Tenor:     TenorLabel(report.TenorYears()),
			TenorYrs:  report.TenorYears(),
			Notional:  report.Notional,
			Rate:      report.FixedRate,
			Direction: report.Direction,
		})
		ids = append(ids, report.DisseminationID)
		rates = append(rates, report.FixedRate)
	}

	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(analysisDate.Year(), analysisDate.Month(), analysisDate.Day(), 0, 0, 0, 0, time.UTC)
	structure := &types.StructuredTrade{
		StructureID:   "STR_" + uuid.New().String(),
		StructureType: c.structureType,
		Currency:      currency,
		AnalysisDate:  dayStart,
		SourceIDs:     string(idsJSON),
		SourceKey:     strings.Join(sortedIDs, "|"),
		MetricBps:     metricBps(c.structureType, rates),
	}
	if err := structure.EncodeLegs(legs); err != nil {
		return nil, err
	}
	return structure, nil
}

// metricBps is the package level in basis points: curve slope for spreads,
// fly body-versus-wings for butterflies.
func metricBps(structureType string, rates []float64) float64 {
	switch structureType {
	case types.StructureSpread:
		if len(rates) == 2 {
			return round1(100 * (rates[1] - rates[0]))
		}
	case types.StructureButterfly:
		if len(rates) == 3 {
			return round1(100 * (2*rates[1] - rates[0] - rates[2]))
		}
	}
	return 0
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func signedNotional(report types.RawTradeReport) float64 {
	if report.Direction == types.DirectionPay {
		return -report.Notional
	}
	return report.Notional
}

func anyUsed(used map[string]bool, reports []types.RawTradeReport) bool {
	for _, r := range reports {
		if used[r.DisseminationID] {
			return true
		}
	}
	return false
}

func markUsed(used map[string]bool, reports []types.RawTradeReport) {
	for _, r := range reports {
		used[r.DisseminationID] = true
	}
}

// combinations returns all k-element subsets preserving input order.
func combinations(reports []types.RawTradeReport, k int) [][]types.RawTradeReport {
	if k > len(reports) {
		return nil
	}
	var result [][]types.RawTradeReport
	indices := make([]int, k)
	for i := range indices {
		indices[i] = i
	}
	for {
		subset := make([]types.RawTradeReport, k)
		for i, idx := range indices {
			subset[i] = reports[idx]
		}
		result = append(result, subset)

		i := k - 1
		for i >= 0 && indices[i] == len(reports)-k+i {
			i--
		}
		if i < 0 {
			return result
		}
		indices[i]++
		for j := i + 1; j < k; j++ {
			indices[j] = indices[j-1] + 1
		}
	}
}
