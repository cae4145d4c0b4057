package commentary

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/sdrflow/internal/structure"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Generator produces deterministic, template-based market commentary per
// currency per analysis day. No network, no randomness: the same validated
// structures always yield the same text.
type Generator struct {
	db *Database
}

// NewGenerator creates a commentary generator.
func NewGenerator(gormDB *gorm.DB) *Generator {
	return &Generator{db: NewDatabase(gormDB)}
}

// Database exposes the commentary store for the query surface.
func (g *Generator) Database() *Database {
	return g.db
}

// Generate composes and persists commentary for one currency and day.
// Zero structures still produces a stored record stating no activity, so
// callers can tell "checked, nothing happened" from "never checked".
func (g *Generator) Generate(currency string, analysisDate time.Time, structures []types.StructuredTrade) (*types.Commentary, error) {
	logger := log.With().
		Str("component", "commentary_generator").
		Str("currency", currency).
		Logger()

	dayStart := time.Date(analysisDate.Year(), analysisDate.Month(), analysisDate.Day(), 0, 0, 0, 0, time.UTC)

	commentary := &types.Commentary{
		CommentaryID: "CMT_" + uuid.New().String(),
		Currency:     currency,
		AnalysisDate: dayStart,
		TradeCount:   len(structures),
		GeneratedAt:  time.Now().UTC(),
	}

	summary := make(map[string]int)
	var totalDV01 float64
	for i := range structures {
		summary[structures[i].StructureType]++
		totalDV01 += structures[i].GrossDV01
	}
	commentary.TotalDV01 = math.Round(totalDV01*100) / 100

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	commentary.StructuresSummary = string(summaryJSON)
	commentary.CommentaryText = composeText(currency, structures)

	if err := g.db.UpsertCommentary(commentary); err != nil {
		return nil, err
	}

	logger.Info().
		Int("structures", len(structures)).
		Float64("total_dv01", commentary.TotalDV01).
		Msg("commentary generated")

	return commentary, nil
}

// composeText renders the fixed-format prose: a header line, then sections
// for outright, spread and butterfly activity.
func composeText(currency string, structures []types.StructuredTrade) string {
	ccy := strings.ToUpper(currency)
	lines := []string{fmt.Sprintf("^^%s SDR deals today^^", ccy)}

	if len(structures) == 0 {
		lines = append(lines, "", fmt.Sprintf("No %s trades found", ccy))
		return strings.Join(lines, "\n")
	}

	if section := outrightSection(ccy, structures); len(section) > 0 {
		lines = append(lines, section...)
	}
	if section := packageSection(ccy, structures, types.StructureSpread, "Spreads", " vs "); len(section) > 0 {
		lines = append(lines, section...)
	}
	if section := packageSection(ccy, structures, types.StructureButterfly, "Butterflies", " vs "); len(section) > 0 {
		lines = append(lines, section...)
	}

	return strings.Join(lines, "\n")
}

// outrightSection covers single-direction risk: outrights, unwinds and
// residuals, grouped by tenor.
func outrightSection(ccy string, structures []types.StructuredTrade) []string {
	type bucket struct {
		dv01  float64
		rates []float64
	}
	buckets := make(map[string]*bucket)

	for i := range structures {
		switch structures[i].StructureType {
		case types.StructureOutright, types.StructureUnwind, types.StructureResidual:
		default:
			continue
		}
		legs, err := structures[i].DecodeLegs()
		if err != nil || len(legs) == 0 {
			continue
		}
		label := legs[0].Tenor
		b, ok := buckets[label]
		if !ok {
			b = &bucket{}
			buckets[label] = b
		}
		b.dv01 += structures[i].GrossDV01
		for _, leg := range legs {
			b.rates = append(b.rates, leg.Rate)
		}
	}

	if len(buckets) == 0 {
		return nil
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sortTenorLabels(labels, " vs ")

	lines := []string{"", fmt.Sprintf("^^%s Outrights^^", ccy)}
	for _, label := range labels {
		b := buckets[label]
		lines = append(lines, fmt.Sprintf("%s traded %s DV01%s", label, formatDV01(b.dv01), rateRange(b.rates)))
	}
	return lines
}

// packageSection covers risk-paired structures, grouped by their tenor
// combination, with the package level rendered in bps.
func packageSection(ccy string, structures []types.StructuredTrade, structureType, title, sep string) []string {
	type bucket struct {
		dv01 float64
		bps  []float64
	}
	buckets := make(map[string]*bucket)

	for i := range structures {
		if structures[i].StructureType != structureType {
			continue
		}
		legs, err := structures[i].DecodeLegs()
		if err != nil || len(legs) == 0 {
			continue
		}
		tenors := make([]string, 0, len(legs))
		for _, leg := range legs {
			tenors = append(tenors, leg.Tenor)
		}
		label := strings.Join(tenors, sep)
		b, ok := buckets[label]
		if !ok {
			b = &bucket{}
			buckets[label] = b
		}
		// Package size is the larger side, not the sum of both legs.
		b.dv01 += structures[i].GrossDV01 / 2
		b.bps = append(b.bps, structures[i].MetricBps)
	}

	if len(buckets) == 0 {
		return nil
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sortTenorLabels(labels, sep)

	lines := []string{"", fmt.Sprintf("^^%s %s^^", ccy, title)}
	for _, label := range labels {
		b := buckets[label]
		lines = append(lines, fmt.Sprintf("%s traded %s DV01%s", label, formatDV01(b.dv01), bpsRange(b.bps)))
	}
	return lines
}

// sortTenorLabels orders tenor labels by curve position rather than
// lexicographically, so "2Y" precedes "10Y". Combination labels sort by
// their leading tenor.
func sortTenorLabels(labels []string, sep string) {
	sort.Slice(labels, func(i, j int) bool {
		ki := structure.TenorSortKey(strings.Split(labels[i], sep)[0])
		kj := structure.TenorSortKey(strings.Split(labels[j], sep)[0])
		if ki != kj {
			return ki < kj
		}
		return labels[i] < labels[j]
	})
}

// formatDV01 renders a DV01 amount in thousands, with sub-1k activity shown
// as "<1k" rather than dropped.
func formatDV01(dv01 float64) string {
	rounded := int(math.Round(dv01 / 1000))
	if rounded < 1 {
		return "<1k"
	}
	return fmt.Sprintf("%dk", rounded)
}

func rateRange(rates []float64) string {
	if len(rates) == 0 {
		return ""
	}
	min, max := rates[0], rates[0]
	for _, r := range rates[1:] {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	if min == max {
		return fmt.Sprintf(" (Rate: %.4f)", min)
	}
	return fmt.Sprintf(" (Rate range: %.4f-%.4f)", min, max)
}

func bpsRange(bps []float64) string {
	if len(bps) == 0 {
		return ""
	}
	min, max := bps[0], bps[0]
	for _, b := range bps[1:] {
		if b < min {
			min = b
		}
		if b > max {
			max = b
		}
	}
	if min == max {
		return fmt.Sprintf(" (Level: %.1f bps)", min)
	}
	return fmt.Sprintf(" (Level range: %.1f-%.1f bps)", min, max)
}
