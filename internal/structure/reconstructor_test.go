package structure

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/database"
	"github.com/ksred/sdrflow/internal/ingest"
	"github.com/ksred/sdrflow/internal/types"
	"gorm.io/gorm"
)

var analysisDay = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		GroupingWindow:      time.Minute,
		ToleranceFraction:   0.05,
		SupportedCurrencies: []string{"USD", "EUR"},
	}
}

// seedReport stores a live report directly, bypassing the admission gate.
func seedReport(t *testing.T, db *gorm.DB, id, currency string, executed time.Time, tenorYears int, notional, rate float64, direction string) {
	t.Helper()
	effective := time.Date(executed.Year(), executed.Month(), executed.Day(), 0, 0, 0, 0, time.UTC).Add(48 * time.Hour)
	report := types.RawTradeReport{
		DisseminationID: id,
		Currency:        currency,
		ExecutionTime:   executed,
		EffectiveDate:   effective,
		MaturityDate:    effective.AddDate(tenorYears, 0, 0),
		Notional:        notional,
		FixedRate:       rate,
		Direction:       direction,
		Action:          types.ActionNew,
		Live:            true,
	}
	if err := ingest.NewDatabase(db).CreateReport(&report); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
}

func TestTenorLabel(t *testing.T) {
	tests := []struct {
		years float64
		want  string
	}{
		{0, "UNKNOWN"},
		{-1, "UNKNOWN"},
		{0.04, "1M"},
		{0.5, "6M"},
		{0.99, "12M"},
		{1.0, "1Y"},
		{1.9986, "2Y"},
		{10.02, "10Y"},
		{30, "30Y"},
	}
	for _, tt := range tests {
		if got := TenorLabel(tt.years); got != tt.want {
			t.Errorf("TenorLabel(%v) = %q, want %q", tt.years, got, tt.want)
		}
	}
}

func TestTenorSortKey(t *testing.T) {
	if !(TenorSortKey("6M") < TenorSortKey("2Y")) {
		t.Error("6M should sort before 2Y")
	}
	if !(TenorSortKey("2Y") < TenorSortKey("10Y")) {
		t.Error("2Y should sort before 10Y")
	}
	if TenorSortKey("garbage") != TenorSortKey("junk") {
		t.Error("unparseable labels should share the sentinel key")
	}
}

func TestReconstruct_EmptyDay(t *testing.T) {
	r := NewReconstructor(newTestDB(t), testConfig())

	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 0 {
		t.Errorf("structures = %d, want 0", len(structures))
	}
}

func TestReconstruct_SingleReportIsOutright(t *testing.T) {
	db := newTestDB(t)
	seedReport(t, db, "O1", "USD", analysisDay.Add(10*time.Hour), 10, 10_000_000, 3.5, types.DirectionPay)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 1 {
		t.Fatalf("structures = %d, want 1", len(structures))
	}
	if structures[0].StructureType != types.StructureOutright {
		t.Errorf("type = %s, want OUTRIGHT", structures[0].StructureType)
	}

	legs, err := structures[0].DecodeLegs()
	if err != nil {
		t.Fatalf("DecodeLegs failed: %v", err)
	}
	if len(legs) != 1 || legs[0].Tenor != "10Y" {
		t.Errorf("legs = %+v, want one 10Y leg", legs)
	}
}

func TestReconstruct_Spread(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(10 * time.Hour)
	seedReport(t, db, "S1", "USD", executed, 2, 10_000_000, 4.1, types.DirectionPay)
	seedReport(t, db, "S2", "USD", executed.Add(5*time.Second), 10, 10_000_000, 3.6, types.DirectionReceive)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 1 {
		t.Fatalf("structures = %d, want 1", len(structures))
	}

	s := structures[0]
	if s.StructureType != types.StructureSpread {
		t.Fatalf("type = %s, want SPREAD", s.StructureType)
	}

	// Legs ordered short tenor first; metric is the slope in bps.
	legs, err := s.DecodeLegs()
	if err != nil {
		t.Fatalf("DecodeLegs failed: %v", err)
	}
	if len(legs) != 2 || legs[0].Tenor != "2Y" || legs[1].Tenor != "10Y" {
		t.Errorf("legs = %+v, want 2Y then 10Y", legs)
	}
	if s.MetricBps != -50.0 {
		t.Errorf("MetricBps = %v, want -50.0", s.MetricBps)
	}
	if s.SourceKey != "S1|S2" {
		t.Errorf("SourceKey = %q, want S1|S2", s.SourceKey)
	}
}

func TestReconstruct_Butterfly(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(9 * time.Hour)
	seedReport(t, db, "B1", "EUR", executed, 2, 10_000_000, 4.2, types.DirectionPay)
	seedReport(t, db, "B2", "EUR", executed.Add(3*time.Second), 5, 20_000_000, 3.9, types.DirectionReceive)
	seedReport(t, db, "B3", "EUR", executed.Add(7*time.Second), 10, 10_000_000, 3.7, types.DirectionPay)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("EUR", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 1 {
		t.Fatalf("structures = %d, want 1", len(structures))
	}

	s := structures[0]
	if s.StructureType != types.StructureButterfly {
		t.Fatalf("type = %s, want BUTTERFLY", s.StructureType)
	}
	// 100 * (2*3.9 - 4.2 - 3.7)
	if s.MetricBps != -10.0 {
		t.Errorf("MetricBps = %v, want -10.0", s.MetricBps)
	}
}

func TestReconstruct_Unwind(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(11 * time.Hour)
	seedReport(t, db, "U1", "USD", executed, 5, 10_000_000, 3.90, types.DirectionPay)
	seedReport(t, db, "U2", "USD", executed.Add(10*time.Second), 5, 10_000_000, 3.95, types.DirectionReceive)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 1 {
		t.Fatalf("structures = %d, want 1", len(structures))
	}
	if structures[0].StructureType != types.StructureUnwind {
		t.Errorf("type = %s, want UNWIND", structures[0].StructureType)
	}
}

func TestReconstruct_LeftoverLegBecomesResidual(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(12 * time.Hour)
	seedReport(t, db, "R1", "USD", executed, 2, 10_000_000, 4.1, types.DirectionPay)
	seedReport(t, db, "R2", "USD", executed.Add(5*time.Second), 10, 10_000_000, 3.6, types.DirectionReceive)
	seedReport(t, db, "R3", "USD", executed.Add(9*time.Second), 5, 7_000_000, 3.9, types.DirectionPay)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 2 {
		t.Fatalf("structures = %d, want 2", len(structures))
	}

	byType := make(map[string]int)
	for i := range structures {
		byType[structures[i].StructureType]++
	}
	if byType[types.StructureSpread] != 1 || byType[types.StructureResidual] != 1 {
		t.Errorf("structures by type = %v, want one SPREAD and one RESIDUAL", byType)
	}
}

func TestReconstruct_GroupingWindowSeparatesTrades(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(10 * time.Hour)
	// Same shape as a spread but executed too far apart to be co-legs.
	seedReport(t, db, "G1", "USD", executed, 2, 10_000_000, 4.1, types.DirectionPay)
	seedReport(t, db, "G2", "USD", executed.Add(10*time.Minute), 10, 10_000_000, 3.6, types.DirectionReceive)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(structures) != 2 {
		t.Fatalf("structures = %d, want 2 outrights", len(structures))
	}
	for i := range structures {
		if structures[i].StructureType != types.StructureOutright {
			t.Errorf("type = %s, want OUTRIGHT", structures[i].StructureType)
		}
	}
}

func TestReconstruct_IdempotentRerun(t *testing.T) {
	db := newTestDB(t)
	executed := analysisDay.Add(10 * time.Hour)
	seedReport(t, db, "I1", "USD", executed, 2, 10_000_000, 4.1, types.DirectionPay)
	seedReport(t, db, "I2", "USD", executed.Add(5*time.Second), 10, 10_000_000, 3.6, types.DirectionReceive)

	r := NewReconstructor(db, testConfig())
	structures, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("first Reconstruct failed: %v", err)
	}
	if len(structures) != 1 {
		t.Fatalf("structures = %d, want 1", len(structures))
	}
	for i := range structures {
		if err := r.Database().CreateStructure(&structures[i]); err != nil {
			t.Fatalf("CreateStructure failed: %v", err)
		}
	}

	again, err := r.Reconstruct("USD", analysisDay)
	if err != nil {
		t.Fatalf("second Reconstruct failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("re-run produced %d structures, want 0", len(again))
	}
}
