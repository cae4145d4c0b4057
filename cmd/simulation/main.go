package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/database"
	"github.com/ksred/sdrflow/internal/feed"
	"github.com/ksred/sdrflow/internal/orchestrator"
	"github.com/ksred/sdrflow/internal/structure"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	numCycles    = 10
	tradesPerDay = 40
)

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

// init configures the logger for the simulation with pretty printing.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// cycleStats tracks timing statistics across simulated cycles.
type cycleStats struct {
	durations []time.Duration
	failures  int
}

func (cs *cycleStats) add(d time.Duration) {
	cs.durations = append(cs.durations, d)
}

// calculate computes min, max, mean, median and p95 cycle durations.
func (cs *cycleStats) calculate() (min, max, mean, median, p95 time.Duration) {
	if len(cs.durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(cs.durations, func(i, j int) bool {
		return cs.durations[i] < cs.durations[j]
	})

	min = cs.durations[0]
	max = cs.durations[len(cs.durations)-1]

	var total time.Duration
	for _, d := range cs.durations {
		total += d
	}
	mean = total / time.Duration(len(cs.durations))
	median = cs.durations[len(cs.durations)/2]
	p95 = cs.durations[(len(cs.durations)*95)/100]
	return min, max, mean, median, p95
}

// syntheticFeed serves a tradeList payload of realistic multi-leg packages.
// The page is regenerated once and replayed every call, so duplicate
// delivery and gate idempotence are exercised on every cycle after the
// first. A correction batch is mixed in halfway through the run.
type syntheticFeed struct {
	trades      []map[string]string
	corrections []map[string]string
	serveCount  int
}

func newSyntheticFeed() *syntheticFeed {
	f := &syntheticFeed{}
	now := time.Now().UTC()
	id := 1000

	nextID := func() string {
		id++
		return fmt.Sprintf("SIM%d", id)
	}

	for i := 0; i < tradesPerDay; i++ {
		ccy := currencies[rand.Intn(len(currencies))]
		executed := now.Add(-time.Duration(rand.Intn(6)) * time.Hour)

		switch rand.Intn(4) {
		case 0: // outright
			f.trades = append(f.trades, f.trade(nextID(), ccy, executed, 10, 3.5, "PAY"))
		case 1: // spread: equal notional, opposite direction, two tenors
			f.trades = append(f.trades,
				f.trade(nextID(), ccy, executed, 2, 4.1, "PAY"),
				f.trade(nextID(), ccy, executed.Add(5*time.Second), 10, 3.6, "RECEIVE"),
			)
		case 2: // butterfly: wings pay, body receives double
			wing := f.trade(nextID(), ccy, executed, 2, 4.2, "PAY")
			body := f.trade(nextID(), ccy, executed.Add(3*time.Second), 5, 3.9, "RECEIVE")
			body["notionalAmountLeg1"] = "20,000,000"
			f.trades = append(f.trades, wing, body,
				f.trade(nextID(), ccy, executed.Add(7*time.Second), 10, 3.7, "PAY"))
		default: // unwind: same tenor, offsetting
			f.trades = append(f.trades,
				f.trade(nextID(), ccy, executed, 5, 3.9, "PAY"),
				f.trade(nextID(), ccy, executed.Add(10*time.Second), 5, 3.95, "RECEIVE"),
			)
		}
	}

	// Corrections re-reporting the first few trades under new ids.
	for i := 0; i < 3 && i < len(f.trades); i++ {
		original := f.trades[i]
		corrected := f.trade(nextID(), original["notionalCurrencyLeg1"], now, 10, 3.55, "PAY")
		corrected["actionType"] = "CORRECT"
		corrected["originalDisseminationIdentifier"] = original["disseminationIdentifier"]
		f.corrections = append(f.corrections, corrected)
	}

	return f
}

func (f *syntheticFeed) trade(id, ccy string, executed time.Time, tenorYears int, rate float64, direction string) map[string]string {
	effective := executed.Truncate(24 * time.Hour).Add(48 * time.Hour)
	return map[string]string{
		"disseminationIdentifier": id,
		"actionType":              "NEW",
		"eventTimestamp":          executed.Format(time.RFC3339),
		"effectiveDate":           effective.Format("2006-01-02"),
		"expirationDate":          effective.AddDate(tenorYears, 0, 0).Format("2006-01-02"),
		"notionalCurrencyLeg1":    ccy,
		"notionalAmountLeg1":      "10,000,000",
		"fixedRateLeg1":           fmt.Sprintf("%.3f", rate),
		"direction":               direction,
	}
}

func (f *syntheticFeed) handler(w http.ResponseWriter, r *http.Request) {
	f.serveCount++
	page := f.trades
	if f.serveCount > numCycles/2 {
		page = append(append([]map[string]string(nil), f.trades...), f.corrections...)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"tradeList": page})
}

func main() {
	log.Info().Msg("Starting pipeline simulation")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind synthetic feed")
	}
	feedSrv := &http.Server{Handler: http.HandlerFunc(newSyntheticFeed().handler)}
	go feedSrv.Serve(listener)
	defer feedSrv.Close()

	feedURL := "http://" + listener.Addr().String() + "/feed"

	dbPath := fmt.Sprintf("%s/sdrflow_sim.db", os.TempDir())
	os.Remove(dbPath)
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	cfg := &config.Config{
		FeedURL:             feedURL,
		FeedTimeout:         10 * time.Second,
		DatabasePath:        dbPath,
		CycleInterval:       time.Minute,
		LookbackWindow:      24 * time.Hour,
		GroupingWindow:      time.Minute,
		ToleranceFraction:   0.05,
		SupportedCurrencies: currencies,
	}

	orch := orchestrator.New(db, cfg, feed.NewClient(cfg.FeedURL))

	stats := &cycleStats{}
	ctx := context.Background()

	for i := 0; i < numCycles; i++ {
		start := time.Now()
		if err := orch.RunCycle(ctx, types.ProcessTypeBoth); err != nil {
			log.Error().Err(err).Int("cycle", i+1).Msg("cycle failed")
			stats.failures++
			continue
		}
		stats.add(time.Since(start))
	}

	printSummary(db, stats)
}

func printSummary(db *gorm.DB, stats *cycleStats) {
	min, max, mean, median, p95 := stats.calculate()
	log.Info().
		Int("cycles", len(stats.durations)).
		Int("failures", stats.failures).
		Dur("min", min).
		Dur("max", max).
		Dur("mean", mean).
		Dur("median", median).
		Dur("p95", p95).
		Msg("cycle timing")

	structures := structure.NewDatabase(db)
	byType := make(map[string]int)
	all, err := structures.GetStructures("", time.Time{}, time.Time{}, 0)
	if err != nil {
		log.Error().Err(err).Msg("failed to load structures")
		return
	}
	for i := range all {
		byType[all[i].StructureType]++
	}

	var commentaries int64
	db.Model(&types.Commentary{}).Count(&commentaries)

	log.Info().
		Int("structures", len(all)).
		Interface("by_type", byType).
		Int64("commentaries", commentaries).
		Msg("simulation summary")
}
