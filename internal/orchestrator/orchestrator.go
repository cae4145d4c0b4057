package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksred/sdrflow/internal/commentary"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/feed"
	"github.com/ksred/sdrflow/internal/ingest"
	"github.com/ksred/sdrflow/internal/risk"
	"github.com/ksred/sdrflow/internal/structure"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrCycleInProgress is returned when a manual trigger arrives while a cycle
// is already active. The trigger policy is reject, not queue: callers retry.
var ErrCycleInProgress = errors.New("processing cycle already in progress")

// State is the orchestrator's position in the cycle state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateAdmitting
	StateReconstructing
	StateValidating
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateAdmitting:
		return "admitting"
	case StateReconstructing:
		return "reconstructing"
	case StateValidating:
		return "validating"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Orchestrator drives the ingestion pipeline: fetch, admit, reconstruct,
// validate, generate. Exactly one cycle runs at a time process-wide; a
// scheduled tick arriving mid-cycle is dropped, a manual trigger is
// rejected with ErrCycleInProgress.
type Orchestrator struct {
	cfg           *config.Config
	feedClient    *feed.Client
	gate          *ingest.Gate
	reconstructor *structure.Reconstructor
	validator     *risk.Validator
	generator     *commentary.Generator
	structures    *structure.Database
	logs          *Database

	busy      atomic.Bool
	state     atomic.Int32
	scheduled atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the pipeline components into an orchestrator.
func New(gormDB *gorm.DB, cfg *config.Config, feedClient *feed.Client) *Orchestrator {
	reconstructor := structure.NewReconstructor(gormDB, cfg)
	return &Orchestrator{
		cfg:           cfg,
		feedClient:    feedClient,
		gate:          ingest.NewGate(gormDB, cfg),
		reconstructor: reconstructor,
		validator:     risk.NewValidator(cfg.ToleranceFraction),
		generator:     commentary.NewGenerator(gormDB),
		structures:    reconstructor.Database(),
		logs:          NewDatabase(gormDB),
	}
}

// Logs exposes the processing log store for the query surface.
func (o *Orchestrator) Logs() *Database {
	return o.logs
}

// State returns the current pipeline stage.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// CycleInProgress reports whether a cycle is currently active.
func (o *Orchestrator) CycleInProgress() bool {
	return o.busy.Load()
}

// SchedulerRunning reports whether the periodic driver is active.
func (o *Orchestrator) SchedulerRunning() bool {
	return o.scheduled.Load()
}

// Start begins the periodic driver. An immediate cycle runs on start, then
// one per configured interval.
func (o *Orchestrator) Start(ctx context.Context) {
	logger := log.With().Str("component", "orchestrator").Logger()

	ctx, o.cancel = context.WithCancel(ctx)
	o.scheduled.Store(true)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.scheduled.Store(false)

		logger.Info().Dur("interval", o.cfg.CycleInterval).Msg("starting scheduler")

		ticker := time.NewTicker(o.cfg.CycleInterval)
		defer ticker.Stop()

		o.runScheduled(ctx, logger)

		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down scheduler")
				return
			case <-ticker.C:
				o.runScheduled(ctx, logger)
			}
		}
	}()
}

// Stop halts the periodic driver and waits for any in-flight cycle. A cycle
// has no mid-flight cancellation: it runs to completion or failure.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// runScheduled is the periodic entry point. A tick arriving mid-cycle is
// dropped; the next tick runs once the current cycle finishes, which
// naturally self-throttles under slow upstream responses.
func (o *Orchestrator) runScheduled(ctx context.Context, logger zerolog.Logger) {
	if err := o.RunCycle(ctx, types.ProcessTypeBoth); err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			logger.Debug().Msg("previous cycle still running, dropping tick")
			return
		}
		logger.Error().Err(err).Msg("scheduled cycle failed")
	}
}

// TriggerAnalysis runs reconstruction, validation and commentary for stored
// data immediately, without fetching. Rejected when a cycle is active.
func (o *Orchestrator) TriggerAnalysis(ctx context.Context) error {
	return o.RunCycle(ctx, types.ProcessTypeAnalyze)
}

// TriggerRefresh fetches from the upstream feed and analyzes immediately.
// Rejected when a cycle is active.
func (o *Orchestrator) TriggerRefresh(ctx context.Context) error {
	return o.RunCycle(ctx, types.ProcessTypeBoth)
}

// RunCycle executes one full pipeline traversal. The busy flag is checked
// atomically before any work starts, so scheduled and manual triggers share
// one mutual-exclusion discipline.
func (o *Orchestrator) RunCycle(ctx context.Context, processType string) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer o.busy.Store(false)
	defer o.state.Store(int32(StateIdle))

	logger := log.With().
		Str("component", "orchestrator").
		Str("process_type", processType).
		Logger()

	start := time.Now()
	entry := &types.ProcessingLog{
		RunTimestamp: start.UTC(),
		ProcessType:  processType,
		Status:       types.StatusRunning,
	}
	if err := o.logs.CreateLog(entry); err != nil {
		return err
	}

	recordsProcessed, err := o.runStages(ctx, processType, logger)

	entry.RecordsProcessed = recordsProcessed
	entry.ExecutionTimeSeconds = time.Since(start).Seconds()
	if err != nil {
		entry.Status = types.StatusError
		entry.ErrorMessage = err.Error()
		logger.Error().Err(err).Msg("cycle failed")
	} else {
		entry.Status = types.StatusSuccess
		logger.Info().
			Int("records_processed", recordsProcessed).
			Float64("elapsed_seconds", entry.ExecutionTimeSeconds).
			Msg("cycle complete")
	}
	if logErr := o.logs.UpdateLog(entry); logErr != nil {
		logger.Error().Err(logErr).Msg("failed to finalize processing log")
	}

	return err
}

// runStages walks the pipeline stages in order. On error the remaining
// stages are skipped; the caller records the failure and the orchestrator
// returns to idle, so a failed cycle never halts subsequent cycles.
func (o *Orchestrator) runStages(ctx context.Context, processType string, logger zerolog.Logger) (int, error) {
	recordsProcessed := 0
	analysisDate := time.Now().UTC()

	if processType != types.ProcessTypeAnalyze {
		o.state.Store(int32(StateFetching))
		windowEnd := time.Now().UTC()
		windowStart := windowEnd.Add(-o.cfg.LookbackWindow)

		reports, err := o.feedClient.Fetch(ctx, windowStart, windowEnd)
		if err != nil {
			return 0, err
		}

		o.state.Store(int32(StateAdmitting))
		batch := o.gate.AdmitBatch(reports)
		recordsProcessed += batch.Processed()
	}

	if processType == types.ProcessTypeFetch {
		return recordsProcessed, nil
	}

	// All admissions complete before reconstruction begins for any
	// currency; currencies share no mutable state and are processed
	// independently. Every supported currency gets a commentary row for
	// the day, quiet ones included, so a caller can tell "checked,
	// nothing happened" from "never checked".
	for _, currency := range o.cfg.SupportedCurrencies {
		currency = strings.ToUpper(currency)

		o.state.Store(int32(StateReconstructing))
		candidates, err := o.reconstructor.Reconstruct(currency, analysisDate)
		if err != nil {
			return recordsProcessed, err
		}

		o.state.Store(int32(StateValidating))
		for i := range candidates {
			result, err := o.validator.Validate(&candidates[i])
			if err != nil {
				if errors.Is(err, risk.ErrDegenerateStructure) {
					logger.Warn().
						Str("structure_id", candidates[i].StructureID).
						Msg("excluding degenerate structure")
					continue
				}
				return recordsProcessed, err
			}
			if err := result.Apply(&candidates[i]); err != nil {
				return recordsProcessed, err
			}
			if err := o.structures.CreateStructure(&candidates[i]); err != nil {
				return recordsProcessed, err
			}
			recordsProcessed++
		}

		o.state.Store(int32(StateGenerating))
		structures, err := o.structures.GetStructuresForDay(currency, analysisDate)
		if err != nil {
			return recordsProcessed, err
		}
		if _, err := o.generator.Generate(currency, analysisDate, structures); err != nil {
			return recordsProcessed, err
		}
	}

	return recordsProcessed, nil
}
