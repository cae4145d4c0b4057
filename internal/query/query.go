package query

import (
	"time"

	"github.com/ksred/sdrflow/internal/commentary"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/ingest"
	"github.com/ksred/sdrflow/internal/orchestrator"
	"github.com/ksred/sdrflow/internal/structure"
	"github.com/ksred/sdrflow/internal/types"
	"gorm.io/gorm"
)

// Service exposes the read surface over commentary, structured trades and
// processing logs, plus the two write triggers. Response shaping beyond the
// standard envelope is the caller's concern.
type Service struct {
	cfg          *config.Config
	orch         *orchestrator.Orchestrator
	commentaries *commentary.Database
	structures   *structure.Database
	reports      *ingest.Database
}

// NewService creates the query service.
func NewService(gormDB *gorm.DB, cfg *config.Config, orch *orchestrator.Orchestrator) *Service {
	return &Service{
		cfg:          cfg,
		orch:         orch,
		commentaries: commentary.NewDatabase(gormDB),
		structures:   structure.NewDatabase(gormDB),
		reports:      ingest.NewDatabase(gormDB),
	}
}

// GetCommentaries returns commentary filtered by currency and date range.
func (s *Service) GetCommentaries(currency string, from, to time.Time, limit int) ([]types.Commentary, error) {
	return s.commentaries.GetCommentaries(currency, from, to, limit)
}

// GetStructures returns structured trades filtered by currency and date
// range.
func (s *Service) GetStructures(currency string, from, to time.Time, limit int) ([]types.StructuredTrade, error) {
	return s.structures.GetStructures(currency, from, to, limit)
}

// GetLiveTrades returns the current live trade set for export.
func (s *Service) GetLiveTrades(from, to time.Time, limit int) ([]types.RawTradeReport, error) {
	return s.reports.GetLiveReports(from, to, limit)
}

// GetOrphans returns quarantined corrections for manual review.
func (s *Service) GetOrphans(limit int) ([]types.OrphanCorrection, error) {
	return s.reports.GetOrphans(limit)
}

// Status reports system health. The most recent processing log is the
// single source of truth for whether the system is healthy.
func (s *Service) Status(recentLimit int) (*types.StatusResponse, error) {
	last, err := s.orch.Logs().GetLatestLog()
	if err != nil {
		return nil, err
	}
	recent, err := s.orch.Logs().GetRecentLogs(recentLimit)
	if err != nil {
		return nil, err
	}

	return &types.StatusResponse{
		SchedulerRunning: s.orch.SchedulerRunning(),
		CycleInProgress:  s.orch.CycleInProgress(),
		LastRun:          last,
		RecentLogs:       recent,
	}, nil
}

// Currencies returns the currencies with stored commentary, falling back
// to the configured supported set before any data exists.
func (s *Service) Currencies() ([]string, error) {
	currencies, err := s.commentaries.DistinctCurrencies()
	if err != nil {
		return nil, err
	}
	if len(currencies) == 0 {
		return s.cfg.SupportedCurrencies, nil
	}
	return currencies, nil
}

// DateRange reports the span of analysis dates with stored commentary.
func (s *Service) DateRange() (*types.DateRangeResponse, error) {
	earliest, latest, err := s.commentaries.DateRange()
	if err != nil {
		return nil, err
	}
	if earliest.IsZero() {
		return &types.DateRangeResponse{}, nil
	}
	return &types.DateRangeResponse{
		Earliest: earliest,
		Latest:   latest,
		Days:     int(latest.Sub(earliest).Hours()/24) + 1,
	}, nil
}
