package query

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocarina/gocsv"
	"github.com/ksred/sdrflow/internal/auth"
	"github.com/ksred/sdrflow/internal/feed"
	"github.com/ksred/sdrflow/internal/orchestrator"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/ksred/sdrflow/pkg/response"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 100

// GinHandlers contains HTTP handlers for the query and trigger endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates handlers for the query surface.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// listParams parses the shared currency/date-range/limit query parameters.
func listParams(c *gin.Context) (currency string, from, to time.Time, limit int, err error) {
	currency = strings.ToUpper(strings.TrimSpace(c.Query("currency")))
	limit = defaultListLimit
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return "", time.Time{}, time.Time{}, 0, errors.New("limit must be a positive integer")
		}
	}
	if v := c.Query("from"); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			return "", time.Time{}, time.Time{}, 0, errors.New("from must be YYYY-MM-DD")
		}
	}
	if v := c.Query("to"); v != "" {
		to, err = time.Parse("2006-01-02", v)
		if err != nil {
			return "", time.Time{}, time.Time{}, 0, errors.New("to must be YYYY-MM-DD")
		}
	}
	return currency, from, to, limit, nil
}

// GetCommentaryHandler handles GET requests for commentary by currency and
// date range.
func (h *GinHandlers) GetCommentaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		currency, from, to, limit, err := listParams(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		commentaries, err := h.service.GetCommentaries(currency, from, to, limit)
		response.Handle(c, commentaries, err)
	}
}

// GetStructuresHandler handles GET requests for structured trades.
func (h *GinHandlers) GetStructuresHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		currency, from, to, limit, err := listParams(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		structures, err := h.service.GetStructures(currency, from, to, limit)
		response.Handle(c, structures, err)
	}
}

// GetLogsHandler handles GET requests for recent processing logs.
func (h *GinHandlers) GetLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if v := c.Query("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		logs, err := h.service.orch.Logs().GetRecentLogs(limit)
		response.Handle(c, logs, err)
	}
}

// GetOrphansHandler handles GET requests for quarantined corrections.
func (h *GinHandlers) GetOrphansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orphans, err := h.service.GetOrphans(defaultListLimit)
		response.Handle(c, orphans, err)
	}
}

// StatusHandler handles GET requests for system health.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.service.Status(10)
		response.Handle(c, status, err)
	}
}

// CurrenciesHandler handles GET requests for the known currency set.
func (h *GinHandlers) CurrenciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		currencies, err := h.service.Currencies()
		response.Handle(c, currencies, err)
	}
}

// DateRangeHandler handles GET requests for the available analysis dates.
func (h *GinHandlers) DateRangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dateRange, err := h.service.DateRange()
		response.Handle(c, dateRange, err)
	}
}

// tradeExportRow is the CSV shape for live trade history exports.
type tradeExportRow struct {
	DisseminationID string  `csv:"dissemination_id"`
	Currency        string  `csv:"currency"`
	ExecutionTime   string  `csv:"execution_time"`
	EffectiveDate   string  `csv:"effective_date"`
	MaturityDate    string  `csv:"maturity_date"`
	Notional        float64 `csv:"notional"`
	FixedRate       float64 `csv:"fixed_rate"`
	Direction       string  `csv:"direction"`
}

// ExportTradesHandler handles GET requests streaming the live trade set as
// CSV.
func (h *GinHandlers) ExportTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, from, to, limit, err := listParams(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		trades, err := h.service.GetLiveTrades(from, to, limit)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		rows := make([]*tradeExportRow, 0, len(trades))
		for i := range trades {
			rows = append(rows, &tradeExportRow{
				DisseminationID: trades[i].DisseminationID,
				Currency:        trades[i].Currency,
				ExecutionTime:   trades[i].ExecutionTime.UTC().Format(time.RFC3339),
				EffectiveDate:   trades[i].EffectiveDate.UTC().Format("2006-01-02"),
				MaturityDate:    trades[i].MaturityDate.UTC().Format("2006-01-02"),
				Notional:        trades[i].Notional,
				FixedRate:       trades[i].FixedRate,
				Direction:       trades[i].Direction,
			})
		}

		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="trade_history.csv"`)
		if err := gocsv.Marshal(rows, c.Writer); err != nil {
			log.Error().Err(err).Msg("failed to stream trade export")
		}
	}
}

// RunAnalysisHandler handles POST requests to run reconstruction and
// commentary for stored data immediately.
func (h *GinHandlers) RunAnalysisHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.trigger(c, types.ProcessTypeAnalyze)
	}
}

// ForceRefreshHandler handles POST requests to fetch and analyze
// immediately.
func (h *GinHandlers) ForceRefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.trigger(c, types.ProcessTypeBoth)
	}
}

func (h *GinHandlers) trigger(c *gin.Context, processType string) {
	claims, _ := c.Get("claims")
	log.Info().
		Str("component", "query_api").
		Str("client_id", auth.GetClientID(claims)).
		Str("process_type", processType).
		Msg("manual trigger received")

	var err error
	switch processType {
	case types.ProcessTypeAnalyze:
		err = h.service.orch.TriggerAnalysis(c.Request.Context())
	default:
		err = h.service.orch.TriggerRefresh(c.Request.Context())
	}

	if err != nil {
		var fetchErr *feed.FetchError
		switch {
		case errors.Is(err, orchestrator.ErrCycleInProgress):
			response.Conflict(c, err.Error())
		case errors.As(err, &fetchErr):
			response.BadGateway(c, err.Error())
		default:
			response.InternalError(c, err.Error())
		}
		return
	}

	response.Success(c, types.TriggerResponse{
		Triggered:   true,
		ProcessType: processType,
	})
}
