package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/sdrflow/internal/commentary"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/types"
	"github.com/ksred/sdrflow/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service answers free-text questions with deterministic structured data
// from the store. An optional text-generation service can enrich the answer;
// it is best effort, timeout bounded, and never blocks the deterministic
// path.
type Service struct {
	cfg          *config.Config
	commentaries *commentary.Database
	httpClient   *http.Client
}

// NewService creates an insight service.
func NewService(gormDB *gorm.DB, cfg *config.Config) *Service {
	return &Service{
		cfg:          cfg,
		commentaries: commentary.NewDatabase(gormDB),
		httpClient: &http.Client{
			Timeout: cfg.Enrichment.Timeout,
		},
	}
}

// Answer resolves a question against the commentary for the given scope.
// The deterministic fields are always populated; EnrichedText only when the
// enrichment service is configured and responds in time.
func (s *Service) Answer(ctx context.Context, question, currency string, analysisDate time.Time) (*types.InsightResponse, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	stored, err := s.commentaries.GetCommentary(currency, analysisDate)
	if err != nil {
		return nil, err
	}

	answer := &types.InsightResponse{
		Question:     question,
		Currency:     currency,
		AnalysisDate: time.Date(analysisDate.Year(), analysisDate.Month(), analysisDate.Day(), 0, 0, 0, 0, time.UTC),
	}

	if stored == nil {
		answer.CommentaryText = fmt.Sprintf("No analysis has been run yet for %s on %s",
			currency, answer.AnalysisDate.Format("2006-01-02"))
		return answer, nil
	}

	answer.TradeCount = stored.TradeCount
	answer.TotalDV01 = stored.TotalDV01
	answer.CommentaryText = stored.CommentaryText

	if enriched := s.enrich(ctx, question, stored); enriched != "" {
		answer.Enriched = true
		answer.EnrichedText = enriched
	}

	return answer, nil
}

type enrichmentRequest struct {
	Question   string `json:"question"`
	Commentary string `json:"commentary"`
	Currency   string `json:"currency"`
	Date       string `json:"date"`
}

type enrichmentReply struct {
	Text string `json:"text"`
}

// enrich calls the configured text-generation service. Any failure returns
// an empty string; the caller falls back to the deterministic answer.
func (s *Service) enrich(ctx context.Context, question string, stored *types.Commentary) string {
	if s.cfg.Enrichment.URL == "" {
		return ""
	}

	logger := log.With().Str("component", "insight_enricher").Logger()

	payload, err := json.Marshal(enrichmentRequest{
		Question:   question,
		Commentary: stored.CommentaryText,
		Currency:   stored.Currency,
		Date:       stored.AnalysisDate.Format("2006-01-02"),
	})
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Enrichment.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Enrichment.URL, bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("enrichment unavailable, using deterministic answer")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("enrichment rejected request")
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	var reply enrichmentReply
	if err := json.Unmarshal(body, &reply); err != nil {
		logger.Warn().Err(err).Msg("enrichment reply malformed")
		return ""
	}
	return reply.Text
}

// GinHandlers contains HTTP handlers for the insight endpoint.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates handlers for the insight endpoint.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Date     string `json:"date"`
}

// AskHandler handles POST requests carrying a free-text question with a
// resolved currency and date scope.
func (h *GinHandlers) AskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		analysisDate := time.Now().UTC()
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				response.BadRequest(c, "date must be YYYY-MM-DD")
				return
			}
			analysisDate = parsed
		}

		answer, err := h.service.Answer(c.Request.Context(), req.Question, req.Currency, analysisDate)
		response.Handle(c, answer, err)
	}
}
