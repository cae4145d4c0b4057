package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ksred/sdrflow/internal/commentary"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/database"
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

func seedCommentary(t *testing.T, db *gorm.DB) {
	t.Helper()
	stored := &types.Commentary{
		CommentaryID:   "CMT_test",
		Currency:       "USD",
		AnalysisDate:   analysisDay,
		CommentaryText: "^^USD SDR deals today^^",
		TradeCount:     3,
		TotalDV01:      135_000,
		GeneratedAt:    time.Now().UTC(),
	}
	if err := commentary.NewDatabase(db).UpsertCommentary(stored); err != nil {
		t.Fatalf("UpsertCommentary failed: %v", err)
	}
}

func testConfig(enrichmentURL string) *config.Config {
	return &config.Config{
		Enrichment: config.Enrichment{
			URL:     enrichmentURL,
			Timeout: 2 * time.Second,
		},
	}
}

func TestAnswer_NoStoredAnalysis(t *testing.T) {
	s := NewService(newTestDB(t), testConfig(""))

	answer, err := s.Answer(context.Background(), "what traded?", "usd", analysisDay)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if !strings.Contains(answer.CommentaryText, "No analysis has been run yet") {
		t.Errorf("text = %q, want fallback message", answer.CommentaryText)
	}
	if answer.Currency != "USD" {
		t.Errorf("Currency = %q, want normalized USD", answer.Currency)
	}
	if answer.Enriched {
		t.Error("answer should not be enriched")
	}
}

func TestAnswer_DeterministicFromStore(t *testing.T) {
	db := newTestDB(t)
	seedCommentary(t, db)
	s := NewService(db, testConfig(""))

	answer, err := s.Answer(context.Background(), "what traded?", "USD", analysisDay)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer.TradeCount != 3 {
		t.Errorf("TradeCount = %d, want 3", answer.TradeCount)
	}
	if answer.TotalDV01 != 135_000 {
		t.Errorf("TotalDV01 = %v, want 135000", answer.TotalDV01)
	}
	if answer.Enriched {
		t.Error("enrichment disabled, answer should not be enriched")
	}
}

func TestAnswer_EnrichedWhenServiceResponds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req enrichmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode enrichment request: %v", err)
		}
		if req.Currency != "USD" {
			t.Errorf("enrichment currency = %q", req.Currency)
		}
		json.NewEncoder(w).Encode(enrichmentReply{Text: "A quiet session in USD."})
	}))
	defer srv.Close()

	db := newTestDB(t)
	seedCommentary(t, db)
	s := NewService(db, testConfig(srv.URL))

	answer, err := s.Answer(context.Background(), "summarize", "USD", analysisDay)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if !answer.Enriched {
		t.Fatal("answer not enriched")
	}
	if answer.EnrichedText != "A quiet session in USD." {
		t.Errorf("EnrichedText = %q", answer.EnrichedText)
	}
	// The deterministic fields survive alongside the enrichment.
	if answer.TradeCount != 3 {
		t.Errorf("TradeCount = %d, want 3", answer.TradeCount)
	}
}

func TestAnswer_EnrichmentFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	db := newTestDB(t)
	seedCommentary(t, db)
	s := NewService(db, testConfig(srv.URL))

	answer, err := s.Answer(context.Background(), "summarize", "USD", analysisDay)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer.Enriched {
		t.Error("failed enrichment should not mark the answer enriched")
	}
	if answer.CommentaryText == "" {
		t.Error("deterministic text missing after enrichment failure")
	}
}
