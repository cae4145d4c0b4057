package types

import "time"

// StatusResponse reports system health: the most recent processing log entry
// is the single source of truth for "is the system healthy".
type StatusResponse struct {
	SchedulerRunning bool            `json:"scheduler_running"`
	CycleInProgress  bool            `json:"cycle_in_progress"`
	LastRun          *ProcessingLog  `json:"last_run,omitempty"`
	RecentLogs       []ProcessingLog `json:"recent_logs,omitempty"`
}

// TriggerResponse is returned by the run-now and force-refresh endpoints.
type TriggerResponse struct {
	Triggered   bool   `json:"triggered"`
	ProcessType string `json:"process_type"`
	Message     string `json:"message,omitempty"`
}

// DateRangeResponse reports the span of analysis dates with stored data.
type DateRangeResponse struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	Days     int       `json:"days"`
}

// InsightResponse is the deterministic structured answer for a free-text
// question scoped to a currency and date. CommentaryText is the fallback
// prose when no enrichment service is configured.
type InsightResponse struct {
	Question       string    `json:"question"`
	Currency       string    `json:"currency"`
	AnalysisDate   time.Time `json:"analysis_date"`
	TradeCount     int       `json:"trade_count"`
	TotalDV01      float64   `json:"total_dv01"`
	CommentaryText string    `json:"commentary_text"`
	Enriched       bool      `json:"enriched"`
	EnrichedText   string    `json:"enriched_text,omitempty"`
}
