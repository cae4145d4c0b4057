package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError marks a missing or invalid startup setting. It is fatal
// at startup only and is never raised mid-cycle.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Defaults for optional settings.
const (
	DefaultFeedURL            = "https://pddata.dtcc.com/ppd/api/ticker/CFTC/RATES"
	DefaultDatabasePath       = "sdrflow.db"
	DefaultPort               = "8080"
	DefaultCycleInterval      = 60 * time.Second
	DefaultLookbackWindow     = 24 * time.Hour
	DefaultGroupingWindow     = time.Minute
	DefaultToleranceFraction  = 0.05
	DefaultFeedTimeout        = 30 * time.Second
	DefaultEnrichmentTimeout  = 10 * time.Second
	DefaultProcessingLogLimit = 50
)

var defaultCurrencies = []string{"USD", "EUR", "GBP", "JPY", "AUD", "SGD", "INR", "KRW", "HKD", "THB", "TWD"}

// Enrichment configures the optional text-generation service used to enrich
// insight answers. Best effort: an empty URL disables it entirely.
type Enrichment struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds all startup configuration for the service.
type Config struct {
	FeedURL             string        `yaml:"feed_url"`
	FeedTimeout         time.Duration `yaml:"feed_timeout"`
	DatabasePath        string        `yaml:"database_path"`
	Port                string        `yaml:"port"`
	JWTSecret           string        `yaml:"jwt_secret"`
	CycleInterval       time.Duration `yaml:"cycle_interval"`
	LookbackWindow      time.Duration `yaml:"lookback_window"`
	GroupingWindow      time.Duration `yaml:"grouping_window"`
	ToleranceFraction   float64       `yaml:"dv01_tolerance_fraction"`
	SupportedCurrencies []string      `yaml:"supported_currencies"`
	Enrichment          Enrichment    `yaml:"enrichment"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// SDRFLOW_CONFIG, and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := &Config{
		FeedURL:             DefaultFeedURL,
		FeedTimeout:         DefaultFeedTimeout,
		DatabasePath:        DefaultDatabasePath,
		Port:                DefaultPort,
		CycleInterval:       DefaultCycleInterval,
		LookbackWindow:      DefaultLookbackWindow,
		GroupingWindow:      DefaultGroupingWindow,
		ToleranceFraction:   DefaultToleranceFraction,
		SupportedCurrencies: append([]string(nil), defaultCurrencies...),
		Enrichment: Enrichment{
			Timeout: DefaultEnrichmentTimeout,
		},
	}

	if path := os.Getenv("SDRFLOW_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigurationError{Field: "SDRFLOW_CONFIG", Reason: err.Error()}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Field: "SDRFLOW_CONFIG", Reason: err.Error()}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CycleInterval = d
		}
	}
	if v := os.Getenv("LOOKBACK_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LookbackWindow = d
		}
	}
	if v := os.Getenv("GROUPING_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GroupingWindow = d
		}
	}
	if v := os.Getenv("DV01_TOLERANCE_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ToleranceFraction = f
		}
	}
	if v := os.Getenv("SUPPORTED_CURRENCIES"); v != "" {
		parts := strings.Split(v, ",")
		currencies := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				currencies = append(currencies, p)
			}
		}
		cfg.SupportedCurrencies = currencies
	}
	if v := os.Getenv("ENRICHMENT_URL"); v != "" {
		cfg.Enrichment.URL = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.FeedURL == "" {
		return &ConfigurationError{Field: "feed_url", Reason: "is required"}
	}
	if c.DatabasePath == "" {
		return &ConfigurationError{Field: "database_path", Reason: "is required"}
	}
	if c.CycleInterval <= 0 {
		return &ConfigurationError{Field: "cycle_interval", Reason: "must be positive"}
	}
	if c.LookbackWindow <= 0 {
		return &ConfigurationError{Field: "lookback_window", Reason: "must be positive"}
	}
	if c.GroupingWindow <= 0 {
		return &ConfigurationError{Field: "grouping_window", Reason: "must be positive"}
	}
	if c.ToleranceFraction <= 0 || c.ToleranceFraction >= 1 {
		return &ConfigurationError{
			Field:  "dv01_tolerance_fraction",
			Reason: fmt.Sprintf("must be in (0, 1), got %v", c.ToleranceFraction),
		}
	}
	if len(c.SupportedCurrencies) == 0 {
		return &ConfigurationError{Field: "supported_currencies", Reason: "at least one currency is required"}
	}
	return nil
}

// SupportsCurrency reports whether ccy is in the configured supported set.
func (c *Config) SupportsCurrency(ccy string) bool {
	for _, s := range c.SupportedCurrencies {
		if strings.EqualFold(s, ccy) {
			return true
		}
	}
	return false
}
