package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultStates is the refresh target list used when STATES is unset.
var DefaultStates = []string{
	"Andhra Pradesh", "Bihar", "Gujarat", "Haryana", "Karnataka", "Kerala",
	"Madhya Pradesh", "Maharashtra", "Odisha", "Punjab", "Rajasthan",
	"Tamil Nadu", "Telangana", "Uttar Pradesh", "West Bengal",
}

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	// Storage: "file" (JSON partitions under DataDir) or "mysql".
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// Official open-data API
	OfficialAPIBase     string `env:"OFFICIAL_API_BASE" envDefault:"https://api.data.gov.in"`
	OfficialAPIResource string `env:"OFFICIAL_API_RESOURCE" envDefault:"9ef84268-d588-465a-a308-a864a43d0070"`
	OfficialAPIKey      string `env:"OFFICIAL_API_KEY"`

	// Regional APIs keyed by state name: "Kerala=https://...,Punjab=https://..."
	StateAPIURLs map[string]string `env:"STATE_API_URLS" envSeparator:"," envKeyValSeparator:"="`

	ScrapeTargetsFile string `env:"SCRAPE_TARGETS_FILE"`
	MockFallback      bool   `env:"MOCK_FALLBACK" envDefault:"true"`

	// Source client behaviour
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	BackoffCap        time.Duration `env:"BACKOFF_CAP" envDefault:"30s"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"1"`

	// Fallback chain and pagination
	FallbackThreshold int `env:"FALLBACK_THRESHOLD" envDefault:"50"`
	PageLimit         int `env:"PAGE_LIMIT" envDefault:"100"`
	MaxRecords        int `env:"MAX_RECORDS" envDefault:"5000"`

	// Cache TTLs per query type
	CacheListingTTL time.Duration `env:"CACHE_LISTING_TTL" envDefault:"5m"`
	CacheFacetTTL   time.Duration `env:"CACHE_FACET_TTL" envDefault:"10m"`
	CacheTrendTTL   time.Duration `env:"CACHE_TREND_TTL" envDefault:"30m"`

	States         []string `env:"STATES" envSeparator:","`
	MetaWindowDays int      `env:"META_WINDOW_DAYS" envDefault:"30"`
	RefreshCron    string   `env:"REFRESH_CRON" envDefault:"0 3 * * 1"`
}

// Load decodes the process environment into a Config. Call godotenv.Load
// first if a .env file should be honoured.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if len(cfg.States) == 0 {
		cfg.States = append([]string(nil), DefaultStates...)
	}
	if cfg.StorageBackend == "mysql" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the mysql storage backend")
	}
	if cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("PAGE_LIMIT must be positive, got %d", cfg.PageLimit)
	}
	return cfg, nil
}

// ScrapeTarget describes one HTML page listing mandi prices for a state.
// Fields maps a record field name to a CSS selector evaluated inside a row.
type ScrapeTarget struct {
	State       string            `yaml:"state"`
	URL         string            `yaml:"url"`
	RowSelector string            `yaml:"row_selector"`
	Fields      map[string]string `yaml:"fields"`
	// PageParam, when set, is the query parameter carrying a 1-based page
	// number. Targets without it are treated as a single page.
	PageParam string `yaml:"page_param,omitempty"`
	// PageSize is the number of data rows the site shows per page. Zero
	// means the site pages at the provider page limit.
	PageSize int `yaml:"page_size,omitempty"`
}

type scrapeFile struct {
	Targets []ScrapeTarget `yaml:"targets"`
}

// LoadScrapeTargets reads the YAML targets file and indexes it by state.
// An empty path yields no targets.
func LoadScrapeTargets(path string) (map[string]ScrapeTarget, error) {
	targets := map[string]ScrapeTarget{}
	if path == "" {
		return targets, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scrape targets: %w", err)
	}
	var f scrapeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scrape targets: %w", err)
	}
	for _, t := range f.Targets {
		if t.State == "" || t.URL == "" || t.RowSelector == "" {
			return nil, fmt.Errorf("scrape target %q: state, url and row_selector are required", t.State)
		}
		if t.PageSize < 0 {
			return nil, fmt.Errorf("scrape target %q: page_size must not be negative", t.State)
		}
		targets[t.State] = t
	}
	return targets, nil
}
