// Package app wires configuration into the running components shared by the
// server, the scheduler daemon and the one-shot refresh command.
package app

import (
	"fmt"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/config"
	"mandi-prices/internal/database"
	"mandi-prices/internal/services/fallback"
	"mandi-prices/internal/services/normalize"
	"mandi-prices/internal/services/query"
	"mandi-prices/internal/services/refresh"
	"mandi-prices/internal/services/source"
	"mandi-prices/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Config  *config.Config
	Log     logrus.FieldLogger
	DB      *gorm.DB
	Store   storage.Store
	Cache   *cache.Cache
	Engine  *query.Engine
	Refresh *refresh.Orchestrator
	Tiers   []source.Provider
}

// New builds every component from cfg.
func New(cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.StorageBackend == "mysql" {
		db, err := database.Initialize(cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		a.DB = db
	}
	store, err := storage.Open(cfg, a.DB)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.Store = store

	tiers, err := Providers(cfg, log)
	if err != nil {
		return nil, err
	}
	a.Tiers = tiers

	var mock source.Provider
	if cfg.MockFallback {
		mock = source.NewMockProvider(0)
	}
	chain := fallback.New(fallback.Config{
		Threshold:  cfg.FallbackThreshold,
		PageLimit:  cfg.PageLimit,
		MaxRecords: cfg.MaxRecords,
	}, tiers, mock, log)

	a.Cache = cache.New(nil)
	a.Engine = query.NewEngine(store, a.Cache, query.TTLs{
		Listing: cfg.CacheListingTTL,
		Facets:  cfg.CacheFacetTTL,
		Trend:   cfg.CacheTrendTTL,
	}, log)
	a.Refresh = refresh.New(chain, normalize.New(nil, log), store, a.Cache, refresh.Options{
		States:         cfg.States,
		MetaWindowDays: cfg.MetaWindowDays,
	}, log)
	return a, nil
}

// Providers builds the real provider tiers in priority order: official API,
// state APIs, scraper. Tiers without configuration are left out.
func Providers(cfg *config.Config, log logrus.FieldLogger) ([]source.Provider, error) {
	client := func(name string) *source.Client {
		return source.NewClient(source.ClientConfig{
			Name:              name,
			Timeout:           cfg.RequestTimeout,
			Retries:           cfg.MaxRetries,
			BackoffBase:       cfg.BackoffBase,
			BackoffCap:        cfg.BackoffCap,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, log)
	}

	var tiers []source.Provider
	if cfg.OfficialAPIKey != "" {
		tiers = append(tiers, source.NewOfficialProvider(client("official-api"),
			cfg.OfficialAPIBase, cfg.OfficialAPIResource, cfg.OfficialAPIKey))
	} else {
		log.Warn("OFFICIAL_API_KEY not set, official API tier disabled")
	}
	if len(cfg.StateAPIURLs) > 0 {
		tiers = append(tiers, source.NewStateAPIProvider(client("state-api"), cfg.StateAPIURLs))
	}
	targets, err := config.LoadScrapeTargets(cfg.ScrapeTargetsFile)
	if err != nil {
		return nil, err
	}
	if len(targets) > 0 {
		tiers = append(tiers, source.NewScraperProvider(client("scraper"), targets))
	}
	return tiers, nil
}
