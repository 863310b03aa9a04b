// Package query answers filtered, sorted and paginated price queries over
// the partitioned store, fronted by the TTL cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"
	"mandi-prices/internal/storage"

	"github.com/sirupsen/logrus"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Response sources reported in listing metadata.
const (
	SourceCache = "cache"
	SourceJSON  = "json"
)

// TTLs are the cache lifetimes per query kind.
type TTLs struct {
	Listing time.Duration
	Facets  time.Duration
	Trend   time.Duration
}

// Params selects and orders records. Date picks a single partition date
// (empty means the latest available); From/To select an inclusive date
// range instead. Text filters are case-insensitive substring matches.
type Params struct {
	Date      string
	From      string
	To        string
	State     string
	District  string
	Market    string
	Commodity string
	Variety   string
	Q         string
	SortBy    string
	SortDir   string
	Offset    int
	Limit     int
}

// Result is one page of matching records. Total counts every match, not
// just the page.
type Result struct {
	Items   []models.PriceRecord `json:"items"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"has_more"`
}

// Pagination echoes the effective window of a listing.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListingMetadata describes a Listing. TotalRecords counts every record in
// the selected dates before filtering.
type ListingMetadata struct {
	TotalRecords    int        `json:"total_records"`
	FilteredRecords int        `json:"filtered_records"`
	LastUpdated     string     `json:"last_updated"`
	Pagination      Pagination `json:"pagination"`
	Source          string     `json:"source"`
}

// Listing is the response shape of the prices endpoint.
type Listing struct {
	Data     []models.PriceRecord `json:"data"`
	Metadata ListingMetadata      `json:"metadata"`
}

// page is what gets cached for a listing.
type page struct {
	Result
	ScopeTotal  int    `json:"scope_total"`
	LastUpdated string `json:"last_updated"`
}

// Engine reads partitions through the cache. Queries never fail because of
// a missing or corrupt partition; those are skipped and logged.
type Engine struct {
	store storage.Store
	cache *cache.Cache
	ttl   TTLs
	log   logrus.FieldLogger
}

func NewEngine(store storage.Store, c *cache.Cache, ttl TTLs, log logrus.FieldLogger) *Engine {
	if ttl.Listing <= 0 {
		ttl.Listing = 5 * time.Minute
	}
	if ttl.Facets <= 0 {
		ttl.Facets = 10 * time.Minute
	}
	if ttl.Trend <= 0 {
		ttl.Trend = 30 * time.Minute
	}
	return &Engine{store: store, cache: c, ttl: ttl, log: log}
}

// Query returns one page of records matching p. The only error is a
// canceled context.
func (e *Engine) Query(ctx context.Context, p Params) (Result, error) {
	pg, _, err := e.listing(ctx, p)
	if err != nil {
		return Result{Items: []models.PriceRecord{}}, err
	}
	return pg.Result, nil
}

// Prices is Query wrapped with listing metadata, including whether the page
// was served from cache.
func (e *Engine) Prices(ctx context.Context, p Params) (Listing, error) {
	p = p.normalized()
	pg, hit, err := e.listing(ctx, p)
	if err != nil {
		return Listing{Data: []models.PriceRecord{}}, err
	}
	src := SourceJSON
	if hit {
		src = SourceCache
	}
	return Listing{
		Data: pg.Items,
		Metadata: ListingMetadata{
			TotalRecords:    pg.ScopeTotal,
			FilteredRecords: pg.Total,
			LastUpdated:     pg.LastUpdated,
			Pagination:      Pagination{Limit: p.Limit, Offset: p.Offset, HasMore: pg.HasMore},
			Source:          src,
		},
	}, nil
}

func (e *Engine) listing(ctx context.Context, p Params) (*page, bool, error) {
	p = p.normalized()
	key := "listing:" + p.fingerprint()
	if v, ok := e.cache.Get(key); ok {
		if pg, ok := v.(*page); ok {
			metrics.RecordCacheLookup("listing", true)
			return pg, true, nil
		}
	}
	metrics.RecordCacheLookup("listing", false)

	dates, err := e.resolveDates(ctx, p.Date, p.From, p.To)
	if err != nil {
		return nil, false, err
	}
	records, lastUpdated, err := e.load(ctx, dates, p.State)
	if err != nil {
		return nil, false, err
	}
	scopeTotal := len(records)

	matched := Filter(records, p)
	Sort(matched, p.SortBy, p.SortDir)

	pg := &page{ScopeTotal: scopeTotal, LastUpdated: lastUpdated}
	pg.Total = len(matched)
	pg.Items = window(matched, p.Offset, p.Limit)
	pg.HasMore = p.Offset+len(pg.Items) < pg.Total

	e.cache.Set(key, pg, e.ttl.Listing)
	return pg, false, nil
}

// resolveDates returns the partition dates a query covers. A From/To range
// wins over Date; neither means the latest available date.
func (e *Engine) resolveDates(ctx context.Context, date, from, to string) ([]string, error) {
	if date != "" && from == "" && to == "" {
		return []string{date}, nil
	}
	available, err := e.store.ListAvailableDates(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.log.WithError(err).Warn("listing available dates failed")
		return nil, nil
	}
	if from == "" && to == "" {
		if len(available) == 0 {
			return nil, nil
		}
		return available[len(available)-1:], nil
	}
	var out []string
	for _, d := range available {
		if (from == "" || d >= from) && (to == "" || d <= to) {
			out = append(out, d)
		}
	}
	return out, nil
}

// load reads every partition for dates whose state could match stateFilter.
// It returns the records and the newest partition timestamp.
func (e *Engine) load(ctx context.Context, dates []string, stateFilter string) ([]models.PriceRecord, string, error) {
	var (
		records     []models.PriceRecord
		lastUpdated string
	)
	for _, date := range dates {
		states, err := e.store.ListAvailableStates(ctx, date)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			e.log.WithError(err).WithField("date", date).Warn("listing states failed")
			continue
		}
		for _, state := range states {
			if !contains(state, stateFilter) {
				continue
			}
			part, err := e.store.ReadPartition(ctx, date, state)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, "", ctxErr
				}
				if !errors.Is(err, models.ErrNotFound) {
					e.log.WithError(err).
						WithField("date", date).
						WithField("state", state).
						Warn("skipping unreadable partition")
				}
				continue
			}
			records = append(records, part.Records...)
			if part.LastUpdatedISO > lastUpdated {
				lastUpdated = part.LastUpdatedISO
			}
		}
	}
	return records, lastUpdated, nil
}

func (p Params) normalized() Params {
	p.Date = strings.TrimSpace(p.Date)
	p.From = strings.TrimSpace(p.From)
	p.To = strings.TrimSpace(p.To)
	p.SortBy = strings.ToLower(strings.TrimSpace(p.SortBy))
	p.SortDir = strings.ToLower(strings.TrimSpace(p.SortDir))
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Params) fingerprint() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%d",
		p.Date, p.From, p.To, p.State, p.District, p.Market, p.Commodity, p.Variety, p.Q,
		p.SortBy, p.SortDir, p.Offset, p.Limit))
}

func window(records []models.PriceRecord, offset, limit int) []models.PriceRecord {
	if offset >= len(records) {
		return []models.PriceRecord{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	out := make([]models.PriceRecord, end-offset)
	copy(out, records[offset:end])
	return out
}
