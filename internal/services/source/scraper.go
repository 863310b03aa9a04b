package source

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"mandi-prices/internal/config"
	"mandi-prices/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// ScraperProvider extracts rows from per-state HTML pages using the CSS
// selectors configured for each target.
type ScraperProvider struct {
	client  *Client
	targets map[string]config.ScrapeTarget
}

func NewScraperProvider(client *Client, targets map[string]config.ScrapeTarget) *ScraperProvider {
	if targets == nil {
		targets = map[string]config.ScrapeTarget{}
	}
	return &ScraperProvider{client: client, targets: targets}
}

func (p *ScraperProvider) Name() string          { return "scraper" }
func (p *ScraperProvider) Source() models.Source { return models.SourceScraper }

func (p *ScraperProvider) FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error) {
	state := page.Filters[FilterState]
	target, ok := p.targets[state]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", p.Name(), state, ErrNoTarget)
	}

	if target.PageParam == "" {
		// Single-page target: everything came with the first page.
		if page.Offset > 0 {
			return nil, nil
		}
		return p.fetch(ctx, target, nil)
	}

	// Site pages hold PageSize rows; one provider page may span several of
	// them. Without a PageSize the site is assumed to page at page.Limit.
	size := target.PageSize
	if size <= 0 {
		size = page.Limit
	}
	if size <= 0 {
		size = 1
	}
	limit := page.Limit
	if limit <= 0 {
		limit = size
	}

	sitePage := page.Offset/size + 1
	skip := page.Offset % size
	var out []models.RawRecord
	for len(out) < limit {
		rows, err := p.fetch(ctx, target, map[string]string{target.PageParam: strconv.Itoa(sitePage)})
		if err != nil {
			return nil, err
		}
		n := len(rows)
		if skip > 0 {
			if skip >= n {
				rows = nil
			} else {
				rows = rows[skip:]
			}
			skip = 0
		}
		out = append(out, rows...)
		if n < size {
			break
		}
		sitePage++
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *ScraperProvider) fetch(ctx context.Context, target config.ScrapeTarget, query map[string]string) ([]models.RawRecord, error) {
	body, err := p.client.Do(ctx, Request{URL: target.URL, Query: query})
	if err != nil {
		return nil, err
	}
	rows, err := extractRows(body, target)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", p.Name(), target.State, err)
	}
	return withDefaultState(rows, target.State), nil
}

func extractRows(body []byte, target config.ScrapeTarget) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows []models.RawRecord
	doc.Find(target.RowSelector).Each(func(_ int, row *goquery.Selection) {
		fields := make(map[string]any, len(target.Fields))
		filled := 0
		for name, selector := range target.Fields {
			text := strings.TrimSpace(row.Find(selector).First().Text())
			if text != "" {
				filled++
			}
			fields[name] = text
		}
		// Header and spacer rows carry no cell text for the selectors.
		if filled == 0 {
			return
		}
		rows = append(rows, models.RawRecord{Source: models.SourceScraper, Fields: fields})
	})
	return rows, nil
}
