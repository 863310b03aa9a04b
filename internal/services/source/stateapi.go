package source

import (
	"context"
	"fmt"
	"strconv"

	"mandi-prices/internal/models"
)

// StateAPIProvider reads regional JSON endpoints, one URL per state. Each
// endpoint answers `{records: [...]}` for offset/limit/date parameters.
type StateAPIProvider struct {
	client *Client
	urls   map[string]string
}

func NewStateAPIProvider(client *Client, urls map[string]string) *StateAPIProvider {
	if urls == nil {
		urls = map[string]string{}
	}
	return &StateAPIProvider{client: client, urls: urls}
}

func (p *StateAPIProvider) Name() string          { return "state-api" }
func (p *StateAPIProvider) Source() models.Source { return models.SourceStateAPI }

func (p *StateAPIProvider) FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error) {
	state := page.Filters[FilterState]
	url, ok := p.urls[state]
	if !ok || url == "" {
		return nil, fmt.Errorf("%s %q: %w", p.Name(), state, ErrNoTarget)
	}

	query := map[string]string{
		"offset": strconv.Itoa(page.Offset),
		"limit":  strconv.Itoa(page.Limit),
	}
	if date := page.Filters[FilterDate]; date != "" {
		query["date"] = date
	}

	body, err := p.client.Do(ctx, Request{URL: url, Query: query})
	if err != nil {
		return nil, err
	}
	rows, err := parseRecords(body, models.SourceStateAPI)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", p.Name(), state, err)
	}
	return withDefaultState(rows, state), nil
}
