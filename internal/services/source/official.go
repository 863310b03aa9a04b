package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mandi-prices/internal/models"
)

// OfficialProvider reads the paginated government open-data resource.
type OfficialProvider struct {
	client   *Client
	baseURL  string
	resource string
	apiKey   string
}

func NewOfficialProvider(client *Client, baseURL, resource, apiKey string) *OfficialProvider {
	return &OfficialProvider{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		resource: resource,
		apiKey:   apiKey,
	}
}

func (p *OfficialProvider) Name() string          { return "official-api" }
func (p *OfficialProvider) Source() models.Source { return models.SourceOfficialAPI }

func (p *OfficialProvider) FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error) {
	query := map[string]string{
		"api-key": p.apiKey,
		"format":  "json",
		"offset":  strconv.Itoa(page.Offset),
		"limit":   strconv.Itoa(page.Limit),
	}
	if state := page.Filters[FilterState]; state != "" {
		query["filters[state]"] = state
	}
	if date := page.Filters[FilterDate]; date != "" {
		// The resource indexes arrival dates as DD/MM/YYYY.
		if t, err := models.ParseDate(date); err == nil {
			query["filters[arrival_date]"] = t.Format("02/01/2006")
		}
	}

	body, err := p.client.Do(ctx, Request{
		URL:   fmt.Sprintf("%s/resource/%s", p.baseURL, p.resource),
		Query: query,
	})
	if err != nil {
		return nil, err
	}
	rows, err := parseRecords(body, models.SourceOfficialAPI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return rows, nil
}
