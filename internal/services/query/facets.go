package query

import (
	"context"
	"sort"
	"strings"

	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"
)

// FacetContext is the current filter selection. Each facet is computed from
// records already narrowed by the selections above it.
type FacetContext struct {
	Date      string
	State     string
	District  string
	Commodity string
}

// Facets are the distinct values available for each filter.
type Facets struct {
	States      []string `json:"states"`
	Districts   []string `json:"districts"`
	Markets     []string `json:"markets"`
	Commodities []string `json:"commodities"`
	Varieties   []string `json:"varieties"`
}

// DeriveFacets computes progressive facets: states over the whole date,
// districts within the selected state, markets and commodities within the
// selected state and district, varieties within the selected commodity.
func (e *Engine) DeriveFacets(ctx context.Context, fc FacetContext) (Facets, error) {
	key := strings.ToLower("facets:" + fc.Date + "|" + fc.State + "|" + fc.District + "|" + fc.Commodity)
	if v, ok := e.cache.Get(key); ok {
		if f, ok := v.(Facets); ok {
			metrics.RecordCacheLookup("facets", true)
			return f, nil
		}
	}
	metrics.RecordCacheLookup("facets", false)

	dates, err := e.resolveDates(ctx, fc.Date, "", "")
	if err != nil {
		return emptyFacets(), err
	}
	records, _, err := e.load(ctx, dates, "")
	if err != nil {
		return emptyFacets(), err
	}

	f := emptyFacets()
	f.States = distinct(records, func(r models.PriceRecord) string { return r.State })

	byState := Filter(records, Params{State: fc.State})
	f.Districts = distinct(byState, func(r models.PriceRecord) string { return r.District })

	byDistrict := Filter(byState, Params{District: fc.District})
	f.Markets = distinct(byDistrict, func(r models.PriceRecord) string { return r.Market })
	f.Commodities = distinct(byDistrict, func(r models.PriceRecord) string { return r.Commodity })

	byCommodity := Filter(byDistrict, Params{Commodity: fc.Commodity})
	f.Varieties = distinct(byCommodity, func(r models.PriceRecord) string { return r.Variety })

	e.cache.Set(key, f, e.ttl.Facets)
	return f, nil
}

func emptyFacets() Facets {
	return Facets{
		States:      []string{},
		Districts:   []string{},
		Markets:     []string{},
		Commodities: []string{},
		Varieties:   []string{},
	}
}

// distinct returns the sorted unique non-empty values, keeping the first
// spelling seen for each case-folded value.
func distinct(records []models.PriceRecord, get func(models.PriceRecord) string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range records {
		v := get(r)
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
