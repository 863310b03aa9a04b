// Package aggregate derives the meta index and per-state popular commodity
// rollups from stored partitions.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"mandi-prices/internal/models"

	"github.com/shopspring/decimal"
)

// WindowDates returns the dates from available that fall within the days
// ending at (and including) end. available must be YYYY-MM-DD strings; the
// result is ascending.
func WindowDates(available []string, end time.Time, days int) []string {
	if days < 1 {
		days = 1
	}
	last := models.FormatDate(end)
	first := models.FormatDate(end.AddDate(0, 0, -(days - 1)))
	out := make([]string, 0, len(available))
	for _, d := range available {
		if d >= first && d <= last {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// ComputeMeta rolls partitions up into a MetaIndex. dates is recorded as
// AvailableDates; counts are over distinct case-folded names.
func ComputeMeta(partitions []*models.DailyStatePartition, dates []string, now time.Time) *models.MetaIndex {
	states := map[string]struct{}{}
	commodities := map[string]struct{}{}
	districts := map[string]struct{}{}
	markets := map[string]struct{}{}
	total := 0

	for _, p := range partitions {
		if p == nil {
			continue
		}
		total += len(p.Records)
		for _, r := range p.Records {
			state := strings.ToLower(r.State)
			states[state] = struct{}{}
			commodities[strings.ToLower(r.Commodity)] = struct{}{}
			districts[state+"|"+strings.ToLower(r.District)] = struct{}{}
			markets[state+"|"+strings.ToLower(r.Market)] = struct{}{}
		}
	}

	available := append([]string{}, dates...)
	sort.Strings(available)
	return &models.MetaIndex{
		LastUpdated:      now.UTC(),
		TotalRecords:     total,
		StatesCount:      len(states),
		CommoditiesCount: len(commodities),
		DistrictsCount:   len(districts),
		MarketsCount:     len(markets),
		AvailableDates:   available,
		RefreshStatus:    models.RefreshIdle,
	}
}

type commodityTally struct {
	name       string
	count      int
	modalSum   decimal.Decimal
	modalCount int64
}

// ComputePopular ranks commodities in records by observation count,
// breaking ties by name, and keeps the top MaxPopularCommodities. The
// average modal price only counts records that report one.
func ComputePopular(state string, records []models.PriceRecord, computedOn time.Time) *models.PopularCommodities {
	tallies := map[string]*commodityTally{}
	for _, r := range records {
		if r.Commodity == "" {
			continue
		}
		key := strings.ToLower(r.Commodity)
		t, ok := tallies[key]
		if !ok {
			t = &commodityTally{name: r.Commodity}
			tallies[key] = t
		}
		t.count++
		if r.ModalPrice != nil {
			t.modalSum = t.modalSum.Add(decimal.NewFromInt(*r.ModalPrice))
			t.modalCount++
		}
	}

	ranked := make([]*commodityTally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return strings.ToLower(ranked[i].name) < strings.ToLower(ranked[j].name)
	})
	if len(ranked) > models.MaxPopularCommodities {
		ranked = ranked[:models.MaxPopularCommodities]
	}

	top := make([]models.PopularCommodity, 0, len(ranked))
	for _, t := range ranked {
		var avg int64
		if t.modalCount > 0 {
			avg = t.modalSum.Div(decimal.NewFromInt(t.modalCount)).Round(0).IntPart()
		}
		top = append(top, models.PopularCommodity{Commodity: t.name, Count: t.count, AvgModalPrice: avg})
	}
	return &models.PopularCommodities{
		State:      state,
		ComputedOn: models.FormatDate(computedOn),
		Top:        top,
	}
}
