package query

import (
	"sort"
	"strings"

	"mandi-prices/internal/models"
)

// Sort keys accepted by Sort.
const (
	SortDate       = "date"
	SortModalPrice = "modal_price"
	SortMinPrice   = "min_price"
	SortMaxPrice   = "max_price"
	SortCommodity  = "commodity"
	SortMarket     = "market"
	SortDistrict   = "district"
	SortState      = "state"
)

func contains(value, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}

// Filter applies the conjunctive chain state, district, market, commodity,
// variety, then free text. q matches any of the identifying text fields.
func Filter(records []models.PriceRecord, p Params) []models.PriceRecord {
	steps := []func(models.PriceRecord) bool{
		func(r models.PriceRecord) bool { return contains(r.State, p.State) },
		func(r models.PriceRecord) bool { return contains(r.District, p.District) },
		func(r models.PriceRecord) bool { return contains(r.Market, p.Market) },
		func(r models.PriceRecord) bool { return contains(r.Commodity, p.Commodity) },
		func(r models.PriceRecord) bool { return contains(r.Variety, p.Variety) },
		func(r models.PriceRecord) bool {
			return contains(r.Commodity, p.Q) || contains(r.Variety, p.Q) ||
				contains(r.Market, p.Q) || contains(r.District, p.Q) || contains(r.State, p.Q)
		},
	}
	out := make([]models.PriceRecord, 0, len(records))
next:
	for _, r := range records {
		for _, keep := range steps {
			if !keep(r) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out
}

// Sort orders records in place. An empty key means date descending; an
// unknown key falls back to date. Missing prices sort last either way.
func Sort(records []models.PriceRecord, by, dir string) {
	if by == "" {
		by = SortDate
		if dir == "" {
			dir = "desc"
		}
	}
	desc := dir == "desc"

	var compare func(a, b models.PriceRecord) int
	switch by {
	case SortModalPrice:
		compare = priceCompare(func(r models.PriceRecord) *int64 { return r.ModalPrice })
	case SortMinPrice:
		compare = priceCompare(func(r models.PriceRecord) *int64 { return r.MinPrice })
	case SortMaxPrice:
		compare = priceCompare(func(r models.PriceRecord) *int64 { return r.MaxPrice })
	case SortCommodity:
		compare = textCompare(func(r models.PriceRecord) string { return r.Commodity })
	case SortMarket:
		compare = textCompare(func(r models.PriceRecord) string { return r.Market })
	case SortDistrict:
		compare = textCompare(func(r models.PriceRecord) string { return r.District })
	case SortState:
		compare = textCompare(func(r models.PriceRecord) string { return r.State })
	default:
		compare = textCompare(func(r models.PriceRecord) string { return r.Date })
	}

	sort.SliceStable(records, func(i, j int) bool {
		c := compare(records[i], records[j])
		if c == compareMissing || c == -compareMissing {
			// missing values go last regardless of direction
			return c == -compareMissing
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareMissing is returned when exactly one side lacks a value; the sign
// says which (negative means a has the value).
const compareMissing = 2

func priceCompare(get func(models.PriceRecord) *int64) func(a, b models.PriceRecord) int {
	return func(a, b models.PriceRecord) int {
		pa, pb := get(a), get(b)
		switch {
		case pa == nil && pb == nil:
			return 0
		case pa == nil:
			return compareMissing
		case pb == nil:
			return -compareMissing
		case *pa < *pb:
			return -1
		case *pa > *pb:
			return 1
		}
		return 0
	}
}

func textCompare(get func(models.PriceRecord) string) func(a, b models.PriceRecord) int {
	return func(a, b models.PriceRecord) int {
		return strings.Compare(strings.ToLower(get(a)), strings.ToLower(get(b)))
	}
}
