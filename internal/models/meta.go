package models

import "time"

// MetaIndex is the process-wide rollup over the trailing window of partitions.
// It is always written as a whole document.
type MetaIndex struct {
	LastUpdated      time.Time     `json:"last_updated"`
	TotalRecords     int           `json:"total_records"`
	StatesCount      int           `json:"states_count"`
	CommoditiesCount int           `json:"commodities_count"`
	DistrictsCount   int           `json:"districts_count"`
	MarketsCount     int           `json:"markets_count"`
	AvailableDates   []string      `json:"available_dates"`
	RefreshStatus    RefreshStatus `json:"refresh_status"`
	RefreshError     string        `json:"refresh_error,omitempty"`
}

// MaxPopularCommodities caps PopularCommodities.Top.
const MaxPopularCommodities = 20

// PopularCommodity is one entry of a state's rolling aggregate.
type PopularCommodity struct {
	Commodity     string `json:"commodity"`
	Count         int    `json:"count"`
	AvgModalPrice int64  `json:"avg_modal_price"`
}

// PopularCommodities is the per-state 30-day rolling aggregate, sorted by
// count descending.
type PopularCommodities struct {
	State      string             `json:"state"`
	ComputedOn string             `json:"computed_on"`
	Top        []PopularCommodity `json:"top"`
}
