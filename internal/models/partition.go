package models

import "time"

// DailyStatePartition is the unit of refresh and storage: every record for
// one state on one date.
type DailyStatePartition struct {
	Date           string        `json:"date"`
	State          string        `json:"state"`
	TotalRecords   int           `json:"total_records"`
	Records        []PriceRecord `json:"records"`
	LastUpdatedISO string        `json:"last_updated_iso"`
	FetchStatus    FetchStatus   `json:"fetch_status"`
}

// NewPartition builds a partition stamped with updatedAt.
func NewPartition(date, state string, records []PriceRecord, status FetchStatus, updatedAt time.Time) *DailyStatePartition {
	if records == nil {
		records = []PriceRecord{}
	}
	return &DailyStatePartition{
		Date:           date,
		State:          state,
		TotalRecords:   len(records),
		Records:        records,
		LastUpdatedISO: updatedAt.UTC().Format(time.RFC3339),
		FetchStatus:    status,
	}
}
