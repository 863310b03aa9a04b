package models

import (
	"strings"
	"time"
)

// DateLayout is the canonical calendar-date layout used for partition keys
// and PriceRecord.Date.
const DateLayout = "2006-01-02"

// Source identifies the upstream tier a record came from.
type Source string

const (
	SourceOfficialAPI Source = "official-api"
	SourceStateAPI    Source = "state-api"
	SourceScraper     Source = "scraper"
	SourceMock        Source = "mock"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceOfficialAPI, SourceStateAPI, SourceScraper, SourceMock:
		return true
	}
	return false
}

// FetchStatus describes how complete a partition's upstream fetch was. A
// failed fetch writes no partition, so there is no failed status.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchPartial FetchStatus = "partial"
)

// RefreshStatus is the refresh state persisted in the meta index.
type RefreshStatus string

const (
	RefreshIdle    RefreshStatus = "idle"
	RefreshRunning RefreshStatus = "running"
	RefreshError   RefreshStatus = "error"
)

// RawRecord is one upstream row before normalization. Field names and value
// types vary by provider.
type RawRecord struct {
	Source Source         `json:"source"`
	Fields map[string]any `json:"fields"`
}

// ParseDate parses a canonical YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
