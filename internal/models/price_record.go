package models

import (
	"strings"
	"time"
)

// PriceRecord is one normalized commodity price observation at a market.
// Prices are whole rupees; nil means the upstream did not report the field.
type PriceRecord struct {
	State      string    `json:"state"`
	District   string    `json:"district"`
	Market     string    `json:"market"`
	Commodity  string    `json:"commodity"`
	Variety    string    `json:"variety,omitempty"`
	Unit       string    `json:"unit,omitempty"`
	MinPrice   *int64    `json:"min_price,omitempty"`
	MaxPrice   *int64    `json:"max_price,omitempty"`
	ModalPrice *int64    `json:"modal_price,omitempty"`
	Date       string    `json:"date"`
	Source     Source    `json:"source"`
	Grade      string    `json:"grade,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// Key identifies a record for deduplication across sources.
func (r PriceRecord) Key() string {
	return strings.ToLower(strings.Join([]string{
		r.Date, r.State, r.District, r.Market, r.Commodity, r.Variety, r.Grade,
	}, "|"))
}

// PriceOrderValid reports whether min <= modal <= max holds for the fields
// that are present.
func (r PriceRecord) PriceOrderValid() bool {
	if r.MinPrice != nil && r.MaxPrice != nil && *r.MinPrice > *r.MaxPrice {
		return false
	}
	if r.ModalPrice == nil {
		return true
	}
	if r.MinPrice != nil && *r.ModalPrice < *r.MinPrice {
		return false
	}
	if r.MaxPrice != nil && *r.ModalPrice > *r.MaxPrice {
		return false
	}
	return true
}

// Price returns a pointer to v, for building records in code and tests.
func Price(v int64) *int64 {
	return &v
}
