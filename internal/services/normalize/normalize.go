// Package normalize turns heterogeneous upstream rows into canonical
// PriceRecords, dropping rows that cannot be repaired.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// UnknownDistrict is used when the upstream row has no district.
const UnknownDistrict = "Unknown District"

// aliases maps a canonical field to the upstream keys that carry it, after
// key folding (lowercase, separators turned into "_").
var aliases = map[string][]string{
	"state":     {"state", "state_name"},
	"district":  {"district", "district_name"},
	"market":    {"market", "market_name", "mandi", "apmc"},
	"commodity": {"commodity", "commodity_name", "crop"},
	"variety":   {"variety"},
	"grade":     {"grade"},
	"unit":      {"unit", "price_unit", "unit_of_price"},
	"min":       {"min_price", "min", "minimum_price"},
	"max":       {"max_price", "max", "maximum_price"},
	"modal":     {"modal_price", "modal", "price"},
	"date":      {"arrival_date", "date", "price_date", "reported_date"},
}

// DD-first layouts are tried before MM/DD so 03/04/2024 reads as 3 April.
var dateLayouts = []string{
	"2006-01-02",
	"2-1-2006",
	"2/1/2006",
	"1/2/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var (
	currencyRe   = regexp.MustCompile(`(?i)(₹|inr|rs\.?)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalizer converts RawRecords. It is safe for concurrent use.
type Normalizer struct {
	now func() time.Time
	log logrus.FieldLogger
}

// New returns a Normalizer. now supplies "today" for unparseable dates and
// the scraped_at stamp; nil means time.Now.
func New(now func() time.Time, log logrus.FieldLogger) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now, log: log}
}

// Normalize converts one raw row. Rows that cannot be repaired return a
// *models.ValidationError.
func (n *Normalizer) Normalize(raw models.RawRecord) (*models.PriceRecord, error) {
	return n.normalize(raw, "")
}

// NormalizeBatch normalizes rows, filling a missing state from defaultState.
// Invalid rows are logged and counted in dropped. Duplicate records keep the
// first occurrence, so rows from higher-priority providers win.
func (n *Normalizer) NormalizeBatch(raws []models.RawRecord, defaultState string) (records []models.PriceRecord, dropped int) {
	records = make([]models.PriceRecord, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	duplicates := 0
	for i, raw := range raws {
		rec, err := n.normalize(raw, defaultState)
		if err != nil {
			dropped++
			n.log.WithField("index", i).
				WithField("source", raw.Source).
				WithError(err).
				Debug("dropping raw record")
			continue
		}
		key := rec.Key()
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		records = append(records, *rec)
	}
	if dropped > 0 || duplicates > 0 {
		n.log.WithField("accepted", len(records)).
			WithField("dropped", dropped).
			WithField("duplicates", duplicates).
			Info("normalized batch")
	}
	metrics.RecordNormalized(len(records), dropped)
	return records, dropped
}

func (n *Normalizer) normalize(raw models.RawRecord, defaultState string) (*models.PriceRecord, error) {
	if !raw.Source.Valid() {
		return nil, &models.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", raw.Source)}
	}
	fields := foldKeys(raw.Fields)

	rec := &models.PriceRecord{
		State:     text(lookup(fields, "state")),
		District:  text(lookup(fields, "district")),
		Market:    text(lookup(fields, "market")),
		Commodity: text(lookup(fields, "commodity")),
		Variety:   text(lookup(fields, "variety")),
		Grade:     text(lookup(fields, "grade")),
		Unit:      text(lookup(fields, "unit")),
		Source:    raw.Source,
		ScrapedAt: n.now().UTC(),
	}
	if rec.State == "" {
		rec.State = text(defaultState)
	}
	if rec.District == "" {
		rec.District = UnknownDistrict
	}
	switch {
	case rec.State == "":
		return nil, &models.ValidationError{Field: "state", Reason: "missing"}
	case rec.Market == "":
		return nil, &models.ValidationError{Field: "market", Reason: "missing"}
	case rec.Commodity == "":
		return nil, &models.ValidationError{Field: "commodity", Reason: "missing"}
	}

	var err error
	if rec.MinPrice, err = price(lookup(fields, "min")); err != nil {
		return nil, &models.ValidationError{Field: "min_price", Reason: err.Error()}
	}
	if rec.MaxPrice, err = price(lookup(fields, "max")); err != nil {
		return nil, &models.ValidationError{Field: "max_price", Reason: err.Error()}
	}
	if rec.ModalPrice, err = price(lookup(fields, "modal")); err != nil {
		return nil, &models.ValidationError{Field: "modal_price", Reason: err.Error()}
	}
	if rec.MinPrice != nil && rec.MaxPrice != nil && *rec.MinPrice > *rec.MaxPrice {
		rec.MinPrice, rec.MaxPrice = rec.MaxPrice, rec.MinPrice
	}
	if !rec.PriceOrderValid() {
		return nil, &models.ValidationError{Field: "modal_price", Reason: "outside min/max range"}
	}

	rec.Date = n.date(lookup(fields, "date"))
	return rec, nil
}

// foldKeys lowercases keys and maps the data.gov.in "_x0020_" escape, spaces
// and hyphens to underscores.
func foldKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.ReplaceAll(key, "_x0020_", "_")
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		out[key] = v
	}
	return out
}

func lookup(fields map[string]any, canonical string) any {
	for _, alias := range aliases[canonical] {
		if v, ok := fields[alias]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func text(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprint(v)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// price parses a price value into whole rupees. An absent or unparseable
// value yields nil; a negative value is an error.
func price(v any) (*int64, error) {
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		parsed, ok := parsePriceText(t)
		if !ok {
			return nil, nil
		}
		d = parsed
	default:
		parsed, ok := parsePriceText(fmt.Sprint(t))
		if !ok {
			return nil, nil
		}
		d = parsed
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative price %s", d.String())
	}
	p := d.Round(0).IntPart()
	return &p, nil
}

func parsePriceText(s string) (decimal.Decimal, bool) {
	s = currencyRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "–", "-")
	s = whitespaceRe.ReplaceAllString(s, "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	// "100-120" is a range; a leading "-" is a sign.
	if i := strings.Index(s[1:], "-"); i >= 0 {
		s = s[:i+1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func (n *Normalizer) date(v any) string {
	s := text(v)
	if s != "" {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return models.FormatDate(t)
			}
		}
	}
	return models.FormatDate(n.now())
}
