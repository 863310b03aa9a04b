package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"mandi-prices/internal/models"
)

// DefaultMockBatchSize is large enough to clear the default sufficiency
// threshold on its own.
const DefaultMockBatchSize = 60

type mockCommodity struct {
	name    string
	variety string
	base    int64 // Rs per quintal
}

var mockCommodities = []mockCommodity{
	{"Rice", "Common", 2200},
	{"Wheat", "Dara", 2150},
	{"Onion", "Red", 1800},
	{"Tomato", "Hybrid", 1500},
	{"Potato", "Desi", 1250},
	{"Maize", "Yellow", 1950},
	{"Cotton", "Medium Staple", 6600},
	{"Groundnut", "Bold", 5600},
	{"Soyabean", "Yellow", 4400},
	{"Turmeric", "Finger", 7200},
	{"Banana", "Robusta", 1650},
	{"Green Chilli", "Other", 3100},
}

var mockDistricts = []string{"North", "South", "East", "West", "Central"}

// MockProvider generates a deterministic synthetic batch per (date, state) so
// offline and development runs always have schema-valid data.
type MockProvider struct {
	batchSize int
	now       func() time.Time
}

func NewMockProvider(batchSize int) *MockProvider {
	if batchSize <= 0 {
		batchSize = DefaultMockBatchSize
	}
	return &MockProvider{batchSize: batchSize, now: time.Now}
}

func (p *MockProvider) Name() string          { return "mock" }
func (p *MockProvider) Source() models.Source { return models.SourceMock }

func (p *MockProvider) FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := p.Batch(page.Filters[FilterDate], page.Filters[FilterState])
	if page.Offset >= len(batch) {
		return nil, nil
	}
	end := len(batch)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return batch[page.Offset:end], nil
}

// Batch returns the full synthetic batch for date and state. The same inputs
// always produce the same rows.
func (p *MockProvider) Batch(date, state string) []models.RawRecord {
	if date == "" {
		date = models.FormatDate(p.now())
	}
	if state == "" {
		state = "Unknown State"
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(date + "|" + state))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	rows := make([]models.RawRecord, 0, p.batchSize)
	for i := 0; i < p.batchSize; i++ {
		c := mockCommodities[i%len(mockCommodities)]
		district := mockDistricts[(i/len(mockCommodities))%len(mockDistricts)]

		// modal within +-15% of base, min/max within 10% of modal
		modal := c.base * int64(85+rng.Intn(31)) / 100
		minPrice := modal - modal*int64(rng.Intn(11))/100
		maxPrice := modal + modal*int64(rng.Intn(11))/100

		rows = append(rows, models.RawRecord{
			Source: models.SourceMock,
			Fields: map[string]any{
				"state":        state,
				"district":     fmt.Sprintf("%s %s", state, district),
				"market":       fmt.Sprintf("%s APMC", district),
				"commodity":    c.name,
				"variety":      c.variety,
				"grade":        "FAQ",
				"unit":         "Rs/Quintal",
				"min_price":    minPrice,
				"max_price":    maxPrice,
				"modal_price":  modal,
				"arrival_date": date,
			},
		})
	}
	return rows
}
