package query

import (
	"context"
	"strings"

	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultTrendDays is how many trailing available dates a trend covers when
// no range is given.
const DefaultTrendDays = 30

// TrendParams selects one commodity's series. State is optional.
type TrendParams struct {
	State     string
	Commodity string
	From      string
	To        string
}

// TrendPoint is the per-date average of reported modal prices.
type TrendPoint struct {
	Date          string `json:"date"`
	AvgModalPrice int64  `json:"avg_modal_price"`
	MinModalPrice int64  `json:"min_modal_price"`
	MaxModalPrice int64  `json:"max_modal_price"`
	Records       int    `json:"records"`
	// MovingAvg is the TrendMAWindow-point simple moving average.
	MovingAvg *int64 `json:"moving_avg,omitempty"`
	// ChangePct is the change in AvgModalPrice from the previous point.
	ChangePct *float64 `json:"change_pct,omitempty"`
}

// Trend returns the commodity's modal price series, oldest first. Dates
// without a reported modal price are omitted. State and commodity match
// exactly, ignoring case.
func (e *Engine) Trend(ctx context.Context, tp TrendParams) ([]TrendPoint, error) {
	key := strings.ToLower("trend:" + tp.State + "|" + tp.Commodity + "|" + tp.From + "|" + tp.To)
	if v, ok := e.cache.Get(key); ok {
		if pts, ok := v.([]TrendPoint); ok {
			metrics.RecordCacheLookup("trend", true)
			return pts, nil
		}
	}
	metrics.RecordCacheLookup("trend", false)

	var dates []string
	if tp.From == "" && tp.To == "" {
		available, err := e.store.ListAvailableDates(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.log.WithError(err).Warn("listing available dates failed")
		}
		if len(available) > DefaultTrendDays {
			available = available[len(available)-DefaultTrendDays:]
		}
		dates = available
	} else {
		var err error
		if dates, err = e.resolveDates(ctx, "", tp.From, tp.To); err != nil {
			return nil, err
		}
	}

	points := []TrendPoint{}
	for _, date := range dates {
		records, _, err := e.load(ctx, []string{date}, tp.State)
		if err != nil {
			return nil, err
		}
		sum := decimal.Zero
		var n int64
		var lo, hi int64
		for _, r := range records {
			if r.ModalPrice == nil || !strings.EqualFold(r.Commodity, tp.Commodity) {
				continue
			}
			if tp.State != "" && !strings.EqualFold(r.State, tp.State) {
				continue
			}
			m := *r.ModalPrice
			if n == 0 || m < lo {
				lo = m
			}
			if n == 0 || m > hi {
				hi = m
			}
			sum = sum.Add(decimal.NewFromInt(m))
			n++
		}
		if n == 0 {
			continue
		}
		points = append(points, TrendPoint{
			Date:          date,
			AvgModalPrice: sum.Div(decimal.NewFromInt(n)).Round(0).IntPart(),
			MinModalPrice: lo,
			MaxModalPrice: hi,
			Records:       int(n),
		})
	}

	points = withIndicators(points)
	e.cache.Set(key, points, e.ttl.Trend)
	return points, nil
}

// Popular returns the stored popular-commodities rollup for state.
func (e *Engine) Popular(ctx context.Context, state string) (*models.PopularCommodities, error) {
	return e.store.ReadPopular(ctx, state)
}

// Meta returns the stored meta index.
func (e *Engine) Meta(ctx context.Context) (*models.MetaIndex, error) {
	return e.store.ReadMeta(ctx)
}
