package query

import (
	"github.com/shopspring/decimal"
)

// TrendMAWindow is the number of points in a trend's moving average.
const TrendMAWindow = 7

// movingAverage returns the simple moving average of values over period
// points. Positions without a full window are nil.
func movingAverage(values []int64, period int) []*int64 {
	out := make([]*int64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := decimal.Zero
	for i, v := range values {
		sum = sum.Add(decimal.NewFromInt(v))
		if i >= period {
			sum = sum.Sub(decimal.NewFromInt(values[i-period]))
		}
		if i >= period-1 {
			avg := sum.Div(decimal.NewFromInt(int64(period))).Round(0).IntPart()
			out[i] = &avg
		}
	}
	return out
}

// changePercent returns the percentage change from the previous value,
// rounded to two places. The first position and zero bases are nil.
func changePercent(values []int64) []*float64 {
	out := make([]*float64, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		prev := decimal.NewFromInt(values[i-1])
		pct, _ := decimal.NewFromInt(values[i]).Sub(prev).
			Div(prev).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		out[i] = &pct
	}
	return out
}

// withIndicators fills the moving average and day-over-day change of points.
func withIndicators(points []TrendPoint) []TrendPoint {
	avgs := make([]int64, len(points))
	for i, p := range points {
		avgs[i] = p.AvgModalPrice
	}
	ma := movingAverage(avgs, TrendMAWindow)
	change := changePercent(avgs)
	for i := range points {
		points[i].MovingAvg = ma[i]
		points[i].ChangePct = change[i]
	}
	return points
}
