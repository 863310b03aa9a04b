package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovingAverage(t *testing.T) {
	got := movingAverage([]int64{10, 20, 30, 40, 51}, 3)
	require.Len(t, got, 5)
	assert.Nil(t, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, int64(20), *got[2])
	assert.Equal(t, int64(30), *got[3])
	assert.Equal(t, int64(40), *got[4]) // 121/3 rounds down

	short := movingAverage([]int64{1, 2}, 3)
	assert.Equal(t, []*int64{nil, nil}, short)
}

func TestChangePercent(t *testing.T) {
	got := changePercent([]int64{200, 250, 0, 10})
	assert.Nil(t, got[0])
	assert.Equal(t, 25.0, *got[1])
	assert.Equal(t, -100.0, *got[2])
	assert.Nil(t, got[3])
}

func TestWithIndicators(t *testing.T) {
	var points []TrendPoint
	for i := 0; i < TrendMAWindow+1; i++ {
		points = append(points, TrendPoint{AvgModalPrice: int64(100 + 10*i)})
	}
	points = withIndicators(points)

	assert.Nil(t, points[TrendMAWindow-2].MovingAvg)
	assert.Equal(t, int64(130), *points[TrendMAWindow-1].MovingAvg)
	assert.Equal(t, int64(140), *points[TrendMAWindow].MovingAvg)
	assert.Equal(t, 10.0, *points[1].ChangePct)
}
