package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

func TestRSIWarmup(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	series := RSI(closes, 7)

	require.Len(t, series, len(closes))
	for i := 0; i < 7; i++ {
		assert.True(t, math.IsNaN(series[i]), "index %d should be NaN during warmup", i)
	}
	assert.False(t, math.IsNaN(series[7]))
}

func TestRSIExtremes(t *testing.T) {
	up := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	down := []float64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10}

	upSeries := RSI(up, 7)
	downSeries := RSI(down, 7)

	assert.InDelta(t, 100, upSeries[len(upSeries)-1], 1e-9)
	assert.InDelta(t, 0, downSeries[len(downSeries)-1], 1e-9)
}

func TestRSIBounded(t *testing.T) {
	closes := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28}
	series := RSI(closes, 7)
	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0, "index %d", i)
		assert.LessOrEqual(t, v, 100.0, "index %d", i)
	}
}

func TestLastRSIInsufficientData(t *testing.T) {
	_, err := LastRSI([]float64{1, 2, 3}, 7)
	assert.Error(t, err)
}

func TestRSITriple(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}
	curr, prev, prev2, err := RSITriple(closes, 7)
	require.NoError(t, err)

	series := RSI(closes, 7)
	assert.Equal(t, series[len(series)-1], curr)
	assert.Equal(t, series[len(series)-2], prev)
	assert.Equal(t, series[len(series)-3], prev2)
}

func TestRSITripleTooShort(t *testing.T) {
	_, _, _, err := RSITriple([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 7)
	assert.Error(t, err)
}

func TestHighWaterMarks(t *testing.T) {
	bars := make([]domain.Bar, 300)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:   "SOXL",
			Interval: domain.BarDaily,
			High:     50 + float64(i%40),
			Close:    49 + float64(i%40),
			Start:    start.AddDate(0, 0, i),
		}
	}
	// Spike outside the 252-bar window only counts toward the all-time high.
	bars[10].High = 500

	yearHigh, allTimeHigh, err := HighWaterMarks(bars)
	require.NoError(t, err)
	assert.Equal(t, 500.0, allTimeHigh)
	assert.Equal(t, 89.0, yearHigh)
}

func TestHighWaterMarksEmpty(t *testing.T) {
	_, _, err := HighWaterMarks(nil)
	assert.Error(t, err)
}

func TestGapPercent(t *testing.T) {
	tests := []struct {
		name      string
		prevClose float64
		open      float64
		want      float64
	}{
		{"gap up", 100, 102, 0.02},
		{"gap down", 100, 97, -0.03},
		{"flat", 100, 100, 0},
		{"bad prev close", 0, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, GapPercent(tt.prevClose, tt.open), 1e-9)
		})
	}
}
