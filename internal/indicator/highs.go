package indicator

import (
	"fmt"

	"github.com/levtrade/corebot/internal/domain"
)

// TradingDaysPerYear is the lookback used for the 52-week high.
const TradingDaysPerYear = 252

// HighWaterMarks returns the 52-week high and the all-time high over the
// supplied daily bars (oldest first). The all-time figure covers as much
// history as the data source returned; callers should request the maximum
// available lookback.
func HighWaterMarks(daily []domain.Bar) (yearHigh, allTimeHigh float64, err error) {
	if len(daily) == 0 {
		return 0, 0, fmt.Errorf("indicator: high water marks: no daily bars")
	}
	for _, b := range daily {
		if b.High > allTimeHigh {
			allTimeHigh = b.High
		}
	}
	start := 0
	if len(daily) > TradingDaysPerYear {
		start = len(daily) - TradingDaysPerYear
	}
	for _, b := range daily[start:] {
		if b.High > yearHigh {
			yearHigh = b.High
		}
	}
	return yearHigh, allTimeHigh, nil
}

// GapPercent returns the signed overnight move from the prior close to the
// open, as a fraction (0.02 = 2% gap up).
func GapPercent(prevClose, open float64) float64 {
	if prevClose <= 0 {
		return 0
	}
	return (open - prevClose) / prevClose
}

// Closes extracts the close series from bars, oldest first.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
