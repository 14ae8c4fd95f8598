// Package indicator implements the technical indicator math used by the risk
// and signal paths: Wilder-smoothed RSI, rolling high-water marks, and
// overnight gap measures. Functions here are pure; the Provider assembles
// readings from market data and caches bar history between evaluations.
package indicator

import (
	"fmt"
	"math"
)

// RSI returns the n-period Relative Strength Index over closes using Wilder's
// smoothing, aligned to the input. Indices before the first full window are
// NaN. The first defined value (index n) is seeded from the simple average of
// the initial gains/losses; subsequent values apply Wilder's recursive
// smoothing.
func RSI(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(closes) <= n {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	out[n] = rsiFromAverages(avgGain, avgLoss)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

// rsiFromAverages maps smoothed gain/loss averages to the 0-100 RSI scale.
// All-gain windows resolve to 100, all-loss windows to 0.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// LastRSI returns the most recent n-period RSI value over closes.
func LastRSI(closes []float64, n int) (float64, error) {
	series := RSI(closes, n)
	if len(series) == 0 {
		return 0, fmt.Errorf("indicator: rsi: no closes")
	}
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 0, fmt.Errorf("indicator: rsi: need more than %d closes, got %d", n, len(closes))
	}
	return last, nil
}

// RSITriple returns the three most recent n-period RSI values over closes:
// current, previous, and the one before that. Used by the entry-signal
// crossover check.
func RSITriple(closes []float64, n int) (curr, prev, prev2 float64, err error) {
	series := RSI(closes, n)
	if len(series) < n+3 {
		return 0, 0, 0, fmt.Errorf("indicator: rsi triple: need at least %d closes, got %d", n+3, len(closes))
	}
	curr = series[len(series)-1]
	prev = series[len(series)-2]
	prev2 = series[len(series)-3]
	if math.IsNaN(curr) || math.IsNaN(prev) || math.IsNaN(prev2) {
		return 0, 0, 0, fmt.Errorf("indicator: rsi triple: window not warm over %d closes", len(closes))
	}
	return curr, prev, prev2, nil
}
