// Package trend holds the local fallback forecaster used when no model
// forecast is available.
package trend

import (
	"math"

	"market-snapshot/internal/market"
)

type Method string

const (
	MethodOLS  Method = "local-ols"
	MethodNone Method = "none"
)

const MinSamples = 6

// Predict fits value = a + b*index by ordinary least squares and returns the
// line evaluated at index len(values)-1+steps. It reports false when the
// series is shorter than MinSamples or steps is negative.
func Predict(values []float64, steps int) (float64, bool) {
	n := len(values)
	if n < MinSamples || steps < 0 {
		return 0, false
	}

	// fit against the first value so a flat series has slope 0 exactly
	base := values[0]
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x, y := float64(i), v-base
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	// denom is n^2(n^2-1)/12 for x = 0..n-1, never zero once n >= 2
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	out := base + intercept + slope*float64(n-1+steps)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

// PredictSeries runs Predict over the series' prices. The estimate is nil
// and the method MethodNone when the series is too short.
func PredictSeries(h market.HistorySeries, steps int) (Method, *float64) {
	v, ok := Predict(h.Prices(), steps)
	if !ok {
		return MethodNone, nil
	}
	return MethodOLS, &v
}
