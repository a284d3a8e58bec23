package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// HalfLife estimates the mean-reversion half-life of a spread, in
// observations, from the regression ds_t = a + b*s_{t-1}. It returns 0 when
// the spread shows no mean reversion.
func HalfLife(spread []float64) float64 {
	if len(spread) < 3 {
		return 0
	}
	lagged := spread[:len(spread)-1]
	diff := make([]float64, len(spread)-1)
	for i := 1; i < len(spread); i++ {
		diff[i-1] = spread[i] - spread[i-1]
	}
	_, beta := stat.LinearRegression(lagged, diff, nil, false)
	lambda := -beta
	if lambda <= 0 || math.IsNaN(lambda) {
		return 0
	}
	return math.Ln2 / lambda
}
