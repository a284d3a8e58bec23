package stats

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// MacKinnon (1994) response surface coefficients for regressions with a
// constant, indexed by the number of variables in the cointegrating system.
// Large-p coefficients are stored pre-scaled.
var (
	tauMaxC   = []float64{2.74, 0.92}
	tauMinC   = []float64{-18.83, -18.86}
	tauStarC  = []float64{-1.61, -2.62}
	tauSmallC = [][]float64{
		{2.1659, 1.4412, 0.038269},
		{2.92, 1.5012, 0.039796},
	}
	tauLargeC = [][]float64{
		{1.7339, 0.93202, -0.12745, -0.010368},
		{2.1945, 0.64695, -0.29198, -0.042377},
	}
)

// MacKinnonP returns the approximate asymptotic p-value of a unit-root test
// statistic for a system of n variables (1 for a plain ADF test, 2 for an
// Engle-Granger test on a pair).
func MacKinnonP(stat float64, n int) (float64, error) {
	if n < 1 || n > len(tauMaxC) {
		return 0, fmt.Errorf("mackinnon: unsupported number of variables %d", n)
	}
	i := n - 1
	switch {
	case stat > tauMaxC[i]:
		return 1, nil
	case stat < tauMinC[i]:
		return 0, nil
	}
	coef := tauLargeC[i]
	if stat <= tauStarC[i] {
		coef = tauSmallC[i]
	}
	return distuv.UnitNormal.CDF(polyval(coef, stat)), nil
}

func polyval(coef []float64, x float64) float64 {
	var v float64
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}
