// Package stats holds the regression and unit-root numerics used to fit
// and monitor spreads.
package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when the design matrix has no unique least squares solution.
var ErrSingular = errors.New("singular design matrix")

// OLSResult is the outcome of an ordinary least squares fit.
type OLSResult struct {
	Coefficients []float64
	StdErrors    []float64
	Residuals    []float64
	SSR          float64
	N            int
	K            int
}

// TValue of coefficient i.
func (r OLSResult) TValue(i int) float64 {
	if r.StdErrors[i] == 0 {
		return math.Inf(int(math.Copysign(1, r.Coefficients[i])))
	}
	return r.Coefficients[i] / r.StdErrors[i]
}

// LogLikelihood under gaussian errors.
func (r OLSResult) LogLikelihood() float64 {
	n := float64(r.N)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(r.SSR/n) + 1)
}

// AIC is the Akaike information criterion of the fit.
func (r OLSResult) AIC() float64 {
	return -2*r.LogLikelihood() + 2*float64(r.K)
}

// OLS regresses y on the columns of x. Rows of x are observations.
func OLS(x *mat.Dense, y []float64) (OLSResult, error) {
	n, k := x.Dims()
	if n != len(y) {
		return OLSResult{}, fmt.Errorf("design has %d rows, response has %d", n, len(y))
	}
	if n <= k {
		return OLSResult{}, fmt.Errorf("need more than %d observations, have %d", k, n)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return OLSResult{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var xty mat.VecDense
	xty.MulVec(x.T(), yv)
	var beta mat.VecDense
	beta.MulVec(&inv, &xty)

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)

	res := OLSResult{
		Coefficients: make([]float64, k),
		StdErrors:    make([]float64, k),
		Residuals:    make([]float64, n),
		N:            n,
		K:            k,
	}
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		res.Residuals[i] = e
		res.SSR += e * e
	}
	sigma2 := res.SSR / float64(n-k)
	for j := 0; j < k; j++ {
		res.Coefficients[j] = beta.AtVec(j)
		res.StdErrors[j] = math.Sqrt(math.Max(sigma2*inv.At(j, j), 0))
	}
	return res, nil
}
