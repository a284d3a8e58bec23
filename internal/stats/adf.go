package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Trend selects the deterministic terms of the ADF regression.
type Trend int

const (
	// TrendNone has no deterministic term. Used for regression residuals.
	TrendNone Trend = iota
	// TrendConstant adds an intercept.
	TrendConstant
)

func (t Trend) terms() int {
	if t == TrendConstant {
		return 1
	}
	return 0
}

// ADFResult is the outcome of an augmented Dickey-Fuller regression.
type ADFResult struct {
	Statistic float64
	Lags      int
	NObs      int
}

// ADF runs the augmented Dickey-Fuller regression
//
//	dx_t = [c] + g*x_{t-1} + sum_i d_i*dx_{t-i} + e_t
//
// and returns the t-statistic of g. A negative maxLag selects
// ceil(12*(n/100)^(1/4)) and the lag order is picked by minimum AIC, with
// every candidate fit on the same sample before the winner is refit.
func ADF(x []float64, maxLag int, trend Trend) (ADFResult, error) {
	n := len(x)
	ceiling := n/2 - trend.terms() - 1
	if ceiling < 0 {
		return ADFResult{}, fmt.Errorf("adf: series of %d observations is too short", n)
	}
	auto := maxLag < 0
	if auto {
		maxLag = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	}
	if maxLag > ceiling {
		maxLag = ceiling
	}

	dx := make([]float64, n-1)
	for i := 1; i < n; i++ {
		dx[i-1] = x[i] - x[i-1]
	}

	lags := maxLag
	if auto {
		best := math.Inf(1)
		for p := 0; p <= maxLag; p++ {
			design, y := adfDesign(x, dx, p, maxLag, trend)
			res, err := OLS(design, y)
			if err != nil {
				continue
			}
			if aic := res.AIC(); aic < best {
				best = aic
				lags = p
			}
		}
		if math.IsInf(best, 1) {
			return ADFResult{}, fmt.Errorf("adf: no lag order could be fit: %w", ErrSingular)
		}
	}

	design, y := adfDesign(x, dx, lags, lags, trend)
	res, err := OLS(design, y)
	if err != nil {
		return ADFResult{}, fmt.Errorf("adf: %w", err)
	}
	return ADFResult{
		Statistic: res.TValue(trend.terms()),
		Lags:      lags,
		NObs:      res.N,
	}, nil
}

// adfDesign builds the regression with p lagged differences over the sample
// that a fit with sampleLag lags would use.
func adfDesign(x, dx []float64, p, sampleLag int, trend Trend) (*mat.Dense, []float64) {
	nobs := len(dx) - sampleLag
	k := trend.terms() + 1 + p
	data := make([]float64, 0, nobs*k)
	y := make([]float64, nobs)
	for i := 0; i < nobs; i++ {
		t := sampleLag + i
		y[i] = dx[t]
		if trend == TrendConstant {
			data = append(data, 1)
		}
		data = append(data, x[t])
		for j := 1; j <= p; j++ {
			data = append(data, dx[t-j])
		}
	}
	return mat.NewDense(nobs, k, data), y
}
