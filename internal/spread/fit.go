// Package spread fits cointegrated pairs and tracks the rolling z-score of
// their spread.
package spread

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"pairflow/internal/stats"
	"pairflow/models"
)

const (
	// MinFitWindow is the shortest formation window Fit accepts.
	MinFitWindow = 10
	// MinWindowSize is the shortest rolling z-score window.
	MinWindowSize = 2

	// An R-squared this close to one means the legs are collinear and the
	// residual carries no information.
	collinearR2 = 1 - 100*1.4901161193847656e-08
)

// Series is one asset's price history.
type Series struct {
	Asset  string
	Points []models.PricePoint
}

// FitParams controls a formation fit.
type FitParams struct {
	PairID string
	// FitWindow is the number of trailing observations regressed.
	FitWindow int
	// WindowSize is the rolling z-score window. Zero means FitWindow.
	WindowSize int
	// MaxLag bounds the ADF lag order. Negative selects it automatically.
	MaxLag int
}

// Fit regresses A on B over the trailing FitWindow observations and tests the
// residual for a unit root with the Engle-Granger procedure.
func Fit(a, b Series, p FitParams) (models.Pair, error) {
	if p.FitWindow < MinFitWindow {
		return models.Pair{}, fitError(p.PairID, nil, "fit window %d below minimum %d", p.FitWindow, MinFitWindow)
	}
	window := p.WindowSize
	if window == 0 {
		window = p.FitWindow
	}
	if window < MinWindowSize {
		return models.Pair{}, fitError(p.PairID, nil, "z-score window %d below minimum %d", window, MinWindowSize)
	}
	if len(a.Points) != len(b.Points) {
		return models.Pair{}, fitError(p.PairID, nil, "length mismatch: %d vs %d", len(a.Points), len(b.Points))
	}
	if len(a.Points) < p.FitWindow {
		return models.Pair{}, fitError(p.PairID, nil, "have %d observations, need %d", len(a.Points), p.FitWindow)
	}
	for i := range a.Points {
		pa, pb := a.Points[i], b.Points[i]
		if !pa.Valid() || !pb.Valid() {
			return models.Pair{}, fitError(p.PairID, nil, "invalid price at index %d", i)
		}
		if !pa.Timestamp.Equal(pb.Timestamp) {
			return models.Pair{}, fitError(p.PairID, nil, "timestamps misaligned at index %d", i)
		}
		if i > 0 && !pa.Timestamp.After(a.Points[i-1].Timestamp) {
			return models.Pair{}, fitError(p.PairID, nil, "timestamps not increasing at index %d", i)
		}
	}

	start := len(a.Points) - p.FitWindow
	xa := make([]float64, p.FitWindow)
	xb := make([]float64, p.FitWindow)
	for i := 0; i < p.FitWindow; i++ {
		xa[i] = a.Points[start+i].Price
		xb[i] = b.Points[start+i].Price
	}

	meanB, stdB := stat.MeanStdDev(xb, nil)
	if stdB <= 1e-12*math.Max(1, math.Abs(meanB)) {
		return models.Pair{}, fitError(p.PairID, nil, "leg B has zero variance")
	}
	intercept, hedge := stat.LinearRegression(xb, xa, nil, false)
	if math.IsNaN(hedge) || math.IsInf(hedge, 0) {
		return models.Pair{}, fitError(p.PairID, nil, "degenerate regression")
	}

	meanA := stat.Mean(xa, nil)
	resid := make([]float64, p.FitWindow)
	var ssr, sst float64
	for i := range resid {
		resid[i] = xa[i] - intercept - hedge*xb[i]
		ssr += resid[i] * resid[i]
		sst += (xa[i] - meanA) * (xa[i] - meanA)
	}
	if ssr <= (1-collinearR2)*sst {
		return models.Pair{}, fitError(p.PairID, nil, "legs are collinear, residual has no variance")
	}

	adf, err := stats.ADF(resid, p.MaxLag, stats.TrendNone)
	if err != nil {
		return models.Pair{}, fitError(p.PairID, err, "unit root test failed")
	}
	pvalue, err := stats.MacKinnonP(adf.Statistic, 2)
	if err != nil {
		return models.Pair{}, fitError(p.PairID, err, "p-value")
	}

	return models.Pair{
		ID:           p.PairID,
		AssetA:       a.Asset,
		AssetB:       b.Asset,
		HedgeRatio:   hedge,
		Intercept:    intercept,
		PValue:       pvalue,
		ADFStatistic: adf.Statistic,
		ADFLags:      adf.Lags,
		HalfLife:     stats.HalfLife(resid),
		WindowSize:   window,
		FitWindow:    p.FitWindow,
		FittedAt:     a.Points[len(a.Points)-1].Timestamp,
	}, nil
}
