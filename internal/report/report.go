// Package report aggregates a trade log and an equity curve into performance
// statistics. Everything here is a pure function of its inputs.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"pairflow/models"
)

// Params controls annualization and the VaR level.
type Params struct {
	AnnualizationFactor float64 `yaml:"annualization_factor"`
	VaRConfidence       float64 `yaml:"var_confidence"`
}

// DefaultParams annualizes daily returns and reports 95% VaR.
func DefaultParams() Params {
	return Params{AnnualizationFactor: 252, VaRConfidence: 0.95}
}

func (p Params) Validate() error {
	if p.AnnualizationFactor <= 0 {
		return fmt.Errorf("annualization_factor must be greater than 0")
	}
	if p.VaRConfidence <= 0.5 || p.VaRConfidence >= 1 {
		return fmt.Errorf("var_confidence must be within (0.5, 1)")
	}
	return nil
}

// PairStats summarizes one pair's trades.
type PairStats struct {
	PairID      string  `json:"pair_id" yaml:"pair_id"`
	Trades      int     `json:"trades" yaml:"trades"`
	Wins        int     `json:"wins" yaml:"wins"`
	RealizedPnl float64 `json:"realized_pnl" yaml:"realized_pnl"`
	Fees        float64 `json:"fees" yaml:"fees"`
}

// SignalStats counts emitted signals by kind.
type SignalStats struct {
	Total         int     `json:"total" yaml:"total"`
	Entries       int     `json:"entries" yaml:"entries"`
	LongEntries   int     `json:"long_entries" yaml:"long_entries"`
	ShortEntries  int     `json:"short_entries" yaml:"short_entries"`
	Exits         int     `json:"exits" yaml:"exits"`
	StopLosses    int     `json:"stop_losses" yaml:"stop_losses"`
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
	// AvgAbsZScore averages |z| over all signals.
	AvgAbsZScore float64 `json:"avg_abs_zscore" yaml:"avg_abs_zscore"`
}

// Report is the summary of one run.
type Report struct {
	Start              time.Time   `json:"start" yaml:"start"`
	End                time.Time   `json:"end" yaml:"end"`
	Periods            int         `json:"periods" yaml:"periods"`
	InitialEquity      float64     `json:"initial_equity" yaml:"initial_equity"`
	FinalEquity        float64     `json:"final_equity" yaml:"final_equity"`
	TotalReturn        float64     `json:"total_return" yaml:"total_return"`
	SharpeRatio        float64     `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	MaxDrawdown        float64     `json:"max_drawdown" yaml:"max_drawdown"`
	MaxDrawdownPct     float64     `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Trades             int         `json:"trades" yaml:"trades"`
	Wins               int         `json:"wins" yaml:"wins"`
	Losses             int         `json:"losses" yaml:"losses"`
	WinRate            float64     `json:"win_rate" yaml:"win_rate"`
	ProfitFactor       float64     `json:"-" yaml:"profit_factor"`
	GrossPnl           float64     `json:"gross_pnl" yaml:"gross_pnl"`
	RealizedPnl        float64     `json:"realized_pnl" yaml:"realized_pnl"`
	Fees               float64     `json:"fees" yaml:"fees"`
	SlippageCost       float64     `json:"slippage_cost" yaml:"slippage_cost"`
	AvgHoldingPeriod   string      `json:"avg_holding_period" yaml:"avg_holding_period"`
	VaRConfidence      float64     `json:"var_confidence" yaml:"var_confidence"`
	ValueAtRisk        float64     `json:"value_at_risk" yaml:"value_at_risk"`
	ValueAtRiskAmount  float64     `json:"value_at_risk_amount" yaml:"value_at_risk_amount"`
	ExpectedShortfall  float64     `json:"expected_shortfall" yaml:"expected_shortfall"`
	AnnualizationBasis float64     `json:"annualization_factor" yaml:"annualization_factor"`
	Pairs              []PairStats `json:"pairs" yaml:"pairs"`
	Signals            SignalStats `json:"signals" yaml:"signals"`
}

// Compute builds the report for a trade log, an equity curve and the signals
// the run emitted.
func Compute(trades []models.Trade, curve []models.EquityPoint, signals []models.Signal, p Params) (Report, error) {
	if err := p.Validate(); err != nil {
		return Report{}, err
	}
	r := Report{
		Periods:            len(curve),
		Trades:             len(trades),
		AnnualizationBasis: p.AnnualizationFactor,
		VaRConfidence:      p.VaRConfidence,
	}
	if len(curve) > 0 {
		r.Start = curve[0].Timestamp
		r.End = curve[len(curve)-1].Timestamp
		r.InitialEquity = curve[0].Equity
		r.FinalEquity = curve[len(curve)-1].Equity
		if r.InitialEquity > 0 {
			r.TotalReturn = r.FinalEquity/r.InitialEquity - 1
		}
	}

	returns := Returns(curve)
	r.SharpeRatio = SharpeRatio(returns, p.AnnualizationFactor)
	r.MaxDrawdown, r.MaxDrawdownPct = MaxDrawdown(curve)
	r.ValueAtRisk = ValueAtRisk(returns, p.VaRConfidence)
	r.ValueAtRiskAmount = r.ValueAtRisk * r.FinalEquity
	r.ExpectedShortfall = ExpectedShortfall(returns, p.VaRConfidence)

	r.WinRate = WinRate(trades)
	r.ProfitFactor = ProfitFactor(trades)
	var held time.Duration
	for _, t := range trades {
		switch {
		case t.RealizedPnl > 0:
			r.Wins++
		case t.RealizedPnl < 0:
			r.Losses++
		}
		r.GrossPnl += t.GrossPnl
		r.RealizedPnl += t.RealizedPnl
		r.Fees += t.Fees
		r.SlippageCost += t.SlippageCost
		held += t.Duration()
	}
	if len(trades) > 0 {
		r.AvgHoldingPeriod = (held / time.Duration(len(trades))).String()
	}
	r.Pairs = byPair(trades)
	r.Signals = SignalMetrics(signals)
	return r, nil
}

// SignalMetrics counts signals by kind and averages confidence and |z|.
func SignalMetrics(signals []models.Signal) SignalStats {
	s := SignalStats{Total: len(signals)}
	if len(signals) == 0 {
		return s
	}
	conf := make([]float64, len(signals))
	absZ := make([]float64, len(signals))
	for i, sig := range signals {
		switch sig.Kind {
		case models.SignalEnterLong:
			s.Entries++
			s.LongEntries++
		case models.SignalEnterShort:
			s.Entries++
			s.ShortEntries++
		case models.SignalExit:
			s.Exits++
		case models.SignalStopLoss:
			s.StopLosses++
		}
		conf[i] = sig.Confidence
		absZ[i] = math.Abs(sig.ZScore)
	}
	s.AvgConfidence = stat.Mean(conf, nil)
	s.AvgAbsZScore = stat.Mean(absZ, nil)
	return s
}

// Returns are the simple period returns of the equity curve.
func Returns(curve []models.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// SharpeRatio is mean over sample standard deviation of returns, scaled by
// the square root of the annualization factor. It is 0 when undefined.
func SharpeRatio(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// MaxDrawdown returns the largest peak to trough decline of equity, in
// currency and as a fraction of the peak.
func MaxDrawdown(curve []models.EquityPoint) (float64, float64) {
	var peak, maxAbs, maxPct float64
	for i, pt := range curve {
		if i == 0 || pt.Equity > peak {
			peak = pt.Equity
			continue
		}
		dd := peak - pt.Equity
		if dd > maxAbs {
			maxAbs = dd
		}
		if peak > 0 && dd/peak > maxPct {
			maxPct = dd / peak
		}
	}
	return maxAbs, maxPct
}

// WinRate is the fraction of trades with positive realized pnl.
func WinRate(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.RealizedPnl > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ProfitFactor is gross profit over gross loss: +Inf without losses and 0
// when no trade made or lost money.
func ProfitFactor(trades []models.Trade) float64 {
	var profit, loss float64
	for _, t := range trades {
		if t.RealizedPnl > 0 {
			profit += t.RealizedPnl
		} else {
			loss -= t.RealizedPnl
		}
	}
	if loss == 0 {
		if profit == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return profit / loss
}

// ValueAtRisk is the parametric one period VaR of returns at the given
// confidence, as a positive loss fraction.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	q := distuv.UnitNormal.Quantile(1 - confidence)
	return -(mean + q*std)
}

// ExpectedShortfall is the parametric mean loss beyond the VaR level.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	q := distuv.UnitNormal.Quantile(confidence)
	return -mean + std*distuv.UnitNormal.Prob(q)/(1-confidence)
}

func byPair(trades []models.Trade) []PairStats {
	idx := make(map[string]int)
	var out []PairStats
	for _, t := range trades {
		i, ok := idx[t.PairID]
		if !ok {
			i = len(out)
			idx[t.PairID] = i
			out = append(out, PairStats{PairID: t.PairID})
		}
		out[i].Trades++
		if t.RealizedPnl > 0 {
			out[i].Wins++
		}
		out[i].RealizedPnl += t.RealizedPnl
		out[i].Fees += t.Fees
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairID < out[j].PairID })
	return out
}
