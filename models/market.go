package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTick is returned for ticks that fail validation.
var ErrInvalidTick = errors.New("invalid tick")

// PricePoint is one observed price of one asset.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Valid reports whether the point has a timestamp and a positive finite price.
func (p PricePoint) Valid() bool {
	return !p.Timestamp.IsZero() && finitePositive(p.Price)
}

// Tick is one synchronized observation of both legs of a pair, with the
// order books the risk manager consults.
type Tick struct {
	PairID string            `json:"pair_id"`
	A      PricePoint        `json:"a"`
	B      PricePoint        `json:"b"`
	BookA  OrderBookSnapshot `json:"book_a"`
	BookB  OrderBookSnapshot `json:"book_b"`
}

// Timestamp of the tick. Both legs share it once validated.
func (t Tick) Timestamp() time.Time {
	return t.A.Timestamp
}

// Validate checks prices, leg alignment and both books.
func (t Tick) Validate() error {
	if t.PairID == "" {
		return fmt.Errorf("%w: missing pair id", ErrInvalidTick)
	}
	if !t.A.Valid() {
		return fmt.Errorf("%w: %s leg A price %v at %v", ErrInvalidTick, t.PairID, t.A.Price, t.A.Timestamp)
	}
	if !t.B.Valid() {
		return fmt.Errorf("%w: %s leg B price %v at %v", ErrInvalidTick, t.PairID, t.B.Price, t.B.Timestamp)
	}
	if !t.A.Timestamp.Equal(t.B.Timestamp) {
		return fmt.Errorf("%w: %s legs misaligned: %v vs %v", ErrInvalidTick, t.PairID, t.A.Timestamp, t.B.Timestamp)
	}
	if err := t.BookA.Validate(); err != nil {
		return fmt.Errorf("%s: %w", t.PairID, err)
	}
	if err := t.BookB.Validate(); err != nil {
		return fmt.Errorf("%s: %w", t.PairID, err)
	}
	return nil
}

// Pair is a fitted cointegration relationship. Refitting produces a new value.
type Pair struct {
	ID           string    `json:"id"`
	AssetA       string    `json:"asset_a"`
	AssetB       string    `json:"asset_b"`
	HedgeRatio   float64   `json:"hedge_ratio"`
	Intercept    float64   `json:"intercept"`
	PValue       float64   `json:"p_value"`
	ADFStatistic float64   `json:"adf_statistic"`
	ADFLags      int       `json:"adf_lags"`
	HalfLife     float64   `json:"half_life"`
	WindowSize   int       `json:"window_size"`
	FitWindow    int       `json:"fit_window"`
	FittedAt     time.Time `json:"fitted_at"`
}

// Tradable reports whether the cointegration p-value is at or below threshold.
func (p Pair) Tradable(threshold float64) bool {
	return p.PValue <= threshold
}

// Spread returns priceA - hedgeRatio*priceB.
func (p Pair) Spread(priceA, priceB float64) float64 {
	return priceA - p.HedgeRatio*priceB
}

// SpreadObservation is one rolling z-score evaluation.
type SpreadObservation struct {
	PairID     string    `json:"pair_id"`
	Timestamp  time.Time `json:"timestamp"`
	PriceA     float64   `json:"price_a"`
	PriceB     float64   `json:"price_b"`
	HedgeRatio float64   `json:"hedge_ratio"`
	Spread     float64   `json:"spread"`
	Mean       float64   `json:"mean"`
	Std        float64   `json:"std"`
	ZScore     float64   `json:"zscore"`
}

// EquityPoint is one mark-to-market sample of the account.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	Unrealized    float64   `json:"unrealized"`
	OpenPositions int       `json:"open_positions"`
}
