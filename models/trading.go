package models

import (
	"math"
	"time"
)

// SignalKind enumerates what the state machine can emit.
type SignalKind string

const (
	SignalEnterLong  SignalKind = "ENTER_LONG_SPREAD"
	SignalEnterShort SignalKind = "ENTER_SHORT_SPREAD"
	SignalExit       SignalKind = "EXIT"
	SignalStopLoss   SignalKind = "STOP_LOSS"
)

// IsEntry reports whether k opens a position.
func (k SignalKind) IsEntry() bool {
	return k == SignalEnterLong || k == SignalEnterShort
}

// IsClose reports whether k closes a position.
func (k SignalKind) IsClose() bool {
	return k == SignalExit || k == SignalStopLoss
}

// Signal is an actionable transition of a pair's state machine. It carries
// the prices and spread statistics the risk manager sizes against.
type Signal struct {
	PairID      string     `json:"pair_id"`
	Timestamp   time.Time  `json:"timestamp"`
	Kind        SignalKind `json:"kind"`
	ZScore      float64    `json:"zscore"`
	Confidence  float64    `json:"confidence"`
	HedgeRatio  float64    `json:"hedge_ratio"`
	PriceA      float64    `json:"price_a"`
	PriceB      float64    `json:"price_b"`
	SpreadStd   float64    `json:"spread_std"`
	StopLossZ   float64    `json:"stop_loss_z"`
	TakeProfitZ float64    `json:"take_profit_z"`
}

// Direction of a spread position. LONG_SPREAD is long A, short B.
type Direction string

const (
	DirectionLong  Direction = "LONG_SPREAD"
	DirectionShort Direction = "SHORT_SPREAD"
	DirectionFlat  Direction = "FLAT"
)

// Sign is +1 for long spread, -1 for short spread, 0 when flat.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// Position is an open spread position. Quantities are signed.
type Position struct {
	PairID            string    `json:"pair_id"`
	Direction         Direction `json:"direction"`
	EntryTimestamp    time.Time `json:"entry_timestamp"`
	EntryPriceA       float64   `json:"entry_price_a"`
	EntryPriceB       float64   `json:"entry_price_b"`
	FairPriceA        float64   `json:"fair_price_a"`
	FairPriceB        float64   `json:"fair_price_b"`
	QuantityA         float64   `json:"quantity_a"`
	QuantityB         float64   `json:"quantity_b"`
	HedgeRatio        float64   `json:"hedge_ratio"`
	SizeNotional      float64   `json:"size_notional"`
	StopLossZ         float64   `json:"stop_loss_z"`
	TakeProfitZ       float64   `json:"take_profit_z"`
	EntryZScore       float64   `json:"entry_zscore"`
	EntrySlippageCost float64   `json:"entry_slippage_cost"`
	EntryFees         float64   `json:"entry_fees"`
}

// Unrealized is the mark-to-market pnl against the entry fills.
func (p Position) Unrealized(priceA, priceB float64) float64 {
	return p.QuantityA*(priceA-p.EntryPriceA) + p.QuantityB*(priceB-p.EntryPriceB)
}

// GrossExposure is the absolute notional of both legs at the given prices.
func (p Position) GrossExposure(priceA, priceB float64) float64 {
	return math.Abs(p.QuantityA)*priceA + math.Abs(p.QuantityB)*priceB
}

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitReasonExit      ExitReason = "EXIT"
	ExitReasonStopLoss  ExitReason = "STOP_LOSS"
	ExitReasonEndOfData ExitReason = "END_OF_DATA"
)

// Trade is a closed round trip. It is never edited after creation.
type Trade struct {
	ID            string     `json:"id"`
	PairID        string     `json:"pair_id"`
	Entry         Position   `json:"entry"`
	ExitTimestamp time.Time  `json:"exit_timestamp"`
	ExitPriceA    float64    `json:"exit_price_a"`
	ExitPriceB    float64    `json:"exit_price_b"`
	ExitZScore    float64    `json:"exit_zscore"`
	ExitReason    ExitReason `json:"exit_reason"`
	GrossPnl      float64    `json:"gross_pnl"`
	Fees          float64    `json:"fees"`
	SlippageCost  float64    `json:"slippage_cost"`
	RealizedPnl   float64    `json:"realized_pnl"`
}

// Duration is the holding period.
func (t Trade) Duration() time.Duration {
	return t.ExitTimestamp.Sub(t.Entry.EntryTimestamp)
}

// Action the risk manager took on a signal.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
	ActionNone  Action = "NONE"
)

// RejectReason is the business reason a signal was not executed.
type RejectReason string

const (
	ReasonNone                  RejectReason = ""
	ReasonInsufficientLiquidity RejectReason = "InsufficientLiquidity"
	ReasonExposureCapExceeded   RejectReason = "ExposureCapExceeded"
	ReasonPairAlreadyOpen       RejectReason = "PairAlreadyOpen"
	ReasonNoPositionToClose     RejectReason = "NoPositionToClose"
)

// TradeDecision is the risk manager's answer to one signal.
type TradeDecision struct {
	PairID    string       `json:"pair_id"`
	Timestamp time.Time    `json:"timestamp"`
	Signal    Signal       `json:"signal"`
	Action    Action       `json:"action"`
	Accepted  bool         `json:"accepted"`
	Reason    RejectReason `json:"reason,omitempty"`
	LegA      FillEstimate `json:"leg_a"`
	LegB      FillEstimate `json:"leg_b"`
	Position  *Position    `json:"position,omitempty"`
	Trade     *Trade       `json:"trade,omitempty"`
}
