package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedBook is returned for order book snapshots that cannot be walked.
var ErrMalformedBook = errors.New("malformed order book")

// Side of an order against the book.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Level represents a single price level in the orderbook
type Level struct {
	Price    float64 `json:"price" yaml:"price"`
	Quantity float64 `json:"quantity" yaml:"quantity"`
}

// OrderBookSnapshot is the visible depth of one asset at one instant.
// Bids are sorted by price descending, asks ascending.
type OrderBookSnapshot struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"timestamp"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// Validate checks level ordering, positivity and that the book is not crossed.
// An empty side is valid.
func (s OrderBookSnapshot) Validate() error {
	if err := validateLevels(s.Bids, true); err != nil {
		return fmt.Errorf("%w: %s bids: %v", ErrMalformedBook, s.Asset, err)
	}
	if err := validateLevels(s.Asks, false); err != nil {
		return fmt.Errorf("%w: %s asks: %v", ErrMalformedBook, s.Asset, err)
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 && s.Bids[0].Price >= s.Asks[0].Price {
		return fmt.Errorf("%w: %s crossed book: best bid %v >= best ask %v",
			ErrMalformedBook, s.Asset, s.Bids[0].Price, s.Asks[0].Price)
	}
	return nil
}

func validateLevels(levels []Level, descending bool) error {
	for i, l := range levels {
		if !finitePositive(l.Price) {
			return fmt.Errorf("level %d has invalid price %v", i, l.Price)
		}
		if !finitePositive(l.Quantity) {
			return fmt.Errorf("level %d has invalid quantity %v", i, l.Quantity)
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1].Price
		if descending && l.Price >= prev {
			return fmt.Errorf("level %d price %v not below previous %v", i, l.Price, prev)
		}
		if !descending && l.Price <= prev {
			return fmt.Errorf("level %d price %v not above previous %v", i, l.Price, prev)
		}
	}
	return nil
}

// Levels returns the side of the book an order on side consumes.
func (s OrderBookSnapshot) Levels(side Side) []Level {
	if side == SideBuy {
		return s.Asks
	}
	return s.Bids
}

// BestBid returns the top bid, false when the side is empty.
func (s OrderBookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask, false when the side is empty.
func (s OrderBookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Mid is the midpoint of the touch, or 0 if either side is empty.
func (s OrderBookSnapshot) Mid() float64 {
	bid, ok1 := s.BestBid()
	ask, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Clone returns a deep copy so callers can retain the snapshot safely.
func (s OrderBookSnapshot) Clone() OrderBookSnapshot {
	out := s
	out.Bids = append([]Level(nil), s.Bids...)
	out.Asks = append([]Level(nil), s.Asks...)
	return out
}

// FillEstimate is the outcome of walking the book for a hypothetical order.
type FillEstimate struct {
	Side           Side    `json:"side"`
	Requested      float64 `json:"requested"`
	Achievable     float64 `json:"achievable"`
	VWAP           float64 `json:"vwap"`
	BestPrice      float64 `json:"best_price"`
	WorstPrice     float64 `json:"worst_price"`
	Slippage       float64 `json:"slippage"`
	FullyFilled    bool    `json:"fully_filled"`
	LevelsConsumed int     `json:"levels_consumed"`
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
