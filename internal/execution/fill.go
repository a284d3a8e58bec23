// Package execution estimates what a market order would cost against a
// visible order book snapshot. It never mutates the book.
package execution

import (
	"errors"
	"fmt"
	"math"

	"pairflow/models"
)

var (
	// ErrEmptyBook is returned when the side an order consumes has no levels.
	ErrEmptyBook = errors.New("empty book side")
	// ErrInvalidQuantity is returned for non-positive or non-finite order sizes.
	ErrInvalidQuantity = errors.New("invalid order quantity")
)

const fillTolerance = 1e-12

// EstimateFill walks asks ascending for a buy, bids descending for a sell,
// until qty is consumed or the book is exhausted.
func EstimateFill(book models.OrderBookSnapshot, side models.Side, qty float64) (models.FillEstimate, error) {
	if !(qty > 0) || math.IsInf(qty, 0) {
		return models.FillEstimate{}, fmt.Errorf("%w: %v", ErrInvalidQuantity, qty)
	}
	if side != models.SideBuy && side != models.SideSell {
		return models.FillEstimate{}, fmt.Errorf("unknown side %q", side)
	}
	if err := book.Validate(); err != nil {
		return models.FillEstimate{}, err
	}
	levels := book.Levels(side)
	if len(levels) == 0 {
		return models.FillEstimate{}, fmt.Errorf("%w: %s %s", ErrEmptyBook, book.Asset, side)
	}

	est := models.FillEstimate{
		Side:      side,
		Requested: qty,
		BestPrice: levels[0].Price,
	}
	remaining := qty
	var cost float64
	for _, l := range levels {
		take := math.Min(remaining, l.Quantity)
		cost += take * l.Price
		est.Achievable += take
		est.WorstPrice = l.Price
		est.LevelsConsumed++
		remaining -= take
		if remaining <= fillTolerance*qty {
			break
		}
	}
	est.FullyFilled = qty-est.Achievable <= fillTolerance*qty
	est.VWAP = cost / est.Achievable
	est.Slippage = math.Abs(est.VWAP-est.BestPrice) / est.BestPrice
	return est, nil
}

// VisibleDepth is the total quantity resting on the side an order of the
// given side consumes.
func VisibleDepth(book models.OrderBookSnapshot, side models.Side) float64 {
	var total float64
	for _, l := range book.Levels(side) {
		total += l.Quantity
	}
	return total
}

// Admissible reports whether the fill completes within maxSlippage.
func Admissible(est models.FillEstimate, maxSlippage float64) bool {
	return est.FullyFilled && est.Slippage <= maxSlippage
}

// ExecutionPrice is the average price of a forced execution of the full
// requested size: the walked levels at their prices, any remainder at the
// worst visible level, or fallback when nothing was visible.
func ExecutionPrice(est models.FillEstimate, fallback float64) float64 {
	if est.Achievable <= 0 || est.Requested <= 0 {
		return fallback
	}
	if est.FullyFilled {
		return est.VWAP
	}
	rest := est.Requested - est.Achievable
	return (est.VWAP*est.Achievable + est.WorstPrice*rest) / est.Requested
}
