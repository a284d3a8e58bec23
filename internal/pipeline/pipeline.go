// Package pipeline drives one pair from raw ticks to signals: formation fit,
// periodic refits, rolling z-score and the signal state machine.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"pairflow/internal/signal"
	"pairflow/internal/spread"
	"pairflow/logger"
	"pairflow/models"
)

// ErrWrongPair is returned for ticks addressed to another pair or carrying
// books of other assets.
var ErrWrongPair = errors.New("tick does not belong to pair")

// Spec identifies a pair and its legs.
type Spec struct {
	ID     string `yaml:"id"`
	AssetA string `yaml:"asset_a"`
	AssetB string `yaml:"asset_b"`
}

// Strategy is the per-pair model and signal configuration.
type Strategy struct {
	Spread spread.Config `yaml:"spread"`
	Signal signal.Config `yaml:"signal"`
}

// DefaultStrategy returns the stock strategy.
func DefaultStrategy() Strategy {
	return Strategy{Spread: spread.DefaultConfig(), Signal: signal.DefaultConfig()}
}

func (s Strategy) Validate() error {
	if err := s.Spread.Validate(); err != nil {
		return fmt.Errorf("spread: %w", err)
	}
	if err := s.Signal.Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	return nil
}

// Step is what one tick produced.
type Step struct {
	Tick        models.Tick
	Observation *models.SpreadObservation
	Signal      *models.Signal
	// Refit is the new pair when a fit took effect on this tick.
	Refit    *models.Pair
	FitErr   error
	Tradable bool
}

// Pipeline owns the per-pair model state. It is driven by one goroutine.
type Pipeline struct {
	spec     Spec
	strategy Strategy
	log      *logger.Entry

	histA, histB []models.PricePoint
	pair         *models.Pair
	tracker      *spread.Tracker
	machine      *signal.Machine
	sinceFit     int
	last         time.Time
}

// New returns a pipeline awaiting its formation window.
func New(spec Spec, strategy Strategy, log *logger.Log) (*Pipeline, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("pair id is required")
	}
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("pair %s: %w", spec.ID, err)
	}
	machine, err := signal.NewMachine(spec.ID, strategy.Signal)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pipeline{
		spec:     spec,
		strategy: strategy,
		log:      log.WithComponent("pipeline").WithPair(spec.ID),
		machine:  machine,
	}, nil
}

func (p *Pipeline) ID() string { return p.spec.ID }

func (p *Pipeline) Spec() Spec { return p.spec }

func (p *Pipeline) Strategy() Strategy { return p.strategy }

// Pair returns the current fit, false before the first successful fit.
func (p *Pipeline) Pair() (models.Pair, bool) {
	if p.pair == nil {
		return models.Pair{}, false
	}
	return *p.pair, true
}

// State returns the signal machine state.
func (p *Pipeline) State() signal.State {
	return p.machine.State()
}

// Check validates a tick against the pipeline without touching state.
func (p *Pipeline) Check(tick models.Tick) error {
	if tick.PairID != p.spec.ID {
		return fmt.Errorf("%w %s: got %q", ErrWrongPair, p.spec.ID, tick.PairID)
	}
	if err := tick.Validate(); err != nil {
		return err
	}
	if a := tick.BookA.Asset; a != "" && p.spec.AssetA != "" && a != p.spec.AssetA {
		return fmt.Errorf("%w %s: book A is %s, want %s", ErrWrongPair, p.spec.ID, a, p.spec.AssetA)
	}
	if b := tick.BookB.Asset; b != "" && p.spec.AssetB != "" && b != p.spec.AssetB {
		return fmt.Errorf("%w %s: book B is %s, want %s", ErrWrongPair, p.spec.ID, b, p.spec.AssetB)
	}
	if !p.last.IsZero() && !tick.Timestamp().After(p.last) {
		return fmt.Errorf("%w: pair %s %v not after %v", spread.ErrOutOfOrder, p.spec.ID, tick.Timestamp(), p.last)
	}
	return nil
}

// Step consumes one tick. A rejected tick leaves the pipeline unchanged.
func (p *Pipeline) Step(tick models.Tick) (Step, error) {
	if err := p.Check(tick); err != nil {
		return Step{}, err
	}
	p.last = tick.Timestamp()
	p.histA = appendBounded(p.histA, tick.A, p.strategy.Spread.FitWindow)
	p.histB = appendBounded(p.histB, tick.B, p.strategy.Spread.FitWindow)

	out := Step{Tick: tick}
	p.sinceFit++
	if p.fitDue() {
		fresh, err := p.fit()
		if err != nil {
			out.FitErr = err
			p.log.WithError(err).Warn("fit failed; keeping previous model")
		} else {
			out.Refit = &fresh
			// the tracker was seeded through the previous tick
			p.sinceFit = 0
		}
	}
	if p.pair == nil {
		return out, nil
	}
	out.Tradable = p.pair.Tradable(p.strategy.Spread.Significance)

	obs, err := p.tracker.Update(tick.A.Price, tick.B.Price, tick.Timestamp())
	if errors.Is(err, spread.ErrInsufficientData) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Observation = &obs

	if sig, ok := p.machine.Observe(obs, out.Tradable); ok {
		out.Signal = &sig
	}
	return out, nil
}

func (p *Pipeline) fitDue() bool {
	if len(p.histA) < p.strategy.Spread.FitWindow {
		return false
	}
	if p.pair == nil {
		return true
	}
	interval := p.strategy.Spread.RefitInterval
	return interval > 0 && p.sinceFit >= interval
}

// fit refits on the trailing history and swaps in a seeded tracker.
func (p *Pipeline) fit() (models.Pair, error) {
	a := spread.Series{Asset: p.spec.AssetA, Points: p.histA}
	b := spread.Series{Asset: p.spec.AssetB, Points: p.histB}
	pair, err := spread.Fit(a, b, p.strategy.Spread.Params(p.spec.ID))
	if err != nil {
		return models.Pair{}, err
	}
	tracker, err := spread.NewTracker(pair)
	if err != nil {
		return models.Pair{}, err
	}

	n := len(p.histA) - 1
	from := n - pair.WindowSize
	if from < 0 {
		from = 0
	}
	prior := make([]float64, 0, n-from)
	for i := from; i < n; i++ {
		prior = append(prior, pair.Spread(p.histA[i].Price, p.histB[i].Price))
	}
	if n > 0 {
		tracker.Seed(prior, p.histA[n-1].Timestamp)
	}

	p.pair = &pair
	p.tracker = tracker
	p.log.WithFields(logger.Fields{
		"hedge_ratio":   pair.HedgeRatio,
		"intercept":     pair.Intercept,
		"p_value":       pair.PValue,
		"adf_statistic": pair.ADFStatistic,
		"adf_lags":      pair.ADFLags,
		"half_life":     pair.HalfLife,
		"tradable":      pair.Tradable(p.strategy.Spread.Significance),
		"fitted_at":     pair.FittedAt,
	}).Info("pair fitted")
	return pair, nil
}

func appendBounded(h []models.PricePoint, pt models.PricePoint, limit int) []models.PricePoint {
	h = append(h, pt)
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}
