// Package backtest replays historical ticks through the full decision path.
// Pairs are stepped in parallel; decisions are applied to one shared risk
// manager strictly in (timestamp, pair id) order, so a run is reproducible.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pairflow/internal/pipeline"
	"pairflow/internal/report"
	"pairflow/internal/risk"
	"pairflow/logger"
	"pairflow/models"
)

// NonMonotonicTimeError reports a tick whose timestamp does not increase.
type NonMonotonicTimeError struct {
	PairID string
	Index  int
	Prev   time.Time
	Got    time.Time
}

func (e *NonMonotonicTimeError) Error() string {
	return fmt.Sprintf("pair %s: tick %d at %s is not after %s",
		e.PairID, e.Index, e.Got.Format(time.RFC3339Nano), e.Prev.Format(time.RFC3339Nano))
}

// Config controls a replay.
type Config struct {
	// Workers bounds the pairs stepped concurrently. Zero means one per pair.
	Workers            int  `yaml:"workers"`
	CloseOpenAtEnd     bool `yaml:"close_open_at_end"`
	RecordObservations bool `yaml:"record_observations"`
}

func DefaultConfig() Config {
	return Config{Workers: 4, CloseOpenAtEnd: true}
}

// Result is everything a run produced, in deterministic order.
type Result struct {
	Trades       []models.Trade             `json:"trades"`
	Equity       []models.EquityPoint       `json:"equity"`
	Decisions    []models.TradeDecision     `json:"decisions"`
	Signals      []models.Signal            `json:"signals"`
	Fits         []models.Pair              `json:"fits"`
	Observations []models.SpreadObservation `json:"observations,omitempty"`
}

// Report summarizes the run.
func (r *Result) Report(p report.Params) (report.Report, error) {
	return report.Compute(r.Trades, r.Equity, r.Signals, p)
}

// Engine holds the configuration of a replay. Each Run starts from scratch.
type Engine struct {
	cfg        Config
	riskCfg    risk.Config
	specs      []pipeline.Spec
	strategy   pipeline.Strategy
	strategies map[string]pipeline.Strategy
	log        *logger.Log
}

// New validates the configuration. strategies holds per-pair overrides of def.
func New(cfg Config, riskCfg risk.Config, specs []pipeline.Spec, def pipeline.Strategy, strategies map[string]pipeline.Strategy, log *logger.Log) (*Engine, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0")
	}
	if err := riskCfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	// fail early on bad strategies and duplicate ids
	if _, err := pipeline.Build(specs, def, strategies, log); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		riskCfg:    riskCfg,
		specs:      specs,
		strategy:   def,
		strategies: strategies,
		log:        log,
	}, nil
}

// event is one pipeline step tagged for the merge.
type event struct {
	ts   time.Time
	pair string
	step pipeline.Step
}

// Run replays history, keyed by pair id. Ticks for pairs that are not
// configured are an error.
func (e *Engine) Run(ctx context.Context, history map[string][]models.Tick) (*Result, error) {
	start := time.Now()
	log := e.log.WithComponent("backtest")

	registry, err := pipeline.Build(e.specs, e.strategy, e.strategies, e.log)
	if err != nil {
		return nil, err
	}
	for id := range history {
		if _, ok := registry.Get(id); !ok {
			return nil, fmt.Errorf("history for unknown pair %s", id)
		}
	}
	ids := registry.IDs()
	for _, id := range ids {
		if err := checkMonotonic(id, history[id]); err != nil {
			return nil, err
		}
	}

	perPair := make([][]event, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Workers > 0 {
		g.SetLimit(e.cfg.Workers)
	}
	for i, id := range ids {
		i, id := i, id
		p, _ := registry.Get(id)
		g.Go(func() error {
			events, err := replay(gctx, p, history[id])
			if err != nil {
				return err
			}
			perPair[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := merge(perPair)
	res, err := e.apply(ctx, events)
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"pairs":     len(ids),
		"events":    len(events),
		"trades":    len(res.Trades),
		"decisions": len(res.Decisions),
	}).Info("backtest complete")
	logger.LogPerformanceEntry(log, "backtest", "run", time.Since(start), logger.Fields{"events": len(events)})
	return res, nil
}

func checkMonotonic(pairID string, ticks []models.Tick) error {
	for i := 1; i < len(ticks); i++ {
		prev, got := ticks[i-1].Timestamp(), ticks[i].Timestamp()
		if !got.After(prev) {
			return &NonMonotonicTimeError{PairID: pairID, Index: i, Prev: prev, Got: got}
		}
	}
	return nil
}

// replay steps one pair's ticks through its pipeline.
func replay(ctx context.Context, p *pipeline.Pipeline, ticks []models.Tick) ([]event, error) {
	out := make([]event, 0, len(ticks))
	for i, tick := range ticks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		step, err := p.Step(tick)
		if err != nil {
			return nil, fmt.Errorf("pair %s tick %d: %w", p.ID(), i, err)
		}
		out = append(out, event{ts: tick.Timestamp(), pair: p.ID(), step: step})
	}
	return out, nil
}

// merge flattens per-pair events into one stream ordered by timestamp, then
// pair id. Per-pair slices are already in time order.
func merge(perPair [][]event) []event {
	n := 0
	for _, evs := range perPair {
		n += len(evs)
	}
	out := make([]event, 0, n)
	for _, evs := range perPair {
		out = append(out, evs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ts.Equal(out[j].ts) {
			return out[i].ts.Before(out[j].ts)
		}
		return out[i].pair < out[j].pair
	})
	return out
}

// apply runs the merged stream through a fresh risk manager and marks the
// account once per distinct timestamp.
func (e *Engine) apply(ctx context.Context, events []event) (*Result, error) {
	manager, err := risk.NewManager(e.riskCfg, e.log)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	marks := make(map[string]risk.Mark)
	lastTick := make(map[string]models.Tick)
	lastZ := make(map[string]float64)

	for i, ev := range events {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tick := ev.step.Tick
		marks[ev.pair] = risk.Mark{PriceA: tick.A.Price, PriceB: tick.B.Price}
		manager.SetMark(ev.pair, marks[ev.pair])
		lastTick[ev.pair] = tick

		if ev.step.Refit != nil {
			res.Fits = append(res.Fits, *ev.step.Refit)
		}
		if obs := ev.step.Observation; obs != nil {
			lastZ[ev.pair] = obs.ZScore
			if e.cfg.RecordObservations {
				res.Observations = append(res.Observations, *obs)
			}
		}
		if sig := ev.step.Signal; sig != nil {
			res.Signals = append(res.Signals, *sig)
			d, err := manager.OnSignal(*sig, tick.BookA, tick.BookB)
			if err != nil {
				return nil, err
			}
			res.Decisions = append(res.Decisions, d)
		}

		if i == len(events)-1 || !events[i+1].ts.Equal(ev.ts) {
			res.Equity = append(res.Equity, markAccount(manager, ev.ts, marks))
		}
	}

	if e.cfg.CloseOpenAtEnd && len(res.Equity) > 0 {
		for _, pos := range manager.Positions() {
			tick := lastTick[pos.PairID]
			d, err := manager.Close(pos.PairID, tick.Timestamp(), marks[pos.PairID], lastZ[pos.PairID],
				tick.BookA, tick.BookB, models.ExitReasonEndOfData)
			if err != nil {
				return nil, err
			}
			res.Decisions = append(res.Decisions, d)
		}
		last := &res.Equity[len(res.Equity)-1]
		*last = markAccount(manager, last.Timestamp, marks)
	}

	res.Trades = MergeTrades(manager.Trades())
	return res, nil
}

func markAccount(m *risk.Manager, ts time.Time, marks map[string]risk.Mark) models.EquityPoint {
	equity, unrealized, open := m.Equity(marks)
	return models.EquityPoint{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          m.Cash(),
		Unrealized:    unrealized,
		OpenPositions: open,
	}
}

// MergeTrades returns trades ordered by exit time, ties broken by pair id.
func MergeTrades(trades []models.Trade) []models.Trade {
	out := append([]models.Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExitTimestamp.Equal(out[j].ExitTimestamp) {
			return out[i].ExitTimestamp.Before(out[j].ExitTimestamp)
		}
		return out[i].PairID < out[j].PairID
	})
	return out
}
