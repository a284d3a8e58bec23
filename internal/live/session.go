// Package live runs the decision path against streaming ticks. Each pair is
// owned by one worker goroutine; the risk manager is the only shared state.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pairflow/internal/metrics"
	"pairflow/internal/pipeline"
	"pairflow/internal/report"
	"pairflow/internal/risk"
	"pairflow/logger"
	"pairflow/models"
)

// Sink receives session output. Calls come from pair workers concurrently.
type Sink interface {
	Observation(obs models.SpreadObservation)
	Decision(d models.TradeDecision)
	TickError(pairID string, err error)
}

// Config tunes output and retention.
type Config struct {
	// PublishRate limits observations per second sent to the sink. Zero is unlimited.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
	// MaxEquityPoints bounds the retained equity curve. Zero keeps everything.
	MaxEquityPoints int `yaml:"max_equity_points"`
}

func DefaultConfig() Config {
	return Config{PublishRate: 10, PublishBurst: 20, MaxEquityPoints: 100000}
}

// Session is one live run.
type Session struct {
	id       string
	cfg      Config
	registry *pipeline.Registry
	manager  *risk.Manager
	sink     Sink
	limiter  *rate.Limiter
	metrics  *metrics.Live
	log      *logger.Entry

	mu        sync.Mutex
	marks     map[string]risk.Mark
	equity    []models.EquityPoint
	decisions []models.TradeDecision
	signals   []models.Signal
}

// NewSession wires a session. sink and live may be nil.
func NewSession(cfg Config, registry *pipeline.Registry, manager *risk.Manager, sink Sink, live *metrics.Live, log *logger.Log) (*Session, error) {
	if registry == nil || manager == nil {
		return nil, fmt.Errorf("registry and risk manager are required")
	}
	if cfg.PublishRate < 0 || cfg.PublishBurst < 0 || cfg.MaxEquityPoints < 0 {
		return nil, fmt.Errorf("live config values must be >= 0")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if sink == nil {
		sink = NewLogSink(log)
	}
	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}
	burst := cfg.PublishBurst
	if burst == 0 {
		burst = 1
	}
	id := uuid.New().String()
	return &Session{
		id:       id,
		cfg:      cfg,
		registry: registry,
		manager:  manager,
		sink:     sink,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  live,
		log:      log.WithComponent("live").WithField("session_id", id),
		marks:    make(map[string]risk.Mark),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Run consumes one channel per pair until every channel is closed or ctx is
// done. A tick is either processed completely or not at all.
func (s *Session) Run(ctx context.Context, feeds map[string]<-chan models.Tick) error {
	ids := make([]string, 0, len(feeds))
	for id := range feeds {
		if _, ok := s.registry.Get(id); !ok {
			return fmt.Errorf("feed for unknown pair %s", id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.log.WithField("pairs", len(ids)).Info("live session started")

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		p, _ := s.registry.Get(id)
		ch := feeds[id]
		g.Go(func() error {
			return s.worker(gctx, p, ch)
		})
	}
	err := g.Wait()
	s.log.WithFields(logger.Fields{
		"trades":    len(s.manager.Trades()),
		"decisions": len(s.Decisions()),
	}).Info("live session stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) worker(ctx context.Context, p *pipeline.Pipeline, ticks <-chan models.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			s.process(p, tick)
		}
	}
}

// process runs one tick through the pipeline and the risk manager.
func (s *Session) process(p *pipeline.Pipeline, tick models.Tick) {
	step, err := p.Step(tick)
	if err != nil {
		s.metrics.TickError(p.ID())
		s.log.WithPair(p.ID()).WithError(err).Warn("tick skipped")
		s.sink.TickError(p.ID(), err)
		return
	}
	s.metrics.Tick(p.ID())

	if obs := step.Observation; obs != nil && s.limiter.Allow() {
		s.sink.Observation(*obs)
	}

	mark := risk.Mark{PriceA: tick.A.Price, PriceB: tick.B.Price}
	s.manager.SetMark(p.ID(), mark)

	var decision *models.TradeDecision
	if sig := step.Signal; sig != nil {
		s.metrics.Signal(*sig)
		// Step has already moved the machine. OnSignal fails only on bad
		// prices, hedge ratio or books, which Check and Fit rule out before
		// a signal exists.
		d, err := s.manager.OnSignal(*sig, tick.BookA, tick.BookB)
		if err != nil {
			s.metrics.TickError(p.ID())
			s.log.WithPair(p.ID()).WithError(err).Error("signal could not be evaluated")
			s.sink.TickError(p.ID(), err)
		} else {
			decision = &d
		}
	}

	s.mu.Lock()
	s.marks[p.ID()] = mark
	if step.Signal != nil {
		s.signals = append(s.signals, *step.Signal)
	}
	if decision != nil {
		s.decisions = append(s.decisions, *decision)
	}
	equity, unrealized, open := s.manager.Equity(s.marks)
	s.equity = append(s.equity, models.EquityPoint{
		Timestamp:     tick.Timestamp(),
		Equity:        equity,
		Cash:          s.manager.Cash(),
		Unrealized:    unrealized,
		OpenPositions: open,
	})
	if limit := s.cfg.MaxEquityPoints; limit > 0 && len(s.equity) > limit {
		s.equity = append(s.equity[:0:0], s.equity[len(s.equity)-limit:]...)
	}
	s.mu.Unlock()

	s.metrics.Equity(equity)
	if decision != nil {
		s.metrics.Decision(*decision)
		s.sink.Decision(*decision)
	}
}

// Trades returns a copy of the trade log.
func (s *Session) Trades() []models.Trade {
	return s.manager.Trades()
}

// Positions returns copies of the open positions.
func (s *Session) Positions() []models.Position {
	return s.manager.Positions()
}

// Equity returns a copy of the retained equity curve.
func (s *Session) Equity() []models.EquityPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EquityPoint(nil), s.equity...)
}

// Decisions returns a copy of the decisions made so far.
func (s *Session) Decisions() []models.TradeDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TradeDecision(nil), s.decisions...)
}

// Signals returns a copy of the signals emitted so far.
func (s *Session) Signals() []models.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Signal(nil), s.signals...)
}

// Report summarizes the session so far.
func (s *Session) Report(p report.Params) (report.Report, error) {
	return report.Compute(s.Trades(), s.Equity(), s.Signals(), p)
}

// LogSink writes session output to the logger.
type LogSink struct {
	log *logger.Entry
}

func NewLogSink(log *logger.Log) *LogSink {
	return &LogSink{log: log.WithComponent("live_sink")}
}

func (l *LogSink) Observation(obs models.SpreadObservation) {
	l.log.WithPair(obs.PairID).WithFields(logger.Fields{
		"zscore":    obs.ZScore,
		"spread":    obs.Spread,
		"timestamp": obs.Timestamp.Format(time.RFC3339Nano),
	}).Debug("spread observation")
}

func (l *LogSink) Decision(d models.TradeDecision) {
	l.log.WithPair(d.PairID).WithFields(logger.Fields{
		"signal":   string(d.Signal.Kind),
		"action":   string(d.Action),
		"accepted": d.Accepted,
		"reason":   string(d.Reason),
	}).Info("decision")
}

func (l *LogSink) TickError(pairID string, err error) {
	l.log.WithPair(pairID).WithError(err).Debug("tick error")
}
