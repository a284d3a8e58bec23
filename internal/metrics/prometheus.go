// Package metrics exports live counters to prometheus and run reports to
// CloudWatch.
//
// Registers:
//
//	#pairflow_ticks_total
//	#pairflow_tick_errors_total
//	#pairflow_signals_total
//	#pairflow_decisions_total
//	#pairflow_equity
//	#go_* and process_* system metrics after RegisterRuntime
//
// Serve exposes them over HTTP using the Prometheus handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairflow/logger"
	"pairflow/models"
)

// Live holds the counters of a live session. A nil *Live records nothing.
type Live struct {
	ticks      *prometheus.CounterVec
	tickErrors *prometheus.CounterVec
	signals    *prometheus.CounterVec
	decisions  *prometheus.CounterVec
	equity     prometheus.Gauge
}

// NewLive creates the counters and registers them on reg.
func NewLive(reg prometheus.Registerer) (*Live, error) {
	l := &Live{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairflow_ticks_total",
			Help: "Number of ticks processed",
		}, []string{"pair"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairflow_tick_errors_total",
			Help: "Number of ticks rejected as malformed or out of order",
		}, []string{"pair"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairflow_signals_total",
			Help: "Number of signals emitted",
		}, []string{"pair", "kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairflow_decisions_total",
			Help: "Number of risk decisions by outcome",
		}, []string{"pair", "action", "reason"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairflow_equity",
			Help: "Marked account equity",
		}),
	}
	for _, c := range []prometheus.Collector{l.ticks, l.tickErrors, l.signals, l.decisions, l.equity} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// RegisterRuntime adds the go and process collectors. Collectors already on
// reg are left as they are.
func RegisterRuntime(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (l *Live) Tick(pairID string) {
	if l != nil {
		l.ticks.WithLabelValues(pairID).Inc()
	}
}

func (l *Live) TickError(pairID string) {
	if l != nil {
		l.tickErrors.WithLabelValues(pairID).Inc()
	}
}

func (l *Live) Signal(sig models.Signal) {
	if l != nil {
		l.signals.WithLabelValues(sig.PairID, string(sig.Kind)).Inc()
	}
}

func (l *Live) Decision(d models.TradeDecision) {
	if l != nil {
		l.decisions.WithLabelValues(d.PairID, string(d.Action), string(d.Reason)).Inc()
	}
}

func (l *Live) Equity(v float64) {
	if l != nil {
		l.equity.Set(v)
	}
}

// Serve exposes gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	log := logger.GetLogger().WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
