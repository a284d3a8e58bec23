package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat"

	"pairflow/internal/pipeline"
	"pairflow/internal/report"
	"pairflow/internal/risk"
	"pairflow/internal/spread"
	"pairflow/models"
)

var epoch = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

const (
	fitWindow = 60
	zWindow   = 20
)

func strategy() pipeline.Strategy {
	st := pipeline.DefaultStrategy()
	st.Spread.FitWindow = fitWindow
	st.Spread.WindowSize = zWindow
	return st
}

func book(asset string, ts time.Time, price, depth float64) models.OrderBookSnapshot {
	return models.OrderBookSnapshot{
		Asset:     asset,
		Timestamp: ts,
		Bids:      []models.Level{{Price: price - 0.01, Quantity: depth}},
		Asks:      []models.Level{{Price: price + 0.01, Quantity: depth}},
	}
}

func tick(pairID string, ts time.Time, a, b, depth float64) models.Tick {
	return models.Tick{
		PairID: pairID,
		A:      models.PricePoint{Timestamp: ts, Price: a},
		B:      models.PricePoint{Timestamp: ts, Price: b},
		BookA:  book("A", ts, a, depth),
		BookB:  book("B", ts, b, depth),
	}
}

func legB(i int) float64 {
	return 100 + 3*math.Sin(float64(i)/5) + 0.05*float64(i)
}

// scenario builds a formation window of noisy cointegrated prices, then a
// trading segment whose spread is an exact deterministic path: calm
// alternation, an optional shock, a reversion to the mean, and a calm tail.
func scenario(t *testing.T, pairID string, seed int64, depth float64, shock bool, tail int) []models.Tick {
	t.Helper()
	size := 0.0
	if shock {
		size = 1.5
	}
	return shockScenario(t, pairID, seed, depth, size, tail)
}

// shockScenario is scenario with a spread shock of the given size; zero means
// no shock.
func shockScenario(t *testing.T, pairID string, seed int64, depth, size float64, tail int) []models.Tick {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var out []models.Tick
	for i := 0; i < fitWindow; i++ {
		noise := rng.NormFloat64() * 0.5
		if i == fitWindow-1 {
			noise = 0
		}
		b := legB(i)
		out = append(out, tick(pairID, epoch.Add(time.Duration(i)*time.Minute), b+noise, b, depth))
	}

	a := spread.Series{Points: make([]models.PricePoint, 0, fitWindow)}
	bs := spread.Series{Points: make([]models.PricePoint, 0, fitWindow)}
	for _, tk := range out {
		a.Points = append(a.Points, tk.A)
		bs.Points = append(bs.Points, tk.B)
	}
	pair, err := spread.Fit(a, bs, strategy().Spread.Params(pairID))
	if err != nil {
		t.Fatalf("formation fit: %v", err)
	}
	if !pair.Tradable(strategy().Spread.Significance) {
		t.Fatalf("formation window not cointegrated: p=%v", pair.PValue)
	}

	var path []float64
	for i := 0; i < calmTicks; i++ {
		path = append(path, calm(i))
	}
	if size != 0 {
		path = append(path, size, 0)
	}
	for i := 0; i < tail; i++ {
		path = append(path, calm(i))
	}
	for j, s := range path {
		i := fitWindow + j
		b := legB(i)
		out = append(out, tick(pairID, epoch.Add(time.Duration(i)*time.Minute), pair.HedgeRatio*b+pair.Intercept+s, b, depth))
	}
	return out
}

const calmTicks = 30

// calmSigma is the standard deviation of the calm spread over one z window.
func calmSigma() float64 {
	w := make([]float64, zWindow)
	for i := range w {
		w[i] = calm(calmTicks - zWindow + i)
	}
	return stat.StdDev(w, nil)
}

func calm(i int) float64 {
	if i%2 == 0 {
		return 0.3
	}
	return -0.3
}

func newEngine(t *testing.T, cfg Config, ids ...string) *Engine {
	t.Helper()
	specs := make([]pipeline.Spec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, pipeline.Spec{ID: id, AssetA: "A", AssetB: "B"})
	}
	e, err := New(cfg, risk.DefaultConfig(), specs, strategy(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestShockEntersShortAndExitsWithProfit(t *testing.T) {
	e := newEngine(t, DefaultConfig(), "AB")
	ticks := scenario(t, "AB", 7, 1e6, true, 10)
	res, err := e.Run(context.Background(), map[string][]models.Tick{"AB": ticks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Decisions) != 2 {
		for _, d := range res.Decisions {
			t.Logf("%v %s z=%.3f %s", d.Timestamp, d.Signal.Kind, d.Signal.ZScore, d.Reason)
		}
		t.Fatalf("decisions = %d, want 2", len(res.Decisions))
	}
	enter, exit := res.Decisions[0], res.Decisions[1]
	if enter.Signal.Kind != models.SignalEnterShort || !enter.Accepted || enter.Action != models.ActionOpen {
		t.Fatalf("first decision = %s accepted=%v", enter.Signal.Kind, enter.Accepted)
	}
	if enter.Signal.ZScore < 2 || enter.Signal.ZScore >= 3.5 {
		t.Errorf("entry z = %v", enter.Signal.ZScore)
	}
	if exit.Signal.Kind != models.SignalExit || !exit.Accepted || exit.Action != models.ActionClose {
		t.Fatalf("second decision = %s accepted=%v", exit.Signal.Kind, exit.Accepted)
	}
	if !exit.Timestamp.Equal(enter.Timestamp.Add(time.Minute)) {
		t.Errorf("exit at %v, entry at %v", exit.Timestamp, enter.Timestamp)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.RealizedPnl <= 0 {
		t.Fatalf("realized pnl = %v, want > 0", trade.RealizedPnl)
	}
	if trade.ExitReason != models.ExitReasonExit || trade.Entry.Direction != models.DirectionShort {
		t.Errorf("trade = %s %s", trade.Entry.Direction, trade.ExitReason)
	}
	if trade.Entry.QuantityA >= 0 || trade.Entry.QuantityB <= 0 {
		t.Errorf("short spread legs = %v/%v", trade.Entry.QuantityA, trade.Entry.QuantityB)
	}

	if len(res.Equity) != len(ticks) {
		t.Fatalf("equity points = %d, want %d", len(res.Equity), len(ticks))
	}
	final := res.Equity[len(res.Equity)-1]
	want := risk.DefaultConfig().InitialCapital + trade.RealizedPnl
	if math.Abs(final.Equity-want) > 1e-6 || final.OpenPositions != 0 {
		t.Errorf("final equity = %+v, want %v", final, want)
	}
	if len(res.Fits) != 1 {
		t.Errorf("fits = %d, want 1", len(res.Fits))
	}

	rep, err := res.Report(report.DefaultParams())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Trades != 1 || rep.WinRate != 1 || !math.IsInf(rep.ProfitFactor, 1) {
		t.Errorf("report = %+v", rep)
	}
}

func TestThreeSigmaShockRoundTrip(t *testing.T) {
	ticks := shockScenario(t, "AB", 7, 1e6, 3*calmSigma(), 10)
	res, err := newEngine(t, DefaultConfig(), "AB").Run(context.Background(), map[string][]models.Tick{"AB": ticks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var entries, exits int
	for _, d := range res.Decisions {
		switch {
		case d.Signal.Kind.IsEntry():
			entries++
			if d.Signal.Kind != models.SignalEnterShort || !d.Accepted {
				t.Errorf("entry = %s accepted=%v reason=%s", d.Signal.Kind, d.Accepted, d.Reason)
			}
		case d.Signal.Kind.IsClose():
			exits++
			if d.Signal.Kind != models.SignalExit || !d.Accepted {
				t.Errorf("exit = %s accepted=%v reason=%s", d.Signal.Kind, d.Accepted, d.Reason)
			}
		}
	}
	if entries != 1 || exits != 1 {
		t.Fatalf("entries = %d exits = %d, want exactly one of each", entries, exits)
	}
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != models.ExitReasonExit {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if res.Trades[0].RealizedPnl <= 0 {
		t.Errorf("realized pnl = %v, want > 0", res.Trades[0].RealizedPnl)
	}

	rep, err := res.Report(report.DefaultParams())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Signals.Total != 2 || rep.Signals.ShortEntries != 1 || rep.Signals.Exits != 1 {
		t.Errorf("signal stats = %+v", rep.Signals)
	}
}

func TestThinBookRejectsEntry(t *testing.T) {
	e := newEngine(t, DefaultConfig(), "AB")
	ticks := scenario(t, "AB", 7, 2, true, 4)
	res, err := e.Run(context.Background(), map[string][]models.Tick{"AB": ticks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(res.Decisions))
	}
	if d := res.Decisions[0]; d.Accepted || d.Reason != models.ReasonInsufficientLiquidity {
		t.Errorf("entry decision = %+v", d)
	}
	if d := res.Decisions[1]; d.Accepted || d.Reason != models.ReasonNoPositionToClose {
		t.Errorf("exit decision = %+v", d)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d", len(res.Trades))
	}
	for _, pt := range res.Equity {
		if pt.Equity != risk.DefaultConfig().InitialCapital {
			t.Fatalf("equity moved without a position: %+v", pt)
		}
	}
}

func TestCloseOpenAtEnd(t *testing.T) {
	ticks := scenario(t, "AB", 7, 1e6, true, 0)
	// drop the reversion tick so the short is still open at the end
	ticks = ticks[:len(ticks)-1]

	res, err := newEngine(t, Config{CloseOpenAtEnd: true}, "AB").Run(context.Background(), map[string][]models.Tick{"AB": ticks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != models.ExitReasonEndOfData {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if last := res.Equity[len(res.Equity)-1]; last.OpenPositions != 0 {
		t.Errorf("last equity point still open: %+v", last)
	}

	res, err = newEngine(t, Config{}, "AB").Run(context.Background(), map[string][]models.Tick{"AB": ticks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d, want 0", len(res.Trades))
	}
	if last := res.Equity[len(res.Equity)-1]; last.OpenPositions != 1 {
		t.Errorf("position should remain open: %+v", last)
	}
}

func TestDeterministicAcrossRunsAndWorkers(t *testing.T) {
	history := map[string][]models.Tick{
		"AB": scenario(t, "AB", 7, 1e6, true, 10),
		"CD": scenario(t, "CD", 8, 1e6, true, 6),
		"EF": scenario(t, "EF", 9, 1e6, false, 12),
	}
	run := func(workers int) []byte {
		cfg := DefaultConfig()
		cfg.Workers = workers
		cfg.RecordObservations = true
		res, err := newEngine(t, cfg, "EF", "AB", "CD").Run(context.Background(), history)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		out, err := json.Marshal(res)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return out
	}
	first := run(4)
	for _, workers := range []int{4, 1, 0} {
		if got := run(workers); !bytes.Equal(first, got) {
			t.Fatalf("output differs with %d workers", workers)
		}
	}
}

func TestMergeOrder(t *testing.T) {
	history := map[string][]models.Tick{
		"CD": scenario(t, "CD", 8, 1e6, true, 6),
		"AB": scenario(t, "AB", 7, 1e6, true, 6),
	}
	res, err := newEngine(t, DefaultConfig(), "AB", "CD").Run(context.Background(), history)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// both pairs share timestamps: one equity point per distinct timestamp
	if len(res.Equity) != len(history["AB"]) {
		t.Fatalf("equity points = %d, want %d", len(res.Equity), len(history["AB"]))
	}
	for i := 1; i < len(res.Equity); i++ {
		if !res.Equity[i].Timestamp.After(res.Equity[i-1].Timestamp) {
			t.Fatalf("equity not increasing at %d", i)
		}
	}
	for i := 1; i < len(res.Decisions); i++ {
		prev, cur := res.Decisions[i-1], res.Decisions[i]
		if cur.Timestamp.Before(prev.Timestamp) || cur.Timestamp.Equal(prev.Timestamp) && cur.PairID < prev.PairID {
			t.Fatalf("decisions out of order at %d: %s@%v after %s@%v", i, cur.PairID, cur.Timestamp, prev.PairID, prev.Timestamp)
		}
	}
	if len(res.Trades) != 2 || res.Trades[0].PairID != "AB" || res.Trades[1].PairID != "CD" {
		t.Fatalf("trades = %+v", res.Trades)
	}
}

func TestNonMonotonicTime(t *testing.T) {
	ticks := scenario(t, "CD", 8, 1e6, false, 0)
	ticks[5] = ticks[4]

	_, err := newEngine(t, DefaultConfig(), "CD").Run(context.Background(), map[string][]models.Tick{"CD": ticks})
	var nm *NonMonotonicTimeError
	if !errors.As(err, &nm) {
		t.Fatalf("err = %v, want NonMonotonicTimeError", err)
	}
	if nm.PairID != "CD" || nm.Index != 5 || !nm.Got.Equal(ticks[4].Timestamp()) {
		t.Fatalf("error = %+v", nm)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	e := newEngine(t, DefaultConfig(), "AB")
	if _, err := e.Run(context.Background(), map[string][]models.Tick{"XY": nil}); err == nil {
		t.Fatalf("expected unknown pair error")
	}

	ticks := scenario(t, "AB", 7, 1e6, false, 0)
	ticks[3].B.Price = -1
	if _, err := e.Run(context.Background(), map[string][]models.Tick{"AB": ticks}); !errors.Is(err, models.ErrInvalidTick) {
		t.Fatalf("err = %v, want ErrInvalidTick", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, map[string][]models.Tick{"AB": scenario(t, "AB", 7, 1e6, false, 0)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if _, err := New(DefaultConfig(), risk.DefaultConfig(), []pipeline.Spec{{ID: "AB"}, {ID: "AB"}}, strategy(), nil, nil); err == nil {
		t.Fatalf("expected duplicate pair error")
	}
}

func TestMergeTrades(t *testing.T) {
	at := func(m int) time.Time { return epoch.Add(time.Duration(m) * time.Minute) }
	in := []models.Trade{
		{PairID: "CD", ExitTimestamp: at(2)},
		{PairID: "AB", ExitTimestamp: at(3)},
		{PairID: "AB", ExitTimestamp: at(2)},
	}
	got := MergeTrades(in)
	want := []models.Trade{in[2], in[0], in[1]}
	for i := range want {
		if got[i].PairID != want[i].PairID || !got[i].ExitTimestamp.Equal(want[i].ExitTimestamp) {
			t.Fatalf("trade %d = %s@%v, want %s@%v", i, got[i].PairID, got[i].ExitTimestamp, want[i].PairID, want[i].ExitTimestamp)
		}
	}
	if in[0].PairID != "CD" {
		t.Fatalf("input was reordered")
	}
}
