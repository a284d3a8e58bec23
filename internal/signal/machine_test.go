package signal

import (
	"testing"
	"time"

	"pairflow/models"
)

var epoch = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func run(t *testing.T, cfg Config, zs []float64, allowEntry bool) []models.SignalKind {
	t.Helper()
	m, err := NewMachine("AB", cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	var out []models.SignalKind
	for i, z := range zs {
		obs := models.SpreadObservation{PairID: "AB", Timestamp: epoch.Add(time.Duration(i) * time.Second), ZScore: z, Std: 1}
		if sig, ok := m.Observe(obs, allowEntry); ok {
			out = append(out, sig.Kind)
		}
	}
	return out
}

func equalKinds(a, b []models.SignalKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMachineSequences(t *testing.T) {
	cases := []struct {
		name string
		zs   []float64
		want []models.SignalKind
	}{
		{"quiet", []float64{0, 1, -1.5, 1.9}, nil},
		{"short round trip", []float64{0, 2.1, 1.0, 0.4}, []models.SignalKind{models.SignalEnterShort, models.SignalExit}},
		{"long round trip", []float64{-2.0, -1.0, -0.5}, []models.SignalKind{models.SignalEnterLong, models.SignalExit}},
		{"short stop", []float64{2.5, 3.0, 3.6, 0}, []models.SignalKind{models.SignalEnterShort, models.SignalStopLoss}},
		{"long stop", []float64{-2.5, -3.5}, []models.SignalKind{models.SignalEnterLong, models.SignalStopLoss}},
		{"entry beyond stop is still an entry", []float64{5}, []models.SignalKind{models.SignalEnterShort}},
		{"no re-entry on exit tick", []float64{2.2, -2.5}, []models.SignalKind{models.SignalEnterShort, models.SignalExit}},
		{"re-entry on next tick", []float64{2.2, -2.5, -2.5}, []models.SignalKind{models.SignalEnterShort, models.SignalExit, models.SignalEnterLong}},
		{"no pyramiding", []float64{2.2, 2.4, 2.9}, []models.SignalKind{models.SignalEnterShort}},
	}
	for _, c := range cases {
		got := run(t, DefaultConfig(), c.zs, true)
		if !equalKinds(got, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestStopLossBeatsExit(t *testing.T) {
	cfg := Config{EntryZ: 1, ExitZ: 0.5, StopLossZ: 2, ExitMode: ExitZeroCross, ConfidenceCap: 4}
	m, err := NewMachine("AB", cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	m.Observe(models.SpreadObservation{ZScore: -1.5}, true)
	if m.State() != StateLongOpen {
		t.Fatalf("state = %s, want %s", m.State(), StateLongOpen)
	}
	sig, ok := m.Observe(models.SpreadObservation{ZScore: -2.5}, true)
	if !ok || sig.Kind != models.SignalStopLoss {
		t.Fatalf("got %v %v, want STOP_LOSS", sig.Kind, ok)
	}
}

func TestZeroCrossExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExitMode = ExitZeroCross
	got := run(t, cfg, []float64{2.1, 0.4, 0.1, -0.1}, true)
	want := []models.SignalKind{models.SignalEnterShort, models.SignalExit}
	if !equalKinds(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUntradableSuppressesEntriesOnly(t *testing.T) {
	m, _ := NewMachine("AB", DefaultConfig())
	if _, ok := m.Observe(models.SpreadObservation{ZScore: 3}, false); ok {
		t.Fatalf("entry emitted while not tradable")
	}
	m.Observe(models.SpreadObservation{ZScore: 3}, true)
	sig, ok := m.Observe(models.SpreadObservation{ZScore: 0}, false)
	if !ok || sig.Kind != models.SignalExit {
		t.Fatalf("exit suppressed while not tradable")
	}
}

func TestCooldownAndMinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownTicks = 2
	got := run(t, cfg, []float64{2.2, 0, 2.2, 2.2, 2.2}, true)
	want := []models.SignalKind{models.SignalEnterShort, models.SignalExit, models.SignalEnterShort}
	if !equalKinds(got, want) {
		t.Fatalf("cooldown: got %v, want %v", got, want)
	}

	cfg = DefaultConfig()
	cfg.MinConfidence = 0.6
	got = run(t, cfg, []float64{2.2, 2.5}, true)
	want = []models.SignalKind{models.SignalEnterShort}
	if !equalKinds(got, want) {
		t.Fatalf("min confidence: got %v, want %v", got, want)
	}
}

func TestSignalFields(t *testing.T) {
	m, _ := NewMachine("AB", DefaultConfig())
	obs := models.SpreadObservation{Timestamp: epoch, ZScore: 5, Std: 0.7, PriceA: 10, PriceB: 20, HedgeRatio: 0.5}
	sig, ok := m.Observe(obs, true)
	if !ok {
		t.Fatalf("expected signal")
	}
	if sig.Confidence != 1 {
		t.Errorf("confidence = %v, want 1 (capped)", sig.Confidence)
	}
	if sig.StopLossZ != 3.5 || sig.TakeProfitZ != 0.5 {
		t.Errorf("short levels = %v/%v", sig.StopLossZ, sig.TakeProfitZ)
	}
	if sig.PairID != "AB" || !sig.Timestamp.Equal(epoch) || sig.SpreadStd != 0.7 || sig.HedgeRatio != 0.5 {
		t.Errorf("unexpected signal %+v", sig)
	}

	long, _ := NewMachine("AB", DefaultConfig())
	sig, _ = long.Observe(models.SpreadObservation{ZScore: -2}, true)
	if sig.StopLossZ != -3.5 || sig.TakeProfitZ != -0.5 || sig.Confidence != 0.5 {
		t.Errorf("long signal %+v", sig)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{EntryZ: 2, ExitZ: 2, StopLossZ: 3, ExitMode: ExitBand, ConfidenceCap: 4},
		{EntryZ: 2, ExitZ: 0.5, StopLossZ: 2, ExitMode: ExitBand, ConfidenceCap: 4},
		{EntryZ: 2, ExitZ: -0.1, StopLossZ: 3, ExitMode: ExitBand, ConfidenceCap: 4},
		{EntryZ: 2, ExitZ: 0.5, StopLossZ: 3, ExitMode: "sideways", ConfidenceCap: 4},
		{EntryZ: 2, ExitZ: 0.5, StopLossZ: 3, ExitMode: ExitBand, ConfidenceCap: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
