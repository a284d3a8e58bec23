// Package signal turns spread z-scores into entry, exit and stop-loss signals.
package signal

import (
	"fmt"
	"math"

	"pairflow/models"
)

// State of one pair's machine.
type State string

const (
	StateFlat      State = "FLAT"
	StateLongOpen  State = "LONG_SPREAD_OPEN"
	StateShortOpen State = "SHORT_SPREAD_OPEN"
)

// ExitMode selects when an open spread is considered reverted.
type ExitMode string

const (
	// ExitBand exits once |z| is back inside ExitZ.
	ExitBand ExitMode = "band"
	// ExitZeroCross exits once z crosses zero.
	ExitZeroCross ExitMode = "zero_cross"
)

var transitions = map[State]map[models.SignalKind]State{
	StateFlat: {
		models.SignalEnterLong:  StateLongOpen,
		models.SignalEnterShort: StateShortOpen,
	},
	StateLongOpen: {
		models.SignalExit:     StateFlat,
		models.SignalStopLoss: StateFlat,
	},
	StateShortOpen: {
		models.SignalExit:     StateFlat,
		models.SignalStopLoss: StateFlat,
	},
}

// Config holds the thresholds of the machine.
type Config struct {
	EntryZ        float64  `yaml:"entry_z"`
	ExitZ         float64  `yaml:"exit_z"`
	StopLossZ     float64  `yaml:"stop_loss_z"`
	ExitMode      ExitMode `yaml:"exit_mode"`
	ConfidenceCap float64  `yaml:"confidence_cap"`
	MinConfidence float64  `yaml:"min_confidence"`
	CooldownTicks int      `yaml:"cooldown_ticks"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		EntryZ:        2.0,
		ExitZ:         0.5,
		StopLossZ:     3.5,
		ExitMode:      ExitBand,
		ConfidenceCap: 4.0,
	}
}

// Validate enforces 0 <= exit < entry < stop.
func (c Config) Validate() error {
	if c.ExitZ < 0 {
		return fmt.Errorf("exit_z must be >= 0")
	}
	if c.EntryZ <= c.ExitZ {
		return fmt.Errorf("entry_z (%v) must be greater than exit_z (%v)", c.EntryZ, c.ExitZ)
	}
	if c.StopLossZ <= c.EntryZ {
		return fmt.Errorf("stop_loss_z (%v) must be greater than entry_z (%v)", c.StopLossZ, c.EntryZ)
	}
	if c.ExitMode != ExitBand && c.ExitMode != ExitZeroCross {
		return fmt.Errorf("exit_mode '%s' is invalid", c.ExitMode)
	}
	if c.ConfidenceCap <= 0 {
		return fmt.Errorf("confidence_cap must be greater than 0")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0, 1]")
	}
	if c.CooldownTicks < 0 {
		return fmt.Errorf("cooldown_ticks must be >= 0")
	}
	return nil
}

// Machine is the per-pair signal state machine. It is not safe for
// concurrent use; each pair is driven by a single goroutine.
type Machine struct {
	pairID   string
	cfg      Config
	state    State
	cooldown int
}

// NewMachine returns a FLAT machine.
func NewMachine(pairID string, cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("signal config for %s: %w", pairID, err)
	}
	return &Machine{pairID: pairID, cfg: cfg, state: StateFlat}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Config returns the thresholds in use.
func (m *Machine) Config() Config {
	return m.cfg
}

// Observe evaluates one observation and returns at most one signal. Stop-loss
// has priority over exit, exit over entry. allowEntry false suppresses
// entries but never exits.
func (m *Machine) Observe(obs models.SpreadObservation, allowEntry bool) (models.Signal, bool) {
	z := obs.ZScore
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return models.Signal{}, false
	}
	if m.state == StateFlat && m.cooldown > 0 {
		m.cooldown--
		return models.Signal{}, false
	}

	kind, ok := m.evaluate(z, allowEntry)
	if !ok {
		return models.Signal{}, false
	}
	next, ok := transitions[m.state][kind]
	if !ok {
		return models.Signal{}, false
	}

	sig := m.signal(obs, kind)
	m.state = next
	if next == StateFlat {
		m.cooldown = m.cfg.CooldownTicks
	}
	return sig, true
}

func (m *Machine) evaluate(z float64, allowEntry bool) (models.SignalKind, bool) {
	c := m.cfg
	switch m.state {
	case StateShortOpen:
		if z >= c.StopLossZ {
			return models.SignalStopLoss, true
		}
		if z <= m.exitLevel(models.DirectionShort) {
			return models.SignalExit, true
		}
	case StateLongOpen:
		if z <= -c.StopLossZ {
			return models.SignalStopLoss, true
		}
		if z >= m.exitLevel(models.DirectionLong) {
			return models.SignalExit, true
		}
	case StateFlat:
		if !allowEntry || m.confidence(z) < c.MinConfidence {
			return "", false
		}
		if z >= c.EntryZ {
			return models.SignalEnterShort, true
		}
		if z <= -c.EntryZ {
			return models.SignalEnterLong, true
		}
	}
	return "", false
}

// exitLevel is the z-score at which a position in direction d is taken profit.
func (m *Machine) exitLevel(d models.Direction) float64 {
	if m.cfg.ExitMode == ExitZeroCross {
		return 0
	}
	if d == models.DirectionShort {
		return m.cfg.ExitZ
	}
	return -m.cfg.ExitZ
}

func (m *Machine) confidence(z float64) float64 {
	return math.Min(math.Abs(z)/m.cfg.ConfidenceCap, 1)
}

func (m *Machine) signal(obs models.SpreadObservation, kind models.SignalKind) models.Signal {
	dir := models.DirectionShort
	switch {
	case kind == models.SignalEnterLong, m.state == StateLongOpen:
		dir = models.DirectionLong
	}
	return models.Signal{
		PairID:      m.pairID,
		Timestamp:   obs.Timestamp,
		Kind:        kind,
		ZScore:      obs.ZScore,
		Confidence:  m.confidence(obs.ZScore),
		HedgeRatio:  obs.HedgeRatio,
		PriceA:      obs.PriceA,
		PriceB:      obs.PriceB,
		SpreadStd:   obs.Std,
		StopLossZ:   -dir.Sign() * m.cfg.StopLossZ,
		TakeProfitZ: m.exitLevel(dir),
	}
}
