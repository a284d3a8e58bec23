package spread

import "fmt"

// Config controls formation fits and the rolling window.
type Config struct {
	WindowSize   int     `yaml:"window_size"`
	FitWindow    int     `yaml:"fit_window"`
	Significance float64 `yaml:"significance"`
	ADFMaxLag    int     `yaml:"adf_max_lag"`
	// RefitInterval is the number of ticks between refits. Zero fits once.
	RefitInterval int `yaml:"refit_interval"`
}

// DefaultConfig returns a 20 observation z window over a 120 observation fit.
func DefaultConfig() Config {
	return Config{
		WindowSize:   20,
		FitWindow:    120,
		Significance: 0.05,
		ADFMaxLag:    -1,
	}
}

func (c Config) Validate() error {
	if c.FitWindow < MinFitWindow {
		return fmt.Errorf("fit_window must be at least %d", MinFitWindow)
	}
	if c.WindowSize < MinWindowSize {
		return fmt.Errorf("window_size must be at least %d", MinWindowSize)
	}
	if c.WindowSize > c.FitWindow {
		return fmt.Errorf("window_size (%d) must not exceed fit_window (%d)", c.WindowSize, c.FitWindow)
	}
	if c.Significance <= 0 || c.Significance >= 1 {
		return fmt.Errorf("significance must be within (0, 1)")
	}
	if c.RefitInterval < 0 {
		return fmt.Errorf("refit_interval must be >= 0")
	}
	return nil
}

// Params converts the config into fit parameters for a pair.
func (c Config) Params(pairID string) FitParams {
	return FitParams{
		PairID:     pairID,
		FitWindow:  c.FitWindow,
		WindowSize: c.WindowSize,
		MaxLag:     c.ADFMaxLag,
	}
}
