package risk

import "fmt"

// SizingRule selects how an entry's notional is computed.
type SizingRule string

const (
	// SizeFixedFraction commits a fixed fraction of capital per entry.
	SizeFixedFraction SizingRule = "fixed_fraction"
	// SizeVolatilityScaled sizes so that hitting the stop loses RiskPerTrade of capital.
	SizeVolatilityScaled SizingRule = "volatility_scaled"
)

// SizingConfig parameterizes the sizing rule.
type SizingConfig struct {
	Rule              SizingRule `yaml:"rule"`
	Fraction          float64    `yaml:"fraction"`
	RiskPerTrade      float64    `yaml:"risk_per_trade"`
	ScaleByConfidence bool       `yaml:"scale_by_confidence"`
}

// Config holds the limits the manager enforces. A cap of zero is unlimited.
type Config struct {
	InitialCapital       float64      `yaml:"initial_capital"`
	Sizing               SizingConfig `yaml:"sizing"`
	MaxExposurePerPair   float64      `yaml:"max_exposure_per_pair"`
	MaxAggregateExposure float64      `yaml:"max_aggregate_exposure"`
	// MaxLeverage caps open notional, including the entry, over marked equity.
	MaxLeverage float64 `yaml:"max_leverage"`
	// MinLiquidityRatio requires visible depth on the taken side of each leg
	// to be at least this multiple of the leg quantity.
	MinLiquidityRatio float64 `yaml:"min_liquidity_ratio"`
	MaxSlippage          float64      `yaml:"-"`
	FeeBps               float64      `yaml:"-"`
	// PairExposure overrides MaxExposurePerPair for individual pairs.
	PairExposure map[string]float64 `yaml:"-"`
}

// DefaultConfig returns stock limits for a 100k account.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		Sizing: SizingConfig{
			Rule:         SizeFixedFraction,
			Fraction:     0.1,
			RiskPerTrade: 0.01,
		},
		MaxExposurePerPair:   25000,
		MaxAggregateExposure: 100000,
		MaxLeverage:          2,
		MinLiquidityRatio:    3,
		MaxSlippage:          0.005,
		FeeBps:               1,
	}
}

// Validate checks the limits for consistency.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be greater than 0")
	}
	switch c.Sizing.Rule {
	case SizeFixedFraction, SizeVolatilityScaled:
	default:
		return fmt.Errorf("sizing.rule '%s' is invalid", c.Sizing.Rule)
	}
	if c.Sizing.Fraction <= 0 || c.Sizing.Fraction > 1 {
		return fmt.Errorf("sizing.fraction must be within (0, 1]")
	}
	if c.Sizing.Rule == SizeVolatilityScaled && (c.Sizing.RiskPerTrade <= 0 || c.Sizing.RiskPerTrade > 1) {
		return fmt.Errorf("sizing.risk_per_trade must be within (0, 1]")
	}
	if c.MaxExposurePerPair < 0 || c.MaxAggregateExposure < 0 {
		return fmt.Errorf("exposure caps must be >= 0")
	}
	if c.MaxLeverage < 0 {
		return fmt.Errorf("max_leverage must be >= 0")
	}
	if c.MinLiquidityRatio < 0 {
		return fmt.Errorf("min_liquidity_ratio must be >= 0")
	}
	for id, v := range c.PairExposure {
		if v < 0 {
			return fmt.Errorf("max_exposure for pair %s must be >= 0", id)
		}
	}
	if c.MaxSlippage < 0 {
		return fmt.Errorf("max_slippage must be >= 0")
	}
	if c.FeeBps < 0 {
		return fmt.Errorf("fee_bps must be >= 0")
	}
	return nil
}

func (c Config) pairCap(pairID string) float64 {
	if v, ok := c.PairExposure[pairID]; ok {
		return v
	}
	return c.MaxExposurePerPair
}
