package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pairflow/internal/backtest"
	"pairflow/internal/live"
	"pairflow/internal/pipeline"
	"pairflow/internal/report"
	"pairflow/internal/risk"
)

type Config struct {
	Pairflow  PairflowConfig    `yaml:"pairflow"`
	Logging   LoggingConfig     `yaml:"logging"`
	Strategy  pipeline.Strategy `yaml:"strategy"`
	Execution ExecutionConfig   `yaml:"execution"`
	Risk      risk.Config       `yaml:"risk"`
	Backtest  BacktestConfig    `yaml:"backtest"`
	Report    report.Params     `yaml:"report"`
	Pairs     []PairConfig      `yaml:"pairs"`
	Live      LiveConfig        `yaml:"live"`
	Storage   StorageConfig     `yaml:"storage"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

type PairflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type ExecutionConfig struct {
	MaxSlippage float64 `yaml:"max_slippage"`
	FeeBps      float64 `yaml:"fee_bps"`
}

type BacktestConfig struct {
	backtest.Config `yaml:",inline"`
	// History is the default JSON lines tick file.
	History string `yaml:"history"`
}

// PairConfig declares a traded pair. Overrides is decoded on top of the
// global strategy block.
type PairConfig struct {
	ID          string    `yaml:"id"`
	AssetA      string    `yaml:"asset_a"`
	AssetB      string    `yaml:"asset_b"`
	MaxExposure *float64  `yaml:"max_exposure"`
	Overrides   yaml.Node `yaml:"overrides"`
}

type LiveConfig struct {
	live.Config    `yaml:",inline"`
	FeedURL        string        `yaml:"feed_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	TickBuffer     int           `yaml:"tick_buffer"`
}

type StorageConfig struct {
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration with every default filled in and no pairs.
func Default() Config {
	r := risk.DefaultConfig()
	return Config{
		Pairflow: PairflowConfig{Name: "pairflow", Version: "dev"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout", MaxAge: 7},
		Strategy: pipeline.DefaultStrategy(),
		Execution: ExecutionConfig{
			MaxSlippage: r.MaxSlippage,
			FeeBps:      r.FeeBps,
		},
		Risk:     r,
		Backtest: BacktestConfig{Config: backtest.DefaultConfig()},
		Report:   report.DefaultParams(),
		Live: LiveConfig{
			Config:         live.DefaultConfig(),
			ReconnectDelay: 5 * time.Second,
			TickBuffer:     256,
		},
		Storage: StorageConfig{LocalDir: "output"},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "PairFlow"},
			Prometheus: PrometheusConfig{Addr: "0.0.0.0:2112"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML on the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	if v := os.Getenv("PAIRFLOW_FEED_URL"); v != "" {
		config.Live.FeedURL = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// Specs lists the configured pairs in file order.
func (c *Config) Specs() []pipeline.Spec {
	out := make([]pipeline.Spec, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, pipeline.Spec{ID: p.ID, AssetA: p.AssetA, AssetB: p.AssetB})
	}
	return out
}

// Strategies resolves the strategy of every pair that declares overrides.
func (c *Config) Strategies() (map[string]pipeline.Strategy, error) {
	out := make(map[string]pipeline.Strategy)
	for _, p := range c.Pairs {
		if p.Overrides.Kind == 0 {
			continue
		}
		st := c.Strategy
		if err := p.Overrides.Decode(&st); err != nil {
			return nil, fmt.Errorf("pairs.%s.overrides: %w", p.ID, err)
		}
		out[p.ID] = st
	}
	return out, nil
}

// RiskConfig merges execution limits and per-pair caps into the risk block.
func (c *Config) RiskConfig() risk.Config {
	r := c.Risk
	r.MaxSlippage = c.Execution.MaxSlippage
	r.FeeBps = c.Execution.FeeBps
	r.PairExposure = make(map[string]float64)
	for _, p := range c.Pairs {
		if p.MaxExposure != nil {
			r.PairExposure[p.ID] = *p.MaxExposure
		}
	}
	return r
}

func validateConfig(cfg *Config) error {
	if cfg.Pairflow.Name == "" {
		return fmt.Errorf("pairflow.name is required")
	}
	if cfg.Pairflow.Version == "" {
		return fmt.Errorf("pairflow.version is required")
	}

	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("at least one pair is required")
	}
	seen := make(map[string]bool, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		if p.ID == "" {
			return fmt.Errorf("pairs[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("pairs[%d].id '%s' is duplicated", i, p.ID)
		}
		seen[p.ID] = true
		if p.AssetA == "" || p.AssetB == "" {
			return fmt.Errorf("pairs.%s: asset_a and asset_b are required", p.ID)
		}
		if p.AssetA == p.AssetB {
			return fmt.Errorf("pairs.%s: asset_a and asset_b must differ", p.ID)
		}
	}

	if err := cfg.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy.%w", err)
	}
	strategies, err := cfg.Strategies()
	if err != nil {
		return err
	}
	for id, st := range strategies {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("pairs.%s.overrides.%w", id, err)
		}
	}
	if err := cfg.RiskConfig().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := cfg.Report.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if cfg.Backtest.Workers < 0 {
		return fmt.Errorf("backtest.workers must be >= 0")
	}
	if cfg.Live.TickBuffer <= 0 {
		return fmt.Errorf("live.tick_buffer must be greater than 0")
	}
	if cfg.Live.ReconnectDelay <= 0 {
		return fmt.Errorf("live.reconnect_delay must be greater than 0")
	}
	if cfg.Live.PublishRate < 0 || cfg.Live.MaxEquityPoints < 0 {
		return fmt.Errorf("live.publish_rate and live.max_equity_points must be >= 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}
	if cfg.Metrics.Prometheus.Enabled && cfg.Metrics.Prometheus.Addr == "" {
		return fmt.Errorf("metrics.prometheus.addr is required when prometheus is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
