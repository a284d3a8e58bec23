package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `pairflow:
  name: "TestApp"
  version: "1.0"
pairs:
  - id: ETHBTC
    asset_a: ETH
    asset_b: BTC
`

// writeTempConfig writes content to a config file in a temp dir and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pairflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Pairflow.Name)
	}
	if cfg.Strategy.Signal.EntryZ != 2.0 || cfg.Strategy.Spread.WindowSize != 20 {
		t.Errorf("strategy defaults not applied: %+v", cfg.Strategy)
	}
	if cfg.Backtest.Workers != 4 || !cfg.Backtest.CloseOpenAtEnd {
		t.Errorf("backtest defaults not applied: %+v", cfg.Backtest)
	}
	if cfg.Live.ReconnectDelay != 5*time.Second || cfg.Live.TickBuffer != 256 {
		t.Errorf("live defaults not applied: %+v", cfg.Live)
	}
	if cfg.Report.AnnualizationFactor != 252 {
		t.Errorf("unexpected annualization factor: %v", cfg.Report.AnnualizationFactor)
	}
	specs := cfg.Specs()
	if len(specs) != 1 || specs[0].ID != "ETHBTC" || specs[0].AssetA != "ETH" {
		t.Errorf("unexpected specs: %+v", specs)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	content := `pairflow:
  name: "TestApp"
  version: "1.0"
strategy:
  signal:
    entry_z: 2.5
    stop_loss_z: 4.0
execution:
  max_slippage: 0.01
  fee_bps: 2
backtest:
  workers: 2
  history: data/ticks.jsonl
live:
  reconnect_delay: 2s
  publish_rate: 0
pairs:
  - id: ETHBTC
    asset_a: ETH
    asset_b: BTC
    max_exposure: 5000
  - id: SOLETH
    asset_a: SOL
    asset_b: ETH
    overrides:
      spread:
        window_size: 30
      signal:
        exit_mode: zero_cross
`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Backtest.Workers != 2 || cfg.Backtest.History != "data/ticks.jsonl" {
		t.Errorf("unexpected backtest block: %+v", cfg.Backtest)
	}
	if cfg.Live.ReconnectDelay != 2*time.Second || cfg.Live.PublishRate != 0 {
		t.Errorf("unexpected live block: %+v", cfg.Live)
	}

	strategies, err := cfg.Strategies()
	if err != nil {
		t.Fatalf("Strategies: %v", err)
	}
	if _, ok := strategies["ETHBTC"]; ok {
		t.Errorf("pair without overrides should use the global strategy")
	}
	sol := strategies["SOLETH"]
	if sol.Spread.WindowSize != 30 || sol.Signal.ExitMode != "zero_cross" {
		t.Errorf("overrides not applied: %+v", sol)
	}
	if sol.Signal.EntryZ != 2.5 || sol.Spread.FitWindow != cfg.Strategy.Spread.FitWindow {
		t.Errorf("overrides should inherit the global strategy: %+v", sol)
	}
	if cfg.Strategy.Spread.WindowSize != 20 {
		t.Errorf("global strategy modified by overrides")
	}

	r := cfg.RiskConfig()
	if r.MaxSlippage != 0.01 || r.FeeBps != 2 {
		t.Errorf("execution limits not merged: %+v", r)
	}
	if r.PairExposure["ETHBTC"] != 5000 {
		t.Errorf("pair cap not merged: %+v", r.PairExposure)
	}
	if _, ok := r.PairExposure["SOLETH"]; ok {
		t.Errorf("unexpected pair cap for SOLETH")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	content := minimalYAML + `storage:
  s3:
    enabled: true
    bucket: from-file
    region: us-east-1
metrics:
  cloudwatch:
    enabled: true
`
	t.Setenv("AWS_ACCESS_KEY_ID", " key ")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_BUCKET", "pairflow-results")
	t.Setenv("PAIRFLOW_FEED_URL", "ws://localhost:9000/ticks")

	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	s3 := cfg.Storage.S3
	if s3.AccessKeyID != "key" || s3.SecretAccessKey != "secret" || s3.Region != "eu-west-1" || s3.Bucket != "pairflow-results" {
		t.Errorf("unexpected s3 config: %+v", s3)
	}
	if cfg.Metrics.CloudWatch.Region != "eu-west-1" {
		t.Errorf("unexpected cloudwatch region: %s", cfg.Metrics.CloudWatch.Region)
	}
	if cfg.Live.FeedURL != "ws://localhost:9000/ticks" {
		t.Errorf("unexpected feed url: %s", cfg.Live.FeedURL)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no pairs", "pairflow:\n  name: x\n  version: \"1\"\n", "at least one pair"},
		{"duplicate pair", minimalYAML + "  - id: ETHBTC\n    asset_a: ETH\n    asset_b: BTC\n", "duplicated"},
		{"same legs", "pairs:\n  - id: X\n    asset_a: ETH\n    asset_b: ETH\n", "must differ"},
		{"bad thresholds", minimalYAML + "strategy:\n  signal:\n    entry_z: 0.4\n", "entry_z"},
		{"bad override", minimalYAML + "  - id: Y\n    asset_a: A\n    asset_b: B\n    overrides:\n      spread:\n        window_size: 500\n", "pairs.Y.overrides"},
		{"bad sizing", minimalYAML + "risk:\n  sizing:\n    rule: martingale\n", "sizing.rule"},
		{"negative fee", minimalYAML + "execution:\n  fee_bps: -1\n", "fee_bps"},
		{"negative leverage", minimalYAML + "risk:\n  max_leverage: -1\n", "max_leverage"},
		{"negative liquidity ratio", minimalYAML + "risk:\n  min_liquidity_ratio: -2\n", "min_liquidity_ratio"},
		{"bad var confidence", minimalYAML + "report:\n  var_confidence: 1.5\n", "report"},
		{"s3 without bucket", minimalYAML + "storage:\n  s3:\n    enabled: true\n    region: us-east-1\n", "bucket is required"},
		{"s3 bad bucket", minimalYAML + "storage:\n  s3:\n    enabled: true\n    region: us-east-1\n    bucket: Bad_Bucket\n", "is invalid"},
		{"tick buffer", minimalYAML + "live:\n  tick_buffer: 0\n", "tick_buffer"},
	}
	for _, k := range []string{"S3_BUCKET", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		t.Setenv(k, "")
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Fatalf("AppEnvironment() = %s", got)
	}
	if !IsProductionLike(AppEnvironment()) || IsProductionLike(EnvironmentDevelopment) {
		t.Fatalf("IsProductionLike mismatch")
	}
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path replaced: %s", got)
	}

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath without env file = %s", got)
	}
	if err := os.MkdirAll("config", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile("config/config.production.yml", []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePath(""); got != "config/config.production.yml" {
		t.Errorf("ResolvePath with env file = %s", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	tests := []struct {
		name   string
		bucket string
		want   bool
	}{
		{"valid", "my-bucket", true},
		{"valid with dots", "my.bucket.name", true},
		{"too short", "ab", false},
		{"uppercase", "MyBucket", false},
		{"underscore", "my_bucket", false},
		{"double dot", "my..bucket", false},
		{"leading dot", ".bucket", false},
		{"trailing dash", "bucket-", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidS3Bucket(tt.bucket); got != tt.want {
				t.Errorf("isValidS3Bucket(%q) = %v, want %v", tt.bucket, got, tt.want)
			}
		})
	}
}
