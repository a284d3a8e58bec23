package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pairflow/config"
	"pairflow/internal/backtest"
	"pairflow/internal/live"
	"pairflow/internal/metrics"
	"pairflow/internal/pipeline"
	"pairflow/internal/risk"
	"pairflow/internal/spread"
	"pairflow/logger"
	"pairflow/models"
	"pairflow/reader"
	"pairflow/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	mode := flag.String("mode", "backtest", "Run mode: backtest, live or discover")
	historyPath := flag.String("history", "", "JSON lines tick file for backtests (overrides backtest.history)")
	compression := flag.String("compression", "snappy", "Parquet compression: snappy, gzip or none")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	runID := uuid.New().String()
	log.WithFields(logger.Fields{
		"service":     cfg.Pairflow.Name,
		"version":     cfg.Pairflow.Version,
		"environment": config.AppEnvironment(),
		"mode":        *mode,
		"run_id":      runID,
		"pairs":       len(cfg.Pairs),
	}).Info("starting pairflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	exporter, err := newExporter(ctx, cfg, *compression)
	if err != nil {
		log.WithError(err).Error("Failed to set up result storage")
		os.Exit(1)
	}

	switch *mode {
	case "backtest", "discover":
		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigChan:
				log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
				cancel()
			case <-ctx.Done():
			}
		}()
		path := *historyPath
		if path == "" {
			path = cfg.Backtest.History
		}
		if *mode == "discover" {
			err = runDiscover(cfg, path)
		} else {
			err = runBacktest(ctx, cfg, path, runID, exporter)
		}
	case "live":
		err = runLive(ctx, cancel, cfg, runID, exporter)
	default:
		log.WithField("mode", *mode).Error("unknown mode")
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("pairflow failed")
		os.Exit(1)
	}
	log.Info("pairflow stopped")
}

func newExporter(ctx context.Context, cfg *config.Config, compression string) (*writer.Exporter, error) {
	var stores []writer.Store
	if cfg.Storage.LocalDir != "" {
		local, err := writer.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, err
		}
		stores = append(stores, local)
	}
	if cfg.Storage.S3.Enabled {
		s3Store, err := writer.NewS3Store(ctx, cfg.Storage.S3, cfg.Pairflow.Version)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s3Store)
	}
	if len(stores) == 0 {
		return nil, nil
	}
	return writer.NewExporter(compression, stores...)
}

func runBacktest(ctx context.Context, cfg *config.Config, path, runID string, exporter *writer.Exporter) error {
	log := logger.GetLogger()
	if path == "" {
		return errors.New("no history file: set backtest.history or pass -history")
	}
	history, err := reader.LoadHistoryFile(path)
	if err != nil {
		return err
	}
	history = configuredOnly(cfg, history)

	strategies, err := cfg.Strategies()
	if err != nil {
		return err
	}
	engine, err := backtest.New(cfg.Backtest.Config, cfg.RiskConfig(), cfg.Specs(), cfg.Strategy, strategies, log)
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx, history)
	if err != nil {
		return err
	}
	rep, err := res.Report(cfg.Report)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"run_id":       runID,
		"trades":       rep.Trades,
		"final_equity": rep.FinalEquity,
		"total_return": rep.TotalReturn,
		"sharpe_ratio": rep.SharpeRatio,
		"max_drawdown": rep.MaxDrawdownPct,
		"win_rate":     rep.WinRate,
	}).Info("backtest report")

	return publish(ctx, cfg, exporter, writer.Results{
		RunID:     runID,
		Mode:      "backtest",
		Trades:    res.Trades,
		Equity:    res.Equity,
		Decisions: res.Decisions,
		Report:    rep,
	})
}

// runDiscover rebuilds per-asset price histories from the recorded ticks and
// scans every asset combination for cointegration.
func runDiscover(cfg *config.Config, path string) error {
	log := logger.GetLogger().WithComponent("discover")
	if path == "" {
		return errors.New("no history file: set backtest.history or pass -history")
	}
	history, err := reader.LoadHistoryFile(path)
	if err != nil {
		return err
	}
	universe := make(map[string][]models.PricePoint)
	for _, p := range cfg.Pairs {
		for _, tk := range history[p.ID] {
			universe[p.AssetA] = append(universe[p.AssetA], tk.A)
			universe[p.AssetB] = append(universe[p.AssetB], tk.B)
		}
	}
	found, skipped, err := spread.FindPairs(universe, cfg.Strategy.Spread)
	if err != nil {
		return err
	}
	for _, c := range skipped {
		log.WithPair(c.Pair.ID).WithError(c.Err).Debug("pair not fitted")
	}
	for _, p := range found {
		log.WithPair(p.ID).WithFields(logger.Fields{
			"asset_a":     p.AssetA,
			"asset_b":     p.AssetB,
			"p_value":     p.PValue,
			"hedge_ratio": p.HedgeRatio,
			"half_life":   p.HalfLife,
		}).Info("cointegrated pair")
	}
	log.WithFields(logger.Fields{
		"assets":  len(universe),
		"found":   len(found),
		"skipped": len(skipped),
	}).Info("pair discovery complete")
	return nil
}

// configuredOnly drops history for pairs missing from the configuration.
func configuredOnly(cfg *config.Config, history map[string][]models.Tick) map[string][]models.Tick {
	known := make(map[string]bool, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		known[p.ID] = true
	}
	var skipped []string
	for id := range history {
		if !known[id] {
			skipped = append(skipped, id)
			delete(history, id)
		}
	}
	if len(skipped) > 0 {
		sort.Strings(skipped)
		logger.GetLogger().WithComponent("backtest").
			WithField("pairs", strings.Join(skipped, ",")).
			Warn("ignoring history for unconfigured pairs")
	}
	return history
}

func runLive(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, runID string, exporter *writer.Exporter) error {
	log := logger.GetLogger()
	if cfg.Live.FeedURL == "" {
		return errors.New("live.feed_url is required in live mode")
	}
	if config.IsProductionLike(config.AppEnvironment()) && strings.HasPrefix(cfg.Live.FeedURL, "ws://") {
		log.WithField("url", cfg.Live.FeedURL).Warn("unencrypted feed in a production-like environment")
	}

	strategies, err := cfg.Strategies()
	if err != nil {
		return err
	}
	registry, err := pipeline.Build(cfg.Specs(), cfg.Strategy, strategies, log)
	if err != nil {
		return err
	}
	manager, err := risk.NewManager(cfg.RiskConfig(), log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.RegisterRuntime(reg); err != nil {
		return err
	}
	liveMetrics, err := metrics.NewLive(reg)
	if err != nil {
		return err
	}

	feed, err := reader.NewFeed(reader.FeedConfig{
		URL:            cfg.Live.FeedURL,
		Pairs:          registry.IDs(),
		ReconnectDelay: cfg.Live.ReconnectDelay,
		Buffer:         cfg.Live.TickBuffer,
	})
	if err != nil {
		return err
	}
	session, err := live.NewSession(cfg.Live.Config, registry, manager, nil, liveMetrics, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Prometheus.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Prometheus.Addr, reg) })
	}
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return session.Run(gctx, feed.Channels()) })

	log.WithField("session_id", session.ID()).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-gctx.Done():
		log.Warn("live components stopped")
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err = <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		log.Warn("graceful shutdown timeout exceeded")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("live component failed")
	}

	rep, repErr := session.Report(cfg.Report)
	if repErr != nil {
		return repErr
	}
	// export with a fresh context; ctx is already cancelled
	exportCtx, exportCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer exportCancel()
	if pubErr := publish(exportCtx, cfg, exporter, writer.Results{
		RunID:     runID,
		Mode:      "live",
		Trades:    session.Trades(),
		Equity:    session.Equity(),
		Decisions: session.Decisions(),
		Report:    rep,
	}); pubErr != nil {
		return pubErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// publish exports results and pushes the report to CloudWatch when enabled.
func publish(ctx context.Context, cfg *config.Config, exporter *writer.Exporter, res writer.Results) error {
	if exporter != nil {
		if err := exporter.Export(ctx, res); err != nil {
			return err
		}
	}
	if !cfg.Metrics.CloudWatch.Enabled {
		return nil
	}
	cw, err := metrics.NewCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	if err != nil {
		return err
	}
	return cw.PublishReport(ctx, res.Report, res.RunID)
}
