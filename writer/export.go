// Package writer exports run results: parquet tables for trades, equity and
// decisions plus a YAML and JSON copy of the performance report.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"pairflow/internal/report"
	"pairflow/logger"
	"pairflow/models"
)

// Results is everything a run exports.
type Results struct {
	RunID     string
	Mode      string
	Trades    []models.Trade
	Equity    []models.EquityPoint
	Decisions []models.TradeDecision
	Report    report.Report
}

// Exporter writes results to one or more stores.
type Exporter struct {
	stores      []Store
	compression string
	log         *logger.Entry
}

func NewExporter(compression string, stores ...Store) (*Exporter, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("at least one store is required")
	}
	return &Exporter{
		stores:      stores,
		compression: compression,
		log:         logger.GetLogger().WithComponent("exporter"),
	}, nil
}

// Keys returns the object keys written for a run, in write order.
func Keys(mode, runID string) []string {
	base := fmt.Sprintf("mode=%s/run=%s/", mode, runID)
	return []string{
		base + "trades.parquet",
		base + "equity.parquet",
		base + "decisions.parquet",
		base + "report.yaml",
		base + "report.json",
	}
}

// Export encodes res once and writes every object to every store.
func (e *Exporter) Export(ctx context.Context, res Results) error {
	start := time.Now()
	if res.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if res.Mode == "" {
		res.Mode = "backtest"
	}
	objects, err := e.encode(res)
	if err != nil {
		return err
	}
	keys := Keys(res.Mode, res.RunID)

	log := e.log.WithFields(logger.Fields{"run_id": res.RunID, "mode": res.Mode})
	for _, store := range e.stores {
		for i, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			obj := objects[i]
			if err := store.Put(ctx, key, obj.data, obj.contentType); err != nil {
				return fmt.Errorf("export %s: %w", key, err)
			}
			log.WithFields(logger.Fields{
				"location":  store.Location(key),
				"file_size": len(obj.data),
			}).Debug("exported object")
		}
		logger.LogDataFlowEntry(log, "run", store.Location(""), len(res.Trades), "trades")
	}
	logger.LogPerformanceEntry(log, "exporter", "export", time.Since(start), logger.Fields{
		"stores":  len(e.stores),
		"objects": len(keys),
	})
	return nil
}

type object struct {
	data        []byte
	contentType string
}

func (e *Exporter) encode(res Results) ([]object, error) {
	trades, err := EncodeTrades(res.Trades, e.compression)
	if err != nil {
		return nil, fmt.Errorf("encode trades: %w", err)
	}
	equity, err := EncodeEquity(res.Equity, e.compression)
	if err != nil {
		return nil, fmt.Errorf("encode equity: %w", err)
	}
	decisions, err := EncodeDecisions(res.Decisions, e.compression)
	if err != nil {
		return nil, fmt.Errorf("encode decisions: %w", err)
	}
	y, err := yaml.Marshal(res.Report)
	if err != nil {
		return nil, fmt.Errorf("encode report yaml: %w", err)
	}
	j, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report json: %w", err)
	}
	const parquetType = "application/vnd.apache.parquet"
	return []object{
		{trades, parquetType},
		{equity, parquetType},
		{decisions, parquetType},
		{y, "application/yaml"},
		{j, "application/json"},
	}, nil
}
