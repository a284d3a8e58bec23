package metrics

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pairflow/internal/report"
	"pairflow/logger"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes run reports as metric data.
type CloudWatch struct {
	client    putMetricDataAPI
	namespace string
	region    string
	log       *logger.Entry
}

// NewCloudWatch loads the default AWS configuration for region, falling back
// to AWS_REGION.
func NewCloudWatch(ctx context.Context, region, namespace string) (*CloudWatch, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region != "" {
		region = cfg.Region
	}
	cw := newCloudWatch(cloudwatch.NewFromConfig(cfg), namespace)
	cw.region = region
	cw.log.WithFields(logger.Fields{
		"region":    region,
		"namespace": cw.namespace,
	}).Info("initialized CloudWatch client")
	return cw, nil
}

func newCloudWatch(client putMetricDataAPI, namespace string) *CloudWatch {
	if namespace == "" {
		namespace = "PairFlow"
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       logger.GetLogger().WithComponent("cloudwatch"),
	}
}

// ReportData converts a report into metric data dimensioned by run and, for
// per-pair figures, by pair. Non-finite values are skipped.
func ReportData(rep report.Report, runID string, ts time.Time) []cwtypes.MetricDatum {
	run := cwtypes.Dimension{Name: aws.String("run_id"), Value: aws.String(runID)}
	var data []cwtypes.MetricDatum
	add := func(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: append([]cwtypes.Dimension{run}, dims...),
			Timestamp:  aws.Time(ts),
			Unit:       unit,
			Value:      aws.Float64(value),
		})
	}

	add("final_equity", rep.FinalEquity, cwtypes.StandardUnitNone)
	add("total_return", rep.TotalReturn*100, cwtypes.StandardUnitPercent)
	add("sharpe_ratio", rep.SharpeRatio, cwtypes.StandardUnitNone)
	add("max_drawdown", rep.MaxDrawdown, cwtypes.StandardUnitNone)
	add("max_drawdown_pct", rep.MaxDrawdownPct*100, cwtypes.StandardUnitPercent)
	add("trades", float64(rep.Trades), cwtypes.StandardUnitCount)
	add("win_rate", rep.WinRate*100, cwtypes.StandardUnitPercent)
	add("profit_factor", rep.ProfitFactor, cwtypes.StandardUnitNone)
	add("realized_pnl", rep.RealizedPnl, cwtypes.StandardUnitNone)
	add("fees", rep.Fees, cwtypes.StandardUnitNone)
	add("value_at_risk", rep.ValueAtRisk*100, cwtypes.StandardUnitPercent)
	add("signals", float64(rep.Signals.Total), cwtypes.StandardUnitCount)
	add("signal_avg_confidence", rep.Signals.AvgConfidence, cwtypes.StandardUnitNone)
	for _, p := range rep.Pairs {
		pair := cwtypes.Dimension{Name: aws.String("pair"), Value: aws.String(p.PairID)}
		add("pair_trades", float64(p.Trades), cwtypes.StandardUnitCount, pair)
		add("pair_realized_pnl", p.RealizedPnl, cwtypes.StandardUnitNone, pair)
	}
	return data
}

// PublishReport sends the report in batches.
func (c *CloudWatch) PublishReport(ctx context.Context, rep report.Report, runID string) error {
	data := ReportData(rep, runID, time.Now().UTC())
	if len(data) == 0 {
		c.log.Debug("no metric data to publish")
		return nil
	}
	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: data[start:end],
		}); err != nil {
			return fmt.Errorf("failed to publish CloudWatch metrics: %w", err)
		}
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		names = append(names, aws.ToString(datum.MetricName))
	}
	c.log.WithFields(logger.Fields{
		"run_id":  runID,
		"metrics": strings.Join(names, ","),
	}).Debug("published metrics to CloudWatch")
	return nil
}
