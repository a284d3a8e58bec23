package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"pairflow/models"
)

// TradeRecord is one closed trade as a parquet row.
type TradeRecord struct {
	ID             string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PairID         string  `parquet:"name=pair_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction      string  `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryTimestamp int64   `parquet:"name=entry_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ExitTimestamp  int64   `parquet:"name=exit_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	EntryPriceA    float64 `parquet:"name=entry_price_a, type=DOUBLE"`
	EntryPriceB    float64 `parquet:"name=entry_price_b, type=DOUBLE"`
	ExitPriceA     float64 `parquet:"name=exit_price_a, type=DOUBLE"`
	ExitPriceB     float64 `parquet:"name=exit_price_b, type=DOUBLE"`
	QuantityA      float64 `parquet:"name=quantity_a, type=DOUBLE"`
	QuantityB      float64 `parquet:"name=quantity_b, type=DOUBLE"`
	HedgeRatio     float64 `parquet:"name=hedge_ratio, type=DOUBLE"`
	EntryZScore    float64 `parquet:"name=entry_zscore, type=DOUBLE"`
	ExitZScore     float64 `parquet:"name=exit_zscore, type=DOUBLE"`
	ExitReason     string  `parquet:"name=exit_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	GrossPnl       float64 `parquet:"name=gross_pnl, type=DOUBLE"`
	Fees           float64 `parquet:"name=fees, type=DOUBLE"`
	SlippageCost   float64 `parquet:"name=slippage_cost, type=DOUBLE"`
	RealizedPnl    float64 `parquet:"name=realized_pnl, type=DOUBLE"`
}

// EquityRecord is one equity curve point as a parquet row.
type EquityRecord struct {
	Timestamp     int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Equity        float64 `parquet:"name=equity, type=DOUBLE"`
	Cash          float64 `parquet:"name=cash, type=DOUBLE"`
	Unrealized    float64 `parquet:"name=unrealized, type=DOUBLE"`
	OpenPositions int32   `parquet:"name=open_positions, type=INT32"`
}

// DecisionRecord flattens a trade decision.
type DecisionRecord struct {
	PairID     string  `parquet:"name=pair_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Signal     string  `parquet:"name=signal, type=BYTE_ARRAY, convertedtype=UTF8"`
	ZScore     float64 `parquet:"name=zscore, type=DOUBLE"`
	Confidence float64 `parquet:"name=confidence, type=DOUBLE"`
	Action     string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Accepted   bool    `parquet:"name=accepted, type=BOOLEAN"`
	Reason     string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	SlippageA  float64 `parquet:"name=slippage_a, type=DOUBLE"`
	SlippageB  float64 `parquet:"name=slippage_b, type=DOUBLE"`
}

// memoryFileWriter is a write-only source.ParquetFile backed by a buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (m *memoryFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFileWriter) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFileWriter) Close() error                              { return nil }
func (m *memoryFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes rows with the schema of proto.
func encodeParquet[T any](proto *T, rows []T, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, proto, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

// EncodeTrades renders a trade log as parquet.
func EncodeTrades(trades []models.Trade, compression string) ([]byte, error) {
	rows := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, TradeRecord{
			ID:             t.ID,
			PairID:         t.PairID,
			Direction:      string(t.Entry.Direction),
			EntryTimestamp: t.Entry.EntryTimestamp.UnixMilli(),
			ExitTimestamp:  t.ExitTimestamp.UnixMilli(),
			EntryPriceA:    t.Entry.EntryPriceA,
			EntryPriceB:    t.Entry.EntryPriceB,
			ExitPriceA:     t.ExitPriceA,
			ExitPriceB:     t.ExitPriceB,
			QuantityA:      t.Entry.QuantityA,
			QuantityB:      t.Entry.QuantityB,
			HedgeRatio:     t.Entry.HedgeRatio,
			EntryZScore:    t.Entry.EntryZScore,
			ExitZScore:     t.ExitZScore,
			ExitReason:     string(t.ExitReason),
			GrossPnl:       t.GrossPnl,
			Fees:           t.Fees,
			SlippageCost:   t.SlippageCost,
			RealizedPnl:    t.RealizedPnl,
		})
	}
	return encodeParquet(new(TradeRecord), rows, compression)
}

// EncodeEquity renders an equity curve as parquet.
func EncodeEquity(curve []models.EquityPoint, compression string) ([]byte, error) {
	rows := make([]EquityRecord, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, EquityRecord{
			Timestamp:     p.Timestamp.UnixMilli(),
			Equity:        p.Equity,
			Cash:          p.Cash,
			Unrealized:    p.Unrealized,
			OpenPositions: int32(p.OpenPositions),
		})
	}
	return encodeParquet(new(EquityRecord), rows, compression)
}

// EncodeDecisions renders the decision log as parquet.
func EncodeDecisions(decisions []models.TradeDecision, compression string) ([]byte, error) {
	rows := make([]DecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, DecisionRecord{
			PairID:     d.PairID,
			Timestamp:  d.Timestamp.UnixMilli(),
			Signal:     string(d.Signal.Kind),
			ZScore:     d.Signal.ZScore,
			Confidence: d.Signal.Confidence,
			Action:     string(d.Action),
			Accepted:   d.Accepted,
			Reason:     string(d.Reason),
			SlippageA:  d.LegA.Slippage,
			SlippageB:  d.LegB.Slippage,
		})
	}
	return encodeParquet(new(DecisionRecord), rows, compression)
}
