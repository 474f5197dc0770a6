// Package arrowio exports simulation artifacts as Apache Arrow IPC streams.
package arrowio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/engine"
)

// Exporter serializes equity curves and trade logs to Arrow IPC payloads
// consumable by pandas/polars without a custom decoder.
type Exporter struct {
	alloc memory.Allocator
	log   *zap.Logger
}

func NewExporter(log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{alloc: memory.NewGoAllocator(), log: log}
}

// EquityIPC encodes an equity curve as a single-record IPC stream with
// millisecond timestamps. Symbol and run id travel as schema metadata.
func (e *Exporter) EquityIPC(symbol, runID string, equity []engine.EquityPoint) ([]byte, error) {
	if len(equity) == 0 {
		return nil, fmt.Errorf("arrowio: no equity points to export")
	}

	meta := arrow.NewMetadata([]string{"symbol", "run_id"}, []string{symbol, runID})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "total_asset", Type: arrow.PrimitiveTypes.Float64},
	}, &meta)

	timestamps := make([]int64, len(equity))
	values := make([]float64, len(equity))
	for i, p := range equity {
		timestamps[i] = p.Time.UnixMilli()
		values[i] = p.Value
	}

	tsBuilder := array.NewInt64Builder(e.alloc)
	tsBuilder.AppendValues(timestamps, nil)
	tsArray := tsBuilder.NewInt64Array()

	valueBuilder := array.NewFloat64Builder(e.alloc)
	valueBuilder.AppendValues(values, nil)
	valueArray := valueBuilder.NewFloat64Array()

	record := array.NewRecord(schema, []arrow.Array{tsArray, valueArray}, int64(len(equity)))
	defer record.Release()

	return e.encode(schema, record)
}

// TradesIPC encodes a trade log as a single-record IPC stream. Score columns
// repeat the open's breakdown on close rows, mirroring the JSON trade log.
func (e *Exporter) TradesIPC(symbol, runID string, trades []engine.TradeRecord) ([]byte, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("arrowio: no trades to export")
	}

	meta := arrow.NewMetadata([]string{"symbol", "run_id"}, []string{symbol, runID})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "action", Type: arrow.BinaryTypes.String},
		{Name: "trade_type", Type: arrow.BinaryTypes.String},
		{Name: "price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "quantity", Type: arrow.PrimitiveTypes.Float64},
		{Name: "margin", Type: arrow.PrimitiveTypes.Float64},
		{Name: "cash", Type: arrow.PrimitiveTypes.Float64},
		{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "signal_score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "reason", Type: arrow.BinaryTypes.String},
	}, &meta)

	n := len(trades)
	timestamps := make([]int64, n)
	actions := make([]string, n)
	types := make([]string, n)
	prices := make([]float64, n)
	quantities := make([]float64, n)
	margins := make([]float64, n)
	cash := make([]float64, n)
	pnls := make([]float64, n)
	scores := make([]float64, n)
	reasons := make([]string, n)
	for i := range trades {
		t := &trades[i]
		timestamps[i] = t.Time.UnixMilli()
		actions[i] = t.Action
		types[i] = t.TradeType
		prices[i] = t.Price
		quantities[i] = t.Quantity
		margins[i] = t.Margin
		cash[i] = t.Cash
		pnls[i] = t.Pnl
		scores[i] = t.Score
		reasons[i] = t.Reason
	}

	tsBuilder := array.NewInt64Builder(e.alloc)
	tsBuilder.AppendValues(timestamps, nil)
	actionBuilder := array.NewStringBuilder(e.alloc)
	actionBuilder.AppendValues(actions, nil)
	typeBuilder := array.NewStringBuilder(e.alloc)
	typeBuilder.AppendValues(types, nil)
	priceBuilder := array.NewFloat64Builder(e.alloc)
	priceBuilder.AppendValues(prices, nil)
	qtyBuilder := array.NewFloat64Builder(e.alloc)
	qtyBuilder.AppendValues(quantities, nil)
	marginBuilder := array.NewFloat64Builder(e.alloc)
	marginBuilder.AppendValues(margins, nil)
	cashBuilder := array.NewFloat64Builder(e.alloc)
	cashBuilder.AppendValues(cash, nil)
	pnlBuilder := array.NewFloat64Builder(e.alloc)
	pnlBuilder.AppendValues(pnls, nil)
	scoreBuilder := array.NewFloat64Builder(e.alloc)
	scoreBuilder.AppendValues(scores, nil)
	reasonBuilder := array.NewStringBuilder(e.alloc)
	reasonBuilder.AppendValues(reasons, nil)

	record := array.NewRecord(schema, []arrow.Array{
		tsBuilder.NewInt64Array(),
		actionBuilder.NewStringArray(),
		typeBuilder.NewStringArray(),
		priceBuilder.NewFloat64Array(),
		qtyBuilder.NewFloat64Array(),
		marginBuilder.NewFloat64Array(),
		cashBuilder.NewFloat64Array(),
		pnlBuilder.NewFloat64Array(),
		scoreBuilder.NewFloat64Array(),
		reasonBuilder.NewStringArray(),
	}, int64(n))
	defer record.Release()

	return e.encode(schema, record)
}

// encode writes one record as a complete IPC stream. The writer is closed
// before the buffer is read so the end-of-stream marker is included.
func (e *Exporter) encode(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(e.alloc))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("arrowio: write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("arrowio: close stream: %w", err)
	}
	e.log.Debug("arrow payload encoded",
		zap.Int64("rows", record.NumRows()),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// ReadEquity decodes an equity IPC stream produced by EquityIPC.
func ReadEquity(data []byte) ([]engine.EquityPoint, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("arrowio: open stream: %w", err)
	}
	defer reader.Release()

	var points []engine.EquityPoint
	for reader.Next() {
		rec := reader.Record()
		ts, ok := rec.Column(0).(*array.Int64)
		if !ok {
			return nil, fmt.Errorf("arrowio: timestamp column has type %T", rec.Column(0))
		}
		values, ok := rec.Column(1).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("arrowio: value column has type %T", rec.Column(1))
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			points = append(points, engine.EquityPoint{
				Time:  time.UnixMilli(ts.Value(i)).UTC(),
				Value: values.Value(i),
			})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("arrowio: read stream: %w", err)
	}
	return points, nil
}
