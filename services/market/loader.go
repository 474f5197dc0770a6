package market

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names recognized by the CSV loader. timestamp/open/high/low/close
// are required; every other column is optional and defaults to NaN.
var requiredColumns = []string{"timestamp", "open", "high", "low", "close"}

type columnSetter func(*FeatureRow, float64)

var columnSetters = map[string]columnSetter{
	"open":               func(r *FeatureRow, v float64) { r.Open = v },
	"high":               func(r *FeatureRow, v float64) { r.High = v },
	"low":                func(r *FeatureRow, v float64) { r.Low = v },
	"close":              func(r *FeatureRow, v float64) { r.Close = v },
	"volume":             func(r *FeatureRow, v float64) { r.Volume = v },
	"rsi":                func(r *FeatureRow, v float64) { r.RSI = v },
	"adx":                func(r *FeatureRow, v float64) { r.ADX = v },
	"atr":                func(r *FeatureRow, v float64) { r.ATR = v },
	"obv":                func(r *FeatureRow, v float64) { r.OBV = v },
	"macd":               func(r *FeatureRow, v float64) { r.MACD = v },
	"line_wma":           func(r *FeatureRow, v float64) { r.LineWMA = v },
	"open_ema":           func(r *FeatureRow, v float64) { r.OpenEMA = v },
	"close_ema":          func(r *FeatureRow, v float64) { r.CloseEMA = v },
	"bb_width":           func(r *FeatureRow, v float64) { r.BBWidth = v },
	"market_regime":      func(r *FeatureRow, v float64) { r.MarketRegime = v },
	"base_score":         func(r *FeatureRow, v float64) { r.BaseScore = v },
	"atr_trend_score":    func(r *FeatureRow, v float64) { r.ATRTrendScore = v },
	"volume_trend_score": func(r *FeatureRow, v float64) { r.VolumeTrendScore = v },
	"ema_trend_score":    func(r *FeatureRow, v float64) { r.EMATrendScore = v },
	"adx_trend_score":    func(r *FeatureRow, v float64) { r.ADXTrendScore = v },
	"rsi_trend_score":    func(r *FeatureRow, v float64) { r.RSITrendScore = v },
	"bb_trend_score":     func(r *FeatureRow, v float64) { r.BBTrendScore = v },
	"sharpe_short":       func(r *FeatureRow, v float64) { r.SharpeShort = v },
	"sharpe_long":        func(r *FeatureRow, v float64) { r.SharpeLong = v },
	"max_drawdown_short": func(r *FeatureRow, v float64) { r.DrawdownShort = v },
	"max_drawdown_long":  func(r *FeatureRow, v float64) { r.DrawdownLong = v },
}

// LoadCSV reads a feature dataset from path. The file must carry a header
// row; UTF-8 (with or without BOM) and UTF-16 exports are both accepted.
// Rows are sorted by timestamp, duplicate timestamps keep the last
// occurrence, and the result is validated before returning.
func LoadCSV(path string, log *zap.Logger) (Series, error) {
	if log == nil {
		log = zap.NewNop()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader, err := decodedReader(file)
	if err != nil {
		return nil, err
	}
	series, err := ReadCSV(reader)
	if err != nil {
		return nil, err
	}

	if cadence := series.Cadence(); cadence > 0 {
		if gaps := series.DetectGaps(cadence); len(gaps) > 0 {
			log.Warn("dataset has gaps",
				zap.Int("count", len(gaps)),
				zap.Duration("cadence", cadence),
				zap.Time("first_gap_after", gaps[0]))
		}
	}
	log.Info("dataset loaded",
		zap.String("path", path),
		zap.Int("rows", series.Len()))
	return series, nil
}

// decodedReader sniffs a UTF-16 byte-order mark and wraps the stream in the
// matching decoder; plain UTF-8 input passes through buffered.
func decodedReader(file *os.File) (io.Reader, error) {
	br := bufio.NewReader(file)
	head, _ := br.Peek(2)
	if len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind dataset: %w", err)
		}
		return transform.NewReader(file, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()), nil
	}
	return br, nil
}

// ReadCSV parses feature rows from r. Split out from LoadCSV so callers can
// feed in-memory datasets (HTTP uploads, tests) without touching the disk.
func ReadCSV(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		columns[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("dataset missing required column %q", name)
		}
	}
	tsIdx := columns["timestamp"]

	series := make(Series, 0, 1_000)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(rec) <= tsIdx {
			continue
		}
		ts, err := parseTimestamp(strings.TrimSpace(rec[tsIdx]))
		if err != nil {
			continue
		}
		row := EmptyRow(ts)
		for name, idx := range columns {
			set, ok := columnSetters[name]
			if !ok || idx >= len(rec) {
				continue
			}
			set(&row, parseFloat(rec[idx]))
		}
		series = append(series, row)
	}

	if len(series) > 1 {
		sort.Slice(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
		uniq := make(Series, 0, len(series))
		for _, row := range series {
			if n := len(uniq); n > 0 && uniq[n-1].Time.Equal(row.Time) {
				uniq[n-1] = row
				continue
			}
			uniq = append(uniq, row)
		}
		series = uniq
	}

	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("dataset validation failed: %w", err)
	}
	return series, nil
}

// parseTimestamp accepts epoch milliseconds, epoch seconds, or RFC 3339.
func parseTimestamp(raw string) (time.Time, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
