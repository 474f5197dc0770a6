// Package market defines the feature-row input contract of the decision
// engine: OHLCV bars annotated with externally precomputed indicator
// columns. Rows are immutable values; a NaN field means the upstream
// pipeline did not supply that column.
package market

import (
	"math"
	"time"
)

// Market regime labels carried in the market_regime column.
const (
	RegimeMixed       = 0
	RegimeStrongTrend = 1
	RegimeRanging     = 2
)

// FeatureRow is one time step of the input series. Price and indicator
// fields default to NaN, never zero, so a missing column is distinguishable
// from a legitimate zero value.
type FeatureRow struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	RSI      float64
	ADX      float64
	ATR      float64
	OBV      float64
	MACD     float64
	LineWMA  float64
	OpenEMA  float64
	CloseEMA float64
	BBWidth  float64

	// Regime classification and precomputed scores.
	MarketRegime float64
	BaseScore    float64

	// Per-indicator trend contributions consumed by the regime-weighted
	// trend score.
	ATRTrendScore    float64
	VolumeTrendScore float64
	EMATrendScore    float64
	ADXTrendScore    float64
	RSITrendScore    float64
	BBTrendScore     float64

	// Risk inputs over the short and long configured windows.
	SharpeShort   float64
	SharpeLong    float64
	DrawdownShort float64
	DrawdownLong  float64
}

// EmptyRow returns a row with every numeric field set to NaN.
func EmptyRow(ts time.Time) FeatureRow {
	nan := math.NaN()
	return FeatureRow{
		Time: ts,
		Open: nan, High: nan, Low: nan, Close: nan, Volume: nan,
		RSI: nan, ADX: nan, ATR: nan, OBV: nan, MACD: nan,
		LineWMA: nan, OpenEMA: nan, CloseEMA: nan, BBWidth: nan,
		MarketRegime: nan, BaseScore: nan,
		ATRTrendScore: nan, VolumeTrendScore: nan, EMATrendScore: nan,
		ADXTrendScore: nan, RSITrendScore: nan, BBTrendScore: nan,
		SharpeShort: nan, SharpeLong: nan, DrawdownShort: nan, DrawdownLong: nan,
	}
}

// IsNumber reports whether v carries a usable numeric value.
func IsNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LowOrClose falls back to the close price when the bar has no low column.
func (r FeatureRow) LowOrClose() float64 {
	if IsNumber(r.Low) {
		return r.Low
	}
	return r.Close
}

// HighOrClose falls back to the close price when the bar has no high column.
func (r FeatureRow) HighOrClose() float64 {
	if IsNumber(r.High) {
		return r.High
	}
	return r.Close
}
