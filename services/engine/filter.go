package engine

import (
	"fmt"
	"math"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// Filter is the veto pipeline applied to a non-neutral raw direction. Stages
// run in a fixed order, each may replace the direction with neutral plus a
// reason, and the first veto stops the pipeline. Stages with missing inputs
// fail open: a half-populated row passes through rather than blocking the
// whole run.
type Filter struct {
	cfg config.FilterConfig
}

func NewFilter(cfg config.Config) *Filter {
	return &Filter{cfg: cfg.Filters}
}

const (
	stagePriceDeviation = "price_deviation"
	stageRSI            = "rsi"
	stageVolatility     = "volatility"
	stageSignalScore    = "signal_score"
	stageEntanglement   = "entanglement"
)

// Apply runs the pipeline for the bar at index i. It returns the surviving
// direction, the deciding reason, and the trace of executed stages. A
// neutral input short-circuits before any stage runs.
func (f *Filter) Apply(dir Direction, series market.Series, i int, trendScore, baseScore float64) (Direction, string, []FilterCheck) {
	if dir == DirectionNone {
		return DirectionNone, "原始信号为观望", nil
	}
	row := &series[i]
	trace := make([]FilterCheck, 0, 5)

	step := func(name string, enabled bool, check func() (bool, string)) (vetoed bool, reason string) {
		if !enabled {
			return false, ""
		}
		ok, why := check()
		trace = append(trace, FilterCheck{Name: name, Passed: ok, Reason: why})
		if !ok {
			return true, why
		}
		return false, ""
	}

	if vetoed, why := step(stagePriceDeviation, f.cfg.EnablePriceDeviation, func() (bool, string) {
		return f.checkPriceDeviation(row, dir)
	}); vetoed {
		return DirectionNone, why, trace
	}
	if vetoed, why := step(stageRSI, f.cfg.EnableRSI, func() (bool, string) {
		return f.checkRSI(row, dir)
	}); vetoed {
		return DirectionNone, why, trace
	}
	if vetoed, why := step(stageVolatility, f.cfg.EnableVolatility, func() (bool, string) {
		return f.checkVolatility(series, i)
	}); vetoed {
		return DirectionNone, why, trace
	}
	if vetoed, why := step(stageSignalScore, f.cfg.EnableScoreFilter, func() (bool, string) {
		return f.checkScores(dir, trendScore, baseScore)
	}); vetoed {
		return DirectionNone, why, trace
	}
	if vetoed, why := step(stageEntanglement, f.cfg.EnableEntanglement, func() (bool, string) {
		if f.entangled(row) {
			return false, "价格均线纠缠"
		}
		return true, "价格均线排列正常"
	}); vetoed {
		return DirectionNone, why, trace
	}

	return dir, signalName(dir) + "信号通过过滤", trace
}

func signalName(dir Direction) string {
	if dir == DirectionLong {
		return "做多"
	}
	return "做空"
}

// checkPriceDeviation vetoes entries that chase price too far beyond the
// baseline WMA. Longs measure the bar low against the line, shorts the high,
// each against a dynamic threshold.
func (f *Filter) checkPriceDeviation(row *market.FeatureRow, dir Direction) (bool, string) {
	if !market.IsNumber(row.LineWMA) || row.LineWMA == 0 {
		return true, signalName(dir) + "信号通过价格偏离过滤"
	}
	threshold := f.deviationThreshold(row)
	if dir == DirectionLong {
		dev := (row.LowOrClose() - row.LineWMA) / row.LineWMA * 100
		if dev >= threshold {
			return false, fmt.Sprintf("价格偏离过滤(做多信号，low价格偏离WMA%.1f%% >= 动态阈值%.1f%%)", dev, threshold)
		}
	} else {
		dev := (row.HighOrClose() - row.LineWMA) / row.LineWMA * 100
		if dev <= -threshold {
			return false, fmt.Sprintf("价格偏离过滤(空头信号，high价格偏离WMA%.1f%% <= -动态阈值%.1f%%)", dev, -threshold)
		}
	}
	return true, signalName(dir) + "信号通过价格偏离过滤"
}

// deviationThreshold widens the base threshold in trending or volatile
// conditions and tightens it in quiet ranging markets, clamped to [1%, 8%].
func (f *Filter) deviationThreshold(row *market.FeatureRow) float64 {
	threshold := f.cfg.PriceDeviationBase

	switch row.MarketRegime {
	case market.RegimeRanging:
		threshold -= 0.5
	case market.RegimeStrongTrend:
		threshold += 5.0
	}

	if market.IsNumber(row.ATR) && row.ATR > 0 && market.IsNumber(row.Close) && row.Close > 0 {
		switch ratio := row.ATR / row.Close * 100; {
		case ratio > 5.0:
			threshold += 1.5
		case ratio > 3.0:
			threshold += 0.5
		case ratio < 1.0:
			threshold -= 0.5
		}
	}

	return math.Max(1.0, math.Min(8.0, threshold))
}

func (f *Filter) checkRSI(row *market.FeatureRow, dir Direction) (bool, string) {
	if !market.IsNumber(row.RSI) {
		return true, signalName(dir) + "信号通过RSI过滤(RSI数据缺失)"
	}
	if dir == DirectionLong && row.RSI >= f.cfg.RSIOverbought {
		return false, fmt.Sprintf("多头RSI超买过滤(RSI%.1f >= 阈值%g)", row.RSI, f.cfg.RSIOverbought)
	}
	if dir == DirectionShort && row.RSI <= f.cfg.RSIOversold {
		return false, fmt.Sprintf("空头RSI超卖过滤(RSI%.1f <= 阈值%g)", row.RSI, f.cfg.RSIOversold)
	}
	return true, fmt.Sprintf("%s信号通过RSI过滤(RSI%.1f)", signalName(dir), row.RSI)
}

// checkVolatility vetoes when trailing-window volatility leaves the
// configured band. Dead markets produce noise signals and violent ones blow
// through stops, so both tails are excluded.
func (f *Filter) checkVolatility(series market.Series, i int) (bool, string) {
	period := f.cfg.VolatilityPeriod
	if i+1 < period {
		return true, "信号通过波动率过滤(数据不足)"
	}
	vol, n := windowStdDev(series, i, period)
	if n < 2 {
		return true, "信号通过波动率过滤(数据不足)"
	}
	if vol < f.cfg.MinVolatility {
		return false, fmt.Sprintf("波动率过低(%.4f < %g)", vol, f.cfg.MinVolatility)
	}
	if vol > f.cfg.MaxVolatility {
		return false, fmt.Sprintf("波动率过高(%.4f > %g)", vol, f.cfg.MaxVolatility)
	}
	return true, fmt.Sprintf("信号通过波动率过滤(波动率%.4f)", vol)
}

func (f *Filter) checkScores(dir Direction, trendScore, baseScore float64) (bool, string) {
	if !market.IsNumber(trendScore) {
		return true, signalName(dir) + "信号通过评分过滤(趋势评分数据缺失)"
	}
	if !market.IsNumber(baseScore) {
		return true, signalName(dir) + "信号通过评分过滤(基础评分数据缺失)"
	}
	if dir == DirectionLong {
		if trendScore < f.cfg.LongTrendGate {
			return false, fmt.Sprintf("多头趋势强度不足(趋势评分%.3f 必须大于 %g)", trendScore, f.cfg.LongTrendGate)
		}
		if baseScore < f.cfg.LongBaseGate {
			return false, fmt.Sprintf("多头基础评分不足(基础评分%.3f 必须大于 %g)", baseScore, f.cfg.LongBaseGate)
		}
	} else {
		if trendScore > f.cfg.ShortTrendGate {
			return false, fmt.Sprintf("空头趋势强度不足(趋势评分%.3f 必须小于 %g)", trendScore, f.cfg.ShortTrendGate)
		}
		if baseScore > f.cfg.ShortBaseGate {
			return false, fmt.Sprintf("空头基础评分不足(基础评分%.3f 必须小于 %g)", baseScore, f.cfg.ShortBaseGate)
		}
	}
	return true, fmt.Sprintf("%s信号通过评分过滤(趋势评分%.3f, 基础评分%.3f)", signalName(dir), trendScore, baseScore)
}

// entangled reports whether price and the moving averages are tangled. Only
// a perfect alignment passes: close strictly above both EMAs which sit above
// the baseline (bullish), or the mirror image. Even a perfect stack counts
// as entangled while price hugs the baseline closer than the configured
// distance. Rows with missing or zero averages are not classified.
func (f *Filter) entangled(row *market.FeatureRow) bool {
	if !market.IsNumber(row.Close) || !market.IsNumber(row.LineWMA) ||
		!market.IsNumber(row.OpenEMA) || !market.IsNumber(row.CloseEMA) ||
		row.LineWMA == 0 || row.OpenEMA == 0 || row.CloseEMA == 0 {
		return false
	}

	emaMax := math.Max(row.OpenEMA, row.CloseEMA)
	emaMin := math.Min(row.OpenEMA, row.CloseEMA)

	perfectBullish := row.Close > emaMax && emaMax > row.LineWMA
	perfectBearish := row.Close < emaMin && emaMin < row.LineWMA
	if !perfectBullish && !perfectBearish {
		return true
	}

	distance := absf(row.Close-row.LineWMA) / row.LineWMA * 100
	return distance < f.cfg.EntanglementDistance
}

// windowStdDev is the sample standard deviation of simple returns over the
// trailing window of closes ending at index i, plus the usable return count.
func windowStdDev(series market.Series, i, period int) (float64, int) {
	start := i + 1 - period
	if start < 0 {
		start = 0
	}
	var n int
	var mean, m2 float64
	prev := math.NaN()
	for j := start; j <= i; j++ {
		c := series[j].Close
		if !market.IsNumber(c) {
			continue
		}
		if market.IsNumber(prev) && prev != 0 {
			r := c/prev - 1
			n++
			delta := r - mean
			mean += delta / float64(n)
			m2 += delta * (r - mean)
		}
		prev = c
	}
	if n < 2 {
		return 0, n
	}
	return math.Sqrt(m2/float64(n-1)), n
}
