package engine

import (
	"math"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// indicatorWeights is one weighting preset over the trend sub-scores.
type indicatorWeights struct {
	ADX    float64
	EMA    float64
	ATR    float64
	Volume float64
	RSI    float64
	BB     float64
}

// The three regime presets. Each sums to 1; trending regimes lean on ADX and
// EMA slope, the ranging preset shifts weight toward RSI.
var (
	strongTrendWeights = indicatorWeights{ADX: 0.35, EMA: 0.30, ATR: 0.15, Volume: 0.05, RSI: 0.10, BB: 0.05}
	mediumTrendWeights = indicatorWeights{ADX: 0.30, EMA: 0.30, ATR: 0.15, Volume: 0.10, RSI: 0.10, BB: 0.05}
	rangingWeights     = indicatorWeights{RSI: 0.30, EMA: 0.35, ADX: 0.10, ATR: 0.10, Volume: 0.10, BB: 0.05}
)

// dynamicWeights selects the preset for the given ADX level. Within 5 ADX
// points of a regime boundary the two adjacent presets blend linearly, so
// weights move continuously instead of jumping at 25 and 40.
func dynamicWeights(adx float64) indicatorWeights {
	if math.IsNaN(adx) {
		adx = 0
	}
	switch {
	case adx > 40:
		if adx < 45 {
			return mixWeights(strongTrendWeights, mediumTrendWeights, (adx-40)/5)
		}
		return strongTrendWeights
	case adx > 25:
		if adx > 35 {
			return mixWeights(mediumTrendWeights, strongTrendWeights, (adx-35)/5)
		}
		if adx < 30 {
			return mixWeights(mediumTrendWeights, rangingWeights, (30-adx)/5)
		}
		return mediumTrendWeights
	default:
		if adx > 20 {
			return mixWeights(rangingWeights, mediumTrendWeights, (adx-20)/5)
		}
		return rangingWeights
	}
}

func mixWeights(a, b indicatorWeights, factor float64) indicatorWeights {
	mix := func(x, y float64) float64 { return x*(1-factor) + y*factor }
	return indicatorWeights{
		ADX:    mix(a.ADX, b.ADX),
		EMA:    mix(a.EMA, b.EMA),
		ATR:    mix(a.ATR, b.ATR),
		Volume: mix(a.Volume, b.Volume),
		RSI:    mix(a.RSI, b.RSI),
		BB:     mix(a.BB, b.BB),
	}
}

// Scorer computes the per-bar score breakdown. It is stateless: every method
// is a pure function of the series prefix it is given.
type Scorer struct {
	weights   config.ScoreWeights
	direction config.DirectionConfig
}

func NewScorer(cfg config.Config) *Scorer {
	return &Scorer{weights: cfg.Weights, direction: cfg.Direction}
}

// TrendScore is the regime-weighted blend of the precomputed trend
// sub-scores, clamped to [0, 1]. NaN sub-scores contribute 0.
func (s *Scorer) TrendScore(row *market.FeatureRow) float64 {
	w := dynamicWeights(row.ADX)
	sum := numOr0(row.ADXTrendScore)*w.ADX +
		numOr0(row.EMATrendScore)*w.EMA +
		numOr0(row.ATRTrendScore)*w.ATR +
		numOr0(row.VolumeTrendScore)*w.Volume +
		numOr0(row.RSITrendScore)*w.RSI +
		numOr0(row.BBTrendScore)*w.BB
	return clamp01(sum)
}

// RiskScore blends realized volatility over the full prefix with the
// precomputed Sharpe columns. Below 30 usable returns it reports the neutral
// 0.5.
func (s *Scorer) RiskScore(series market.Series, i int) float64 {
	if i+1 < 30 {
		return 0.5
	}
	vol, n := returnStdDev(series, i)
	if n < 30 {
		return 0.5
	}
	volScore := math.Max(0, 1-vol*10)

	row := &series[i]
	sharpe := (numOr0(row.SharpeShort) + numOr0(row.SharpeLong)) / 2
	sharpeScore := clamp01(sharpe)

	return clamp01((volScore + sharpeScore) / 2)
}

// DrawdownScore turns the precomputed short/long max-drawdown columns into a
// [0, 1] score where deep drawdowns push toward 0.
func (s *Scorer) DrawdownScore(series market.Series, i int) float64 {
	if i+1 < 30 {
		return 0.5
	}
	row := &series[i]
	short := math.Max(0, 1-absf(numOr0(row.DrawdownShort))*2)
	long := math.Max(0, 1-absf(numOr0(row.DrawdownLong))*2)
	return clamp01((short + long) / 2)
}

// Composite is the weighted blend of the four component scores. NaN
// components count as 0 so one missing column cannot poison the result.
func (s *Scorer) Composite(base, trend, risk, drawdown float64) float64 {
	return numOr0(base)*s.weights.Signal +
		numOr0(trend)*s.weights.Trend +
		numOr0(risk)*s.weights.Risk +
		numOr0(drawdown)*s.weights.Drawdown
}

// Direction maps a composite score onto a trade direction via the configured
// long/short thresholds.
func (s *Scorer) Direction(score float64) Direction {
	switch {
	case math.IsNaN(score):
		return DirectionNone
	case score > s.direction.LongThreshold:
		return DirectionLong
	case score < s.direction.ShortThreshold:
		return DirectionShort
	default:
		return DirectionNone
	}
}

// returnStdDev is the sample standard deviation of simple returns over
// series[0..i], plus the count of usable returns. Welford's recurrence keeps
// it single-pass without allocating the return slice.
func returnStdDev(series market.Series, i int) (float64, int) {
	var n int
	var mean, m2 float64
	prev := math.NaN()
	for j := 0; j <= i; j++ {
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
	return math.Sqrt(m2 / float64(n-1)), n
}

func numOr0(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
