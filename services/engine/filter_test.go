package engine

import (
	"math"
	"strings"
	"testing"

	"github.com/JINJINJINFAN/Quantify/services/market"
)

func TestFilterNeutralShortCircuits(t *testing.T) {
	f := NewFilter(testConfig())
	series := market.Series{longRow(0, 100)}

	dir, reason, trace := f.Apply(DirectionNone, series, 0, 0.5, 0.5)
	if dir != DirectionNone {
		t.Fatalf("direction = %v, want neutral", dir)
	}
	if reason != "原始信号为观望" {
		t.Fatalf("reason = %q", reason)
	}
	if trace != nil {
		t.Fatalf("expected no trace for neutral input, got %d stages", len(trace))
	}
}

func TestFilterLongPasses(t *testing.T) {
	f := NewFilter(testConfig())
	series := market.Series{longRow(0, 100)}

	dir, reason, trace := f.Apply(DirectionLong, series, 0, 0.35, 0.9)
	if dir != DirectionLong {
		t.Fatalf("direction = %v, want long (reason %q)", dir, reason)
	}
	if reason != "做多信号通过过滤" {
		t.Fatalf("reason = %q", reason)
	}
	if len(trace) != 5 {
		t.Fatalf("trace has %d stages, want 5", len(trace))
	}
	for _, check := range trace {
		if !check.Passed {
			t.Fatalf("stage %s failed: %s", check.Name, check.Reason)
		}
	}
}

func TestFilterPriceDeviationVetoLong(t *testing.T) {
	f := NewFilter(testConfig())
	row := longRow(0, 105)
	row.LineWMA = 100
	row.Low = 103

	dir, reason, trace := f.Apply(DirectionLong, market.Series{row}, 0, 0.35, 0.9)
	if dir != DirectionNone {
		t.Fatalf("direction = %v, want vetoed", dir)
	}
	want := "价格偏离过滤(做多信号，low价格偏离WMA3.0% >= 动态阈值2.0%)"
	if reason != want {
		t.Fatalf("reason = %q, want %q", reason, want)
	}
	if len(trace) != 1 || trace[0].Name != "price_deviation" || trace[0].Passed {
		t.Fatalf("unexpected trace: %+v", trace)
	}
}

func TestFilterPriceDeviationVetoShort(t *testing.T) {
	f := NewFilter(testConfig())
	row := shortRow(0, 95)
	row.LineWMA = 100
	row.High = 96

	_, reason, _ := f.Apply(DirectionShort, market.Series{row}, 0, 0, -0.9)
	want := "价格偏离过滤(空头信号，high价格偏离WMA-4.0% <= -动态阈值-2.0%)"
	if reason != want {
		t.Fatalf("reason = %q, want %q", reason, want)
	}
}

func TestFilterDeviationThresholdDynamic(t *testing.T) {
	f := NewFilter(testConfig())

	cases := []struct {
		name   string
		regime float64
		atr    float64
		want   float64
	}{
		{"base", math.NaN(), math.NaN(), 2.0},
		{"ranging tightens", market.RegimeRanging, math.NaN(), 1.5},
		{"strong trend widens", market.RegimeStrongTrend, math.NaN(), 7.0},
		{"high atr widens", math.NaN(), 6, 3.5},
		{"moderate atr widens", math.NaN(), 4, 2.5},
		{"low atr tightens", math.NaN(), 0.5, 1.5},
		{"clamped high", market.RegimeStrongTrend, 6, 8.0},
		{"clamped low", market.RegimeRanging, 0.5, 1.0},
	}
	for _, tc := range cases {
		row := quietRow(0, 100)
		row.MarketRegime = tc.regime
		row.ATR = tc.atr
		if got := f.deviationThreshold(&row); !approx(got, tc.want) {
			t.Fatalf("%s: threshold = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterRSIVeto(t *testing.T) {
	f := NewFilter(testConfig())

	row := longRow(0, 100)
	row.RSI = 90
	_, reason, trace := f.Apply(DirectionLong, market.Series{row}, 0, 0.35, 0.9)
	if want := "多头RSI超买过滤(RSI90.0 >= 阈值85)"; reason != want {
		t.Fatalf("long reason = %q, want %q", reason, want)
	}
	if len(trace) != 2 || !trace[0].Passed || trace[1].Passed {
		t.Fatalf("trace should stop at rsi: %+v", trace)
	}

	srow := shortRow(0, 100)
	srow.RSI = 20
	_, reason, _ = f.Apply(DirectionShort, market.Series{srow}, 0, 0, -0.9)
	if want := "空头RSI超卖过滤(RSI20.0 <= 阈值25)"; reason != want {
		t.Fatalf("short reason = %q, want %q", reason, want)
	}
}

func TestFilterRSIMissingFailsOpen(t *testing.T) {
	f := NewFilter(testConfig())
	row := longRow(0, 100)
	row.RSI = math.NaN()

	dir, _, trace := f.Apply(DirectionLong, market.Series{row}, 0, 0.35, 0.9)
	if dir != DirectionLong {
		t.Fatalf("missing RSI must fail open, got %v", dir)
	}
	if trace[1].Reason != "做多信号通过RSI过滤(RSI数据缺失)" {
		t.Fatalf("rsi stage reason = %q", trace[1].Reason)
	}
}

func TestFilterVolatilityVeto(t *testing.T) {
	f := NewFilter(testConfig())

	// A dead series: 51 identical closes give zero volatility.
	flat := make(market.Series, 51)
	for i := range flat {
		flat[i] = longRow(i, 100)
	}
	_, reason, _ := f.Apply(DirectionLong, flat, 50, 0.35, 0.9)
	if want := "波动率过低(0.0000 < 0.003)"; reason != want {
		t.Fatalf("reason = %q, want %q", reason, want)
	}

	// A violent series: closes whipsawing 3x leave the band upward.
	wild := make(market.Series, 51)
	for i := range wild {
		c := 100.0
		if i%2 == 1 {
			c = 300
		}
		wild[i] = longRow(i, c)
	}
	_, reason, _ = f.Apply(DirectionLong, wild, 50, 0.35, 0.9)
	if !strings.HasPrefix(reason, "波动率过高(") {
		t.Fatalf("reason = %q, want high-volatility veto", reason)
	}
}

func TestFilterVolatilityShortWindowFailsOpen(t *testing.T) {
	f := NewFilter(testConfig())
	series := market.Series{longRow(0, 100)}

	dir, _, trace := f.Apply(DirectionLong, series, 0, 0.35, 0.9)
	if dir != DirectionLong {
		t.Fatalf("short window must fail open, got %v", dir)
	}
	if trace[2].Reason != "信号通过波动率过滤(数据不足)" {
		t.Fatalf("volatility stage reason = %q", trace[2].Reason)
	}
}

func TestFilterScoreVeto(t *testing.T) {
	f := NewFilter(testConfig())
	series := market.Series{longRow(0, 100)}

	_, reason, _ := f.Apply(DirectionLong, series, 0, 0.1, 0.9)
	if want := "多头趋势强度不足(趋势评分0.100 必须大于 0.3)"; reason != want {
		t.Fatalf("trend veto = %q, want %q", reason, want)
	}

	_, reason, _ = f.Apply(DirectionLong, series, 0, 0.35, 0.2)
	if want := "多头基础评分不足(基础评分0.200 必须大于 0.35)"; reason != want {
		t.Fatalf("base veto = %q, want %q", reason, want)
	}
}

func TestFilterScoreMissingFailsOpen(t *testing.T) {
	f := NewFilter(testConfig())
	series := market.Series{longRow(0, 100)}

	dir, _, trace := f.Apply(DirectionLong, series, 0, math.NaN(), 0.9)
	if dir != DirectionLong {
		t.Fatalf("missing trend score must fail open, got %v", dir)
	}
	if trace[3].Reason != "做多信号通过评分过滤(趋势评分数据缺失)" {
		t.Fatalf("score stage reason = %q", trace[3].Reason)
	}
}

func TestFilterEntanglement(t *testing.T) {
	f := NewFilter(testConfig())

	// Close sits between the EMAs: no clean stack, always entangled.
	row := longRow(0, 100)
	row.OpenEMA = 101
	row.CloseEMA = 99
	row.LineWMA = 100.5
	_, reason, _ := f.Apply(DirectionLong, market.Series{row}, 0, 0.35, 0.9)
	if reason != "价格均线纠缠" {
		t.Fatalf("reason = %q, want entanglement veto", reason)
	}

	// Perfect bullish stack, but price hugs the baseline inside the
	// distance threshold.
	tight := longRow(0, 100.02)
	tight.OpenEMA = 100.01
	tight.CloseEMA = 100.015
	tight.LineWMA = 100
	_, reason, _ = f.Apply(DirectionLong, market.Series{tight}, 0, 0.35, 0.9)
	if reason != "价格均线纠缠" {
		t.Fatalf("tight stack reason = %q, want entanglement veto", reason)
	}

	// Missing averages: not classified, passes through.
	bare := longRow(0, 100)
	bare.OpenEMA = math.NaN()
	dir, _, _ := f.Apply(DirectionLong, market.Series{bare}, 0, 0.35, 0.9)
	if dir != DirectionLong {
		t.Fatalf("unclassifiable row must pass, got %v", dir)
	}
}

func TestFilterDisabledStageSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Filters.EnableRSI = false
	f := NewFilter(cfg)

	row := longRow(0, 100)
	row.RSI = 90
	dir, _, trace := f.Apply(DirectionLong, market.Series{row}, 0, 0.35, 0.9)
	if dir != DirectionLong {
		t.Fatalf("disabled RSI stage must not veto, got %v", dir)
	}
	for _, check := range trace {
		if check.Name == "rsi" {
			t.Fatal("disabled stage must not appear in trace")
		}
	}
	if len(trace) != 4 {
		t.Fatalf("trace has %d stages, want 4", len(trace))
	}
}
