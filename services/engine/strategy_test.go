package engine

import (
	"strings"
	"testing"

	"github.com/JINJINJINFAN/Quantify/services/market"
)

func TestGenerateSignalWarmup(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil) // lookback 200
	series := quietSeries(10, 100)

	sig := e.GenerateSignal(series, 9)
	if sig.Direction != DirectionNone {
		t.Fatalf("direction = %v, want neutral during warmup", sig.Direction)
	}
	if want := "数据不足 (10 条，需要至少 200 条)"; sig.Reason != want {
		t.Fatalf("reason = %q, want %q", sig.Reason, want)
	}
	if sig.Size.Actionable {
		t.Fatal("warmup size must not be actionable")
	}
}

func TestGenerateSignalLong(t *testing.T) {
	cfg := testConfig()
	cfg.MinLookback = 5
	e := NewDecisionEngine(cfg, nil)

	series := make(market.Series, 10)
	for i := range series {
		series[i] = longRow(i, 100)
	}
	sig := e.GenerateSignal(series, 9)

	if sig.Direction != DirectionLong || sig.RawDirection != DirectionLong {
		t.Fatalf("direction = %v raw %v, want long", sig.Direction, sig.RawDirection)
	}
	// base 0.9*0.6 + trend 0.35*0.4.
	if !approx(sig.Score, 0.68) {
		t.Fatalf("score = %v, want 0.68", sig.Score)
	}
	if !approx(sig.TrendScore, 0.35) || !approx(sig.BaseScore, 0.9) {
		t.Fatalf("component scores = %+v", sig)
	}
	if want := "做多信号 (评分: 0.68)"; sig.Reason != want {
		t.Fatalf("reason = %q, want %q", sig.Reason, want)
	}
	if !approx(sig.Size.Size, 0.8) {
		t.Fatalf("size = %v, want full clamped to 0.8", sig.Size.Size)
	}
	if len(sig.Filters) != 5 {
		t.Fatalf("filter trace has %d stages, want 5", len(sig.Filters))
	}
}

func TestGenerateSignalVetoReason(t *testing.T) {
	cfg := testConfig()
	cfg.MinLookback = 5
	e := NewDecisionEngine(cfg, nil)

	series := make(market.Series, 10)
	for i := range series {
		series[i] = longRow(i, 100)
	}
	series[9].RSI = 90
	sig := e.GenerateSignal(series, 9)

	if sig.Direction != DirectionNone || sig.RawDirection != DirectionLong {
		t.Fatalf("direction = %v raw %v, want vetoed long", sig.Direction, sig.RawDirection)
	}
	if want := "信号被过滤: 多头RSI超买过滤(RSI90.0 >= 阈值85)"; sig.Reason != want {
		t.Fatalf("reason = %q, want %q", sig.Reason, want)
	}
}

func TestGenerateSignalNeutralReason(t *testing.T) {
	cfg := testConfig()
	cfg.MinLookback = 5
	e := NewDecisionEngine(cfg, nil)

	series := quietSeries(10, 100)
	sig := e.GenerateSignal(series, 9)
	if sig.Reason != "观望信号" || sig.FilterReason != "原始信号为观望" {
		t.Fatalf("neutral signal = %q / %q", sig.Reason, sig.FilterReason)
	}
}

func TestGenerateSignalAdvancesHolding(t *testing.T) {
	cfg := testConfig()
	cfg.MinLookback = 5
	e := NewDecisionEngine(cfg, nil)
	series := quietSeries(10, 100)

	e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(0))
	e.GenerateSignal(series, 8)
	e.GenerateSignal(series, 9)
	if got := e.Position().HoldingPeriods; got != 2 {
		t.Fatalf("holding periods = %d, want 2", got)
	}
}

func TestCheckExitUsesLiveCompositeScore(t *testing.T) {
	cfg := testConfig()
	cfg.MinLookback = 1
	e := NewDecisionEngine(cfg, nil)
	e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(0))

	// A hostile bar: price down past 70% of the fixed stop while the
	// composite score (base -0.9 * 0.6) sits beyond the reversal gate.
	row := quietRow(0, 98.5)
	row.BaseScore = -0.9
	action, reason := e.CheckExit(market.Series{row}, 0)
	if action != ActionStopLoss {
		t.Fatalf("action = %v (%q), want reversal stop", action, reason)
	}
	if !strings.HasPrefix(reason, "信号评分反转止损(多头持仓") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestCheckExitFlat(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)
	action, reason := e.CheckExit(quietSeries(1, 100), 0)
	if action != ActionHold || reason != "无持仓" {
		t.Fatalf("flat exit check = %v %q", action, reason)
	}
}

func TestClosePositionFeedsCooldown(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)

	for i := 0; i < 2; i++ {
		e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(i*2))
		if _, ok := e.ClosePosition(90, barTime(i*2+1), "stop"); !ok {
			t.Fatal("close failed")
		}
	}
	if !e.Cooldown().Active() {
		t.Fatal("two losing closes must activate the cooldown")
	}
}

func TestEngineReset(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)
	e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(0))
	e.ClosePosition(90, barTime(1), "stop")
	e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(2))
	e.ClosePosition(90, barTime(3), "stop")
	e.Reset()

	if e.Position().Side != SideFlat {
		t.Fatal("position survives reset")
	}
	if e.Cooldown().Active() || e.Cooldown().State().Trades != 0 {
		t.Fatal("cooldown survives reset")
	}
}
