package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/JINJINJINFAN/Quantify/services/market"
)

// scenarioSeries is 300 quiet bars with a long setup at bar 210 that gets
// stopped out by a drop at bar 214, and a second long setup at bar 290 that
// rides into the forced close at the end.
func scenarioSeries() market.Series {
	series := quietSeries(300, 100)
	series[210] = longRow(210, 100)
	series[214] = quietRow(214, 97)
	series[290] = longRow(290, 100)
	return series
}

func runScenario(t *testing.T) *RunResult {
	t.Helper()
	cfg := testConfig()
	eng := NewDecisionEngine(cfg, nil)
	bt := NewBacktester(cfg, eng, nil)
	res, err := bt.Run(context.Background(), RunRequest{
		RunID:     "test",
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Series:    scenarioSeries(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestRunStopLossAndForcedClose(t *testing.T) {
	res := runScenario(t)

	if len(res.Trades) != 4 {
		t.Fatalf("trade records = %d, want 4", len(res.Trades))
	}
	open1, close1 := res.Trades[0], res.Trades[1]
	open2, close2 := res.Trades[2], res.Trades[3]

	if open1.Action != "开多" || open1.TradeType != TradeTypeOpen {
		t.Fatalf("first record = %+v", open1)
	}
	if !approx(open1.Price, 100) || !approx(open1.Quantity, 0.8) || !approx(open1.Margin, 80) {
		t.Fatalf("first open sizing = %+v", open1)
	}
	if !approx(open1.Cash, 20) || !approx(open1.PositionValue, 400) {
		t.Fatalf("first open ledger = %+v", open1)
	}
	if !approx(open1.Score, 0.68) || open1.Reason != "做多信号 (评分: 0.68)" {
		t.Fatalf("first open signal = %+v", open1)
	}

	if close1.Action != "平多" || close1.TradeType != TradeTypeClose {
		t.Fatalf("second record = %+v", close1)
	}
	if want := "固定止损[亏损15.1% 达到阈值 10.0%]"; close1.Reason != want {
		t.Fatalf("stop reason = %q, want %q", close1.Reason, want)
	}
	// Leveraged move plus the close fee: -0.03*5*80 - 0.8*97*0.001.
	if !approx(close1.Pnl, -12.0776) {
		t.Fatalf("stop pnl = %v, want -12.0776", close1.Pnl)
	}
	if !approx(close1.Cash, 87.9224) {
		t.Fatalf("cash after stop = %v, want 87.9224", close1.Cash)
	}
	// A close record repeats its open's score breakdown.
	if !approx(close1.Score, 0.68) || !approx(close1.Size, 0.8) {
		t.Fatalf("close record scores = %+v", close1)
	}

	if !approx(open2.Margin, 70.33792) || !approx(open2.Cash, 17.58448) {
		t.Fatalf("second open ledger = %+v", open2)
	}
	if close2.Reason != "回测结束平仓" || close2.Pnl <= 0 {
		t.Fatalf("forced close = %+v", close2)
	}

	// Cash conservation: final capital is the initial plus every realized pnl.
	if !approx(res.FinalCash, 100+close1.Pnl+close2.Pnl) {
		t.Fatalf("final cash = %v", res.FinalCash)
	}
	if !approx(res.ReturnRatio, (res.FinalCash-100)/100*100) {
		t.Fatalf("return ratio = %v", res.ReturnRatio)
	}
}

func TestRunEquityCurve(t *testing.T) {
	res := runScenario(t)

	if len(res.Equity) != 300 {
		t.Fatalf("equity points = %d, want one per bar", len(res.Equity))
	}
	// Bar 210 samples right after the open: cash + margin - open fee.
	if !approx(res.Equity[210].Value, 99.92) {
		t.Fatalf("equity[210] = %v, want 99.92", res.Equity[210].Value)
	}
	// Flat bars sample cash alone.
	if !approx(res.Equity[220].Value, 87.9224) {
		t.Fatalf("equity[220] = %v, want 87.9224", res.Equity[220].Value)
	}
	if res.Summary.MaxDrawdown <= 0 || res.Summary.MaxDrawdown >= 100 {
		t.Fatalf("max drawdown = %v", res.Summary.MaxDrawdown)
	}
}

func TestRunSummary(t *testing.T) {
	res := runScenario(t)
	s := res.Summary

	if s.TotalTrades != 2 || s.WinningTrades != 1 || s.LosingTrades != 1 {
		t.Fatalf("summary counts = %+v", s)
	}
	if !approx(s.WinRate, 50) {
		t.Fatalf("win rate = %v, want 50", s.WinRate)
	}
	if !approx(s.AvgLoss, -12.0776) || s.AvgWin <= 0 {
		t.Fatalf("averages = %+v", s)
	}
	if !approx(s.ProfitRatio, s.AvgWin/12.0776) {
		t.Fatalf("profit ratio = %v", s.ProfitRatio)
	}
}

func TestRunManifest(t *testing.T) {
	res := runScenario(t)
	if res.Manifest.RunID != "test" || res.Manifest.Rows != 300 {
		t.Fatalf("manifest = %+v", res.Manifest)
	}
	if res.Manifest.ConfigHash != testConfig().Fingerprint() {
		t.Fatal("manifest config hash does not match the run config")
	}
	if res.Manifest.DataChecksum == "" {
		t.Fatal("manifest checksum is empty")
	}
}

func TestRunDeterminism(t *testing.T) {
	series := scenarioSeries()
	cfg := testConfig()

	runOnce := func() *RunResult {
		bt := NewBacktester(cfg, NewDecisionEngine(cfg, nil), nil)
		res, err := bt.Run(context.Background(), RunRequest{RunID: "det", Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, Series: series})
		if err != nil {
			t.Fatal(err)
		}
		return res
	}
	a, b := runOnce(), runOnce()

	aTrades, _ := json.Marshal(a.Trades)
	bTrades, _ := json.Marshal(b.Trades)
	if !bytes.Equal(aTrades, bTrades) {
		t.Fatal("trade logs differ between identical runs")
	}
	aEq, _ := json.Marshal(a.Equity)
	bEq, _ := json.Marshal(b.Equity)
	if !bytes.Equal(aEq, bEq) {
		t.Fatal("equity curves differ between identical runs")
	}
	if a.Manifest.DataChecksum != b.Manifest.DataChecksum {
		t.Fatal("series checksums differ between identical runs")
	}
}

func TestRunEmptySeries(t *testing.T) {
	cfg := testConfig()
	bt := NewBacktester(cfg, NewDecisionEngine(cfg, nil), nil)
	if _, err := bt.Run(context.Background(), RunRequest{RunID: "empty"}); !errors.Is(err, ErrEmptySeries) {
		t.Fatalf("err = %v, want ErrEmptySeries", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	cfg := testConfig()
	bt := NewBacktester(cfg, NewDecisionEngine(cfg, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bt.Run(ctx, RunRequest{RunID: "cancel", Series: quietSeries(10, 100)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunEventLog(t *testing.T) {
	cfg := testConfig()
	bt := NewBacktester(cfg, NewDecisionEngine(cfg, nil), nil)
	if _, err := bt.Run(context.Background(), RunRequest{RunID: "ev", Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, Series: scenarioSeries()}); err != nil {
		t.Fatal(err)
	}

	events := bt.Events().Events
	if len(events) != 4 {
		t.Fatalf("events = %d, want open/stop/open/force close", len(events))
	}
	wantTypes := []EventType{EventOpen, EventStopLoss, EventOpen, EventForceClose}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d type = %v, want %v", i, events[i].Type, want)
		}
	}
	if events[1].Details["reason"] == "" || events[1].Details["pnl"] == "" {
		t.Fatalf("stop event details = %+v", events[1].Details)
	}
}
