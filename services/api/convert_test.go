package api

import (
	"testing"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/engine"
)

func TestNewRunSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	res := &engine.RunResult{
		Symbol:      "WLFIUSDT",
		Timeframe:   "1h",
		StartTime:   start,
		EndTime:     start.Add(299 * time.Hour),
		Bars:        300,
		InitialCash: 100,
		FinalCash:   90.66501617664,
		ReturnRatio: -9.33498382336,
		Summary: engine.Summary{
			TotalTrades: 2, WinningTrades: 1, LosingTrades: 1,
			WinRate: 50, AvgWin: 2.74261617664, AvgLoss: -12.0776,
		},
		Manifest: engine.RunManifest{RunID: "run-1", ConfigHash: "abc", DataChecksum: "def", EngineVersion: engine.EngineVersion},
	}

	view := NewRunSummary(res)
	if view.InitialCapital != "100" {
		t.Fatalf("initial capital = %q", view.InitialCapital)
	}
	if view.FinalCapital != "90.66501618" {
		t.Fatalf("final capital = %q", view.FinalCapital)
	}
	if view.AvgLoss != "-12.0776" {
		t.Fatalf("avg loss = %q", view.AvgLoss)
	}
	if view.RunID != "run-1" || view.Bars != 300 || view.EngineVersion != engine.EngineVersion {
		t.Fatalf("summary = %+v", view)
	}
	if view.StartTime != start.UnixMilli() {
		t.Fatalf("start time = %d", view.StartTime)
	}
}

func TestNewTradeViews(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	views := NewTradeViews([]engine.TradeRecord{{
		Time: at, Action: "开多", TradeType: engine.TradeTypeOpen,
		Price: 100, Quantity: 0.8, Margin: 80, Cash: 20, Leverage: 5,
		Score: 0.68, Size: 0.8, Reason: "做多信号 (评分: 0.68)",
	}})
	if len(views) != 1 {
		t.Fatal("missing trade view")
	}
	v := views[0]
	if v.Price != "100" || v.Quantity != "0.8" || v.Margin != "80" {
		t.Fatalf("money fields = %+v", v)
	}
	if v.Action != "开多" || v.Score != 0.68 {
		t.Fatalf("trade view = %+v", v)
	}
}

func TestNewSignalView(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	trace := engine.DecisionTrace{
		Time: at,
		Signal: engine.SignalResult{
			Direction:    engine.DirectionLong,
			RawDirection: engine.DirectionLong,
			Score:        0.68,
			Reason:       "做多信号 (评分: 0.68)",
			Filters:      []engine.FilterCheck{{Name: "rsi", Passed: true, Reason: "ok"}},
			Size:         engine.SizeDecision{Size: 0.8},
		},
		Position: engine.Position{Side: engine.SideLong},
	}
	view := NewSignalView(trace)
	if view.Direction != "long" || view.Position != "long" {
		t.Fatalf("labels = %+v", view)
	}
	if len(view.Filters) != 1 || view.Filters[0].Stage != "rsi" {
		t.Fatalf("filters = %+v", view.Filters)
	}
	if view.SizeFraction != 0.8 {
		t.Fatalf("size fraction = %v", view.SizeFraction)
	}
}
