package api

import (
	"github.com/shopspring/decimal"

	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/engine"
)

// money formats a float64 money amount as a fixed-point decimal string.
func money(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// NewRunSummary converts a finished run into its wire view.
func NewRunSummary(res *engine.RunResult) RunSummary {
	return RunSummary{
		RunID:          res.Manifest.RunID,
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		StartTime:      res.StartTime.UnixMilli(),
		EndTime:        res.EndTime.UnixMilli(),
		Bars:           res.Bars,
		InitialCapital: money(res.InitialCash),
		FinalCapital:   money(res.FinalCash),
		ReturnRatio:    res.ReturnRatio,
		TotalTrades:    res.Summary.TotalTrades,
		WinningTrades:  res.Summary.WinningTrades,
		LosingTrades:   res.Summary.LosingTrades,
		WinRate:        res.Summary.WinRate,
		AvgWin:         money(res.Summary.AvgWin),
		AvgLoss:        money(res.Summary.AvgLoss),
		ProfitRatio:    res.Summary.ProfitRatio,
		MaxDrawdown:    res.Summary.MaxDrawdown,
		ConfigHash:     res.Manifest.ConfigHash,
		DataChecksum:   res.Manifest.DataChecksum,
		EngineVersion:  res.Manifest.EngineVersion,
	}
}

// RunSummaryFromRow converts a persisted run header. Decimal columns pass
// through without a float round trip.
func RunSummaryFromRow(r clickhouse.RunRow) RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		StartTime:      r.StartTime.UnixMilli(),
		EndTime:        r.EndTime.UnixMilli(),
		Bars:           int(r.Bars),
		InitialCapital: r.InitialCash.Round(8).String(),
		FinalCapital:   r.FinalCash.Round(8).String(),
		ReturnRatio:    r.ReturnRatio,
		TotalTrades:    int(r.TotalTrades),
		WinningTrades:  int(r.WinningTrades),
		LosingTrades:   int(r.LosingTrades),
		WinRate:        r.WinRate,
		AvgWin:         money(r.AvgWin),
		AvgLoss:        money(r.AvgLoss),
		ProfitRatio:    r.ProfitRatio,
		MaxDrawdown:    r.MaxDrawdown,
		ConfigHash:     r.ConfigHash,
		DataChecksum:   r.SeriesSHA256,
		EngineVersion:  r.EngineVersion,
	}
}

func NewTradeViews(trades []engine.TradeRecord) []TradeView {
	out := make([]TradeView, len(trades))
	for i := range trades {
		t := &trades[i]
		out[i] = TradeView{
			Timestamp:     t.Time.UnixMilli(),
			Action:        t.Action,
			TradeType:     t.TradeType,
			Price:         money(t.Price),
			Quantity:      money(t.Quantity),
			PositionValue: money(t.PositionValue),
			Margin:        money(t.Margin),
			Cash:          money(t.Cash),
			Pnl:           money(t.Pnl),
			PnlPercent:    t.PnlPercent,
			Leverage:      t.Leverage,
			Score:         t.Score,
			Size:          t.Size,
			Reason:        t.Reason,
		}
	}
	return out
}

func NewEquityViews(equity []engine.EquityPoint) []EquityView {
	out := make([]EquityView, len(equity))
	for i, p := range equity {
		out[i] = EquityView{Timestamp: p.Time.UnixMilli(), TotalAsset: money(p.Value)}
	}
	return out
}

// NewSignalView flattens one replay trace entry.
func NewSignalView(trace engine.DecisionTrace) SignalView {
	sig := trace.Signal
	filters := make([]FilterStageView, len(sig.Filters))
	for i, f := range sig.Filters {
		filters[i] = FilterStageView{Stage: f.Name, Passed: f.Passed, Reason: f.Reason}
	}
	return SignalView{
		Timestamp:     trace.Time.UnixMilli(),
		Direction:     sig.Direction.String(),
		RawDirection:  sig.RawDirection.String(),
		Score:         sig.Score,
		BaseScore:     sig.BaseScore,
		TrendScore:    sig.TrendScore,
		RiskScore:     sig.RiskScore,
		DrawdownScore: sig.DrawdownScore,
		Reason:        sig.Reason,
		FilterReason:  sig.FilterReason,
		Filters:       filters,
		Position:      trace.Position.Side.String(),
		SizeFraction:  sig.Size.Size,
	}
}

func NewSignalViews(traces []engine.DecisionTrace) []SignalView {
	out := make([]SignalView, len(traces))
	for i := range traces {
		out[i] = NewSignalView(traces[i])
	}
	return out
}
