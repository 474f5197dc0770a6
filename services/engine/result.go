package engine

import "time"

// EngineVersion is recorded in run manifests so persisted results can be
// traced back to the decision logic that produced them.
const EngineVersion = "1.4.0"

// FilterCheck is one executed stage of the veto pipeline. Stages after the
// first veto never run and therefore never appear in the trace.
type FilterCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// SizeDecision is the position sizer's recommendation. Size is a fraction of
// available cash; Actionable is false for neutral directions.
type SizeDecision struct {
	Size       float64 `json:"size"`
	Direction  string  `json:"direction"`
	Score      float64 `json:"dominant_score"`
	Reason     string  `json:"reason"`
	Actionable bool    `json:"actionable"`
}

// SignalResult is the full per-bar decision record: final direction, the
// score breakdown, the filter trace, and the sizing recommendation.
type SignalResult struct {
	Time          time.Time     `json:"timestamp"`
	Direction     Direction     `json:"signal"`
	Score         float64       `json:"signal_score"`
	BaseScore     float64       `json:"base_score"`
	TrendScore    float64       `json:"trend_score"`
	RiskScore     float64       `json:"risk_score"`
	DrawdownScore float64       `json:"drawdown_score"`
	RawDirection  Direction     `json:"original_signal"`
	Reason        string        `json:"reason"`
	FilterReason  string        `json:"filter_reason"`
	Filters       []FilterCheck `json:"filters"`
	Size          SizeDecision  `json:"position_size"`
	Price         float64       `json:"current_price"`
}

// TradeRecord is one ledger entry, either an open or the close that pairs
// with it. Close records copy the score fields from their open so a trade
// can be analyzed without joining the two rows.
type TradeRecord struct {
	Time          time.Time `json:"date"`
	Action        string    `json:"action"`
	TradeType     string    `json:"trade_type"` // "open" or "close"
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	PositionValue float64   `json:"position_value"`
	Margin        float64   `json:"margin"`
	Cash          float64   `json:"cash"`
	Pnl           float64   `json:"pnl"`
	PnlPercent    float64   `json:"pnl_percent"`
	Leverage      float64   `json:"leverage"`
	Timeframe     string    `json:"timeframe"`
	Reason        string    `json:"reason"`

	Score         float64       `json:"signal_score"`
	BaseScore     float64       `json:"base_score"`
	TrendScore    float64       `json:"trend_score"`
	RiskScore     float64       `json:"risk_score"`
	DrawdownScore float64       `json:"drawdown_score"`
	Size          float64       `json:"position_size"`
	Filters       []FilterCheck `json:"filters,omitempty"`
}

const (
	TradeTypeOpen  = "open"
	TradeTypeClose = "close"
)

// ClosedTrade is what RiskManager hands back when a position is closed: the
// realized outcome plus enough entry context for the ledger entry.
type ClosedTrade struct {
	Time       time.Time    `json:"timestamp"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Quantity   float64      `json:"quantity"`
	Margin     float64      `json:"margin"`
	Pnl        float64      `json:"pnl"`
	PnlPercent float64      `json:"pnl_percent"`
	Reason     string       `json:"reason"`
}

// EquityPoint is one sample of the equity curve, taken once per bar.
type EquityPoint struct {
	Time  time.Time `json:"timestamp"`
	Value float64   `json:"total_asset"`
}

// Summary aggregates the closed-trade outcomes of a run.
type Summary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitRatio   float64 `json:"profit_ratio"` // |avg win / avg loss|
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// RunResult is the complete output of one simulation pass.
type RunResult struct {
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Bars        int           `json:"bars"`
	InitialCash float64       `json:"initial_cash"`
	FinalCash   float64       `json:"final_cash"`
	ReturnRatio float64       `json:"return_ratio"` // percent
	Trades      []TradeRecord `json:"trades"`
	Equity      []EquityPoint `json:"equity"`
	Summary     Summary       `json:"summary"`
	Manifest    RunManifest   `json:"manifest"`
}
