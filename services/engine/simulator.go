package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// ErrEmptySeries is returned when a run is requested over zero bars.
var ErrEmptySeries = errors.New("engine: empty feature series")

// ErrBarNotFound is returned when a replay names a timestamp that is not in
// the series.
var ErrBarNotFound = errors.New("engine: bar not found in series")

// RunRequest names one simulation run over a validated feature series.
type RunRequest struct {
	RunID     string
	Symbol    string
	Timeframe string
	Series    market.Series
}

// Backtester replays a feature series through a Strategy. It owns the cash
// ledger, trade log, and equity curve; the Strategy owns position and
// cooldown state. The per-bar order is fixed, so identical inputs always
// produce an identical trade log and equity curve.
type Backtester struct {
	cfg      config.Config
	log      *zap.Logger
	strategy Strategy
	filters  SymbolFilters
	events   *EventLog
	onSignal func(i int, sig SignalResult)
	symbol   string

	cash    float64
	trades  []TradeRecord
	equity  []EquityPoint
	openIdx int

	totalTrades int
	wins        int
	losses      int
}

func NewBacktester(cfg config.Config, strategy Strategy, log *zap.Logger) *Backtester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backtester{cfg: cfg, log: log, strategy: strategy, events: &EventLog{}, openIdx: -1}
}

// SetSymbolFilters installs exchange lot-size/notional rounding applied to
// order quantities. The zero value leaves quantities untouched.
func (b *Backtester) SetSymbolFilters(f SymbolFilters) { b.filters = f }

// Events exposes the run's lifecycle log, e.g. to attach a streaming sink
// before Run.
func (b *Backtester) Events() *EventLog { return b.events }

// SetSignalSink installs an observer invoked after each bar with the bar's
// decision record. Used by replay tooling; nil disables it.
func (b *Backtester) SetSignalSink(fn func(i int, sig SignalResult)) { b.onSignal = fn }

// Run executes one deterministic pass over req.Series. The ledger and
// strategy state are reset first, so a Backtester can be reused. The
// context is checked between bars; cancellation abandons the run without a
// partial result.
func (b *Backtester) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if len(req.Series) == 0 {
		return nil, ErrEmptySeries
	}

	b.cash = b.cfg.InitialCapital
	b.trades = nil
	b.equity = make([]EquityPoint, 0, len(req.Series))
	b.openIdx = -1
	b.totalTrades, b.wins, b.losses = 0, 0, 0
	b.symbol = req.Symbol
	b.strategy.Reset()

	b.log.Info("backtest started",
		zap.String("run_id", req.RunID),
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", req.Timeframe),
		zap.Int("bars", len(req.Series)))

	for i := range req.Series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.step(req.Series, i, req.Timeframe)
		b.appendEquity(req.Series[i].Time)
		if (i+1)%2000 == 0 {
			b.log.Debug("backtest progress",
				zap.Int("bar", i+1),
				zap.Int("bars", len(req.Series)),
				zap.Float64("total_asset", b.equity[len(b.equity)-1].Value))
		}
	}

	// Any position still open at the end of the series is closed at the
	// last price; no equity point follows the forced close.
	if b.strategy.Position().Side != SideFlat {
		last := &req.Series[len(req.Series)-1]
		b.closeAt(last.Close, last.Time, "回测结束平仓", req.Timeframe, EventForceClose)
	}

	res := &RunResult{
		Symbol:      req.Symbol,
		Timeframe:   req.Timeframe,
		StartTime:   req.Series[0].Time,
		EndTime:     req.Series[len(req.Series)-1].Time,
		Bars:        len(req.Series),
		InitialCash: b.cfg.InitialCapital,
		FinalCash:   b.cash,
		Trades:      b.trades,
		Equity:      b.equity,
		Summary:     b.summarize(),
		Manifest:    NewRunManifest(req.RunID, b.cfg.Fingerprint(), req.Series),
	}
	if b.cfg.InitialCapital > 0 {
		res.ReturnRatio = (b.cash - b.cfg.InitialCapital) / b.cfg.InitialCapital * 100
	}

	b.log.Info("backtest finished",
		zap.String("run_id", req.RunID),
		zap.Float64("final_cash", res.FinalCash),
		zap.Float64("return_ratio", res.ReturnRatio),
		zap.Int("total_trades", b.totalTrades),
		zap.Int("wins", b.wins),
		zap.Int("losses", b.losses))
	return res, nil
}

// step runs the fixed per-bar order: mark to market, exit check, signal
// generation, then entry. A panic while evaluating one bar must not abort
// the run; the bar degrades to a hold.
func (b *Backtester) step(series market.Series, i int, timeframe string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bar evaluation failed, holding",
				zap.Int("bar", i),
				zap.Time("time", series[i].Time),
				zap.Any("panic", r))
		}
	}()

	row := &series[i]
	b.strategy.MarkToMarket(row.Close)

	closedThisBar := false
	if b.strategy.Position().Side != SideFlat {
		action, reason := b.strategy.CheckExit(series, i)
		switch action {
		case ActionStopLoss:
			b.closeAt(row.Close, row.Time, reason, timeframe, EventStopLoss)
			closedThisBar = true
		case ActionTakeProfit:
			b.closeAt(row.Close, row.Time, reason, timeframe, EventTakeProfit)
			closedThisBar = true
		}
	}

	sig := b.strategy.GenerateSignal(series, i)
	defer func() {
		if b.onSignal != nil {
			b.onSignal(i, sig)
		}
	}()
	if sig.Direction == DirectionNone || closedThisBar {
		return
	}
	if b.strategy.Position().Side != SideFlat || !b.strategy.ShouldOpen(sig.Direction) {
		return
	}
	b.openAt(sig, row.Close, row.Time, timeframe)
}

func (b *Backtester) openAt(sig SignalResult, price float64, at time.Time, timeframe string) {
	if price <= 0 {
		return
	}
	size := sig.Size.Size
	if size <= 0 {
		return
	}
	margin := b.cash * size
	if margin <= 0 {
		return
	}
	quantity := EnforceFilters(b.filters, price, margin/price)
	if quantity <= 0 {
		b.log.Debug("order below exchange minimums",
			zap.Float64("price", price),
			zap.Float64("margin", margin))
		return
	}
	margin = quantity * price
	if margin > b.cash {
		return
	}

	b.cash -= margin
	b.strategy.OpenPosition(sig.Direction, price, quantity, margin, sig.Score, at)
	b.totalTrades++

	action := "开多"
	if sig.Direction == DirectionShort {
		action = "开空"
	}
	rec := TradeRecord{
		Time:          at,
		Action:        action,
		TradeType:     TradeTypeOpen,
		Price:         price,
		Quantity:      quantity,
		PositionValue: quantity * price * b.cfg.Leverage,
		Margin:        margin,
		Cash:          b.cash,
		Leverage:      b.cfg.Leverage,
		Timeframe:     timeframe,
		Reason:        sig.Reason,
		Score:         sig.Score,
		BaseScore:     sig.BaseScore,
		TrendScore:    sig.TrendScore,
		RiskScore:     sig.RiskScore,
		DrawdownScore: sig.DrawdownScore,
		Size:          sig.Size.Size,
		Filters:       sig.Filters,
	}
	b.openIdx = len(b.trades)
	b.trades = append(b.trades, rec)

	b.log.Info("position opened",
		zap.Time("time", at),
		zap.String("action", action),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Float64("margin", margin),
		zap.String("reason", sig.Reason))
	b.events.Append(Event{Time: at, Type: EventOpen, Symbol: b.symbol, Details: map[string]string{
		"action": action,
		"price":  fmt.Sprintf("%.2f", price),
		"reason": sig.Reason,
	}})
}

func (b *Backtester) closeAt(price float64, at time.Time, reason, timeframe string, event EventType) {
	trade, ok := b.strategy.ClosePosition(price, at, reason)
	if !ok {
		return
	}

	b.cash += trade.Margin + trade.Pnl
	if b.cash < 0 {
		b.cash = 0
	}
	if trade.Pnl > 0 {
		b.wins++
	} else {
		b.losses++
	}

	action := "平多"
	if trade.Side == SideShort {
		action = "平空"
	}
	rec := TradeRecord{
		Time:          at,
		Action:        action,
		TradeType:     TradeTypeClose,
		Price:         price,
		Quantity:      trade.Quantity,
		PositionValue: trade.Quantity * trade.EntryPrice * b.cfg.Leverage,
		Margin:        trade.Margin,
		Cash:          b.cash,
		Pnl:           trade.Pnl,
		PnlPercent:    trade.PnlPercent,
		Leverage:      b.cfg.Leverage,
		Timeframe:     timeframe,
		Reason:        reason,
	}
	// Close records carry their open's score breakdown so one row is
	// enough to analyze the trade.
	if b.openIdx >= 0 && b.openIdx < len(b.trades) {
		open := &b.trades[b.openIdx]
		rec.Score = open.Score
		rec.BaseScore = open.BaseScore
		rec.TrendScore = open.TrendScore
		rec.RiskScore = open.RiskScore
		rec.DrawdownScore = open.DrawdownScore
		rec.Size = open.Size
		rec.Filters = open.Filters
	}
	b.trades = append(b.trades, rec)
	b.openIdx = -1

	b.log.Info("position closed",
		zap.Time("time", at),
		zap.String("action", action),
		zap.Float64("price", price),
		zap.Float64("pnl", trade.Pnl),
		zap.Float64("pnl_percent", trade.PnlPercent),
		zap.Float64("cash", b.cash),
		zap.String("reason", reason))
	b.events.Append(Event{Time: at, Type: event, Symbol: b.symbol, Details: map[string]string{
		"action": action,
		"price":  fmt.Sprintf("%.2f", price),
		"pnl":    fmt.Sprintf("%.2f", trade.Pnl),
		"reason": reason,
	}})
}

// appendEquity samples total asset value once per bar: cash plus margin and
// unrealized PnL while positioned, cash alone while flat.
func (b *Backtester) appendEquity(at time.Time) {
	total := b.cash
	if pos := b.strategy.Position(); pos.Side != SideFlat {
		total = b.cash + pos.Margin + pos.UnrealizedPnl
	}
	b.equity = append(b.equity, EquityPoint{Time: at, Value: total})
}

func (b *Backtester) summarize() Summary {
	s := Summary{
		TotalTrades:   b.totalTrades,
		WinningTrades: b.wins,
		LosingTrades:  b.losses,
	}
	if b.totalTrades > 0 {
		s.WinRate = float64(b.wins) / float64(b.totalTrades) * 100
	}

	var winSum, lossSum float64
	var winN, lossN int
	for i := range b.trades {
		t := &b.trades[i]
		if t.TradeType != TradeTypeClose {
			continue
		}
		if t.Pnl > 0 {
			winSum += t.Pnl
			winN++
		} else if t.Pnl < 0 {
			lossSum += t.Pnl
			lossN++
		}
	}
	if winN > 0 {
		s.AvgWin = winSum / float64(winN)
	}
	if lossN > 0 {
		s.AvgLoss = lossSum / float64(lossN)
	}
	if s.AvgLoss != 0 {
		s.ProfitRatio = absf(s.AvgWin / s.AvgLoss)
	}
	s.MaxDrawdown = maxDrawdown(b.equity)
	return s
}

// maxDrawdown is the largest peak-to-trough equity decline, in percent.
func maxDrawdown(equity []EquityPoint) float64 {
	var worst, peak float64
	for i, p := range equity {
		if i == 0 || p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Value) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}
