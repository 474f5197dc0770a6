package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// Strategy is the per-bar decision contract the simulator and the live
// runner drive. Implementations own all position and cooldown state; the
// caller owns the ledger and is the only party allowed to invoke
// OpenPosition/ClosePosition.
type Strategy interface {
	// MarkToMarket refreshes the open position's unrealized PnL.
	MarkToMarket(price float64)
	// CheckExit evaluates stop-loss/take-profit for bar i.
	CheckExit(series market.Series, i int) (RiskAction, string)
	// GenerateSignal produces the decision record for bar i. It advances
	// the position's holding counter, so call it exactly once per bar.
	GenerateSignal(series market.Series, i int) SignalResult
	// ShouldOpen rejects neutral directions and same-direction re-entry.
	ShouldOpen(dir Direction) bool
	OpenPosition(dir Direction, price, quantity, margin, score float64, at time.Time)
	ClosePosition(price float64, at time.Time, reason string) (ClosedTrade, bool)
	Position() Position
	Reset()
}

// DecisionEngine is the production Strategy: composite scoring, the veto
// filter pipeline, cooldown-aware sizing, and risk-managed exits, all
// single-threaded and deterministic.
type DecisionEngine struct {
	log      *zap.Logger
	scorer   *Scorer
	filter   *Filter
	sizer    *PositionSizer
	risk     *RiskManager
	cooldown *CooldownManager
	lookback int

	// Per-bar score cache so CheckExit and GenerateSignal share one
	// computation. Purely memoization; recomputing yields the same values.
	cachedIdx    int
	cachedScores scoreSet
	haveCache    bool
}

type scoreSet struct {
	base      float64
	trend     float64
	risk      float64
	drawdown  float64
	composite float64
}

func NewDecisionEngine(cfg config.Config, log *zap.Logger) *DecisionEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &DecisionEngine{
		log:      log,
		scorer:   NewScorer(cfg),
		filter:   NewFilter(cfg),
		sizer:    NewPositionSizer(cfg),
		risk:     NewRiskManager(cfg, ProportionalFee{Rate: cfg.TradingFee}),
		cooldown: NewCooldownManager(cfg),
		lookback: cfg.Lookback(),
	}
}

// Cooldown exposes the cooldown tracker, e.g. for live-mode recovery polls
// and state snapshots.
func (e *DecisionEngine) Cooldown() *CooldownManager { return e.cooldown }

// Risk exposes the risk manager for state snapshots.
func (e *DecisionEngine) Risk() *RiskManager { return e.risk }

func (e *DecisionEngine) Position() Position { return e.risk.Position() }

func (e *DecisionEngine) MarkToMarket(price float64) { e.risk.Update(price) }

func (e *DecisionEngine) ShouldOpen(dir Direction) bool { return e.risk.ShouldOpen(dir) }

func (e *DecisionEngine) OpenPosition(dir Direction, price, quantity, margin, score float64, at time.Time) {
	e.risk.Open(dir, price, quantity, margin, score, at)
}

// ClosePosition realizes the position and feeds the outcome to the cooldown
// tracker in the same step.
func (e *DecisionEngine) ClosePosition(price float64, at time.Time, reason string) (ClosedTrade, bool) {
	trade, ok := e.risk.Close(price, at, reason)
	if ok {
		e.cooldown.Record(TradeOutcome{Time: at, Pnl: trade.Pnl, Reason: reason})
	}
	return trade, ok
}

// CheckExit runs the risk checks for bar i against the live composite
// score, so a score reversal can stop out or take profit on the same bar
// that produced it.
func (e *DecisionEngine) CheckExit(series market.Series, i int) (RiskAction, string) {
	if e.risk.Position().Side == SideFlat {
		return ActionHold, "无持仓"
	}
	row := &series[i]
	scores := e.scoresAt(series, i)
	return e.risk.CheckRisk(row.Close, row.LineWMA, scores.composite)
}

// GenerateSignal computes the full decision record for bar i: score
// breakdown, raw direction, filter trace, and sizing.
func (e *DecisionEngine) GenerateSignal(series market.Series, i int) SignalResult {
	row := &series[i]
	if i+1 < e.lookback {
		return SignalResult{
			Time:   row.Time,
			Price:  row.Close,
			Reason: fmt.Sprintf("数据不足 (%d 条，需要至少 %d 条)", i+1, e.lookback),
			Size:   SizeDecision{Direction: "neutral", Reason: "信号为零，无仓位"},
		}
	}

	scores := e.scoresAt(series, i)
	raw := e.scorer.Direction(scores.composite)
	dir, filterReason, trace := e.filter.Apply(raw, series, i, scores.trend, scores.base)
	if raw != DirectionNone && dir == DirectionNone {
		e.log.Debug("signal vetoed",
			zap.Time("bar", row.Time),
			zap.Int("raw_direction", int(raw)),
			zap.String("reason", filterReason))
	}

	e.risk.AdvanceHolding()

	sig := SignalResult{
		Time:          row.Time,
		Direction:     dir,
		Score:         scores.composite,
		BaseScore:     scores.base,
		TrendScore:    scores.trend,
		RiskScore:     scores.risk,
		DrawdownScore: scores.drawdown,
		RawDirection:  raw,
		Reason:        finalReason(dir, scores.composite, filterReason),
		FilterReason:  filterReason,
		Filters:       trace,
		Price:         row.Close,
	}
	sig.Size = e.sizer.Size(dir, scores.composite, e.risk.RiskMultiplier(), e.cooldown.State())
	return sig
}

// Reset clears position, cooldown, and cache state for a fresh run.
func (e *DecisionEngine) Reset() {
	e.risk.Reset()
	e.cooldown.Reset()
	e.haveCache = false
}

func (e *DecisionEngine) scoresAt(series market.Series, i int) scoreSet {
	if e.haveCache && e.cachedIdx == i {
		return e.cachedScores
	}
	row := &series[i]
	s := scoreSet{
		base:     row.BaseScore,
		trend:    e.scorer.TrendScore(row),
		risk:     e.scorer.RiskScore(series, i),
		drawdown: e.scorer.DrawdownScore(series, i),
	}
	s.composite = e.scorer.Composite(s.base, s.trend, s.risk, s.drawdown)
	e.cachedIdx, e.cachedScores, e.haveCache = i, s, true
	return s
}

func finalReason(dir Direction, score float64, filterReason string) string {
	switch {
	case dir == DirectionLong:
		return fmt.Sprintf("做多信号 (评分: %.2f)", score)
	case dir == DirectionShort:
		return fmt.Sprintf("空头信号 (评分: %.2f)", score)
	case filterReason == "原始信号为观望":
		return "观望信号"
	default:
		return "信号被过滤: " + filterReason
	}
}
