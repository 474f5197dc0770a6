package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/config"
)

// RiskAction is the exit decision for an open position on the current bar.
type RiskAction int

const (
	ActionHold RiskAction = iota
	ActionStopLoss
	ActionTakeProfit
)

func (a RiskAction) String() string {
	switch a {
	case ActionStopLoss:
		return "stop_loss"
	case ActionTakeProfit:
		return "take_profit"
	default:
		return "hold"
	}
}

// RiskManager owns the single Position and every transition on it. All PnL
// ratios it reasons about are leveraged and net of the closing fee, so a
// -10% fixed stop means 10% of margin, not 10% of price.
type RiskManager struct {
	fees       FeeModel
	stopLoss   config.StopLossConfig
	takeProfit config.TakeProfitConfig
	leverage   float64

	riskMultiplier        float64
	initialRiskMultiplier float64

	pos Position
}

func NewRiskManager(cfg config.Config, fees FeeModel) *RiskManager {
	return &RiskManager{
		fees:                  fees,
		stopLoss:              cfg.StopLoss,
		takeProfit:            cfg.TakeProfit,
		leverage:              cfg.Leverage,
		riskMultiplier:        cfg.Sharpe.InitialRiskMultiplier,
		initialRiskMultiplier: cfg.Sharpe.InitialRiskMultiplier,
		pos:                   flatPosition(),
	}
}

// Position returns a copy of the current position.
func (rm *RiskManager) Position() Position { return rm.pos }

func (rm *RiskManager) RiskMultiplier() float64 { return rm.riskMultiplier }

// SetRiskMultiplier overrides the sizing multiplier; external adaptive
// layers drive this, the engine itself never changes it.
func (rm *RiskManager) SetRiskMultiplier(v float64) { rm.riskMultiplier = v }

// Reset returns the manager to its initial flat state.
func (rm *RiskManager) Reset() {
	rm.pos = flatPosition()
	rm.riskMultiplier = rm.initialRiskMultiplier
}

// Open transitions Flat -> Long/Short. Water marks start at the entry price
// on the favorable side and at the infinity sentinel on the other, and the
// initial unrealized PnL is the negated closing fee.
func (rm *RiskManager) Open(dir Direction, price, quantity, margin, score float64, at time.Time) {
	side := sideFor(dir)
	if side == SideFlat {
		return
	}
	rm.pos = Position{
		Side:       side,
		EntryPrice: price,
		Quantity:   quantity,
		Leverage:   rm.leverage,
		Margin:     margin,
		EntryTime:  at,
		EntryScore: score,
	}
	if side == SideLong {
		rm.pos.HighWater = price
		rm.pos.LowWater = math.Inf(1)
	} else {
		rm.pos.HighWater = math.Inf(-1)
		rm.pos.LowWater = price
	}
	rm.pos.UnrealizedPnl, rm.pos.UnrealizedPnlPercent = rm.unrealized(price)
}

// Update marks the position to the given price. Water marks are not touched
// here; CheckRisk extends them before evaluating exits.
func (rm *RiskManager) Update(price float64) {
	if rm.pos.Side == SideFlat {
		return
	}
	rm.pos.UnrealizedPnl, rm.pos.UnrealizedPnlPercent = rm.unrealized(price)
}

// AdvanceHolding counts one elapsed bar while a position is open.
func (rm *RiskManager) AdvanceHolding() {
	if rm.pos.Side != SideFlat {
		rm.pos.HoldingPeriods++
	}
}

// ShouldOpen rejects neutral directions and same-direction re-entry. A
// direction flip is allowed here; the simulator closes first.
func (rm *RiskManager) ShouldOpen(dir Direction) bool {
	if dir == DirectionNone {
		return false
	}
	return rm.pos.Side.Direction() != dir
}

// Close realizes the position at price and transitions to Flat. The second
// return is false when there was nothing to close.
func (rm *RiskManager) Close(price float64, at time.Time, reason string) (ClosedTrade, bool) {
	if rm.pos.Side == SideFlat {
		return ClosedTrade{}, false
	}
	pnl, pct := rm.unrealized(price)
	trade := ClosedTrade{
		Time:       at,
		Side:       rm.pos.Side,
		EntryPrice: rm.pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   rm.pos.Quantity,
		Margin:     rm.pos.Margin,
		Pnl:        pnl,
		PnlPercent: pct,
		Reason:     reason,
	}
	rm.pos = flatPosition()
	return trade, true
}

// CheckRisk extends the water marks, then routes to take-profit checks while
// the position is in profit and stop-loss checks while it is losing.
func (rm *RiskManager) CheckRisk(price, lineWMA, score float64) (RiskAction, string) {
	if rm.pos.Side == SideFlat {
		return ActionHold, "无持仓"
	}
	rm.extendWaterMarks(price)

	if rm.ratioAt(price) > 0 {
		if ok, reason := rm.ShouldTakeProfit(price, lineWMA, score); ok {
			return ActionTakeProfit, reason
		}
	} else {
		if ok, reason := rm.ShouldStopLoss(price, score); ok {
			return ActionStopLoss, reason
		}
	}
	return ActionHold, "继续持仓"
}

// ShouldStopLoss evaluates the stop rules while losing. The fixed stop
// compares the leveraged net loss ratio against the configured threshold;
// the reversal stop fires earlier, at 70% of that threshold, when the live
// composite score has swung beyond the reversal gate against the position.
func (rm *RiskManager) ShouldStopLoss(price, score float64) (bool, string) {
	if rm.pos.Side == SideFlat {
		return false, ""
	}
	lossRatio := rm.ratioAt(price)
	if lossRatio >= 0 {
		return false, ""
	}
	fixedStop := absf(rm.stopLoss.FixedRatio)

	if rm.stopLoss.EnableFixed && lossRatio <= -fixedStop {
		return true, fmt.Sprintf("固定止损[亏损%.1f%% 达到阈值 %.1f%%]", absf(lossRatio)*100, fixedStop*100)
	}

	if rm.stopLoss.EnableReversal && lossRatio <= -fixedStop*0.7 {
		gate := rm.stopLoss.ReversalScore
		if rm.pos.Side == SideLong && score < -gate {
			return true, fmt.Sprintf("信号评分反转止损(多头持仓，实时评分%.3f < -%.1f，信号反转)", score, gate)
		}
		if rm.pos.Side == SideShort && score > gate {
			return true, fmt.Sprintf("信号评分反转止损(空头持仓，实时评分%.3f > %.1f，信号反转)", score, gate)
		}
	}
	return false, ""
}

// ShouldTakeProfit evaluates the profit exits in strict priority order:
// callback from the water mark, then baseline-WMA reversal, then the
// time-based exit. The first match wins.
func (rm *RiskManager) ShouldTakeProfit(price, lineWMA, score float64) (bool, string) {
	if rm.pos.Side == SideFlat {
		return false, ""
	}
	profitRatio := rm.ratioAt(price)

	if profitRatio > 0 && rm.takeProfit.EnableCallback {
		cb := rm.takeProfit.CallbackRatio
		if rm.pos.Side == SideLong && price < rm.pos.HighWater && rm.pos.HighWater > 0 {
			retrace := (rm.pos.HighWater - price) / rm.pos.HighWater
			if retrace >= cb {
				return true, fmt.Sprintf("多仓回调止盈(盈利%.1f%%, 回调%.1f%%)", profitRatio*100, retrace*100)
			}
		}
		if rm.pos.Side == SideShort && !math.IsInf(rm.pos.LowWater, 1) && price > rm.pos.LowWater {
			bounce := (price - rm.pos.LowWater) / rm.pos.LowWater
			if bounce >= cb {
				return true, fmt.Sprintf("空仓回调止盈(盈利%.1f%%, 反弹%.1f%%)", profitRatio*100, bounce*100)
			}
		}
	}

	if rm.takeProfit.EnableLineWMA && lineWMA > 0 {
		status := "盈利"
		if profitRatio <= 0 {
			status = "亏损"
		}
		if rm.pos.Side == SideLong && price < lineWMA && score < 0 {
			return true, fmt.Sprintf("多仓LineWMA反转止盈(%s%.1f%%)", status, profitRatio*100)
		}
		if rm.pos.Side == SideShort && price > lineWMA && score > 0 {
			return true, fmt.Sprintf("空仓LineWMA反转止盈(%s%.1f%%)", status, profitRatio*100)
		}
	}

	if rm.takeProfit.EnableTimeBased && rm.pos.HoldingPeriods >= rm.takeProfit.TimeBasedPeriods && profitRatio > 0 {
		return true, fmt.Sprintf("时间止损止盈(持仓%d周期, 盈利%.1f%%)", rm.pos.HoldingPeriods, profitRatio*100)
	}

	return false, ""
}

func (rm *RiskManager) extendWaterMarks(price float64) {
	switch rm.pos.Side {
	case SideLong:
		if price > rm.pos.HighWater {
			rm.pos.HighWater = price
		}
	case SideShort:
		if price < rm.pos.LowWater {
			rm.pos.LowWater = price
		}
	}
}

// unrealized computes the net PnL at price and its ratio to margin. The fee
// is charged on current notional, so it drifts with price rather than
// staying fixed at the entry value.
func (rm *RiskManager) unrealized(price float64) (pnl, pct float64) {
	if rm.pos.Side == SideFlat || rm.pos.EntryPrice == 0 || rm.pos.Quantity == 0 {
		return 0, 0
	}
	fee := rm.fees.Compute(price, rm.pos.Quantity)
	gross := rm.priceChangeRatio(price) * rm.pos.Leverage * rm.pos.Margin
	pnl = gross - fee
	if rm.pos.Margin > 0 {
		pct = pnl / rm.pos.Margin
	}
	return pnl, pct
}

// ratioAt is the leveraged net PnL ratio used by every exit rule. With zero
// margin the fee term drops out instead of dividing by zero.
func (rm *RiskManager) ratioAt(price float64) float64 {
	if rm.pos.Side == SideFlat || rm.pos.EntryPrice == 0 {
		return 0
	}
	gross := rm.priceChangeRatio(price) * rm.pos.Leverage
	if rm.pos.Margin <= 0 {
		return gross
	}
	fee := rm.fees.Compute(price, rm.pos.Quantity)
	return gross - fee/rm.pos.Margin
}

func (rm *RiskManager) priceChangeRatio(price float64) float64 {
	if rm.pos.Side == SideShort {
		return (rm.pos.EntryPrice - price) / rm.pos.EntryPrice
	}
	return (price - rm.pos.EntryPrice) / rm.pos.EntryPrice
}
