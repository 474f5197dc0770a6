package engine

import (
	"math"
	"time"
)

// StateSnapshot is the persistable decision state for live mode: the open
// position plus the cooldown tracker. Restoring it after a restart keeps an
// open position and an active loss-streak throttle across processes. Cash is
// owned by the caller's ledger; the engine records it verbatim.
type StateSnapshot struct {
	Position PositionSnapshot `json:"position"`
	Cooldown CooldownState    `json:"cooldown"`
	Cash     float64          `json:"current_capital,omitempty"`
	SavedAt  time.Time        `json:"saved_at"`
}

// PositionSnapshot mirrors Position with JSON-safe watermarks: nil stands
// in for the ±Inf sentinels, which have no JSON encoding.
type PositionSnapshot struct {
	Direction            Direction  `json:"position"`
	EntryPrice           float64    `json:"entry_price"`
	Quantity             float64    `json:"position_quantity"`
	Leverage             float64    `json:"leverage"`
	Margin               float64    `json:"margin_value"`
	EntryTime            *time.Time `json:"entry_time,omitempty"`
	EntryScore           float64    `json:"entry_signal_score"`
	HighWater            *float64   `json:"high_point,omitempty"`
	LowWater             *float64   `json:"low_point,omitempty"`
	HoldingPeriods       int        `json:"holding_periods"`
	UnrealizedPnl        float64    `json:"position_unrealized_pnl"`
	UnrealizedPnlPercent float64    `json:"position_unrealized_pnl_percent"`
}

// Snapshot captures the current position and cooldown state.
func (e *DecisionEngine) Snapshot(at time.Time) StateSnapshot {
	pos := e.risk.Position()
	ps := PositionSnapshot{
		Direction:            pos.Side.Direction(),
		EntryPrice:           pos.EntryPrice,
		Quantity:             pos.Quantity,
		Leverage:             pos.Leverage,
		Margin:               pos.Margin,
		EntryScore:           pos.EntryScore,
		HoldingPeriods:       pos.HoldingPeriods,
		UnrealizedPnl:        pos.UnrealizedPnl,
		UnrealizedPnlPercent: pos.UnrealizedPnlPercent,
	}
	if !pos.EntryTime.IsZero() {
		t := pos.EntryTime
		ps.EntryTime = &t
	}
	if !math.IsInf(pos.HighWater, -1) {
		v := pos.HighWater
		ps.HighWater = &v
	}
	if !math.IsInf(pos.LowWater, 1) {
		v := pos.LowWater
		ps.LowWater = &v
	}
	return StateSnapshot{Position: ps, Cooldown: e.cooldown.State(), SavedAt: at}
}

// Restore replaces position and cooldown state from a snapshot.
func (e *DecisionEngine) Restore(s StateSnapshot) {
	pos := flatPosition()
	if s.Position.Direction != DirectionNone {
		pos.Side = sideFor(s.Position.Direction)
		pos.EntryPrice = s.Position.EntryPrice
		pos.Quantity = s.Position.Quantity
		pos.Leverage = s.Position.Leverage
		pos.Margin = s.Position.Margin
		pos.EntryScore = s.Position.EntryScore
		pos.HoldingPeriods = s.Position.HoldingPeriods
		pos.UnrealizedPnl = s.Position.UnrealizedPnl
		pos.UnrealizedPnlPercent = s.Position.UnrealizedPnlPercent
		if s.Position.EntryTime != nil {
			pos.EntryTime = *s.Position.EntryTime
		}
		if s.Position.HighWater != nil {
			pos.HighWater = *s.Position.HighWater
		}
		if s.Position.LowWater != nil {
			pos.LowWater = *s.Position.LowWater
		}
	}
	e.risk.RestorePosition(pos)
	e.cooldown.RestoreState(s.Cooldown)
	e.haveCache = false
}

// RestorePosition installs a previously snapshotted position. A zero
// leverage falls back to the configured one.
func (rm *RiskManager) RestorePosition(p Position) {
	if p.Side == SideFlat {
		rm.pos = flatPosition()
		return
	}
	if p.Leverage == 0 {
		p.Leverage = rm.leverage
	}
	rm.pos = p
}

// RestoreState installs snapshotted counters. The outcome history itself is
// not persisted; streaks rebuild from trades closed after the restart.
func (cm *CooldownManager) RestoreState(s CooldownState) {
	cm.history = nil
	cm.consecutiveLosses = s.ConsecutiveLosses
	cm.consecutiveWins = s.ConsecutiveWins
	cm.active = s.Active
	cm.level = s.Level
	cm.factor = s.SizeFactor
	cm.activatedAt = s.ActivatedAt
	if !cm.active {
		cm.factor = 1.0
	}
}
