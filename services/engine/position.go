package engine

import (
	"math"
	"time"
)

// Direction is a trade direction as carried by signals: +1 long, -1 short,
// 0 neutral. The numeric values are part of persisted signal rows, so they
// are fixed rather than iota-assigned.
type Direction int

const (
	DirectionLong  Direction = 1
	DirectionNone  Direction = 0
	DirectionShort Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "neutral"
	}
}

type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

func (s PositionSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Direction maps a position side onto the signal direction convention.
func (s PositionSide) Direction() Direction {
	switch s {
	case SideLong:
		return DirectionLong
	case SideShort:
		return DirectionShort
	default:
		return DirectionNone
	}
}

func sideFor(d Direction) PositionSide {
	switch d {
	case DirectionLong:
		return SideLong
	case DirectionShort:
		return SideShort
	default:
		return SideFlat
	}
}

// Position is the single open futures position. Water marks track the most
// favorable price seen since entry; an untouched mark stays at its -Inf/+Inf
// sentinel so the first comparison always extends it.
type Position struct {
	Side       PositionSide
	EntryPrice float64
	Quantity   float64
	Leverage   float64
	Margin     float64
	EntryTime  time.Time
	EntryScore float64

	HighWater      float64
	LowWater       float64
	HoldingPeriods int

	UnrealizedPnl        float64
	UnrealizedPnlPercent float64
}

func flatPosition() Position {
	return Position{
		Side:      SideFlat,
		HighWater: math.Inf(-1),
		LowWater:  math.Inf(1),
	}
}

// Notional is the leveraged exposure: quantity times entry price carries the
// margin, scaled back up by leverage.
func (p Position) Notional() float64 {
	if p.Side == SideFlat {
		return 0
	}
	return p.Quantity * p.EntryPrice * p.Leverage
}

// LiquidationPrice estimates the exchange liquidation level at the given
// maintenance margin rate. Informational only; the simulation never
// force-liquidates, it exits through stop-loss rules instead.
func (p Position) LiquidationPrice(maintenanceMarginRate float64) float64 {
	if p.Side == SideFlat || p.Leverage <= 0 {
		return 0
	}
	if p.Side == SideLong {
		return p.EntryPrice * (1 - 1/p.Leverage + maintenanceMarginRate)
	}
	return p.EntryPrice * (1 + 1/p.Leverage - maintenanceMarginRate)
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
