package engine

import (
	"fmt"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// PositionSizer turns a direction and composite score into a cash fraction.
// Scores beyond the strong threshold on the signal's side earn the full
// fraction, anything weaker the standard one; the result is scaled by the
// risk multiplier and cooldown factor and clamped to the configured cap.
type PositionSizer struct {
	cfg config.PositionConfig
}

func NewPositionSizer(cfg config.Config) *PositionSizer {
	return &PositionSizer{cfg: cfg.Position}
}

func (ps *PositionSizer) Size(dir Direction, score, riskMultiplier float64, cooldown CooldownState) SizeDecision {
	if !market.IsNumber(score) {
		score = 0
	}
	if dir == DirectionNone {
		return SizeDecision{Direction: "neutral", Reason: "信号为零，无仓位"}
	}

	var size float64
	var reason string
	direction := "bullish"
	if dir == DirectionLong {
		if score >= ps.cfg.FullThresholdMax {
			size = ps.cfg.FullSize
			reason = fmt.Sprintf("强多头仓位 - 评分: %.2f >= %g", score, ps.cfg.FullThresholdMax)
		} else {
			size = ps.cfg.StandardSize
			reason = fmt.Sprintf("一般多头仓位 - 评分: %.2f < %g", score, ps.cfg.FullThresholdMax)
		}
	} else {
		direction = "bearish"
		if score <= ps.cfg.FullThresholdMin {
			size = ps.cfg.FullSize
			reason = fmt.Sprintf("强空头仓位 - 评分: %.2f <= %g", score, ps.cfg.FullThresholdMin)
		} else {
			size = ps.cfg.StandardSize
			reason = fmt.Sprintf("一般空头仓位 - 评分: %.2f > %g", score, ps.cfg.FullThresholdMin)
		}
	}

	size *= riskMultiplier
	if cooldown.Active {
		size *= cooldown.SizeFactor
		reason += fmt.Sprintf(" (冷却L%d减少%.2f)", cooldown.Level, cooldown.SizeFactor)
	}

	if size < 0 {
		size = 0
	}
	if size > ps.cfg.MaxSize {
		size = ps.cfg.MaxSize
	}

	return SizeDecision{
		Size:       size,
		Direction:  direction,
		Score:      score,
		Reason:     reason,
		Actionable: true,
	}
}
