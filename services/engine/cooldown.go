package engine

import (
	"time"

	"github.com/JINJINJINFAN/Quantify/services/config"
)

// TradeOutcome is the closed-trade fact the cooldown tracker consumes.
type TradeOutcome struct {
	Time   time.Time
	Pnl    float64
	Reason string
}

// CooldownState is a read-only snapshot of the tracker.
type CooldownState struct {
	Active            bool      `json:"active"`
	Level             int       `json:"level"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	SizeFactor        float64   `json:"size_factor"`
	ActivatedAt       time.Time `json:"activated_at"`
	Trades            int       `json:"trades"`
}

// CooldownManager throttles position size after loss streaks. Streak counts
// are recomputed from the outcome history on every update by scanning
// backward from the most recent trade; a zero-PnL trade breaks both streaks.
// Simulation mode recovers after a configured number of consecutive wins,
// live mode after the level's duration has elapsed since activation.
type CooldownManager struct {
	cfg     config.CooldownConfig
	history []TradeOutcome

	consecutiveLosses int
	consecutiveWins   int
	active            bool
	level             int
	factor            float64
	activatedAt       time.Time
}

func NewCooldownManager(cfg config.Config) *CooldownManager {
	return &CooldownManager{cfg: cfg.Cooldown, factor: 1.0}
}

// Record folds one closed trade into the tracker and runs the activation,
// escalation, and recovery transitions.
func (cm *CooldownManager) Record(outcome TradeOutcome) {
	cm.history = append(cm.history, outcome)
	cm.recomputeStreaks()
	cm.checkActivation(outcome.Time)
	cm.MaybeRecover(outcome.Time)
}

// Apply scales a position size by the active reduction factor.
func (cm *CooldownManager) Apply(size float64) float64 {
	if !cm.active {
		return size
	}
	return size * cm.factor
}

func (cm *CooldownManager) Active() bool { return cm.active }
func (cm *CooldownManager) Level() int   { return cm.level }

// Factor is the current size multiplier: 1.0 while inactive.
func (cm *CooldownManager) Factor() float64 {
	if !cm.active {
		return 1.0
	}
	return cm.factor
}

func (cm *CooldownManager) State() CooldownState {
	return CooldownState{
		Active:            cm.active,
		Level:             cm.level,
		ConsecutiveLosses: cm.consecutiveLosses,
		ConsecutiveWins:   cm.consecutiveWins,
		SizeFactor:        cm.Factor(),
		ActivatedAt:       cm.activatedAt,
		Trades:            len(cm.history),
	}
}

// Reset clears history and state back to initial values.
func (cm *CooldownManager) Reset() {
	cm.history = nil
	cm.consecutiveLosses = 0
	cm.consecutiveWins = 0
	cm.active = false
	cm.level = 0
	cm.factor = 1.0
	cm.activatedAt = time.Time{}
}

// MaybeRecover runs the recovery transition against the given clock and
// reports whether it fired. Live callers invoke this on every poll so a
// cooldown can expire between trades, not only when the next one closes.
func (cm *CooldownManager) MaybeRecover(now time.Time) bool {
	if !cm.active || !cm.cfg.Enable {
		return false
	}
	var recovered bool
	if cm.cfg.Mode == config.ModeRealtime {
		recovered = !cm.activatedAt.IsZero() &&
			now.Sub(cm.activatedAt) >= cm.levelDuration()
	} else {
		recovered = cm.consecutiveWins >= cm.cfg.RecoveryWins
	}
	if recovered {
		cm.active = false
		cm.level = 0
		cm.factor = 1.0
		cm.activatedAt = time.Time{}
	}
	return recovered
}

func (cm *CooldownManager) recomputeStreaks() {
	losses, wins := 0, 0
scan:
	for i := len(cm.history) - 1; i >= 0; i-- {
		switch pnl := cm.history[i].Pnl; {
		case pnl < 0:
			if wins > 0 {
				break scan
			}
			losses++
		case pnl > 0:
			if losses > 0 {
				break scan
			}
			wins++
		default:
			// A scratch trade breaks both streaks.
			break scan
		}
	}
	cm.consecutiveLosses = losses
	cm.consecutiveWins = wins
}

func (cm *CooldownManager) checkActivation(at time.Time) {
	if !cm.cfg.Enable || cm.consecutiveLosses < cm.cfg.LossThreshold {
		return
	}
	level := cm.levelFor(cm.consecutiveLosses)
	if cm.active {
		// Escalate only; an active cooldown never steps down.
		if level > cm.level {
			cm.level = level
			cm.factor = cm.cfg.LevelFactor(level)
		}
		return
	}
	cm.active = true
	cm.level = level
	cm.factor = cm.cfg.LevelFactor(level)
	cm.activatedAt = at
}

// levelFor maps a loss streak onto a severity level, capped at 3.
func (cm *CooldownManager) levelFor(losses int) int {
	switch {
	case losses >= cm.cfg.LossThreshold+2:
		return 3
	case losses >= cm.cfg.LossThreshold+1:
		return 2
	default:
		return 1
	}
}

func (cm *CooldownManager) levelDuration() time.Duration {
	hours := cm.cfg.LevelHours(cm.level)
	return time.Duration(hours * float64(time.Hour))
}
