// Package live drives the per-step decision loop against a streaming row
// source on a fixed interval. It evaluates and records decisions only; order
// placement stays outside this system.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/engine"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// RowProvider supplies the most recent feature window for the configured
// symbol, newest row last. Implementations own retrieval and caching.
type RowProvider interface {
	Latest(ctx context.Context, lookback int) (market.Series, error)
}

// DecisionEvent is the outcome of one evaluation tick.
type DecisionEvent struct {
	Time       time.Time           `json:"timestamp"`
	Price      float64             `json:"price"`
	Signal     engine.SignalResult `json:"signal"`
	ExitAction string              `json:"exit_action,omitempty"`
	ExitReason string              `json:"exit_reason,omitempty"`
	Opened     bool                `json:"opened"`
	Closed     *engine.ClosedTrade `json:"closed,omitempty"`
	Position   PositionView        `json:"position"`
	Cash       float64             `json:"current_capital"`
}

// PositionView is the JSON-safe projection of the open position. The water
// mark sentinels are infinities and never serialize, so they stay out of it.
type PositionView struct {
	Side           string  `json:"side"`
	EntryPrice     float64 `json:"entry_price,omitempty"`
	Quantity       float64 `json:"quantity,omitempty"`
	Margin         float64 `json:"margin,omitempty"`
	HoldingPeriods int     `json:"holding_periods,omitempty"`
	UnrealizedPnl  float64 `json:"unrealized_pnl,omitempty"`
}

func positionView(p engine.Position) PositionView {
	return PositionView{
		Side:           p.Side.String(),
		EntryPrice:     p.EntryPrice,
		Quantity:       p.Quantity,
		Margin:         p.Margin,
		HoldingPeriods: p.HoldingPeriods,
		UnrealizedPnl:  p.UnrealizedPnl,
	}
}

// Options tunes the runner. Zero values fall back to a 5 minute interval, no
// state persistence, and unconstrained fill quantities.
type Options struct {
	Interval  time.Duration
	StatePath string
	Filters   engine.SymbolFilters
}

// Runner executes the decision step on a ticker. A mutex serializes
// evaluations, so a slow provider can never overlap two steps.
type Runner struct {
	cfg      config.Config
	eng      *engine.DecisionEngine
	provider RowProvider
	log      *zap.Logger
	opts     Options

	mu         sync.Mutex
	cash       float64
	onDecision func(DecisionEvent)
}

func NewRunner(cfg config.Config, provider RowProvider, log *zap.Logger, opts Options) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Runner{
		cfg:      cfg,
		eng:      engine.NewDecisionEngine(cfg, log),
		provider: provider,
		log:      log,
		opts:     opts,
		cash:     cfg.InitialCapital,
	}
}

// OnDecision installs the event callback. Must be set before Run.
func (r *Runner) OnDecision(fn func(DecisionEvent)) { r.onDecision = fn }

// Engine exposes the underlying decision engine, e.g. for status endpoints.
func (r *Runner) Engine() *engine.DecisionEngine { return r.eng }

// Cash reports the paper ledger balance.
func (r *Runner) Cash() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cash
}

// RestoreState loads a persisted snapshot if one exists at StatePath.
func (r *Runner) RestoreState() error {
	if r.opts.StatePath == "" {
		return nil
	}
	raw, err := os.ReadFile(r.opts.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("live: read state: %w", err)
	}
	var snap engine.StateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("live: decode state: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eng.Restore(snap)
	if snap.Cash > 0 {
		r.cash = snap.Cash
	}
	r.log.Info("live state restored",
		zap.String("path", r.opts.StatePath),
		zap.String("position", r.eng.Position().Side.String()),
		zap.Float64("cash", r.cash))
	return nil
}

// Run evaluates immediately, then on every tick until the context ends.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("live runner started",
		zap.String("symbol", r.cfg.Symbol),
		zap.String("timeframe", r.cfg.Timeframe),
		zap.Duration("interval", r.opts.Interval))

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	if err := r.Evaluate(ctx, time.Now()); err != nil {
		r.log.Warn("evaluation failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			r.log.Info("live runner stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.Evaluate(ctx, now); err != nil {
				r.log.Warn("evaluation failed", zap.Error(err))
			}
		}
	}
}

// Evaluate executes one decision step at the given wall time: mark to
// market, exit check, signal generation, then a paper open while flat. The
// step runs under the runner mutex.
func (r *Runner) Evaluate(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	series, err := r.provider.Latest(ctx, r.cfg.Lookback())
	if err != nil {
		return fmt.Errorf("live: fetch rows: %w", err)
	}
	if len(series) == 0 {
		return errors.New("live: provider returned no rows")
	}
	i := len(series) - 1
	row := &series[i]
	price := row.Close

	r.eng.MarkToMarket(price)
	if r.eng.Cooldown().MaybeRecover(now) {
		r.log.Info("cooldown recovered", zap.Time("at", now))
	}

	event := DecisionEvent{Time: now, Price: price}
	closedThisTick := false
	if r.eng.Position().Side != engine.SideFlat {
		action, reason := r.eng.CheckExit(series, i)
		event.ExitAction = action.String()
		event.ExitReason = reason
		if action == engine.ActionStopLoss || action == engine.ActionTakeProfit {
			if trade, ok := r.eng.ClosePosition(price, now, reason); ok {
				r.cash += trade.Margin + trade.Pnl
				if r.cash < 0 {
					r.cash = 0
				}
				closedThisTick = true
				event.Closed = &trade
				r.log.Info("paper position closed",
					zap.Float64("price", price),
					zap.Float64("pnl", trade.Pnl),
					zap.String("reason", reason))
			}
		}
	}

	sig := r.eng.GenerateSignal(series, i)
	event.Signal = sig
	if sig.Direction != engine.DirectionNone && !closedThisTick &&
		r.eng.Position().Side == engine.SideFlat && r.eng.ShouldOpen(sig.Direction) {
		r.openPaper(sig, price, now, &event)
	}

	event.Position = positionView(r.eng.Position())
	event.Cash = r.cash
	if r.onDecision != nil {
		r.onDecision(event)
	}
	if err := r.persistState(now); err != nil {
		r.log.Warn("state persist failed", zap.Error(err))
	}
	return nil
}

func (r *Runner) openPaper(sig engine.SignalResult, price float64, now time.Time, event *DecisionEvent) {
	if price <= 0 || sig.Size.Size <= 0 {
		return
	}
	margin := r.cash * sig.Size.Size
	quantity := engine.EnforceFilters(r.opts.Filters, price, margin/price)
	if quantity <= 0 {
		return
	}
	margin = quantity * price
	r.cash -= margin
	r.eng.OpenPosition(sig.Direction, price, quantity, margin, sig.Score, now)
	event.Opened = true
	r.log.Info("paper position opened",
		zap.String("direction", sig.Direction.String()),
		zap.Float64("price", price),
		zap.Float64("margin", margin),
		zap.String("reason", sig.Reason))
}

func (r *Runner) persistState(now time.Time) error {
	if r.opts.StatePath == "" {
		return nil
	}
	snap := r.eng.Snapshot(now)
	snap.Cash = r.cash
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.opts.StatePath, raw, 0o644)
}
