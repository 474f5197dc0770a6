package engine

import (
	"context"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// DecisionTrace is one bar's full decision state: the signal record with
// its filter trace plus the position after the bar was applied. Replays
// produce these so a single trade can be explained without re-reading logs.
// The api package owns the wire form; the embedded Position keeps its
// infinity sentinels and must not be serialized directly.
type DecisionTrace struct {
	Time     time.Time
	Signal   SignalResult
	Position Position
}

// ReplayDecisions re-runs the series through a fresh engine and collects
// the decision state for bars in [from, to]. The replay drives the same
// simulation loop as a normal run, so the traces match what the original
// run decided bar for bar.
func ReplayDecisions(ctx context.Context, cfg config.Config, series market.Series, from, to int) ([]DecisionTrace, error) {
	if from < 0 {
		from = 0
	}
	if to >= len(series) {
		to = len(series) - 1
	}
	if len(series) == 0 || from > to {
		return nil, ErrEmptySeries
	}

	eng := NewDecisionEngine(cfg, nil)
	bt := NewBacktester(cfg, eng, nil)
	traces := make([]DecisionTrace, 0, to-from+1)
	bt.SetSignalSink(func(i int, sig SignalResult) {
		if i < from || i > to {
			return
		}
		traces = append(traces, DecisionTrace{
			Time:     series[i].Time,
			Signal:   sig,
			Position: eng.Position(),
		})
	})

	// Only bars up to `to` influence the requested traces.
	req := RunRequest{RunID: "replay", Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, Series: series[:to+1]}
	if _, err := bt.Run(ctx, req); err != nil {
		return nil, err
	}
	return traces, nil
}

// ReplayAt explains a single bar, typically the one that opened or closed a
// trade under investigation.
func ReplayAt(ctx context.Context, cfg config.Config, series market.Series, at time.Time) (DecisionTrace, error) {
	for i := range series {
		if series[i].Time.Equal(at) {
			traces, err := ReplayDecisions(ctx, cfg, series, i, i)
			if err != nil {
				return DecisionTrace{}, err
			}
			return traces[0], nil
		}
	}
	return DecisionTrace{}, ErrBarNotFound
}
