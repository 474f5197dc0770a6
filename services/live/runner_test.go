package live

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/engine"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

var tickEpoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func quietRow(i int, close float64) market.FeatureRow {
	row := market.EmptyRow(tickEpoch.Add(time.Duration(i) * time.Hour))
	row.Open = close
	row.High = close * 1.005
	row.Low = close * 0.995
	row.Close = close
	row.Volume = 1000
	row.LineWMA = close * 0.99
	return row
}

// bullRow is a bar every filter stage accepts for a long signal.
func bullRow(i int, close float64) market.FeatureRow {
	row := quietRow(i, close)
	row.RSI = 50
	row.OpenEMA = close * 0.992
	row.CloseEMA = close * 0.993
	row.BaseScore = 0.9
	row.EMATrendScore = 1
	return row
}

func bullSeries(n int, close float64) market.Series {
	series := make(market.Series, n)
	for i := range series {
		series[i] = bullRow(i, close)
	}
	return series
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func liveConfig() config.Config {
	cfg := config.Defaults()
	cfg.MinLookback = 5
	return cfg
}

// feed serves a fixed window; tests swap the window between ticks.
type feed struct {
	series market.Series
	err    error
	calls  int
}

func (f *feed) Latest(context.Context, int) (market.Series, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

func TestEvaluateOpensPosition(t *testing.T) {
	src := &feed{series: bullSeries(10, 100)}
	r := NewRunner(liveConfig(), src, nil, Options{})

	var events []DecisionEvent
	r.OnDecision(func(ev DecisionEvent) { events = append(events, ev) })

	if err := r.Evaluate(context.Background(), tickEpoch); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if !ev.Opened {
		t.Fatalf("no open, signal reason %q", ev.Signal.Reason)
	}
	// Full size 0.8 of 100 cash at price 100.
	if ev.Position.Side != "long" || !approx(ev.Position.Margin, 80) || !approx(ev.Position.Quantity, 0.8) {
		t.Fatalf("position = %+v", ev.Position)
	}
	if !approx(ev.Cash, 20) || !approx(r.Cash(), 20) {
		t.Fatalf("cash = %v, want 20", ev.Cash)
	}
	if got := r.Engine().Position().Side; got != engine.SideLong {
		t.Fatalf("engine side = %v, want long", got)
	}
}

func TestEvaluateStopLossBlocksSameTickReentry(t *testing.T) {
	src := &feed{series: bullSeries(10, 100)}
	r := NewRunner(liveConfig(), src, nil, Options{})
	var events []DecisionEvent
	r.OnDecision(func(ev DecisionEvent) { events = append(events, ev) })

	if err := r.Evaluate(context.Background(), tickEpoch); err != nil {
		t.Fatal(err)
	}

	// Price gaps down 3%: the leveraged net loss is ~15.1%, past the fixed
	// stop, while the window still shows a long signal.
	src.series = bullSeries(10, 97)
	if err := r.Evaluate(context.Background(), tickEpoch.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	ev := events[1]
	if ev.ExitAction != "stop_loss" {
		t.Fatalf("exit = %q (%q)", ev.ExitAction, ev.ExitReason)
	}
	if want := "固定止损[亏损15.1% 达到阈值 10.0%]"; ev.ExitReason != want {
		t.Fatalf("reason = %q, want %q", ev.ExitReason, want)
	}
	if ev.Closed == nil || !approx(ev.Closed.Pnl, -12.0776) {
		t.Fatalf("closed = %+v", ev.Closed)
	}
	if ev.Opened {
		t.Fatal("must not reopen on the tick that closed")
	}
	if ev.Position.Side != "flat" || !approx(ev.Cash, 87.9224) {
		t.Fatalf("after close: side %q cash %v", ev.Position.Side, ev.Cash)
	}
	if _, err := json.Marshal(ev); err != nil {
		t.Fatalf("event must serialize: %v", err)
	}

	// One tick later the same signal may reenter.
	if err := r.Evaluate(context.Background(), tickEpoch.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	ev = events[2]
	if !ev.Opened {
		t.Fatalf("expected reentry, signal %q", ev.Signal.Reason)
	}
	if !approx(ev.Position.Margin, 70.33792) || !approx(ev.Cash, 17.58448) {
		t.Fatalf("reentry margin %v cash %v", ev.Position.Margin, ev.Cash)
	}
}

func TestStatePersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	src := &feed{series: bullSeries(10, 100)}
	r := NewRunner(liveConfig(), src, nil, Options{StatePath: path})
	if err := r.Evaluate(context.Background(), tickEpoch); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	var snap engine.StateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Position.Direction != engine.DirectionLong || !approx(snap.Cash, 20) {
		t.Fatalf("snapshot = %+v", snap)
	}

	r2 := NewRunner(liveConfig(), src, nil, Options{StatePath: path})
	if err := r2.RestoreState(); err != nil {
		t.Fatal(err)
	}
	pos := r2.Engine().Position()
	if pos.Side != engine.SideLong || !approx(pos.EntryPrice, 100) || !approx(pos.Quantity, 0.8) {
		t.Fatalf("restored position = %+v", pos)
	}
	if !approx(r2.Cash(), 20) {
		t.Fatalf("restored cash = %v, want 20", r2.Cash())
	}
}

func TestRestoreStateMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	r := NewRunner(liveConfig(), &feed{}, nil, Options{StatePath: path})
	if err := r.RestoreState(); err != nil {
		t.Fatal(err)
	}
	if !approx(r.Cash(), 100) {
		t.Fatalf("cash = %v, want initial capital", r.Cash())
	}
}

func TestEvaluateProviderError(t *testing.T) {
	src := &feed{err: errors.New("exchange down")}
	r := NewRunner(liveConfig(), src, nil, Options{})
	fired := false
	r.OnDecision(func(DecisionEvent) { fired = true })

	if err := r.Evaluate(context.Background(), tickEpoch); err == nil {
		t.Fatal("expected a fetch error")
	}
	if fired {
		t.Fatal("no event on a failed fetch")
	}
}

func TestEvaluateEmptyWindow(t *testing.T) {
	r := NewRunner(liveConfig(), &feed{}, nil, Options{})
	if err := r.Evaluate(context.Background(), tickEpoch); err == nil {
		t.Fatal("expected an error for an empty window")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	series := make(market.Series, 10)
	for i := range series {
		series[i] = quietRow(i, 100)
	}
	src := &feed{series: series}
	r := NewRunner(liveConfig(), src, nil, Options{Interval: 5 * time.Millisecond})

	ticks := make(chan DecisionEvent, 64)
	r.OnDecision(func(ev DecisionEvent) {
		select {
		case ticks <- ev:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case ev := <-ticks:
			if ev.Opened {
				t.Fatal("quiet window must not open")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("runner produced no tick")
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
