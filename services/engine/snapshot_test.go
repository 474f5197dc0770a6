package engine

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)
	e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.55, barTime(0))
	e.MarkToMarket(105)
	e.CheckExit(quietSeries(1, 105), 0) // extends the high water mark
	e.Risk().AdvanceHolding()

	snap := e.Snapshot(barTime(1))
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded StateSnapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	restored := NewDecisionEngine(testConfig(), nil)
	restored.Restore(decoded)

	pos := restored.Position()
	if pos.Side != SideLong || !approx(pos.EntryPrice, 100) || !approx(pos.Quantity, 0.2) {
		t.Fatalf("restored position = %+v", pos)
	}
	if !approx(pos.Margin, 20) || !approx(pos.EntryScore, 0.55) {
		t.Fatalf("restored position = %+v", pos)
	}
	if !approx(pos.HighWater, 105) {
		t.Fatalf("high water = %v, want 105", pos.HighWater)
	}
	if !math.IsInf(pos.LowWater, 1) {
		t.Fatalf("low water = %v, want +Inf for a long", pos.LowWater)
	}
	if pos.HoldingPeriods != 1 {
		t.Fatalf("holding periods = %d, want 1", pos.HoldingPeriods)
	}
}

func TestSnapshotFlat(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)
	snap := e.Snapshot(barTime(0))
	if snap.Position.Direction != 0 || snap.Position.HighWater != nil || snap.Position.LowWater != nil {
		t.Fatalf("flat snapshot = %+v", snap.Position)
	}

	restored := NewDecisionEngine(testConfig(), nil)
	restored.Restore(snap)
	if restored.Position().Side != SideFlat {
		t.Fatal("restoring a flat snapshot must leave the engine flat")
	}
}

func TestSnapshotCarriesCooldown(t *testing.T) {
	e := NewDecisionEngine(testConfig(), nil)
	for i := 0; i < 2; i++ {
		e.OpenPosition(DirectionLong, 100, 0.2, 20, 0.5, barTime(i*2))
		e.ClosePosition(90, barTime(i*2+1), "stop")
	}
	if !e.Cooldown().Active() {
		t.Fatal("setup: cooldown not active")
	}
	snap := e.Snapshot(barTime(5))

	restored := NewDecisionEngine(testConfig(), nil)
	restored.Restore(snap)
	st := restored.Cooldown().State()
	if !st.Active || st.Level != 1 || !approx(st.SizeFactor, 0.8) {
		t.Fatalf("restored cooldown = %+v", st)
	}
	// History does not travel with the snapshot, only the counters do.
	if st.Trades != snap.Cooldown.Trades {
		t.Fatalf("trade counter = %d, want %d", st.Trades, snap.Cooldown.Trades)
	}
}
