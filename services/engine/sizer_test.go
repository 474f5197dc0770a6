package engine

import (
	"math"
	"testing"
)

func TestSizerNeutral(t *testing.T) {
	ps := NewPositionSizer(testConfig())
	dec := ps.Size(DirectionNone, 0.8, 1.0, CooldownState{})
	if dec.Actionable || dec.Size != 0 {
		t.Fatalf("neutral decision = %+v", dec)
	}
	if dec.Direction != "neutral" || dec.Reason != "信号为零，无仓位" {
		t.Fatalf("neutral decision = %+v", dec)
	}
}

func TestSizerStrongAndStandard(t *testing.T) {
	ps := NewPositionSizer(testConfig())

	// Full size 0.9 clamps to the 0.8 cap.
	dec := ps.Size(DirectionLong, 0.6, 1.0, CooldownState{})
	if !approx(dec.Size, 0.8) || dec.Direction != "bullish" {
		t.Fatalf("strong long = %+v", dec)
	}
	if want := "强多头仓位 - 评分: 0.60 >= 0.5"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}

	dec = ps.Size(DirectionLong, 0.3, 1.0, CooldownState{})
	if !approx(dec.Size, 0.5) {
		t.Fatalf("standard long size = %v, want 0.5", dec.Size)
	}
	if want := "一般多头仓位 - 评分: 0.30 < 0.5"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}

	dec = ps.Size(DirectionShort, -0.6, 1.0, CooldownState{})
	if !approx(dec.Size, 0.8) || dec.Direction != "bearish" {
		t.Fatalf("strong short = %+v", dec)
	}
	if want := "强空头仓位 - 评分: -0.60 <= -0.5"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}

	dec = ps.Size(DirectionShort, -0.2, 1.0, CooldownState{})
	if want := "一般空头仓位 - 评分: -0.20 > -0.5"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}
}

func TestSizerCooldownReduction(t *testing.T) {
	ps := NewPositionSizer(testConfig())
	cd := CooldownState{Active: true, Level: 1, SizeFactor: 0.8}

	dec := ps.Size(DirectionLong, 0.3, 1.0, cd)
	if !approx(dec.Size, 0.4) {
		t.Fatalf("size = %v, want 0.5*0.8", dec.Size)
	}
	if want := "一般多头仓位 - 评分: 0.30 < 0.5 (冷却L1减少0.80)"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}
}

func TestSizerRiskMultiplierAndCap(t *testing.T) {
	ps := NewPositionSizer(testConfig())

	// 0.5 standard * 2.0 multiplier = 1.0, clamped to the 0.8 cap.
	dec := ps.Size(DirectionLong, 0.3, 2.0, CooldownState{})
	if !approx(dec.Size, 0.8) {
		t.Fatalf("size = %v, want cap 0.8", dec.Size)
	}

	dec = ps.Size(DirectionLong, 0.3, 0.5, CooldownState{})
	if !approx(dec.Size, 0.25) {
		t.Fatalf("size = %v, want 0.25", dec.Size)
	}
}

func TestSizerNaNScore(t *testing.T) {
	ps := NewPositionSizer(testConfig())
	dec := ps.Size(DirectionLong, math.NaN(), 1.0, CooldownState{})
	if !approx(dec.Size, 0.5) {
		t.Fatalf("size = %v, want standard 0.5", dec.Size)
	}
	if want := "一般多头仓位 - 评分: 0.00 < 0.5"; dec.Reason != want {
		t.Fatalf("reason = %q, want %q", dec.Reason, want)
	}
}
