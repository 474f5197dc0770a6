package market

import (
	"fmt"
	"time"
)

// Series is an ordered feature-row sequence with strictly increasing
// timestamps (enforced by Validate after loading).
type Series []FeatureRow

func (s Series) Len() int { return len(s) }

// Window returns up to n rows ending at index end inclusive. A short head
// yields a shorter window rather than an error.
func (s Series) Window(end, n int) Series {
	if end < 0 || end >= len(s) || n <= 0 {
		return nil
	}
	start := end - n + 1
	if start < 0 {
		start = 0
	}
	return s[start : end+1]
}

// Closes collects the close column of the window ending at end inclusive.
func (s Series) Closes(end, n int) []float64 {
	w := s.Window(end, n)
	out := make([]float64, 0, len(w))
	for _, r := range w {
		out = append(out, r.Close)
	}
	return out
}

// Returns computes simple per-step returns over the window ending at end.
// Steps with a missing or zero predecessor close are skipped.
func (s Series) Returns(end, n int) []float64 {
	w := s.Window(end, n)
	if len(w) < 2 {
		return nil
	}
	out := make([]float64, 0, len(w)-1)
	for i := 1; i < len(w); i++ {
		prev := w[i-1].Close
		cur := w[i].Close
		if !IsNumber(prev) || !IsNumber(cur) || prev == 0 {
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// Validate checks ordering and basic bar sanity. Timestamps must be
// strictly increasing; OHLC relationships must hold whenever all four
// prices are present.
func (s Series) Validate() error {
	for i, r := range s {
		if i > 0 && !r.Time.After(s[i-1].Time) {
			return fmt.Errorf("row %d: timestamp %s not after previous %s",
				i, r.Time.Format(time.RFC3339), s[i-1].Time.Format(time.RFC3339))
		}
		if !IsNumber(r.Close) {
			return fmt.Errorf("row %d: missing close price", i)
		}
		if IsNumber(r.Open) && IsNumber(r.High) && IsNumber(r.Low) {
			if r.High < r.Low {
				return fmt.Errorf("row %d: high %.8f below low %.8f", i, r.High, r.Low)
			}
			if r.High < r.Open || r.High < r.Close {
				return fmt.Errorf("row %d: high %.8f below open/close", i, r.High)
			}
			if r.Low > r.Open || r.Low > r.Close {
				return fmt.Errorf("row %d: low %.8f above open/close", i, r.Low)
			}
		}
		if IsNumber(r.Volume) && r.Volume < 0 {
			return fmt.Errorf("row %d: negative volume %.8f", i, r.Volume)
		}
	}
	return nil
}

// DetectGaps returns the timestamps preceding a hole larger than the
// expected cadence. Gaps are reported, not repaired.
func (s Series) DetectGaps(cadence time.Duration) []time.Time {
	if cadence <= 0 {
		return nil
	}
	var gaps []time.Time
	for i := 1; i < len(s); i++ {
		if s[i].Time.Sub(s[i-1].Time) > cadence {
			gaps = append(gaps, s[i-1].Time)
		}
	}
	return gaps
}

// Cadence detects the most common delta between consecutive rows, looking
// at up to the first 2000 steps.
func (s Series) Cadence() time.Duration {
	if len(s) < 2 {
		return 0
	}
	limit := len(s)
	if limit > 2000 {
		limit = 2000
	}
	counts := make(map[time.Duration]int)
	for i := 1; i < limit; i++ {
		d := s[i].Time.Sub(s[i-1].Time)
		if d > 0 && d < 24*time.Hour {
			counts[d]++
		}
	}
	var best time.Duration
	bestCount := -1
	for d, c := range counts {
		if c > bestCount {
			bestCount = c
			best = d
		}
	}
	return best
}
