// Package monitoring aggregates server-side run metrics: counts, durations,
// and throughput, exposed on the metrics endpoint.
package monitoring

import (
	"sync"
	"time"
)

// RunSample is one completed simulation as seen by the monitor.
type RunSample struct {
	RunID      string        `json:"run_id"`
	Bars       int           `json:"bars"`
	Duration   time.Duration `json:"duration_ns"`
	BarsPerSec float64       `json:"bars_per_sec"`
	Failed     bool          `json:"failed"`
}

// Metrics is a concurrency-safe accumulator shared by the server's workers.
type Metrics struct {
	mu sync.Mutex

	startedAt     time.Time
	runsTotal     int
	runsFailed    int
	barsTotal     int64
	totalDuration time.Duration
	slowest       time.Duration
	recent        []RunSample
}

const recentWindow = 32

func New() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// ObserveRun records one finished run. Failed runs count toward totals but
// not throughput.
func (m *Metrics) ObserveRun(runID string, bars int, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runsTotal++
	if failed {
		m.runsFailed++
	} else {
		m.barsTotal += int64(bars)
		m.totalDuration += d
		if d > m.slowest {
			m.slowest = d
		}
	}

	sample := RunSample{RunID: runID, Bars: bars, Duration: d, Failed: failed}
	if d > 0 {
		sample.BarsPerSec = float64(bars) / d.Seconds()
	}
	m.recent = append(m.recent, sample)
	if len(m.recent) > recentWindow {
		m.recent = m.recent[len(m.recent)-recentWindow:]
	}
}

// Report is the snapshot served on the metrics endpoint.
type Report struct {
	UptimeSec     int64       `json:"uptime_sec"`
	RunsTotal     int         `json:"runs_total"`
	RunsFailed    int         `json:"runs_failed"`
	BarsTotal     int64       `json:"bars_total"`
	AvgBarsPerSec float64     `json:"avg_bars_per_sec"`
	SlowestRunMs  int64       `json:"slowest_run_ms"`
	Recent        []RunSample `json:"recent"`
}

func (m *Metrics) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		UptimeSec:    int64(time.Since(m.startedAt).Seconds()),
		RunsTotal:    m.runsTotal,
		RunsFailed:   m.runsFailed,
		BarsTotal:    m.barsTotal,
		SlowestRunMs: m.slowest.Milliseconds(),
		Recent:       append([]RunSample(nil), m.recent...),
	}
	if m.totalDuration > 0 {
		r.AvgBarsPerSec = float64(m.barsTotal) / m.totalDuration.Seconds()
	}
	return r
}
