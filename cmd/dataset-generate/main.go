// Generates a synthetic feature dataset for exercising the simulator:
// a seeded random walk with trending and ranging phases, annotated with
// the indicator columns the engine consumes. Output is a CSV the backtest
// CLI and the ingest CLI both accept.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

var header = []string{
	"timestamp", "open", "high", "low", "close", "volume",
	"line_wma", "open_ema", "close_ema", "rsi", "adx", "atr", "macd", "obv",
	"bb_width", "market_regime", "base_score",
	"atr_trend_score", "volume_trend_score", "ema_trend_score",
	"adx_trend_score", "rsi_trend_score", "bb_trend_score",
	"sharpe_short", "sharpe_long", "max_drawdown_short", "max_drawdown_long",
}

// warmup bars carry empty indicator cells, like a real feature export whose
// longest indicator window has not filled yet.
const warmup = 30

func main() {
	out := flag.String("out", "", "Output CSV path (required)")
	bars := flag.Int("bars", 1000, "Number of bars to generate")
	start := flag.String("start", "2024-01-01T00:00:00Z", "Timestamp of the first bar (RFC 3339)")
	step := flag.Duration("step", 5*time.Minute, "Bar interval")
	seed := flag.Int64("seed", 42, "Random seed (fixed for reproducible fixtures)")
	price := flag.Float64("price", 50000, "Starting price")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		os.Exit(2)
	}
	baseTime, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}

	fmt.Printf("Generating %d bars to %s (seed %d)\n", *bars, *out, *seed)

	file, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create output: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()
	if err := w.Write(header); err != nil {
		log.Fatalf("write header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	g := newGenerator(*price)

	for i := 0; i < *bars; i++ {
		row := g.next(rng, phaseDrift(i, *bars))
		ts := baseTime.Add(time.Duration(i) * *step)
		rec := append([]string{
			fmt.Sprintf("%d", ts.UnixMilli()),
			decimal.NewFromFloat(row.open).Round(2).String(),
			decimal.NewFromFloat(row.high).Round(2).String(),
			decimal.NewFromFloat(row.low).Round(2).String(),
			decimal.NewFromFloat(row.close).Round(2).String(),
			decimal.NewFromFloat(row.volume).Round(3).String(),
		}, indicatorCells(row, i)...)
		if err := w.Write(rec); err != nil {
			log.Fatalf("write record: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("flush output: %v", err)
	}

	fmt.Printf("Generated %d bars from %s, step %s\n", *bars, baseTime.Format(time.RFC3339), *step)
}

// phaseDrift carves the series into up, down, and ranging segments so the
// regimes the scorer distinguishes all appear.
func phaseDrift(i, bars int) float64 {
	p := float64(i) / float64(bars)
	switch {
	case p > 0.10 && p < 0.30:
		return 0.0010
	case p > 0.40 && p < 0.60:
		return -0.0010
	case p > 0.70 && p < 0.90:
		return 0.0005
	default:
		return 0
	}
}

type bar struct {
	open, high, low, close, volume float64

	lineWMA, openEMA, closeEMA        float64
	rsi, adx, atr, macd, obv, bbWidth float64
	regime, baseScore                 float64
	atrTrend, volTrend, emaTrend      float64
	adxTrend, rsiTrend, bbTrend       float64
	sharpeShort, sharpeLong           float64
	drawdownShort, drawdownLong       float64
}

// generator carries the incremental indicator state across bars.
type generator struct {
	price float64
	minP  float64
	maxP  float64

	closes  []float64
	volumes []float64

	openEMA  ema
	closeEMA ema
	ema12    ema
	ema26    ema
	atrEMA   ema
	adxEMA   ema

	avgGain float64
	avgLoss float64
	rsiN    int

	obv float64
}

func newGenerator(start float64) *generator {
	return &generator{
		price:    start,
		minP:     start * 0.2,
		maxP:     start * 2.0,
		openEMA:  ema{n: 12},
		closeEMA: ema{n: 12},
		ema12:    ema{n: 12},
		ema26:    ema{n: 26},
		atrEMA:   ema{n: 14},
		adxEMA:   ema{n: 14},
	}
}

func (g *generator) next(rng *rand.Rand, drift float64) bar {
	change := (rng.Float64()-0.5)*0.02 + drift
	g.price *= 1 + change
	if g.price < g.minP {
		g.price = g.minP
	}
	if g.price > g.maxP {
		g.price = g.maxP
	}

	open := g.price
	vol := 0.005 + rng.Float64()*0.01
	high := open * (1 + vol*rng.Float64())
	low := open * (1 - vol*rng.Float64())
	close := open + (high-low)*(rng.Float64()-0.5)*0.8
	if high < open {
		high = open
	}
	if high < close {
		high = close
	}
	if low > open {
		low = open
	}
	if low > close {
		low = close
	}
	volume := 1000 + rng.Float64()*5000 + math.Abs(change)*100000

	prevClose := close
	if len(g.closes) > 0 {
		prevClose = g.closes[len(g.closes)-1]
	}
	g.closes = append(g.closes, close)
	g.volumes = append(g.volumes, volume)
	g.price = close

	b := bar{open: open, high: high, low: low, close: close, volume: volume}

	b.lineWMA = wma(g.closes, 20)
	b.openEMA = g.openEMA.update(open)
	b.closeEMA = g.closeEMA.update(close)
	b.macd = g.ema12.update(close) - g.ema26.update(close)

	tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	b.atr = g.atrEMA.update(tr)
	b.rsi = g.updateRSI(close - prevClose)

	dir := 0.0
	if close > b.lineWMA {
		dir = 1
	} else if close < b.lineWMA {
		dir = -1
	}
	rawADX := 5.0
	if b.atr > 0 {
		rawADX = clamp(math.Abs(close-b.lineWMA)/b.atr*30, 5, 60)
	}
	b.adx = g.adxEMA.update(rawADX)

	if close >= prevClose {
		g.obv += volume
	} else {
		g.obv -= volume
	}
	b.obv = g.obv

	sma20 := sma(g.closes, 20)
	if sma20 > 0 {
		b.bbWidth = stddev(g.closes, 20) / sma20 * 4
	}
	if b.adx > 25 {
		b.regime = dir
	}

	dev := 0.0
	if b.lineWMA > 0 {
		dev = (close - b.lineWMA) / b.lineWMA
	}
	b.rsiTrend = clamp((b.rsi-50)/50, -1, 1)
	if b.openEMA > 0 {
		b.emaTrend = clamp((b.closeEMA-b.openEMA)/b.openEMA*200, -1, 1)
	}
	b.atrTrend = dir * clamp(b.atr/close*50, 0, 1)
	b.adxTrend = dir * clamp((b.adx-20)/30, 0, 1)
	b.bbTrend = dir * clamp((b.bbWidth-0.04)/0.08, 0, 1)
	volSMA := sma(g.volumes, 20)
	if volSMA > 0 {
		b.volTrend = dir * clamp(volume/volSMA-1, 0, 1)
	}
	b.baseScore = clamp(0.6*math.Tanh(dev*50)+0.4*b.rsiTrend+(rng.Float64()-0.5)*0.1, -1, 1)

	b.sharpeShort = rollingSharpe(g.closes, 30)
	b.sharpeLong = rollingSharpe(g.closes, 100)
	b.drawdownShort = rollingDrawdown(g.closes, 30)
	b.drawdownLong = rollingDrawdown(g.closes, 100)
	return b
}

func (g *generator) updateRSI(delta float64) float64 {
	gain := math.Max(delta, 0)
	loss := math.Max(-delta, 0)
	if g.rsiN < 14 {
		g.avgGain += gain / 14
		g.avgLoss += loss / 14
		g.rsiN++
	} else {
		g.avgGain = (g.avgGain*13 + gain) / 14
		g.avgLoss = (g.avgLoss*13 + loss) / 14
	}
	if g.avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+g.avgGain/g.avgLoss)
}

type ema struct {
	n      int
	value  float64
	primed bool
}

func (e *ema) update(v float64) float64 {
	if !e.primed {
		e.value = v
		e.primed = true
		return v
	}
	k := 2.0 / float64(e.n+1)
	e.value += (v - e.value) * k
	return e.value
}

func indicatorCells(b bar, i int) []string {
	if i < warmup {
		return make([]string, len(header)-6)
	}
	vals := []float64{
		b.lineWMA, b.openEMA, b.closeEMA, b.rsi, b.adx, b.atr, b.macd, b.obv,
		b.bbWidth, b.regime, b.baseScore,
		b.atrTrend, b.volTrend, b.emaTrend, b.adxTrend, b.rsiTrend, b.bbTrend,
		b.sharpeShort, b.sharpeLong, b.drawdownShort, b.drawdownLong,
	}
	cells := make([]string, len(vals))
	for i, v := range vals {
		cells[i] = fmt.Sprintf("%.6f", v)
	}
	return cells
}

func sma(vals []float64, n int) float64 {
	if len(vals) < n {
		return 0
	}
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func wma(vals []float64, n int) float64 {
	if len(vals) < n {
		if len(vals) == 0 {
			return 0
		}
		n = len(vals)
	}
	num, den := 0.0, 0.0
	window := vals[len(vals)-n:]
	for i, v := range window {
		w := float64(i + 1)
		num += v * w
		den += w
	}
	return num / den
}

func stddev(vals []float64, n int) float64 {
	if len(vals) < n {
		return 0
	}
	window := vals[len(vals)-n:]
	mean := sma(vals, n)
	sum := 0.0
	for _, v := range window {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func rollingSharpe(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	window := closes[len(closes)-n-1:]
	rets := make([]float64, 0, n)
	for i := 1; i < len(window); i++ {
		if window[i-1] != 0 {
			rets = append(rets, window[i]/window[i-1]-1)
		}
	}
	if len(rets) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	varsum := 0.0
	for _, r := range rets {
		d := r - mean
		varsum += d * d
	}
	sd := math.Sqrt(varsum / float64(len(rets)))
	if sd == 0 {
		return 0
	}
	return mean / sd
}

func rollingDrawdown(closes []float64, n int) float64 {
	if len(closes) < n {
		return 0
	}
	window := closes[len(closes)-n:]
	peak := window[0]
	maxDD := 0.0
	for _, v := range window {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
