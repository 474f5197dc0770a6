package engine

import (
	"math"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

var testEpoch = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func barTime(i int) time.Time { return testEpoch.Add(time.Duration(i) * time.Hour) }

// quietRow is a bar with a valid price but no precomputed scores, so it
// produces a neutral direction.
func quietRow(i int, close float64) market.FeatureRow {
	row := market.EmptyRow(barTime(i))
	row.Open = close
	row.High = close * 1.005
	row.Low = close * 0.995
	row.Close = close
	row.Volume = 1000
	row.LineWMA = close * 0.99
	return row
}

// longRow is a bar every filter stage accepts for a long signal: price just
// above a clean bullish stack, RSI mid-range, strong base and EMA trend
// scores.
func longRow(i int, close float64) market.FeatureRow {
	row := quietRow(i, close)
	row.RSI = 50
	row.OpenEMA = close * 0.992
	row.CloseEMA = close * 0.993
	row.BaseScore = 0.9
	row.EMATrendScore = 1
	return row
}

// shortRow mirrors longRow for a short signal.
func shortRow(i int, close float64) market.FeatureRow {
	row := quietRow(i, close)
	row.RSI = 50
	row.LineWMA = close * 1.01
	row.OpenEMA = close * 1.007
	row.CloseEMA = close * 1.008
	row.BaseScore = -0.9
	row.EMATrendScore = 0
	return row
}

// quietSeries is n quiet bars alternating between close and close*1.008 so
// the volatility window sees a live market without any directional push.
func quietSeries(n int, close float64) market.Series {
	series := make(market.Series, n)
	for i := range series {
		c := close
		if i%2 == 1 {
			c = close * 1.008
		}
		series[i] = quietRow(i, c)
	}
	return series
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func testConfig() config.Config { return config.Defaults() }
