package engine

// Run reproducibility manifest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/JINJINJINFAN/Quantify/services/market"
)

// RunManifest pins down everything needed to reproduce a simulation run:
// the configuration fingerprint, a checksum of the input series, and the
// engine version. Two runs with equal manifests must produce byte-identical
// trade logs.
type RunManifest struct {
	RunID          string `json:"run_id"`
	ConfigHash     string `json:"config_hash"`
	DataChecksum   string `json:"data_checksum"`
	EngineVersion  string `json:"engine_version"`
	Rows           int    `json:"rows"`
	CreatedAtMilli int64  `json:"created_at"`
}

// NewRunManifest builds the manifest for a run over the given series.
func NewRunManifest(runID, configHash string, series market.Series) RunManifest {
	return RunManifest{
		RunID:          runID,
		ConfigHash:     configHash,
		DataChecksum:   SeriesChecksum(series),
		EngineVersion:  EngineVersion,
		Rows:           series.Len(),
		CreatedAtMilli: time.Now().UnixMilli(),
	}
}

// SeriesChecksum hashes the fields the engine actually reads: timestamps,
// OHLCV, and every indicator column. Rows hash in order, so any reordering
// or edit changes the digest.
func SeriesChecksum(series market.Series) string {
	h := sha256.New()
	var buf [8]byte
	writeF := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for i := range series {
		r := &series[i]
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Time.UnixMilli()))
		h.Write(buf[:])
		writeF(r.Open)
		writeF(r.High)
		writeF(r.Low)
		writeF(r.Close)
		writeF(r.Volume)
		writeF(r.RSI)
		writeF(r.ADX)
		writeF(r.ATR)
		writeF(r.OBV)
		writeF(r.MACD)
		writeF(r.LineWMA)
		writeF(r.OpenEMA)
		writeF(r.CloseEMA)
		writeF(r.BBWidth)
		writeF(r.MarketRegime)
		writeF(r.BaseScore)
		writeF(r.ATRTrendScore)
		writeF(r.VolumeTrendScore)
		writeF(r.EMATrendScore)
		writeF(r.ADXTrendScore)
		writeF(r.RSITrendScore)
		writeF(r.BBTrendScore)
		writeF(r.SharpeShort)
		writeF(r.SharpeLong)
		writeF(r.DrawdownShort)
		writeF(r.DrawdownLong)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
