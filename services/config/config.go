// Package config holds the layered engine configuration: compiled-in
// defaults, an optional JSON file, then environment overrides. The merged
// result is immutable after Load and carries a sha256 fingerprint that run
// manifests embed for reproducibility.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

type WindowConfig struct {
	Short int `json:"short"`
	Long  int `json:"long"`
}

type DirectionConfig struct {
	LongThreshold  float64 `json:"long_threshold"`
	ShortThreshold float64 `json:"short_threshold"`
}

type ScoreWeights struct {
	Signal   float64 `json:"signal_weight"`
	Trend    float64 `json:"trend_weight"`
	Risk     float64 `json:"risk_weight"`
	Drawdown float64 `json:"drawdown_weight"`
}

type FilterConfig struct {
	EnablePriceDeviation bool    `json:"enable_price_deviation_filter"`
	PriceDeviationBase   float64 `json:"price_deviation_threshold"` // percent
	EnableRSI            bool    `json:"enable_rsi_filter"`
	RSIOverbought        float64 `json:"rsi_overbought_threshold"`
	RSIOversold          float64 `json:"rsi_oversold_threshold"`
	EnableVolatility     bool    `json:"enable_volatility_filter"`
	MinVolatility        float64 `json:"min_volatility"`
	MaxVolatility        float64 `json:"max_volatility"`
	VolatilityPeriod     int     `json:"volatility_period"`
	EnableScoreFilter    bool    `json:"enable_signal_score_filter"`
	LongBaseGate         float64 `json:"filter_long_base_score"`
	LongTrendGate        float64 `json:"filter_long_trend_score"`
	ShortBaseGate        float64 `json:"filter_short_base_score"`
	ShortTrendGate       float64 `json:"filter_short_trend_score"`
	EnableEntanglement   bool    `json:"enable_price_ma_entanglement"`
	EntanglementDistance float64 `json:"entanglement_distance_threshold"` // percent
}

type StopLossConfig struct {
	EnableFixed    bool    `json:"enable_fixed_stop_loss"`
	FixedRatio     float64 `json:"fixed_stop_loss"` // negative, leveraged net ratio
	EnableReversal bool    `json:"enable_signal_score_stop_loss"`
	ReversalScore  float64 `json:"signal_score_threshold"`
}

type TakeProfitConfig struct {
	Enable           bool    `json:"enable"`
	EnableCallback   bool    `json:"enable_callback"`
	CallbackRatio    float64 `json:"callback_ratio"`
	EnableLineWMA    bool    `json:"linewma_take_profit_enabled"`
	EnableTimeBased  bool    `json:"time_based_take_profit"`
	TimeBasedPeriods int     `json:"time_based_periods"`
}

// CooldownLevelFactors maps cooldown levels 1..3 to multiplicative
// position-size factors.
type CooldownLevelFactors struct {
	Level1 float64 `json:"level_1"`
	Level2 float64 `json:"level_2"`
	Level3 float64 `json:"level_3"`
}

type CooldownConfig struct {
	Enable        bool                 `json:"enable_cooldown_treatment"`
	LossThreshold int                  `json:"consecutive_loss_threshold"`
	Mode          string               `json:"mode"` // "backtest" or "realtime"
	Levels        CooldownLevelFactors `json:"position_reduction_levels"`
	RecoveryWins  int                  `json:"recovery_consecutive_wins"` // backtest mode
	// Realtime mode: hours before each level may recover, capped by MaxHours.
	Level1Hours float64 `json:"level_1_duration_hours"`
	Level2Hours float64 `json:"level_2_duration_hours"`
	Level3Hours float64 `json:"level_3_duration_hours"`
	MaxHours    float64 `json:"max_cooldown_duration_hours"`
}

type PositionConfig struct {
	FullThresholdMin float64 `json:"full_position_threshold_min"`
	FullThresholdMax float64 `json:"full_position_threshold_max"`
	FullSize         float64 `json:"full_position_size"`
	StandardSize     float64 `json:"avg_adjusted_position"`
	MaxSize          float64 `json:"max_adjusted_position"`
}

type SharpeConfig struct {
	Lookback              int     `json:"sharpe_lookback"`
	Target                float64 `json:"target_sharpe"`
	MaxRiskMultiplier     float64 `json:"max_risk_multiplier"`
	InitialRiskMultiplier float64 `json:"initial_risk_multiplier"`
}

type ClickHouseConfig struct {
	Enable   bool   `json:"enable"`
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type ServerConfig struct {
	HTTPPort   int `json:"http_port"`
	GRPCPort   int `json:"grpc_port"`
	MaxWorkers int `json:"max_workers"`
}

// Config is the full engine + service configuration. Construct via Load (or
// Defaults in tests) and treat as read-only afterwards.
type Config struct {
	Environment    string           `json:"environment"`
	Symbol         string           `json:"symbol"`
	Timeframe      string           `json:"timeframe"`
	InitialCapital float64          `json:"initial_capital"`
	Leverage       float64          `json:"leverage"`
	TradingFee     float64          `json:"trading_fee"`
	MinLookback    int              `json:"min_lookback"` // 0 means derived
	Windows        WindowConfig     `json:"windows"`
	Direction      DirectionConfig  `json:"signal_direction"`
	Weights        ScoreWeights     `json:"score_weights"`
	Filters        FilterConfig     `json:"signal_score_filters"`
	Position       PositionConfig   `json:"position_config"`
	StopLoss       StopLossConfig   `json:"stop_loss"`
	TakeProfit     TakeProfitConfig `json:"take_profit"`
	Cooldown       CooldownConfig   `json:"cooldown_treatment"`
	Sharpe         SharpeConfig     `json:"sharpe_params"`
	Server         ServerConfig     `json:"server"`
	ClickHouse     ClickHouseConfig `json:"clickhouse"`
}

const (
	ModeBacktest = "backtest"
	ModeRealtime = "realtime"
)

// Defaults returns the compiled-in configuration layer.
func Defaults() Config {
	return Config{
		Environment:    "dev",
		Symbol:         "WLFIUSDT",
		Timeframe:      "1h",
		InitialCapital: 100,
		Leverage:       5,
		TradingFee:     0.001,
		Windows:        WindowConfig{Short: 75, Long: 150},
		Direction:      DirectionConfig{LongThreshold: 0.01, ShortThreshold: -0.01},
		Weights:        ScoreWeights{Signal: 0.6, Trend: 0.4, Risk: 0, Drawdown: 0},
		Filters: FilterConfig{
			EnablePriceDeviation: true,
			PriceDeviationBase:   2.0,
			EnableRSI:            true,
			RSIOverbought:        85,
			RSIOversold:          25,
			EnableVolatility:     true,
			MinVolatility:        0.003,
			MaxVolatility:        0.60,
			VolatilityPeriod:     50,
			EnableScoreFilter:    true,
			LongBaseGate:         0.35,
			LongTrendGate:        0.3,
			ShortBaseGate:        -0.25,
			ShortTrendGate:       -0.3,
			EnableEntanglement:   true,
			EntanglementDistance: 0.03,
		},
		Position: PositionConfig{
			FullThresholdMin: -0.5,
			FullThresholdMax: 0.5,
			FullSize:         0.9,
			StandardSize:     0.5,
			MaxSize:          0.8,
		},
		StopLoss: StopLossConfig{
			EnableFixed:    true,
			FixedRatio:     -0.10,
			EnableReversal: true,
			ReversalScore:  0.3,
		},
		TakeProfit: TakeProfitConfig{
			Enable:           true,
			EnableCallback:   true,
			CallbackRatio:    0.05,
			EnableLineWMA:    true,
			EnableTimeBased:  true,
			TimeBasedPeriods: 96,
		},
		Cooldown: CooldownConfig{
			Enable:        true,
			LossThreshold: 2,
			Mode:          ModeBacktest,
			Levels:        CooldownLevelFactors{Level1: 0.8, Level2: 0.6, Level3: 0.4},
			RecoveryWins:  1,
			Level1Hours:   3,
			Level2Hours:   5,
			Level3Hours:   7,
			MaxHours:      72,
		},
		Sharpe: SharpeConfig{
			Lookback:              30,
			Target:                1.0,
			MaxRiskMultiplier:     2.0,
			InitialRiskMultiplier: 1.0,
		},
		Server: ServerConfig{HTTPPort: 8080, GRPCPort: 9091, MaxWorkers: 0},
		ClickHouse: ClickHouseConfig{
			Enable:   false,
			Addr:     "localhost:9000",
			Database: "quantify",
			Username: "default",
		},
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Lookback returns the minimum history length required before the engine
// emits non-neutral signals: at least 200 rows, or the long window if that
// is larger, unless MinLookback overrides it explicitly.
func (c Config) Lookback() int {
	if c.MinLookback > 0 {
		return c.MinLookback
	}
	lb := 200
	if c.Windows.Long > lb {
		lb = c.Windows.Long
	}
	return lb
}

// LevelFactor maps a cooldown level to its size-reduction factor.
func (c CooldownConfig) LevelFactor(level int) float64 {
	switch level {
	case 1:
		return c.Levels.Level1
	case 2:
		return c.Levels.Level2
	case 3:
		return c.Levels.Level3
	default:
		return 1.0
	}
}

// LevelHours maps a cooldown level to its realtime recovery duration.
func (c CooldownConfig) LevelHours(level int) float64 {
	var h float64
	switch level {
	case 1:
		h = c.Level1Hours
	case 2:
		h = c.Level2Hours
	case 3:
		h = c.Level3Hours
	}
	if c.MaxHours > 0 && h > c.MaxHours {
		return c.MaxHours
	}
	return h
}

// Validate logs advisory warnings for implausible values. Extreme settings
// are the operator's call, so nothing here rejects the configuration.
func (c Config) Validate(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	if c.StopLoss.FixedRatio < -0.5 {
		log.Warn("fixed stop loss ratio is unusually deep",
			zap.Float64("fixed_stop_loss", c.StopLoss.FixedRatio))
	}
	if c.StopLoss.FixedRatio > 0 {
		log.Warn("fixed stop loss ratio should be negative",
			zap.Float64("fixed_stop_loss", c.StopLoss.FixedRatio))
	}
	if c.Leverage > 20 {
		log.Warn("leverage exceeds 20x",
			zap.Float64("leverage", c.Leverage))
	}
	if c.TradingFee < 0 || c.TradingFee > 0.01 {
		log.Warn("trading fee rate outside the usual range",
			zap.Float64("trading_fee", c.TradingFee))
	}
	if s := c.Weights.Signal + c.Weights.Trend + c.Weights.Risk + c.Weights.Drawdown; s < 0.99 || s > 1.01 {
		log.Warn("score weights do not sum to 1",
			zap.Float64("sum", s))
	}
	if c.Position.MaxSize > 1 {
		log.Warn("max position fraction exceeds available capital",
			zap.Float64("max_adjusted_position", c.Position.MaxSize))
	}
	if c.Cooldown.Mode != ModeBacktest && c.Cooldown.Mode != ModeRealtime {
		log.Warn("unknown cooldown mode, falling back to backtest semantics",
			zap.String("mode", c.Cooldown.Mode))
	}
}

// Fingerprint is a sha256 over the canonical JSON form. Two runs with equal
// fingerprints and equal input data are expected to produce identical trade
// logs.
func (c Config) Fingerprint() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}
