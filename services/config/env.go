package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// applyEnv overlays environment variables on top of the merged defaults+file
// configuration. A .env file in the working directory is honored when
// present; real environment variables win over it.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.Symbol = getEnv("SYMBOL", cfg.Symbol)
	cfg.Timeframe = getEnv("TIMEFRAME", cfg.Timeframe)
	cfg.InitialCapital = getEnvFloat("INITIAL_CAPITAL", cfg.InitialCapital)
	cfg.Leverage = getEnvFloat("LEVERAGE", cfg.Leverage)
	cfg.TradingFee = getEnvFloat("TRADING_FEE", cfg.TradingFee)
	cfg.MinLookback = getEnvInt("MIN_LOOKBACK", cfg.MinLookback)

	cfg.Cooldown.Mode = getEnv("COOLDOWN_MODE", cfg.Cooldown.Mode)

	cfg.Server.HTTPPort = getEnvInt("HTTP_PORT", cfg.Server.HTTPPort)
	cfg.Server.GRPCPort = getEnvInt("GRPC_PORT", cfg.Server.GRPCPort)
	cfg.Server.MaxWorkers = getEnvInt("MAX_WORKERS", cfg.Server.MaxWorkers)

	cfg.ClickHouse.Enable = getEnvBool("CLICKHOUSE_ENABLE", cfg.ClickHouse.Enable)
	cfg.ClickHouse.Addr = getEnv("CLICKHOUSE_ADDR", cfg.ClickHouse.Addr)
	cfg.ClickHouse.Database = getEnv("CLICKHOUSE_DATABASE", cfg.ClickHouse.Database)
	cfg.ClickHouse.Username = getEnv("CLICKHOUSE_USERNAME", cfg.ClickHouse.Username)
	cfg.ClickHouse.Password = getEnv("CLICKHOUSE_PASSWORD", cfg.ClickHouse.Password)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
