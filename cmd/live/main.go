// Runs the decision loop against the ClickHouse feature store: every
// interval it pulls the latest feature window, evaluates the signal, and
// manages a paper position with persisted state. No order placement.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/live"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// storeRows adapts the feature store to the runner's provider contract. An
// upstream pipeline keeps the features table current; this process only
// reads the trailing window.
type storeRows struct {
	store     *clickhouse.Store
	symbol    string
	timeframe string
}

func (p storeRows) Latest(ctx context.Context, lookback int) (market.Series, error) {
	return p.store.Features(ctx, p.symbol, p.timeframe, lookback)
}

func main() {
	configPath := flag.String("config", "", "Path to a JSON config overlay")
	symbol := flag.String("symbol", "", "Override the configured symbol")
	timeframe := flag.String("timeframe", "", "Override the configured timeframe")
	interval := flag.Duration("interval", 5*time.Minute, "Evaluation interval")
	statePath := flag.String("state", "live_state.json", "Persisted engine state path (empty disables)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *timeframe != "" {
		cfg.Timeframe = *timeframe
	}
	cfg.Validate(logger)

	store, err := clickhouse.Open(clickhouse.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, logger)
	if err != nil {
		logger.Fatal("clickhouse connect", zap.Error(err))
	}
	defer store.Close()

	provider := storeRows{store: store, symbol: cfg.Symbol, timeframe: cfg.Timeframe}
	runner := live.NewRunner(cfg, provider, logger, live.Options{
		Interval:  *interval,
		StatePath: *statePath,
	})
	if err := runner.RestoreState(); err != nil {
		logger.Warn("state restore failed, starting fresh", zap.Error(err))
	}
	runner.OnDecision(func(ev live.DecisionEvent) {
		logger.Info("decision",
			zap.String("direction", ev.Signal.Direction.String()),
			zap.Float64("score", ev.Signal.Score),
			zap.String("position", ev.Position.Side),
			zap.Float64("price", ev.Price),
			zap.Float64("cash", ev.Cash))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("live runner failed", zap.Error(err))
	}
}
