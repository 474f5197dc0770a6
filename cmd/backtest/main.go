// Package main runs one historical simulation over a feature CSV and prints
// the summary block.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/arrowio"
	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/engine"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

func main() {
	csvPath := flag.String("csv", "", "Path to the feature CSV (required)")
	configPath := flag.String("config", "", "Path to a JSON config overlay")
	symbol := flag.String("symbol", "", "Override the configured symbol")
	timeframe := flag.String("timeframe", "", "Override the configured timeframe")
	limit := flag.Int("limit", 0, "Use only the most recent N rows (0 = all)")
	arrowDir := flag.String("arrow-out", "", "Directory for Arrow IPC export of equity and trades")
	jsonOut := flag.String("json", "", "Write the full run result as JSON to this path")
	persist := flag.Bool("persist", false, "Persist the run into ClickHouse")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -csv <features.csv> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
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

	series, err := market.LoadCSV(*csvPath, logger)
	if err != nil {
		logger.Fatal("load dataset", zap.Error(err))
	}
	if *limit > 0 && series.Len() > *limit {
		series = series[series.Len()-*limit:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()
	eng := engine.NewDecisionEngine(cfg, logger)
	bt := engine.NewBacktester(cfg, eng, logger)

	started := time.Now()
	res, err := bt.Run(ctx, engine.RunRequest{
		RunID:     runID,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Series:    series,
	})
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
	logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("bars", res.Bars),
		zap.Duration("elapsed", time.Since(started)),
		zap.String("config_hash", res.Manifest.ConfigHash),
		zap.String("data_checksum", res.Manifest.DataChecksum))

	printSummary(cfg, res)

	if *arrowDir != "" {
		if err := exportArrow(*arrowDir, cfg.Symbol, res, logger); err != nil {
			logger.Fatal("arrow export", zap.Error(err))
		}
	}
	if *jsonOut != "" {
		raw, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			logger.Fatal("encode result", zap.Error(err))
		}
		if err := os.WriteFile(*jsonOut, raw, 0o644); err != nil {
			logger.Fatal("write result", zap.Error(err))
		}
		logger.Info("result written", zap.String("path", *jsonOut))
	}
	if *persist {
		if err := persistRun(ctx, cfg, res, logger); err != nil {
			logger.Fatal("clickhouse persist", zap.Error(err))
		}
	}
}

func printSummary(cfg config.Config, res *engine.RunResult) {
	s := res.Summary
	fmt.Printf("\n回测结果\n")
	fmt.Printf("总交易: %d | 盈利: %d | 亏损: %d\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Printf("杠杆倍数: %.1fx\n", cfg.Leverage)
	if s.TotalTrades > 0 {
		fmt.Printf("胜率: %.1f%%\n", s.WinRate)
		fmt.Printf("平均盈亏: %.0f / %.0f | 盈亏比: %.1f\n", s.AvgWin, s.AvgLoss, s.ProfitRatio)
	}
	fmt.Printf("最终资金: %.0f | 收益率: %.1f%%\n", res.FinalCash, res.ReturnRatio)
	fmt.Printf("最大回撤: %.1f%%\n", s.MaxDrawdown)
}

func exportArrow(dir, symbol string, res *engine.RunResult, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	exp := arrowio.NewExporter(logger)

	equity, err := exp.EquityIPC(symbol, res.Manifest.RunID, res.Equity)
	if err != nil {
		return err
	}
	eqPath := filepath.Join(dir, "equity.arrow")
	if err := os.WriteFile(eqPath, equity, 0o644); err != nil {
		return err
	}
	logger.Info("equity curve exported", zap.String("path", eqPath))

	if len(res.Trades) == 0 {
		logger.Warn("no trades to export")
		return nil
	}
	trades, err := exp.TradesIPC(symbol, res.Manifest.RunID, res.Trades)
	if err != nil {
		return err
	}
	trPath := filepath.Join(dir, "trades.arrow")
	if err := os.WriteFile(trPath, trades, 0o644); err != nil {
		return err
	}
	logger.Info("trade log exported", zap.String("path", trPath))
	return nil
}

func persistRun(ctx context.Context, cfg config.Config, res *engine.RunResult, logger *zap.Logger) error {
	store, err := clickhouse.Open(clickhouse.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.SaveRun(ctx, res)
}
