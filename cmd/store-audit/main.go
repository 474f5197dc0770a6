// Runs the data-quality checks against the ClickHouse store and reports
// PASS/WARN/FAIL per check. Exits nonzero when any check fails, so it can
// gate a nightly pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON config overlay")
	maxAge := flag.Duration("max-age", 24*time.Hour, "Ingest freshness threshold")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	results := store.Audit(ctx, *maxAge)

	passed, warned, failed := 0, 0, 0
	for _, r := range results {
		fmt.Printf("%-20s %-4s %s\n", r.Name, r.Status, r.Message)
		switch r.Status {
		case clickhouse.CheckPass:
			passed++
		case clickhouse.CheckWarn:
			warned++
		case clickhouse.CheckFail:
			failed++
		}
	}
	fmt.Printf("\nchecks: %d passed, %d warnings, %d failed\n", passed, warned, failed)

	logger.Info("store audit finished",
		zap.Int("passed", passed),
		zap.Int("warnings", warned),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}
