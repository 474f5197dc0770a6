// Package main validates a feature CSV and batch-loads it into ClickHouse.
// The ingest ledger keys on the file hash, so re-running on the same file is
// a no-op unless forced.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

func main() {
	csvPath := flag.String("csv", "", "Path to the feature CSV (required)")
	configPath := flag.String("config", "", "Path to a JSON config overlay")
	symbol := flag.String("symbol", "", "Symbol the rows belong to (default from config)")
	timeframe := flag.String("timeframe", "", "Bar timeframe (default from config)")
	dryRun := flag.Bool("dry-run", false, "Validate only, do not insert")
	force := flag.Bool("force", false, "Insert even if this file was ingested before")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: dataset-ingest -csv <features.csv> [flags]")
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
	if *symbol == "" {
		*symbol = cfg.Symbol
	}
	if *timeframe == "" {
		*timeframe = cfg.Timeframe
	}

	series, err := market.LoadCSV(*csvPath, logger)
	if err != nil {
		logger.Fatal("load dataset", zap.Error(err))
	}
	if series.Len() == 0 {
		logger.Fatal("dataset is empty", zap.String("path", *csvPath))
	}

	cadence := series.Cadence()
	gaps := series.DetectGaps(cadence)
	logger.Info("dataset validated",
		zap.Int("rows", series.Len()),
		zap.Duration("cadence", cadence),
		zap.Int("gaps", len(gaps)),
		zap.Time("from", series[0].Time),
		zap.Time("to", series[series.Len()-1].Time))

	if *dryRun {
		fmt.Printf("OK: %d rows, %d gaps\n", series.Len(), len(gaps))
		return
	}

	digest, err := fileSHA256(*csvPath)
	if err != nil {
		logger.Fatal("hash dataset", zap.Error(err))
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

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	seen, err := store.IngestRecorded(ctx, digest)
	if err != nil {
		logger.Fatal("ledger lookup", zap.Error(err))
	}
	if seen && !*force {
		logger.Info("file already ingested, skipping", zap.String("sha256", digest))
		fmt.Println("already ingested (use -force to reload)")
		return
	}

	if err := store.AppendFeatures(ctx, *symbol, *timeframe, series); err != nil {
		logger.Fatal("insert features", zap.Error(err))
	}
	if err := store.RecordIngest(ctx, digest, *csvPath, *symbol, *timeframe, series.Len()); err != nil {
		logger.Fatal("record ingest", zap.Error(err))
	}
	logger.Info("dataset ingested",
		zap.String("symbol", *symbol),
		zap.String("timeframe", *timeframe),
		zap.Int("rows", series.Len()),
		zap.String("sha256", digest))
	fmt.Printf("ingested %d rows for %s %s\n", series.Len(), *symbol, *timeframe)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
