// Package clickhouse persists simulation runs, trade logs, equity curves,
// and ingested feature rows.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JINJINJINFAN/Quantify/services/engine"
	"github.com/JINJINJINFAN/Quantify/services/market"
)

// ErrRunNotFound is returned by RunDetail for an unknown run id.
var ErrRunNotFound = errors.New("clickhouse: run not found")

// Config addresses one ClickHouse server over the native protocol.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Store owns the connection and the quantify schema. Money columns are
// Decimal(18,8); derived ratios stay Float64.
type Store struct {
	conn driver.Conn
	db   string
	log  *zap.Logger
}

func Open(cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = "quantify"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping %s: %w", cfg.Addr, err)
	}
	log.Info("clickhouse connected", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return &Store{conn: conn, db: cfg.Database, log: log}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

// EnsureSchema creates the database and tables. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, s.db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.runs (
			run_id         String,
			symbol         String,
			timeframe      String,
			config_hash    String,
			series_sha256  String,
			engine_version String,
			start_time     DateTime64(3, 'UTC'),
			end_time       DateTime64(3, 'UTC'),
			bars           UInt32,
			initial_cash   Decimal(18, 8),
			final_cash     Decimal(18, 8),
			return_ratio   Float64,
			total_trades   UInt32,
			winning_trades UInt32,
			losing_trades  UInt32,
			win_rate       Float64,
			avg_win        Float64,
			avg_loss       Float64,
			profit_ratio   Float64,
			max_drawdown   Float64,
			created_at     DateTime DEFAULT now()
		) ENGINE = MergeTree ORDER BY (symbol, created_at)`, s.db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
			run_id         String,
			seq            UInt32,
			time           DateTime64(3, 'UTC'),
			action         String,
			trade_type     String,
			price          Decimal(18, 8),
			quantity       Decimal(18, 8),
			position_value Decimal(18, 8),
			margin         Decimal(18, 8),
			cash           Decimal(18, 8),
			pnl            Decimal(18, 8),
			pnl_percent    Float64,
			leverage       Float64,
			signal_score   Float64,
			base_score     Float64,
			trend_score    Float64,
			risk_score     Float64,
			drawdown_score Float64,
			position_size  Float64,
			reason         String
		) ENGINE = MergeTree ORDER BY (run_id, seq)`, s.db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.equity (
			run_id      String,
			seq         UInt32,
			time        DateTime64(3, 'UTC'),
			total_asset Decimal(18, 8)
		) ENGINE = MergeTree ORDER BY (run_id, seq)`, s.db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.features (
			symbol          String,
			timeframe       String,
			time            DateTime64(3, 'UTC'),
			open            Float64,
			high            Float64,
			low             Float64,
			close           Float64,
			volume          Float64,
			line_wma        Float64,
			open_ema        Float64,
			close_ema       Float64,
			rsi             Float64,
			adx             Float64,
			atr             Float64,
			macd            Float64,
			obv             Float64,
			bb_width        Float64,
			market_regime   Float64,
			base_score      Float64,
			atr_trend       Float64,
			volume_trend    Float64,
			ema_trend       Float64,
			adx_trend       Float64,
			rsi_trend       Float64,
			bb_trend        Float64,
			sharpe_short    Float64,
			sharpe_long     Float64,
			drawdown_short  Float64,
			drawdown_long   Float64,
			ingested_at     DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(ingested_at) ORDER BY (symbol, timeframe, time)`, s.db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ingest_ledger (
			file_sha256 String,
			path        String,
			symbol      String,
			timeframe   String,
			rows        UInt32,
			inserted_at DateTime DEFAULT now()
		) ENGINE = MergeTree ORDER BY inserted_at`, s.db),
	}
	for _, stmt := range stmts {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}

// SaveRun persists the run header plus its trade log and equity curve.
func (s *Store) SaveRun(ctx context.Context, res *engine.RunResult) error {
	runID := res.Manifest.RunID
	err := s.conn.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.runs (
			run_id, symbol, timeframe, config_hash, series_sha256, engine_version,
			start_time, end_time, bars, initial_cash, final_cash, return_ratio,
			total_trades, winning_trades, losing_trades, win_rate, avg_win,
			avg_loss, profit_ratio, max_drawdown
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.db),
		runID, res.Symbol, res.Timeframe, res.Manifest.ConfigHash, res.Manifest.DataChecksum,
		res.Manifest.EngineVersion, res.StartTime, res.EndTime, uint32(res.Bars),
		decimal.NewFromFloat(res.InitialCash), decimal.NewFromFloat(res.FinalCash),
		res.ReturnRatio, uint32(res.Summary.TotalTrades), uint32(res.Summary.WinningTrades),
		uint32(res.Summary.LosingTrades), res.Summary.WinRate, res.Summary.AvgWin,
		res.Summary.AvgLoss, res.Summary.ProfitRatio, res.Summary.MaxDrawdown)
	if err != nil {
		return fmt.Errorf("clickhouse save run %s: %w", runID, err)
	}
	if err := s.AppendTrades(ctx, runID, res.Trades); err != nil {
		return err
	}
	if err := s.AppendEquity(ctx, runID, res.Equity); err != nil {
		return err
	}
	s.log.Info("run persisted",
		zap.String("run_id", runID),
		zap.Int("trades", len(res.Trades)),
		zap.Int("equity_points", len(res.Equity)))
	return nil
}

// AppendTrades batch-inserts trade records in ledger order.
func (s *Store) AppendTrades(ctx context.Context, runID string, trades []engine.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.trades", s.db))
	if err != nil {
		return fmt.Errorf("clickhouse trades batch: %w", err)
	}
	for i := range trades {
		t := &trades[i]
		if err := batch.Append(
			runID, uint32(i), t.Time, t.Action, t.TradeType,
			decimal.NewFromFloat(t.Price), decimal.NewFromFloat(t.Quantity),
			decimal.NewFromFloat(t.PositionValue), decimal.NewFromFloat(t.Margin),
			decimal.NewFromFloat(t.Cash), decimal.NewFromFloat(t.Pnl),
			t.PnlPercent, t.Leverage, t.Score, t.BaseScore, t.TrendScore,
			t.RiskScore, t.DrawdownScore, t.Size, t.Reason,
		); err != nil {
			return fmt.Errorf("clickhouse trades append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse trades send: %w", err)
	}
	return nil
}

// AppendEquity batch-inserts the equity curve in bar order.
func (s *Store) AppendEquity(ctx context.Context, runID string, equity []engine.EquityPoint) error {
	if len(equity) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.equity", s.db))
	if err != nil {
		return fmt.Errorf("clickhouse equity batch: %w", err)
	}
	for i, p := range equity {
		if err := batch.Append(runID, uint32(i), p.Time, decimal.NewFromFloat(p.Value)); err != nil {
			return fmt.Errorf("clickhouse equity append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse equity send: %w", err)
	}
	return nil
}

// AppendFeatures batch-inserts validated feature rows. ReplacingMergeTree
// keyed on (symbol, timeframe, time) makes re-ingests converge.
func (s *Store) AppendFeatures(ctx context.Context, symbol, timeframe string, series market.Series) error {
	if len(series) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s.features (
		symbol, timeframe, time, open, high, low, close, volume,
		line_wma, open_ema, close_ema, rsi, adx, atr, macd, obv, bb_width,
		market_regime, base_score, atr_trend, volume_trend, ema_trend, adx_trend,
		rsi_trend, bb_trend, sharpe_short, sharpe_long, drawdown_short, drawdown_long
	)`, s.db))
	if err != nil {
		return fmt.Errorf("clickhouse features batch: %w", err)
	}
	for i := range series {
		r := &series[i]
		if err := batch.Append(
			symbol, timeframe, r.Time, r.Open, r.High, r.Low, r.Close, r.Volume,
			r.LineWMA, r.OpenEMA, r.CloseEMA, r.RSI, r.ADX, r.ATR, r.MACD, r.OBV, r.BBWidth,
			r.MarketRegime, r.BaseScore, r.ATRTrendScore, r.VolumeTrendScore, r.EMATrendScore,
			r.ADXTrendScore, r.RSITrendScore, r.BBTrendScore,
			r.SharpeShort, r.SharpeLong, r.DrawdownShort, r.DrawdownLong,
		); err != nil {
			return fmt.Errorf("clickhouse features append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse features send: %w", err)
	}
	return nil
}

// IngestRecorded reports whether a file hash is already in the ledger.
func (s *Store) IngestRecorded(ctx context.Context, fileSHA string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT count() FROM %s.ingest_ledger WHERE file_sha256 = ?", s.db), fileSHA)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("clickhouse ledger check: %w", err)
	}
	return count > 0, nil
}

// RecordIngest writes one ledger row after a successful feature load.
func (s *Store) RecordIngest(ctx context.Context, fileSHA, path, symbol, timeframe string, rows int) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.ingest_ledger (file_sha256, path, symbol, timeframe, rows) VALUES (?, ?, ?, ?, ?)`, s.db),
		fileSHA, path, symbol, timeframe, uint32(rows))
	if err != nil {
		return fmt.Errorf("clickhouse ledger record: %w", err)
	}
	return nil
}

// RunRow is one row of the runs table. Money stays decimal until the API
// boundary formats it.
type RunRow struct {
	RunID         string
	Symbol        string
	Timeframe     string
	ConfigHash    string
	SeriesSHA256  string
	EngineVersion string
	StartTime     time.Time
	EndTime       time.Time
	Bars          uint32
	InitialCash   decimal.Decimal
	FinalCash     decimal.Decimal
	ReturnRatio   float64
	TotalTrades   uint32
	WinningTrades uint32
	LosingTrades  uint32
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
	ProfitRatio   float64
	MaxDrawdown   float64
	CreatedAt     time.Time
}

// RunHistory bundles a run header with its trade log and equity curve.
type RunHistory struct {
	Run    RunRow
	Trades []engine.TradeRecord
	Equity []engine.EquityPoint
}

// Runs lists the most recent run headers, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT
			run_id, symbol, timeframe, config_hash, series_sha256, engine_version,
			start_time, end_time, bars, initial_cash, final_cash, return_ratio,
			total_trades, winning_trades, losing_trades, win_rate, avg_win,
			avg_loss, profit_ratio, max_drawdown, created_at
		FROM %s.runs ORDER BY created_at DESC LIMIT ?`, s.db), limit)
	if err != nil {
		return nil, fmt.Errorf("clickhouse runs query: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Symbol, &r.Timeframe, &r.ConfigHash,
			&r.SeriesSHA256, &r.EngineVersion, &r.StartTime, &r.EndTime, &r.Bars,
			&r.InitialCash, &r.FinalCash, &r.ReturnRatio, &r.TotalTrades,
			&r.WinningTrades, &r.LosingTrades, &r.WinRate, &r.AvgWin, &r.AvgLoss,
			&r.ProfitRatio, &r.MaxDrawdown, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("clickhouse runs scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse runs rows: %w", err)
	}
	return out, nil
}

// RunDetail loads one run with its full trade log and equity curve.
func (s *Store) RunDetail(ctx context.Context, runID string) (*RunHistory, error) {
	rows, err := s.Runs(ctx, 1000)
	if err != nil {
		return nil, err
	}
	var run *RunRow
	for i := range rows {
		if rows[i].RunID == runID {
			run = &rows[i]
			break
		}
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	trades, err := s.tradesFor(ctx, runID)
	if err != nil {
		return nil, err
	}
	equity, err := s.equityFor(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunHistory{Run: *run, Trades: trades, Equity: equity}, nil
}

func (s *Store) tradesFor(ctx context.Context, runID string) ([]engine.TradeRecord, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT
			time, action, trade_type, price, quantity, position_value, margin,
			cash, pnl, pnl_percent, leverage, signal_score, base_score,
			trend_score, risk_score, drawdown_score, position_size, reason
		FROM %s.trades WHERE run_id = ? ORDER BY seq`, s.db), runID)
	if err != nil {
		return nil, fmt.Errorf("clickhouse trades query: %w", err)
	}
	defer rows.Close()

	var out []engine.TradeRecord
	for rows.Next() {
		var t engine.TradeRecord
		var price, quantity, positionValue, margin, cash, pnl decimal.Decimal
		if err := rows.Scan(&t.Time, &t.Action, &t.TradeType, &price, &quantity,
			&positionValue, &margin, &cash, &pnl, &t.PnlPercent, &t.Leverage,
			&t.Score, &t.BaseScore, &t.TrendScore, &t.RiskScore, &t.DrawdownScore,
			&t.Size, &t.Reason); err != nil {
			return nil, fmt.Errorf("clickhouse trades scan: %w", err)
		}
		t.Price = price.InexactFloat64()
		t.Quantity = quantity.InexactFloat64()
		t.PositionValue = positionValue.InexactFloat64()
		t.Margin = margin.InexactFloat64()
		t.Cash = cash.InexactFloat64()
		t.Pnl = pnl.InexactFloat64()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse trades rows: %w", err)
	}
	return out, nil
}

func (s *Store) equityFor(ctx context.Context, runID string) ([]engine.EquityPoint, error) {
	rows, err := s.conn.Query(ctx,
		fmt.Sprintf("SELECT time, total_asset FROM %s.equity WHERE run_id = ? ORDER BY seq", s.db), runID)
	if err != nil {
		return nil, fmt.Errorf("clickhouse equity query: %w", err)
	}
	defer rows.Close()

	var out []engine.EquityPoint
	for rows.Next() {
		var p engine.EquityPoint
		var value decimal.Decimal
		if err := rows.Scan(&p.Time, &value); err != nil {
			return nil, fmt.Errorf("clickhouse equity scan: %w", err)
		}
		p.Value = value.InexactFloat64()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse equity rows: %w", err)
	}
	return out, nil
}

// Features loads one symbol/timeframe slice back as a Series, oldest first.
// A positive limit keeps the most recent rows.
func (s *Store) Features(ctx context.Context, symbol, timeframe string, limit int) (market.Series, error) {
	order := "ORDER BY time"
	if limit > 0 {
		order = "ORDER BY time DESC"
	}
	query := fmt.Sprintf(`SELECT time, open, high, low, close, volume,
			line_wma, open_ema, close_ema, rsi, adx, atr, macd, obv, bb_width,
			market_regime, base_score, atr_trend, volume_trend, ema_trend, adx_trend,
			rsi_trend, bb_trend, sharpe_short, sharpe_long, drawdown_short, drawdown_long
		FROM %s.features FINAL
		WHERE symbol = ? AND timeframe = ?
		%s`, s.db, order)
	args := []any{symbol, timeframe}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse features query: %w", err)
	}
	defer rows.Close()

	var series market.Series
	for rows.Next() {
		var r market.FeatureRow
		if err := rows.Scan(&r.Time, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume,
			&r.LineWMA, &r.OpenEMA, &r.CloseEMA, &r.RSI, &r.ADX, &r.ATR, &r.MACD, &r.OBV, &r.BBWidth,
			&r.MarketRegime, &r.BaseScore, &r.ATRTrendScore, &r.VolumeTrendScore, &r.EMATrendScore,
			&r.ADXTrendScore, &r.RSITrendScore, &r.BBTrendScore,
			&r.SharpeShort, &r.SharpeLong, &r.DrawdownShort, &r.DrawdownLong); err != nil {
			return nil, fmt.Errorf("clickhouse features scan: %w", err)
		}
		series = append(series, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse features rows: %w", err)
	}
	if limit > 0 {
		for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
			series[i], series[j] = series[j], series[i]
		}
	}
	return series, nil
}
