package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// Audit check statuses.
const (
	CheckPass = "PASS"
	CheckWarn = "WARN"
	CheckFail = "FAIL"
)

// CheckResult is one data-quality finding.
type CheckResult struct {
	Name    string
	Status  string
	Message string
}

// Audit runs the data-quality checks over the schema: referential integrity
// between runs and their trade/equity rows, run header sanity, OHLC
// consistency and duplicate keys in the stored features, and ingest
// freshness. Query errors surface as FAIL results, never as panics.
func (s *Store) Audit(ctx context.Context, maxAge time.Duration) []CheckResult {
	results := []CheckResult{
		s.countCheck(ctx, "orphan_trades", CheckFail, "orphan trade rows",
			fmt.Sprintf(`SELECT count() FROM %s.trades WHERE run_id NOT IN (SELECT run_id FROM %s.runs)`, s.db, s.db)),
		s.countCheck(ctx, "orphan_equity", CheckFail, "orphan equity rows",
			fmt.Sprintf(`SELECT count() FROM %s.equity WHERE run_id NOT IN (SELECT run_id FROM %s.runs)`, s.db, s.db)),
		s.countCheck(ctx, "run_integrity", CheckFail, "inconsistent run headers",
			fmt.Sprintf(`SELECT count() FROM %s.runs
				WHERE bars = 0 OR winning_trades + losing_trades != total_trades OR final_cash < 0`, s.db)),
		s.countCheck(ctx, "feature_ohlc", CheckFail, "OHLC violations",
			fmt.Sprintf(`SELECT count() FROM %s.features
				WHERE high < low OR high < open OR high < close OR low > open OR low > close OR close <= 0`, s.db)),
		s.countCheck(ctx, "feature_duplicates", CheckWarn, "duplicate feature keys",
			fmt.Sprintf(`SELECT count() FROM (
				SELECT 1 FROM %s.features GROUP BY symbol, timeframe, time HAVING count() > 1)`, s.db)),
		s.checkIngestFreshness(ctx, maxAge),
	}
	return results
}

// countCheck evaluates a zero-is-healthy count query. A nonzero count
// reports badStatus; query failures always report FAIL.
func (s *Store) countCheck(ctx context.Context, name, badStatus, noun, query string) CheckResult {
	var n uint64
	if err := s.conn.QueryRow(ctx, query).Scan(&n); err != nil {
		return CheckResult{Name: name, Status: CheckFail, Message: fmt.Sprintf("query failed: %v", err)}
	}
	if n == 0 {
		return CheckResult{Name: name, Status: CheckPass, Message: "no " + noun}
	}
	return CheckResult{Name: name, Status: badStatus, Message: fmt.Sprintf("found %d %s", n, noun)}
}

func (s *Store) checkIngestFreshness(ctx context.Context, maxAge time.Duration) CheckResult {
	const name = "ingest_freshness"
	var (
		rows uint64
		last time.Time
	)
	err := s.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(), max(inserted_at) FROM %s.ingest_ledger`, s.db)).Scan(&rows, &last)
	if err != nil {
		return CheckResult{Name: name, Status: CheckFail, Message: fmt.Sprintf("query failed: %v", err)}
	}
	if rows == 0 {
		return CheckResult{Name: name, Status: CheckWarn, Message: "ingest ledger is empty"}
	}
	age := time.Since(last).Round(time.Minute)
	if age > maxAge {
		return CheckResult{Name: name, Status: CheckWarn,
			Message: fmt.Sprintf("last ingest %s ago (threshold %s)", age, maxAge)}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("last ingest %s ago", age)}
}
