// Package api defines the wire DTOs shared by the HTTP server and the CLIs.
// Money travels as decimal strings; derived ratios stay numeric.
package api

// APIError is the error taxonomy surfaced to API consumers.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var (
	ErrInvalidParams    = APIError{Code: "INVALID_PARAMS", Message: "invalid parameters provided"}
	ErrDataNotFound     = APIError{Code: "DATA_NOT_FOUND", Message: "required data not available"}
	ErrJobNotFound      = APIError{Code: "JOB_NOT_FOUND", Message: "no such job"}
	ErrRunNotFound      = APIError{Code: "RUN_NOT_FOUND", Message: "no such run"}
	ErrExecutionFailed  = APIError{Code: "EXECUTION_FAILED", Message: "simulation run failed"}
	ErrStoreUnavailable = APIError{Code: "STORE_UNAVAILABLE", Message: "run storage is not configured"}
)

// WithDetails returns a copy carrying caller context.
func (e APIError) WithDetails(details string) *APIError {
	e.Details = details
	return &e
}

// Job lifecycle states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// BacktestRequest submits one simulation over a server-readable feature
// source. Source "csv" reads DataPath; "clickhouse" loads the stored
// features for Symbol/Timeframe.
type BacktestRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Source    string `json:"source"`
	DataPath  string `json:"data_path,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type BacktestSubmitResponse struct {
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	Error  *APIError `json:"error,omitempty"`
}

type JobStatusResponse struct {
	JobID       string      `json:"job_id"`
	Status      string      `json:"status"`
	SubmittedAt int64       `json:"submitted_at"`
	FinishedAt  int64       `json:"finished_at,omitempty"`
	Result      *RunSummary `json:"result,omitempty"`
	Error       *APIError   `json:"error,omitempty"`
}

// RunSummary is the headline view of one finished run.
type RunSummary struct {
	RunID          string  `json:"run_id"`
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	StartTime      int64   `json:"start_time"`
	EndTime        int64   `json:"end_time"`
	Bars           int     `json:"bars"`
	InitialCapital string  `json:"initial_capital"`
	FinalCapital   string  `json:"final_capital"`
	ReturnRatio    float64 `json:"return_ratio"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgWin         string  `json:"avg_win"`
	AvgLoss        string  `json:"avg_loss"`
	ProfitRatio    float64 `json:"profit_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	ConfigHash     string  `json:"config_hash"`
	DataChecksum   string  `json:"data_checksum"`
	EngineVersion  string  `json:"engine_version"`
}

// TradeView is one trade-log row with decimal-string money columns.
type TradeView struct {
	Timestamp     int64   `json:"timestamp"`
	Action        string  `json:"action"`
	TradeType     string  `json:"trade_type"`
	Price         string  `json:"price"`
	Quantity      string  `json:"quantity"`
	PositionValue string  `json:"position_value"`
	Margin        string  `json:"margin"`
	Cash          string  `json:"cash"`
	Pnl           string  `json:"pnl"`
	PnlPercent    float64 `json:"pnl_percent"`
	Leverage      float64 `json:"leverage"`
	Score         float64 `json:"signal_score"`
	Size          float64 `json:"position_size"`
	Reason        string  `json:"reason"`
}

// EquityView is one equity-curve point.
type EquityView struct {
	Timestamp  int64  `json:"timestamp"`
	TotalAsset string `json:"total_asset"`
}

type RunDetailResponse struct {
	Run    RunSummary   `json:"run"`
	Trades []TradeView  `json:"trades"`
	Equity []EquityView `json:"equity"`
	Error  *APIError    `json:"error,omitempty"`
}

type RunListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Error *APIError    `json:"error,omitempty"`
}

// SignalView explains one bar's decision: scores, filter trace, and the
// position after the bar.
type SignalView struct {
	Timestamp     int64             `json:"timestamp"`
	Direction     string            `json:"direction"`
	RawDirection  string            `json:"raw_direction"`
	Score         float64           `json:"signal_score"`
	BaseScore     float64           `json:"base_score"`
	TrendScore    float64           `json:"trend_score"`
	RiskScore     float64           `json:"risk_score"`
	DrawdownScore float64           `json:"drawdown_score"`
	Reason        string            `json:"reason"`
	FilterReason  string            `json:"filter_reason,omitempty"`
	Filters       []FilterStageView `json:"filters,omitempty"`
	Position      string            `json:"position"`
	SizeFraction  float64           `json:"size_fraction"`
}

type FilterStageView struct {
	Stage  string `json:"stage"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

type ReplayResponse struct {
	Signals []SignalView `json:"signals"`
	Error   *APIError    `json:"error,omitempty"`
}

// HealthResponse reports component availability.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ClickHouse bool   `json:"clickhouse"`
	UptimeSec  int64  `json:"uptime_sec"`
}
