// Package main serves the simulation API: submit runs, fetch results and
// history, and stream per-job progress over WebSocket. A gRPC health and
// reflection server runs beside the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/JINJINJINFAN/Quantify/services/api"
	"github.com/JINJINJINFAN/Quantify/services/arrowio"
	"github.com/JINJINJINFAN/Quantify/services/clickhouse"
	"github.com/JINJINJINFAN/Quantify/services/config"
	"github.com/JINJINJINFAN/Quantify/services/engine"
	"github.com/JINJINJINFAN/Quantify/services/market"
	"github.com/JINJINJINFAN/Quantify/services/monitoring"
)

// wsMessage is one frame of the job progress stream.
type wsMessage struct {
	Type   string          `json:"type"` // "status", "event", "completed", "failed"
	Status string          `json:"status,omitempty"`
	Event  *engine.Event   `json:"event,omitempty"`
	Result *api.RunSummary `json:"result,omitempty"`
	Error  *api.APIError   `json:"error,omitempty"`
}

// job tracks one queued simulation through its lifecycle. All fields are
// guarded by the jobStore mutex.
type job struct {
	id          string
	request     api.BacktestRequest
	status      string
	submittedAt time.Time
	finishedAt  time.Time
	result      *engine.RunResult
	apiErr      *api.APIError

	history  []wsMessage
	watchers map[chan wsMessage]struct{}
	done     bool
}

// jobStore is the in-memory job registry and progress fan-out hub.
type jobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*job
	order []string
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*job)}
}

func (st *jobStore) add(req api.BacktestRequest) *job {
	j := &job{
		id:          uuid.New().String(),
		request:     req,
		status:      api.JobQueued,
		submittedAt: time.Now(),
		watchers:    make(map[chan wsMessage]struct{}),
	}
	st.mu.Lock()
	st.jobs[j.id] = j
	st.order = append(st.order, j.id)
	st.mu.Unlock()
	return j
}

func (st *jobStore) broadcastLocked(j *job, msg wsMessage) {
	j.history = append(j.history, msg)
	for ch := range j.watchers {
		select {
		case ch <- msg:
		default: // slow consumers drop frames rather than stall the run
		}
	}
}

func (st *jobStore) finishLocked(j *job) {
	j.done = true
	for ch := range j.watchers {
		close(ch)
	}
	j.watchers = make(map[chan wsMessage]struct{})
}

func (st *jobStore) markRunning(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if j, ok := st.jobs[id]; ok {
		j.status = api.JobRunning
		st.broadcastLocked(j, wsMessage{Type: "status", Status: api.JobRunning})
	}
}

func (st *jobStore) event(id string, ev engine.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if j, ok := st.jobs[id]; ok && !j.done {
		st.broadcastLocked(j, wsMessage{Type: "event", Event: &ev})
	}
}

func (st *jobStore) complete(id string, res *engine.RunResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	j, ok := st.jobs[id]
	if !ok {
		return
	}
	j.status = api.JobCompleted
	j.finishedAt = time.Now()
	j.result = res
	sum := api.NewRunSummary(res)
	st.broadcastLocked(j, wsMessage{Type: "completed", Status: api.JobCompleted, Result: &sum})
	st.finishLocked(j)
}

func (st *jobStore) fail(id string, apiErr *api.APIError) {
	st.mu.Lock()
	defer st.mu.Unlock()
	j, ok := st.jobs[id]
	if !ok {
		return
	}
	j.status = api.JobFailed
	j.finishedAt = time.Now()
	j.apiErr = apiErr
	st.broadcastLocked(j, wsMessage{Type: "failed", Status: api.JobFailed, Error: apiErr})
	st.finishLocked(j)
}

func (st *jobStore) status(id string) (api.JobStatusResponse, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	j, ok := st.jobs[id]
	if !ok {
		return api.JobStatusResponse{}, false
	}
	resp := api.JobStatusResponse{
		JobID:       j.id,
		Status:      j.status,
		SubmittedAt: j.submittedAt.UnixMilli(),
		Error:       j.apiErr,
	}
	if !j.finishedAt.IsZero() {
		resp.FinishedAt = j.finishedAt.UnixMilli()
	}
	if j.result != nil {
		sum := api.NewRunSummary(j.result)
		resp.Result = &sum
	}
	return resp, true
}

func (st *jobStore) result(id string) (*engine.RunResult, api.BacktestRequest, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	j, ok := st.jobs[id]
	if !ok {
		return nil, api.BacktestRequest{}, false
	}
	return j.result, j.request, true
}

func (st *jobStore) completedResults(limit int) []*engine.RunResult {
	if limit <= 0 {
		limit = 50
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*engine.RunResult
	for i := len(st.order) - 1; i >= 0 && len(out) < limit; i-- {
		if j := st.jobs[st.order[i]]; j != nil && j.result != nil {
			out = append(out, j.result)
		}
	}
	return out
}

// subscribe registers a progress watcher. For a finished job the channel is
// nil and the history already carries the terminal frame.
func (st *jobStore) subscribe(id string) ([]wsMessage, chan wsMessage, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	j, ok := st.jobs[id]
	if !ok {
		return nil, nil, false
	}
	history := make([]wsMessage, len(j.history))
	copy(history, j.history)
	if j.done {
		return history, nil, true
	}
	ch := make(chan wsMessage, 256)
	j.watchers[ch] = struct{}{}
	return history, ch, true
}

func (st *jobStore) unsubscribe(id string, ch chan wsMessage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if j, ok := st.jobs[id]; ok {
		delete(j.watchers, ch)
	}
}

// server wires the engine, storage, and metrics behind the HTTP API.
type server struct {
	cfg      config.Config
	log      *zap.Logger
	store    *clickhouse.Store // nil when history is in-memory only
	metrics  *monitoring.Metrics
	arrow    *arrowio.Exporter
	jobs     *jobStore
	queue    chan *job
	started  time.Time
	upgrader websocket.Upgrader
}

func newServer(cfg config.Config, store *clickhouse.Store, logger *zap.Logger) *server {
	return &server{
		cfg:     cfg,
		log:     logger,
		store:   store,
		metrics: monitoring.New(),
		arrow:   arrowio.NewExporter(logger),
		jobs:    newJobStore(),
		queue:   make(chan *job, 64),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// runConfig applies per-request symbol/timeframe overrides to the base
// configuration.
func (s *server) runConfig(req api.BacktestRequest) config.Config {
	cfg := s.cfg
	if req.Symbol != "" {
		cfg.Symbol = req.Symbol
	}
	if req.Timeframe != "" {
		cfg.Timeframe = req.Timeframe
	}
	return cfg
}

func (s *server) loadSeries(ctx context.Context, req api.BacktestRequest) (market.Series, error) {
	switch req.Source {
	case "", "csv":
		series, err := market.LoadCSV(req.DataPath, s.log)
		if err != nil {
			return nil, err
		}
		if req.Limit > 0 && series.Len() > req.Limit {
			series = series[series.Len()-req.Limit:]
		}
		return series, nil
	case "clickhouse":
		if s.store == nil {
			return nil, errors.New("run storage is not configured")
		}
		cfg := s.runConfig(req)
		return s.store.Features(ctx, cfg.Symbol, cfg.Timeframe, req.Limit)
	default:
		return nil, fmt.Errorf("unknown source %q", req.Source)
	}
}

// worker consumes queued jobs until the context ends.
func (s *server) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.log.Debug("worker picked job",
				zap.Int("worker_id", id),
				zap.String("job_id", j.id))
			s.execute(ctx, j)
		}
	}
}

func (s *server) execute(ctx context.Context, j *job) {
	s.jobs.markRunning(j.id)
	started := time.Now()

	series, err := s.loadSeries(ctx, j.request)
	if err != nil {
		s.log.Warn("job data load failed", zap.String("job_id", j.id), zap.Error(err))
		s.jobs.fail(j.id, api.ErrDataNotFound.WithDetails(err.Error()))
		s.metrics.ObserveRun(j.id, 0, time.Since(started), true)
		return
	}

	cfg := s.runConfig(j.request)
	eng := engine.NewDecisionEngine(cfg, s.log)
	bt := engine.NewBacktester(cfg, eng, s.log)
	bt.Events().Sink = func(ev engine.Event) { s.jobs.event(j.id, ev) }

	res, err := bt.Run(ctx, engine.RunRequest{
		RunID:     j.id,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Series:    series,
	})
	if err != nil {
		s.log.Error("job run failed", zap.String("job_id", j.id), zap.Error(err))
		s.jobs.fail(j.id, api.ErrExecutionFailed.WithDetails(err.Error()))
		s.metrics.ObserveRun(j.id, series.Len(), time.Since(started), true)
		return
	}
	s.metrics.ObserveRun(j.id, res.Bars, time.Since(started), false)

	if s.store != nil {
		if err := s.store.SaveRun(ctx, res); err != nil {
			s.log.Warn("run persist failed", zap.String("job_id", j.id), zap.Error(err))
		}
	}
	s.jobs.complete(j.id, res)
	s.log.Info("job completed",
		zap.String("job_id", j.id),
		zap.Int("bars", res.Bars),
		zap.Int("trades", res.Summary.TotalTrades),
		zap.Duration("elapsed", time.Since(started)))
}

func (s *server) routes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/backtest", s.handleSubmit)
		v1.GET("/backtest/:job_id", s.handleJobStatus)
		v1.GET("/backtest/:job_id/replay", s.handleReplay)
		v1.GET("/runs", s.handleRuns)
		v1.GET("/runs/:id", s.handleRunDetail)
		v1.GET("/runs/:id/equity.arrow", s.handleRunEquityArrow)
		v1.GET("/health", s.handleHealth)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/ws/jobs/:job_id", s.handleJobStream)
	}
}

func (s *server) handleSubmit(c *gin.Context) {
	var req api.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.BacktestSubmitResponse{
			Error: api.ErrInvalidParams.WithDetails(err.Error())})
		return
	}
	switch req.Source {
	case "", "csv":
		if req.DataPath == "" {
			c.JSON(http.StatusBadRequest, api.BacktestSubmitResponse{
				Error: api.ErrInvalidParams.WithDetails("data_path is required for source csv")})
			return
		}
	case "clickhouse":
		if s.store == nil {
			c.JSON(http.StatusServiceUnavailable, api.BacktestSubmitResponse{
				Error: &api.ErrStoreUnavailable})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, api.BacktestSubmitResponse{
			Error: api.ErrInvalidParams.WithDetails("source must be csv or clickhouse")})
		return
	}

	j := s.jobs.add(req)
	select {
	case s.queue <- j:
		s.log.Info("job queued",
			zap.String("job_id", j.id),
			zap.String("source", req.Source))
		c.JSON(http.StatusAccepted, api.BacktestSubmitResponse{JobID: j.id, Status: api.JobQueued})
	default:
		full := api.ErrExecutionFailed.WithDetails("job queue is full")
		s.jobs.fail(j.id, full)
		c.JSON(http.StatusServiceUnavailable, api.BacktestSubmitResponse{JobID: j.id, Error: full})
	}
}

func (s *server) handleJobStatus(c *gin.Context) {
	resp, ok := s.jobs.status(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, api.JobStatusResponse{Error: &api.ErrJobNotFound})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleReplay re-runs a completed job's series and returns per-bar decision
// traces for the requested index range.
func (s *server) handleReplay(c *gin.Context) {
	id := c.Param("job_id")
	res, req, ok := s.jobs.result(id)
	if !ok {
		c.JSON(http.StatusNotFound, api.ReplayResponse{Error: &api.ErrJobNotFound})
		return
	}
	if res == nil {
		c.JSON(http.StatusConflict, api.ReplayResponse{
			Error: api.ErrExecutionFailed.WithDetails("job has not completed")})
		return
	}
	series, err := s.loadSeries(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusNotFound, api.ReplayResponse{
			Error: api.ErrDataNotFound.WithDetails(err.Error())})
		return
	}
	from, _ := strconv.Atoi(c.DefaultQuery("from", "0"))
	to, _ := strconv.Atoi(c.DefaultQuery("to", strconv.Itoa(series.Len()-1)))
	traces, err := engine.ReplayDecisions(c.Request.Context(), s.runConfig(req), series, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ReplayResponse{
			Error: api.ErrExecutionFailed.WithDetails(err.Error())})
		return
	}
	c.JSON(http.StatusOK, api.ReplayResponse{Signals: api.NewSignalViews(traces)})
}

func (s *server) handleRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if s.store != nil {
		rows, err := s.store.Runs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, api.RunListResponse{
				Error: api.ErrExecutionFailed.WithDetails(err.Error())})
			return
		}
		runs := make([]api.RunSummary, 0, len(rows))
		for _, r := range rows {
			runs = append(runs, api.RunSummaryFromRow(r))
		}
		c.JSON(http.StatusOK, api.RunListResponse{Runs: runs})
		return
	}
	results := s.jobs.completedResults(limit)
	runs := make([]api.RunSummary, 0, len(results))
	for _, res := range results {
		runs = append(runs, api.NewRunSummary(res))
	}
	c.JSON(http.StatusOK, api.RunListResponse{Runs: runs})
}

func (s *server) handleRunDetail(c *gin.Context) {
	id := c.Param("id")
	if s.store != nil {
		rh, err := s.store.RunDetail(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, api.RunDetailResponse{
				Run:    api.RunSummaryFromRow(rh.Run),
				Trades: api.NewTradeViews(rh.Trades),
				Equity: api.NewEquityViews(rh.Equity),
			})
			return
		case !errors.Is(err, clickhouse.ErrRunNotFound):
			c.JSON(http.StatusInternalServerError, api.RunDetailResponse{
				Error: api.ErrExecutionFailed.WithDetails(err.Error())})
			return
		}
		// not persisted yet; fall through to the in-memory jobs
	}
	res, _, ok := s.jobs.result(id)
	if !ok || res == nil {
		c.JSON(http.StatusNotFound, api.RunDetailResponse{Error: &api.ErrRunNotFound})
		return
	}
	c.JSON(http.StatusOK, api.RunDetailResponse{
		Run:    api.NewRunSummary(res),
		Trades: api.NewTradeViews(res.Trades),
		Equity: api.NewEquityViews(res.Equity),
	})
}

func (s *server) handleRunEquityArrow(c *gin.Context) {
	id := c.Param("id")
	symbol, equity, found, err := s.equityFor(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": api.ErrExecutionFailed.WithDetails(err.Error())})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": api.ErrRunNotFound})
		return
	}
	payload, err := s.arrow.EquityIPC(symbol, id, equity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": api.ErrExecutionFailed.WithDetails(err.Error())})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", payload)
}

func (s *server) equityFor(ctx context.Context, id string) (string, []engine.EquityPoint, bool, error) {
	if s.store != nil {
		rh, err := s.store.RunDetail(ctx, id)
		if err == nil {
			return rh.Run.Symbol, rh.Equity, true, nil
		}
		if !errors.Is(err, clickhouse.ErrRunNotFound) {
			return "", nil, false, err
		}
	}
	if res, _, ok := s.jobs.result(id); ok && res != nil {
		return res.Symbol, res.Equity, true, nil
	}
	return "", nil, false, nil
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:     "healthy",
		Version:    engine.EngineVersion,
		ClickHouse: s.store != nil,
		UptimeSec:  int64(time.Since(s.started).Seconds()),
	})
}

func (s *server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// handleJobStream upgrades to WebSocket and replays the job's progress
// history before following the live frames until the job finishes.
func (s *server) handleJobStream(c *gin.Context) {
	id := c.Param("job_id")
	history, ch, ok := s.jobs.subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": api.ErrJobNotFound})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if ch != nil {
			s.jobs.unsubscribe(id, ch)
		}
		return
	}
	defer conn.Close()

	for _, msg := range history {
		if err := conn.WriteJSON(msg); err != nil {
			if ch != nil {
				s.jobs.unsubscribe(id, ch)
			}
			return
		}
	}
	if ch == nil {
		return
	}
	defer s.jobs.unsubscribe(id, ch)
	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Path to a JSON config overlay")
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
	cfg.Validate(logger)

	var store *clickhouse.Store
	if cfg.ClickHouse.Enable {
		store, err = clickhouse.Open(clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		}, logger)
		if err != nil {
			logger.Warn("clickhouse unavailable, run history is in-memory only", zap.Error(err))
			store = nil
		} else if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Warn("clickhouse schema setup failed, run history is in-memory only", zap.Error(err))
			store.Close()
			store = nil
		}
	} else {
		logger.Warn("clickhouse disabled, run history is in-memory only")
	}
	if store != nil {
		defer store.Close()
	}

	srv := newServer(cfg, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers := runtime.NumCPU()
	if cfg.Server.MaxWorkers > 0 {
		workers = cfg.Server.MaxWorkers
	}
	for i := 0; i < workers; i++ {
		go srv.worker(ctx, i)
	}
	logger.Info("run workers started", zap.Int("workers", workers))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.routes(router)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		logger.Info("grpc server listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthSrv.Shutdown()
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("servers stopped")
}
