// Package jobs runs backtests and parameter sweeps as persisted
// asynchronous jobs: submit returns an id, progress and artifacts land in
// storage.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/backtest"
	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/optimize"
	"github.com/karthikreddy9595/AlgoTrading-sub000/storage"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

const (
	// progressStep is the minimum percent delta between persisted progress rows.
	progressStep = 5

	// minInitialCapital keeps percent-based risk limits meaningful; below
	// this, single-share lots already breach the sizing caps.
	minInitialCapital = 10_000

	// Sweep budget bounds: enough samples to cover the grid corners, few
	// enough to finish within an interactive wait.
	minSweepSamples = 50
	maxSweepSamples = 200
)

// Service executes jobs against one history source and one database.
type Service struct {
	db     *storage.Database
	broker broker.Broker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService builds the job runner. The broker supplies historical candles.
func NewService(db *storage.Database, b broker.Broker) *Service {
	return &Service{
		db:      db,
		broker:  b,
		cancels: make(map[string]context.CancelFunc),
	}
}

// BacktestRequest is one backtest submission.
type BacktestRequest struct {
	UserID         string
	StrategyID     string
	Symbol         string
	Exchange       string
	Interval       types.Interval
	From           time.Time
	To             time.Time
	InitialCapital decimal.Decimal
	SlippagePct    decimal.Decimal
	Params         map[string]float64
}

// OptimizationRequest extends a backtest with the sweep definition.
type OptimizationRequest struct {
	BacktestRequest
	Ranges     map[string]optimize.Range
	NumSamples int
	Objective  string
	Seed       int64
}

func (r BacktestRequest) validate() error {
	if !r.Interval.Valid() {
		return fmt.Errorf("unsupported interval %q", r.Interval)
	}
	if r.Symbol == "" || r.StrategyID == "" {
		return fmt.Errorf("symbol and strategy_id are required")
	}
	if !r.To.After(r.From) {
		return fmt.Errorf("empty date range")
	}
	if r.InitialCapital.LessThan(decimal.NewFromInt(minInitialCapital)) {
		return fmt.Errorf("initial capital must be at least %d", minInitialCapital)
	}
	return nil
}

// SubmitBacktest persists a pending job and starts it in the background.
func (s *Service) SubmitBacktest(req BacktestRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	cfgJSON, _ := json.Marshal(req.Params)
	jobID := uuid.NewString()
	if err := s.db.CreateBacktestJob(&storage.BacktestJob{
		ID:             jobID,
		UserID:         req.UserID,
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Interval:       string(req.Interval),
		StartDate:      req.From,
		EndDate:        req.To,
		InitialCapital: req.InitialCapital,
		Config:         string(cfgJSON),
	}); err != nil {
		return "", err
	}

	s.launch(jobID, func(ctx context.Context) {
		s.runBacktest(ctx, jobID, req)
	})
	return jobID, nil
}

// SubmitOptimization persists a pending sweep and starts it in the background.
func (s *Service) SubmitOptimization(req OptimizationRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if len(req.Ranges) == 0 {
		return "", fmt.Errorf("no parameter ranges to sweep")
	}
	if req.NumSamples < minSweepSamples || req.NumSamples > maxSweepSamples {
		return "", fmt.Errorf("num_samples must be between %d and %d", minSweepSamples, maxSweepSamples)
	}
	for name, r := range req.Ranges {
		if err := r.Validate(name); err != nil {
			return "", err
		}
	}

	rangesJSON, _ := json.Marshal(req.Ranges)
	jobID := uuid.NewString()
	if err := s.db.CreateOptimizationJob(&storage.OptimizationJob{
		ID:             jobID,
		UserID:         req.UserID,
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Interval:       string(req.Interval),
		StartDate:      req.From,
		EndDate:        req.To,
		InitialCapital: req.InitialCapital,
		NumSamples:     req.NumSamples,
		ParamRanges:    string(rangesJSON),
		Objective:      req.Objective,
	}); err != nil {
		return "", err
	}

	s.launch(jobID, func(ctx context.Context) {
		s.runOptimization(ctx, jobID, req)
	})
	return jobID, nil
}

// Cancel stops a running job. Finished or unknown ids return false.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every in-flight job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) launch(jobID string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, jobID)
			s.mu.Unlock()
			cancel()
		}()
		run(ctx)
	}()
}

func (s *Service) runBacktest(ctx context.Context, jobID string, req BacktestRequest) {
	_ = s.db.UpdateBacktestStatus(jobID, storage.JobRunning, "")

	candles, err := s.broker.GetHistoricalData(ctx, req.Symbol, req.Exchange, req.Interval, req.From, req.To)
	if err != nil {
		s.finishBacktest(jobID, err)
		return
	}

	lastPct := 0
	cfg := backtest.Config{
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Interval:       req.Interval,
		InitialCapital: req.InitialCapital,
		Params:         req.Params,
		SlippagePct:    req.SlippagePct,
		Progress: func(done, total int) {
			pct := done * 100 / total
			if pct >= lastPct+progressStep || pct == 100 {
				lastPct = pct
				_ = s.db.UpdateBacktestProgress(jobID, pct)
			}
		},
	}

	res, err := backtest.Run(ctx, cfg, candles)
	if err != nil {
		s.finishBacktest(jobID, err)
		return
	}

	if err := s.db.SaveBacktestArtifacts(resultRow(jobID, res.Metrics), tradeRows(jobID, res.Trades), equityRows(jobID, res.Equity)); err != nil {
		s.finishBacktest(jobID, err)
		return
	}
	s.finishBacktest(jobID, nil)
}

func (s *Service) finishBacktest(jobID string, err error) {
	switch {
	case err == nil:
		_ = s.db.UpdateBacktestStatus(jobID, storage.JobCompleted, "")
		log.Info().Str("job", jobID).Msg("Backtest complete")
	case errors.Is(err, context.Canceled):
		_ = s.db.UpdateBacktestStatus(jobID, storage.JobCancelled, "")
		log.Info().Str("job", jobID).Msg("Backtest cancelled")
	default:
		_ = s.db.UpdateBacktestStatus(jobID, storage.JobFailed, err.Error())
		log.Error().Err(err).Str("job", jobID).Msg("Backtest failed")
	}
}

func (s *Service) runOptimization(ctx context.Context, jobID string, req OptimizationRequest) {
	_ = s.db.UpdateOptimizationStatus(jobID, storage.JobRunning, "")

	candles, err := s.broker.GetHistoricalData(ctx, req.Symbol, req.Exchange, req.Interval, req.From, req.To)
	if err != nil {
		s.finishOptimization(jobID, err)
		return
	}

	cfg := optimize.Config{
		Backtest: backtest.Config{
			StrategyID:     req.StrategyID,
			Symbol:         req.Symbol,
			Exchange:       req.Exchange,
			Interval:       req.Interval,
			InitialCapital: req.InitialCapital,
			Params:         req.Params,
			SlippagePct:    req.SlippagePct,
		},
		Ranges:     req.Ranges,
		NumSamples: req.NumSamples,
		Objective:  req.Objective,
		Seed:       req.Seed,
		Progress: func(done, total int) {
			_ = s.db.UpdateOptimizationProgress(jobID, done)
		},
	}

	res, err := optimize.Run(ctx, cfg, candles)
	if err != nil {
		s.finishOptimization(jobID, err)
		return
	}

	if err := s.db.SaveOptimizationSamples(sampleRows(jobID, res.Samples)); err != nil {
		s.finishOptimization(jobID, err)
		return
	}
	s.finishOptimization(jobID, nil)
}

func (s *Service) finishOptimization(jobID string, err error) {
	switch {
	case err == nil:
		_ = s.db.UpdateOptimizationStatus(jobID, storage.JobCompleted, "")
		log.Info().Str("job", jobID).Msg("Optimization complete")
	case errors.Is(err, context.Canceled):
		_ = s.db.UpdateOptimizationStatus(jobID, storage.JobCancelled, "")
	default:
		_ = s.db.UpdateOptimizationStatus(jobID, storage.JobFailed, err.Error())
		log.Error().Err(err).Str("job", jobID).Msg("Optimization failed")
	}
}

// ─── Row mapping ───────────────────────────────────────────────────────────────

func resultRow(jobID string, m backtest.Metrics) *storage.BacktestResult {
	return &storage.BacktestResult{
		JobID:            jobID,
		FinalEquity:      m.FinalEquity,
		TotalReturn:      m.TotalReturn,
		TotalReturnPct:   m.TotalReturnPct,
		CAGR:             m.CAGR,
		SharpeRatio:      m.SharpeRatio,
		SortinoRatio:     m.SortinoRatio,
		MaxDrawdownPct:   m.MaxDrawdownPct,
		MeanDrawdownPct:  m.MeanDrawdownPct,
		CalmarRatio:      m.CalmarRatio,
		WinRatePct:       m.WinRatePct,
		ProfitFactor:     m.ProfitFactor,
		TotalTrades:      m.TotalTrades,
		WinningTrades:    m.WinningTrades,
		LosingTrades:     m.LosingTrades,
		AvgTradeDuration: m.AvgTradeDuration,
	}
}

func tradeRows(jobID string, trades []backtest.Trade) []storage.BacktestTrade {
	out := make([]storage.BacktestTrade, 0, len(trades))
	for _, t := range trades {
		out = append(out, storage.BacktestTrade{
			JobID:      jobID,
			Symbol:     t.Symbol,
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			PnL:        t.PnL,
			PnLPct:     t.PnLPct,
			IsOpen:     t.IsOpen,
		})
	}
	return out
}

func equityRows(jobID string, equity []backtest.EquityPoint) []storage.EquityPoint {
	out := make([]storage.EquityPoint, 0, len(equity))
	for _, p := range equity {
		out = append(out, storage.EquityPoint{
			JobID:       jobID,
			Timestamp:   p.Timestamp,
			Equity:      p.Equity,
			DrawdownPct: p.DrawdownPct,
		})
	}
	return out
}

func sampleRows(jobID string, samples []optimize.Sample) []storage.OptimizationSample {
	out := make([]storage.OptimizationSample, 0, len(samples))
	for _, s := range samples {
		paramsJSON, _ := json.Marshal(s.Params)
		metricsJSON, _ := json.Marshal(s.Metrics)
		out = append(out, storage.OptimizationSample{
			JobID:        jobID,
			Params:       string(paramsJSON),
			Metrics:      string(metricsJSON),
			Objective:    s.Objective,
			IsBest:       s.IsBest,
			ErrorMessage: s.Err,
		})
	}
	return out
}
