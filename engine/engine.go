// Package engine is the execution facade: it holds the active broker,
// owns the supervisor and the kill-switch client, routes orders and feeds
// market data into the fan-out.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/jobs"
	"github.com/karthikreddy9595/AlgoTrading-sub000/killswitch"
	"github.com/karthikreddy9595/AlgoTrading-sub000/notify"
	"github.com/karthikreddy9595/AlgoTrading-sub000/runner"
	"github.com/karthikreddy9595/AlgoTrading-sub000/storage"
	"github.com/karthikreddy9595/AlgoTrading-sub000/supervisor"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION ENGINE - Order routing and market-data intake
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order flow:  runner ORDER result → audit "generated" → dry-run short
// circuit or broker submission with "submitted"/"placed"/"failed" records.
// The audit log is append-only and per-order monotone.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	placeOrderTimeout = 15 * time.Second
	defaultProduct    = "MIS" // intraday product for the Indian cash segment
)

// Config assembles the engine.
type Config struct {
	Broker   broker.Broker
	Registry *broker.Registry
	Kill     *killswitch.Client
	DB       *storage.Database
	Notifier notify.Notifier
}

// Engine is the narrow facade the rest of the platform calls into.
type Engine struct {
	broker   broker.Broker
	registry *broker.Registry
	sup      *supervisor.Supervisor
	kill     *killswitch.Client
	db       *storage.Database
	notifier notify.Notifier
	jobs     *jobs.Service
	cron     *cron.Cron

	feedMu sync.Mutex
	feeds  map[string][]broker.SymbolRef // subscription id -> subscribed symbols

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the engine together. The cron schedule resets daily counters at
// market open minus a margin, in exchange-local time.
func New(cfg Config) (*Engine, error) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return nil, fmt.Errorf("load IST timezone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		broker:   cfg.Broker,
		registry: cfg.Registry,
		sup:      supervisor.New(cfg.Kill, cfg.Notifier),
		kill:     cfg.Kill,
		db:       cfg.DB,
		notifier: cfg.Notifier,
		cron:     cron.New(cron.WithLocation(ist)),
		feeds:    make(map[string][]broker.SymbolRef),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.DB != nil {
		e.jobs = jobs.NewService(cfg.DB, cfg.Broker)
	}

	// 08:00 IST, well before the 09:15 open.
	if _, err := e.cron.AddFunc("0 8 * * *", e.sup.ResetDailyCounters); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule daily reset: %w", err)
	}
	return e, nil
}

// Supervisor exposes the runner manager for status introspection.
func (e *Engine) Supervisor() *supervisor.Supervisor { return e.sup }

// Jobs exposes the backtest/optimization job runner. Nil without a database.
func (e *Engine) Jobs() *jobs.Service { return e.jobs }

// Start launches the supervisor, the order router and the daily schedule.
func (e *Engine) Start() error {
	if err := e.sup.Start(); err != nil {
		return err
	}
	go e.routeResults()
	e.cron.Start()
	log.Info().Str("broker", e.broker.Name()).Msg("⚙️ Execution engine started")
	return nil
}

// Shutdown stops everything in dependency order.
func (e *Engine) Shutdown() {
	e.cron.Stop()
	e.sup.Shutdown()
	if e.jobs != nil {
		e.jobs.Wait()
	}
	e.cancel()
	if err := e.broker.Disconnect(context.Background()); err != nil {
		log.Error().Err(err).Msg("Broker disconnect failed")
	}
	log.Info().Msg("Execution engine stopped")
}

// ─── Strategy lifecycle ────────────────────────────────────────────────────────

// StartStrategy spawns a runner and subscribes its symbols to the feed.
func (e *Engine) StartStrategy(req supervisor.StartRequest) error {
	if err := e.sup.StartStrategy(req); err != nil {
		return err
	}
	if err := e.broker.SubscribeMarketData(e.ctx, req.Symbols, e.onTick); err != nil {
		log.Error().Err(err).Str("subscription", req.SubscriptionID).Msg("Market-data subscribe failed")
		if stopErr := e.sup.StopStrategy(req.SubscriptionID, 0); stopErr != nil {
			log.Error().Err(stopErr).Msg("Rollback stop failed")
		}
		return err
	}
	e.feedMu.Lock()
	e.feeds[req.SubscriptionID] = req.Symbols
	e.feedMu.Unlock()
	return nil
}

// StopStrategy stops a runner gracefully and releases its market-data feeds.
func (e *Engine) StopStrategy(subscriptionID string, timeout time.Duration) error {
	if err := e.sup.StopStrategy(subscriptionID, timeout); err != nil {
		return err
	}
	e.releaseFeeds(subscriptionID)
	return nil
}

// releaseFeeds unsubscribes the stopped subscription's symbols, keeping any
// symbol another live subscription still listens to.
func (e *Engine) releaseFeeds(subscriptionID string) {
	e.feedMu.Lock()
	stopped := e.feeds[subscriptionID]
	delete(e.feeds, subscriptionID)
	stillNeeded := make(map[string]struct{})
	for _, refs := range e.feeds {
		for _, ref := range refs {
			stillNeeded[types.SymbolKey(ref.Exchange, ref.Symbol)] = struct{}{}
		}
	}
	e.feedMu.Unlock()

	var orphans []broker.SymbolRef
	for _, ref := range stopped {
		if _, used := stillNeeded[types.SymbolKey(ref.Exchange, ref.Symbol)]; !used {
			orphans = append(orphans, ref)
		}
	}
	if len(orphans) == 0 {
		return
	}
	if err := e.broker.UnsubscribeMarketData(e.ctx, orphans); err != nil {
		log.Error().Err(err).Str("subscription", subscriptionID).Msg("Market-data unsubscribe failed")
	}
}

// PauseStrategy forwards a pause.
func (e *Engine) PauseStrategy(subscriptionID string) error {
	return e.sup.PauseStrategy(subscriptionID)
}

// ResumeStrategy forwards a resume.
func (e *Engine) ResumeStrategy(subscriptionID string) error {
	return e.sup.ResumeStrategy(subscriptionID)
}

// Status reports every managed runner.
func (e *Engine) Status() []supervisor.RunnerStatus {
	return e.sup.Status()
}

// ─── Kill switch ───────────────────────────────────────────────────────────────

// ActivateGlobalKill halts all trading platform-wide.
func (e *Engine) ActivateGlobalKill(reason, by string) error {
	return e.kill.ActivateGlobal(e.ctx, reason, by)
}

// DeactivateGlobalKill lifts the platform-wide halt.
func (e *Engine) DeactivateGlobalKill(by string) error {
	return e.kill.DeactivateGlobal(e.ctx, by)
}

// ActivateUserKill halts one user's trading.
func (e *Engine) ActivateUserKill(userID, reason, by string) error {
	return e.kill.ActivateForUser(e.ctx, userID, reason, by)
}

// DeactivateUserKill lifts a user halt.
func (e *Engine) DeactivateUserKill(userID string) error {
	return e.kill.DeactivateForUser(e.ctx, userID)
}

// ─── Market data ───────────────────────────────────────────────────────────────

// onTick is the single broker callback feeding every runner.
func (e *Engine) onTick(tick types.Tick) {
	e.sup.DistributeMarketData(tick)
}

// ─── Order routing ─────────────────────────────────────────────────────────────

func (e *Engine) routeResults() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case res, ok := <-e.sup.Results():
			if !ok {
				return
			}
			switch res.Type {
			case runner.ResultOrder:
				e.routeOrder(res)
			case runner.ResultRiskBlocked:
				log.Warn().
					Str("subscription", res.SubscriptionID).
					Str("limit", string(res.Decision.LimitType)).
					Str("reason", res.Decision.Reason).
					Msg("Order blocked by risk gate")
			}
		}
	}
}

// routeOrder walks one ORDER result through the audit trail and the broker.
func (e *Engine) routeOrder(res runner.Result) {
	order := res.Order
	dryRun := e.sup.IsDryRun(res.SubscriptionID)

	e.audit(res, storage.OrderEventGenerated, dryRun, true, "", nil, "")

	if dryRun {
		e.audit(res, storage.OrderEventDryRun, true, true, "", nil, "")
		e.reconcileFill(res, decimal.Zero)
		log.Info().
			Str("subscription", res.SubscriptionID).
			Str("symbol", order.Symbol).
			Str("signal", string(order.Signal)).
			Msg("📝 Dry run, order not submitted")
		return
	}

	req := broker.OrderRequest{
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Side:         sideFor(order.Signal),
		Quantity:     order.Quantity,
		OrderType:    order.OrderType,
		Price:        order.LimitPrice,
		TriggerPrice: order.StopLoss,
		ProductType:  defaultProduct,
	}
	e.audit(res, storage.OrderEventSubmitted, false, true, "", &req, "")

	ctx, cancel := context.WithTimeout(e.ctx, placeOrderTimeout)
	placed, err := e.broker.PlaceOrder(ctx, req)
	cancel()

	if err != nil {
		e.audit(res, storage.OrderEventFailed, false, false, "", &req, err.Error())
		log.Error().Err(err).
			Str("subscription", res.SubscriptionID).
			Str("symbol", order.Symbol).
			Msg("Order placement failed")
		if e.notifier != nil {
			_ = e.notifier.Send(context.Background(),
				fmt.Sprintf("Order failed for %s %s: %v", order.Symbol, order.Signal, err))
		}
		return
	}

	e.auditPlaced(res, placed)
	e.reconcileFill(res, placed.AvgFillPrice)
	log.Info().
		Str("subscription", res.SubscriptionID).
		Str("symbol", order.Symbol).
		Str("broker_order", placed.ID).
		Str("signal", string(order.Signal)).
		Int64("qty", order.Quantity).
		Msg("✅ Order placed")
}

// reconcileFill pushes the executed order back into its runner so the
// strategy's context reflects the new position before the next tick.
func (e *Engine) reconcileFill(res runner.Result, fillPrice decimal.Decimal) {
	if err := e.sup.ApplyFill(res.SubscriptionID, res.Order, fillPrice); err != nil {
		log.Error().Err(err).Str("subscription", res.SubscriptionID).Msg("Fill reconciliation failed")
	}
}

// sideFor maps a strategy signal to the broker transaction side.
func sideFor(signal types.Signal) broker.Side {
	switch signal {
	case types.SignalBuy, types.SignalExitShort:
		return broker.SideBuy
	default:
		return broker.SideSell
	}
}

// audit appends one order-log record. Audit failures are logged, never
// propagated into the trading path.
func (e *Engine) audit(res runner.Result, event string, dryRun, success bool, brokerOrderID string, req *broker.OrderRequest, errMsg string) {
	if e.db == nil {
		return
	}
	order := res.Order
	sub := res.SubscriptionID

	rec := &storage.OrderLog{
		SubscriptionID: &sub,
		Symbol:         order.Symbol,
		Exchange:       order.Exchange,
		OrderType:      string(order.OrderType),
		Side:           string(sideFor(order.Signal)),
		Quantity:       order.Quantity,
		Price:          order.LimitPrice,
		TriggerPrice:   order.StopLoss,
		EventType:      event,
		IsDryRun:       dryRun,
		Success:        success,
		BrokerOrderID:  brokerOrderID,
		BrokerName:     e.broker.Name(),
		ErrorMessage:   errMsg,
		StrategyName:   res.StrategyID,
		Reason:         order.Reason,
		MarketPrice:    marketPrice(order),
	}
	if req != nil {
		if blob, err := json.Marshal(req); err == nil {
			rec.Request = string(blob)
		}
	}
	if err := e.db.AppendOrderEvent(rec); err != nil {
		log.Error().Err(err).Str("event", event).Msg("Order audit write failed")
	}
}

// auditPlaced records the broker's acknowledgement with the response blob.
func (e *Engine) auditPlaced(res runner.Result, placed *broker.BrokerOrder) {
	if e.db == nil {
		return
	}
	order := res.Order
	sub := res.SubscriptionID

	rec := &storage.OrderLog{
		SubscriptionID: &sub,
		Symbol:         order.Symbol,
		Exchange:       order.Exchange,
		OrderType:      string(order.OrderType),
		Side:           string(sideFor(order.Signal)),
		Quantity:       order.Quantity,
		Price:          order.LimitPrice,
		TriggerPrice:   order.StopLoss,
		EventType:      storage.OrderEventPlaced,
		Success:        true,
		BrokerOrderID:  placed.ID,
		BrokerName:     e.broker.Name(),
		StrategyName:   res.StrategyID,
		Reason:         order.Reason,
		MarketPrice:    marketPrice(order),
	}
	if blob, err := json.Marshal(placed); err == nil {
		rec.Response = string(blob)
	}
	if err := e.db.AppendOrderEvent(rec); err != nil {
		log.Error().Err(err).Msg("Order audit write failed")
	}
}

// marketPrice picks the best known price at decision time.
func marketPrice(order *types.Order) decimal.Decimal {
	if order.LimitPrice.IsPositive() {
		return order.LimitPrice
	}
	return decimal.Zero
}
