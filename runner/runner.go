// Package runner hosts one strategy instance per active subscription.
// Each runner is its own goroutine; the supervisor talks to it only through
// channels carrying structured values, so a misbehaving strategy is contained
// by panic recovery and can never corrupt shared state.
package runner

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/risk"
	"github.com/karthikreddy9595/AlgoTrading-sub000/strategy"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY RUNNER - One isolated execution loop per subscription
// ═══════════════════════════════════════════════════════════════════════════════

// CommandType is a control message kind sent to a runner.
type CommandType string

const (
	CmdStop          CommandType = "STOP"
	CmdPause         CommandType = "PAUSE"
	CmdResume        CommandType = "RESUME"
	CmdUpdateContext CommandType = "UPDATE_CONTEXT"
	CmdApplyFill     CommandType = "APPLY_FILL"
	CmdResetDaily    CommandType = "RESET_DAILY"
)

// Command is one control message. UPDATE_CONTEXT carries the refreshed
// position/PnL snapshot reconciled from the broker; APPLY_FILL carries one
// executed order the engine routed for this runner.
type Command struct {
	Type    CommandType
	Context *types.StrategyContext

	Order     *types.Order
	FillPrice decimal.Decimal
}

// ResultType is the kind of message a runner emits.
type ResultType string

const (
	ResultOrder             ResultType = "ORDER"
	ResultRiskBlocked       ResultType = "RISK_BLOCKED"
	ResultStatus            ResultType = "STATUS"
	ResultError             ResultType = "ERROR"
	ResultKillSwitchTrigger ResultType = "KILL_SWITCH_TRIGGER"
)

// Result is one typed message on the runner's result channel.
type Result struct {
	Type           ResultType
	SubscriptionID string
	UserID         string
	StrategyID     string
	Timestamp      time.Time

	Order    *types.Order  // ORDER
	Decision risk.Decision // RISK_BLOCKED, KILL_SWITCH_TRIGGER

	Status string         // STATUS: running, paused, stopped, failed
	State  map[string]any // STATUS on shutdown: serialized strategy state

	Err   string // ERROR
	Stack string // ERROR: captured stack trace
}

const (
	defaultTickBuffer = 1024
	commandBuffer     = 16
	resultBuffer      = 256

	pauseSleep  = 200 * time.Millisecond
	tickTimeout = 250 * time.Millisecond

	// Repeated strategy faults auto-stop the runner instead of burning
	// CPU on a broken callback forever.
	faultWindow    = time.Minute
	faultThreshold = 10
)

// Config assembles a runner.
type Config struct {
	SubscriptionID string
	UserID         string
	Definition     strategy.Definition
	Context        *types.StrategyContext
	Risk           *risk.Manager
	DryRun         bool
	TickBuffer     int
}

// Runner owns exactly one strategy instance and its execution loop.
type Runner struct {
	subscriptionID string
	userID         string
	definition     strategy.Definition
	ctx            *types.StrategyContext
	strat          strategy.Strategy
	riskMgr        *risk.Manager
	dryRun         bool

	commands chan Command
	ticks    chan types.Tick
	results  chan Result

	alive     atomic.Bool
	shouldRun atomic.Bool
	done      chan struct{}

	paused     bool
	faultTimes []time.Time
	lastPrices map[string]decimal.Decimal

	logger zerolog.Logger
}

// New builds a runner. The strategy instance is created immediately but
// OnStart only fires inside Start.
func New(cfg Config) *Runner {
	buffer := cfg.TickBuffer
	if buffer <= 0 {
		buffer = defaultTickBuffer
	}
	return &Runner{
		subscriptionID: cfg.SubscriptionID,
		userID:         cfg.UserID,
		definition:     cfg.Definition,
		ctx:            cfg.Context,
		strat:          cfg.Definition.New(cfg.Context),
		riskMgr:        cfg.Risk,
		dryRun:         cfg.DryRun,
		commands:       make(chan Command, commandBuffer),
		ticks:          make(chan types.Tick, buffer),
		results:        make(chan Result, resultBuffer),
		done:           make(chan struct{}),
		lastPrices:     make(map[string]decimal.Decimal),
		logger: log.With().
			Str("subscription", cfg.SubscriptionID).
			Str("strategy", cfg.Definition.ID).
			Logger(),
	}
}

// SubscriptionID returns the runner's subscription id.
func (r *Runner) SubscriptionID() string { return r.subscriptionID }

// UserID returns the owning user.
func (r *Runner) UserID() string { return r.userID }

// StrategyID returns the strategy definition id.
func (r *Runner) StrategyID() string { return r.definition.ID }

// DryRun reports whether orders are logged instead of submitted.
func (r *Runner) DryRun() bool { return r.dryRun }

// Results is the channel the supervisor drains.
func (r *Runner) Results() <-chan Result { return r.results }

// Done closes when the execution loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// IsAlive reports whether the execution loop is running.
func (r *Runner) IsAlive() bool { return r.alive.Load() }

// ShouldBeRunning reports whether the health monitor should restart the
// runner if it finds it dead.
func (r *Runner) ShouldBeRunning() bool { return r.shouldRun.Load() }

// RestoreState seeds the strategy with previously serialized state. Call
// before Start when recovering a crashed subscription.
func (r *Runner) RestoreState(state map[string]any) {
	if len(state) == 0 {
		return
	}
	if _, stack := r.safeCall("SetState", func() { r.strat.SetState(state) }); stack != "" {
		r.logger.Warn().Msg("Strategy rejected restored state, starting fresh")
	}
}

// ApplyConfig forwards clamped parameters to the strategy. Call before Start.
func (r *Runner) ApplyConfig(cfg map[string]float64) {
	r.strat.ApplyConfig(cfg)
}

// Start invokes OnStart and launches the execution loop. An OnStart panic
// fails the start.
func (r *Runner) Start() error {
	if err, _ := r.safeCall("OnStart", r.strat.OnStart); err != nil {
		return fmt.Errorf("strategy OnStart: %w", err)
	}
	r.shouldRun.Store(true)
	r.alive.Store(true)
	go r.loop()
	r.logger.Info().Msg("🚀 Runner started")
	return nil
}

// SendCommand queues a control message. Commands are processed in send order.
func (r *Runner) SendCommand(cmd Command) error {
	if !r.alive.Load() {
		return fmt.Errorf("runner %s is not alive", r.subscriptionID)
	}
	select {
	case r.commands <- cmd:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("runner %s command queue full", r.subscriptionID)
	}
}

// EnqueueTick pushes a tick, dropping the oldest queued tick when the buffer
// is full. The market-data feed must never block.
func (r *Runner) EnqueueTick(tick types.Tick) {
	select {
	case r.ticks <- tick:
		return
	default:
	}
	select {
	case <-r.ticks:
	default:
	}
	select {
	case r.ticks <- tick:
	default:
	}
}

// Terminate force-kills the loop after a graceful stop timed out. State is
// not flushed.
func (r *Runner) Terminate() {
	if r.alive.CompareAndSwap(true, false) {
		r.shouldRun.Store(false)
		close(r.done)
		r.logger.Warn().Msg("Runner force-terminated")
	}
}

// ─── Execution loop ────────────────────────────────────────────────────────────

func (r *Runner) loop() {
	defer func() {
		if rec := recover(); rec != nil {
			// A loop-level panic is a runner crash, not a strategy fault.
			// The health monitor notices the dead runner and restarts it.
			r.logger.Error().Interface("panic", rec).Msg("Runner loop crashed")
			r.emit(Result{Type: ResultError, Err: fmt.Sprintf("runner crashed: %v", rec), Stack: string(debug.Stack())})
			if r.alive.CompareAndSwap(true, false) {
				close(r.done)
			}
		}
	}()

	for {
		if !r.drainCommands() {
			return
		}

		if r.paused {
			time.Sleep(pauseSleep)
			continue
		}

		select {
		case tick := <-r.ticks:
			r.handleTick(tick)
		case cmd := <-r.commands:
			if !r.handleCommand(cmd) {
				return
			}
		case <-time.After(tickTimeout):
		}
	}
}

// drainCommands processes everything queued without blocking. Returns false
// when the loop should exit.
func (r *Runner) drainCommands() bool {
	for {
		select {
		case cmd := <-r.commands:
			if !r.handleCommand(cmd) {
				return false
			}
		default:
			return true
		}
	}
}

func (r *Runner) handleCommand(cmd Command) bool {
	switch cmd.Type {
	case CmdStop:
		r.shutdown("stopped")
		return false
	case CmdPause:
		if !r.paused {
			r.paused = true
			r.safeCall("OnPause", r.strat.OnPause)
			r.emit(Result{Type: ResultStatus, Status: "paused"})
			r.logger.Info().Msg("Runner paused")
		}
	case CmdResume:
		if r.paused {
			r.paused = false
			r.safeCall("OnResume", r.strat.OnResume)
			r.emit(Result{Type: ResultStatus, Status: "running"})
			r.logger.Info().Msg("Runner resumed")
		}
	case CmdResetDaily:
		r.ctx.TodayPnL = decimal.Zero
		r.ctx.TodayTradeCount = 0
		r.logger.Info().Msg("Daily counters reset")
	case CmdUpdateContext:
		if cmd.Context != nil {
			r.ctx.Positions = cmd.Context.Positions
			r.ctx.RealizedPnL = cmd.Context.RealizedPnL
			r.ctx.UnrealizedPnL = cmd.Context.UnrealizedPnL
			r.ctx.TodayPnL = cmd.Context.TodayPnL
		}
	case CmdApplyFill:
		r.applyFill(cmd.Order, cmd.FillPrice)
	default:
		r.logger.Warn().Str("command", string(cmd.Type)).Msg("Unknown command ignored")
	}
	return true
}

func (r *Runner) handleTick(tick types.Tick) {
	r.lastPrices[tick.Symbol] = tick.LastPrice
	r.ctx.MarkPrice(tick.Symbol, tick.LastPrice)

	var order *types.Order
	err, stack := r.safeCall("OnMarketData", func() {
		order = r.strat.OnMarketData(tick)
	})
	if err != nil {
		r.emit(Result{Type: ResultError, Err: err.Error(), Stack: stack})
		if r.recordFault() {
			r.logger.Error().Int("faults", faultThreshold).Msg("Repeated strategy faults, auto-stopping runner")
			r.shutdown("failed")
		}
		return
	}
	if order == nil {
		return
	}

	decision := r.riskMgr.Evaluate(*order, r.ctx)
	if !decision.Allowed {
		r.emit(Result{Type: ResultRiskBlocked, Order: order, Decision: decision})
		if decision.TriggerKillSwitch {
			r.emit(Result{Type: ResultKillSwitchTrigger, Order: order, Decision: decision})
		}
		return
	}

	r.ctx.TodayTradeCount++
	r.emit(Result{Type: ResultOrder, Order: order})
}

// applyFill reconciles one executed order into the shared context so the
// strategy sees its own position on the next tick. Dry-run fills carry no
// broker price and fall back to the order's limit price, then the last tick.
func (r *Runner) applyFill(order *types.Order, price decimal.Decimal) {
	if order == nil {
		return
	}
	if !price.IsPositive() {
		price = order.LimitPrice
	}
	if !price.IsPositive() {
		price = r.lastPrices[order.Symbol]
	}
	if !price.IsPositive() {
		r.logger.Warn().Str("symbol", order.Symbol).Msg("Fill without a usable price, position not reconciled")
		return
	}

	signed := order.Quantity
	if order.Signal == types.SignalSell || order.Signal == types.SignalExitLong {
		signed = -signed
	}

	pos := r.ctx.Position(order.Symbol)
	switch {
	case pos == nil:
		r.ctx.Positions = append(r.ctx.Positions, &types.Position{
			Symbol:       order.Symbol,
			Exchange:     order.Exchange,
			Quantity:     signed,
			AvgPrice:     price,
			CurrentPrice: price,
		})
	case sameSign(pos.Quantity, signed):
		// Scaling in: volume-weighted average entry.
		total := pos.Quantity + signed
		cost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity)).Add(price.Mul(decimal.NewFromInt(signed)))
		pos.AvgPrice = cost.Div(decimal.NewFromInt(total))
		pos.Quantity = total
	default:
		// Reducing or closing: realize PnL on the covered quantity.
		closed := signed
		if abs64(signed) > abs64(pos.Quantity) {
			closed = -pos.Quantity
		}
		realized := price.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(-closed))
		r.ctx.RealizedPnL = r.ctx.RealizedPnL.Add(realized)
		r.ctx.TodayPnL = r.ctx.TodayPnL.Add(realized)
		pos.Quantity += signed
		if pos.Quantity != 0 && !sameSign(pos.Quantity, -closed) {
			// Flipped through flat: the remainder is a fresh entry.
			pos.AvgPrice = price
		}
	}

	r.ctx.RemoveFlat()
	r.ctx.MarkPrice(order.Symbol, price)
	r.logger.Debug().
		Str("symbol", order.Symbol).
		Str("signal", string(order.Signal)).
		Str("price", price.String()).
		Msg("Fill reconciled into context")
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// recordFault tracks strategy exceptions and reports whether the repeat
// threshold inside the rolling window was crossed.
func (r *Runner) recordFault() bool {
	now := time.Now()
	kept := r.faultTimes[:0]
	for _, t := range r.faultTimes {
		if now.Sub(t) < faultWindow {
			kept = append(kept, t)
		}
	}
	r.faultTimes = append(kept, now)
	return len(r.faultTimes) >= faultThreshold
}

// shutdown runs the graceful stop sequence: OnStop, final STATUS with
// serialized state, then loop exit.
func (r *Runner) shutdown(status string) {
	r.shouldRun.Store(false)
	r.safeCall("OnStop", r.strat.OnStop)

	var state map[string]any
	r.safeCall("GetState", func() { state = r.strat.GetState() })
	r.emit(Result{Type: ResultStatus, Status: status, State: state})

	if r.alive.CompareAndSwap(true, false) {
		close(r.done)
	}
	r.logger.Info().Str("status", status).Msg("Runner stopped")
}

// safeCall invokes a strategy hook with panic recovery. Strategy bugs
// surface as errors with a stack trace, never as a dead runner.
func (r *Runner) safeCall(hook string, fn func()) (err error, stack string) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy %s panicked in %s: %v", r.definition.ID, hook, rec)
			stack = string(debug.Stack())
		}
	}()
	fn()
	return nil, ""
}

// emit delivers a result without ever blocking the loop. On a full channel
// the oldest result is dropped; the drainer polls fast enough that this is
// a pathological case.
func (r *Runner) emit(res Result) {
	res.SubscriptionID = r.subscriptionID
	res.UserID = r.userID
	res.StrategyID = r.definition.ID
	res.Timestamp = time.Now()

	select {
	case r.results <- res:
		return
	default:
	}
	select {
	case <-r.results:
	default:
	}
	select {
	case r.results <- res:
	default:
	}
}
