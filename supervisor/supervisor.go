// Package supervisor owns the set of strategy runners: spawning, stopping,
// tick fan-out, crash restarts and kill-switch cascades.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/killswitch"
	"github.com/karthikreddy9595/AlgoTrading-sub000/notify"
	"github.com/karthikreddy9595/AlgoTrading-sub000/risk"
	"github.com/karthikreddy9595/AlgoTrading-sub000/runner"
	"github.com/karthikreddy9595/AlgoTrading-sub000/strategy"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUPERVISOR - Runner lifecycle, fan-out and restarts
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three background tasks:
//   health monitor  - restarts dead runners with bounded backoff
//   result drainers - one per runner, route results to the shared channel
//   kill listener   - pub/sub events cascade into runner stops
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	healthInterval = 5 * time.Second
	stopTimeout    = 10 * time.Second

	restartWindow   = 10 * time.Minute
	restartBudget   = 5
	restartCapDelay = 16 * time.Second
)

// StartRequest carries everything needed to spawn one runner.
type StartRequest struct {
	SubscriptionID string
	UserID         string
	StrategyID     string
	Capital        decimal.Decimal
	Limits         types.RiskLimits
	Params         map[string]float64
	Symbols        []broker.SymbolRef
	DryRun         bool
	Paper          bool

	// State restores a previously serialized strategy, e.g. after a
	// deployment restart.
	State map[string]any
}

// managed wraps one runner with the bookkeeping needed to rebuild it.
// lastCtx is the live context of the most recent spawn; a respawn reads it
// to carry positions and daily counters across the crash.
type managed struct {
	req       StartRequest
	def       strategy.Definition
	run       *runner.Runner
	failures  []time.Time
	failed    bool
	lastState map[string]any
	lastCtx   *types.StrategyContext
}

// Supervisor exclusively owns the runners map and the symbol index.
type Supervisor struct {
	kill     *killswitch.Client
	riskMgr  *risk.Manager
	notifier notify.Notifier

	mu          sync.RWMutex
	runners     map[string]*managed
	symbolIndex map[string]map[string]struct{} // "exchange:symbol" -> set of subscription ids

	results chan runner.Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor. notifier may be nil.
func New(kill *killswitch.Client, notifier notify.Notifier) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		kill:        kill,
		riskMgr:     risk.NewManager(kill),
		notifier:    notifier,
		runners:     make(map[string]*managed),
		symbolIndex: make(map[string]map[string]struct{}),
		results:     make(chan runner.Result, 1024),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Results is the merged stream of every runner's results, after the
// supervisor has handled kill-switch triggers itself.
func (s *Supervisor) Results() <-chan runner.Result { return s.results }

// Start launches the background tasks.
func (s *Supervisor) Start() error {
	if err := s.kill.Subscribe(s.ctx, s.onKillEvent); err != nil {
		return fmt.Errorf("subscribe kill-switch events: %w", err)
	}
	s.wg.Add(1)
	go s.healthLoop()
	log.Info().Msg("Supervisor started")
	return nil
}

// Shutdown stops every runner and the background tasks.
func (s *Supervisor) Shutdown() {
	for _, id := range s.ActiveSubscriptions() {
		if err := s.StopStrategy(id, stopTimeout); err != nil {
			log.Error().Err(err).Str("subscription", id).Msg("Stop during shutdown failed")
		}
	}
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Supervisor shut down")
}

// ─── Lifecycle operations ──────────────────────────────────────────────────────

// StartStrategy spawns a runner for the subscription. It refuses when the
// subscription is already running or a kill switch covers it.
func (s *Supervisor) StartStrategy(req StartRequest) error {
	if s.kill.IsStrategyActive(req.SubscriptionID, req.UserID) {
		return fmt.Errorf("kill switch active for subscription %s", req.SubscriptionID)
	}

	def, err := strategy.Get(req.StrategyID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.runners[req.SubscriptionID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("subscription %s is already running", req.SubscriptionID)
	}
	m := &managed{req: req, def: def, lastState: req.State}
	s.runners[req.SubscriptionID] = m
	for _, ref := range req.Symbols {
		key := types.SymbolKey(ref.Exchange, ref.Symbol)
		if s.symbolIndex[key] == nil {
			s.symbolIndex[key] = make(map[string]struct{})
		}
		s.symbolIndex[key][req.SubscriptionID] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.spawn(m); err != nil {
		s.unregister(req.SubscriptionID)
		return err
	}
	return nil
}

// spawn builds and starts the runner for a managed subscription.
func (s *Supervisor) spawn(m *managed) error {
	s.mu.RLock()
	state := m.lastState
	prev := m.lastCtx
	s.mu.RUnlock()

	ctx := &types.StrategyContext{
		StrategyID:     m.req.StrategyID,
		UserID:         m.req.UserID,
		SubscriptionID: m.req.SubscriptionID,
		Capital:        m.req.Capital,
		Limits:         m.req.Limits,
		Paper:          m.req.Paper,
	}
	if prev != nil {
		// A restart must not re-arm the daily limits or forget open
		// exposure; the previous run's counters and positions carry over.
		ctx.Positions = prev.Positions
		ctx.RealizedPnL = prev.RealizedPnL
		ctx.UnrealizedPnL = prev.UnrealizedPnL
		ctx.TodayPnL = prev.TodayPnL
		ctx.TodayTradeCount = prev.TodayTradeCount
	}
	run := runner.New(runner.Config{
		SubscriptionID: m.req.SubscriptionID,
		UserID:         m.req.UserID,
		Definition:     m.def,
		Context:        ctx,
		Risk:           s.riskMgr,
		DryRun:         m.req.DryRun,
	})
	if len(m.req.Params) > 0 {
		run.ApplyConfig(m.req.Params)
	}
	run.RestoreState(state)

	if err := run.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	m.run = run
	m.lastCtx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain(m, run)
	return nil
}

// StopStrategy gracefully stops a runner, escalating to termination when the
// timeout lapses, then unregisters it.
func (s *Supervisor) StopStrategy(subscriptionID string, timeout time.Duration) error {
	s.mu.RLock()
	m, ok := s.runners[subscriptionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("subscription %s is not running", subscriptionID)
	}
	if timeout <= 0 {
		timeout = stopTimeout
	}

	if m.run != nil && m.run.IsAlive() {
		if err := m.run.SendCommand(runner.Command{Type: runner.CmdStop}); err == nil {
			select {
			case <-m.run.Done():
			case <-time.After(timeout):
				m.run.Terminate()
			}
		} else {
			m.run.Terminate()
		}
	}

	s.unregister(subscriptionID)
	return nil
}

// PauseStrategy forwards PAUSE.
func (s *Supervisor) PauseStrategy(subscriptionID string) error {
	return s.forward(subscriptionID, runner.CmdPause)
}

// ResumeStrategy forwards RESUME.
func (s *Supervisor) ResumeStrategy(subscriptionID string) error {
	return s.forward(subscriptionID, runner.CmdResume)
}

// UpdateContext pushes a reconciled position/PnL snapshot into the runner.
func (s *Supervisor) UpdateContext(subscriptionID string, ctx *types.StrategyContext) error {
	s.mu.RLock()
	m, ok := s.runners[subscriptionID]
	s.mu.RUnlock()
	if !ok || m.run == nil {
		return fmt.Errorf("subscription %s is not running", subscriptionID)
	}
	return m.run.SendCommand(runner.Command{Type: runner.CmdUpdateContext, Context: ctx})
}

// ApplyFill reconciles an executed order into the runner's context so the
// strategy sees the resulting position on its next tick.
func (s *Supervisor) ApplyFill(subscriptionID string, order *types.Order, fillPrice decimal.Decimal) error {
	s.mu.RLock()
	m, ok := s.runners[subscriptionID]
	s.mu.RUnlock()
	if !ok || m.run == nil {
		return fmt.Errorf("subscription %s is not running", subscriptionID)
	}
	return m.run.SendCommand(runner.Command{Type: runner.CmdApplyFill, Order: order, FillPrice: fillPrice})
}

// ResetDailyCounters zeroes today's PnL and trade count in every runner.
// The engine invokes this from the start-of-day schedule.
func (s *Supervisor) ResetDailyCounters() {
	for _, id := range s.ActiveSubscriptions() {
		if err := s.forward(id, runner.CmdResetDaily); err != nil {
			log.Error().Err(err).Str("subscription", id).Msg("Daily reset failed")
		}
	}
}

func (s *Supervisor) forward(subscriptionID string, cmd runner.CommandType) error {
	s.mu.RLock()
	m, ok := s.runners[subscriptionID]
	s.mu.RUnlock()
	if !ok || m.run == nil {
		return fmt.Errorf("subscription %s is not running", subscriptionID)
	}
	return m.run.SendCommand(runner.Command{Type: cmd})
}

// unregister removes the subscription from both maps.
func (s *Supervisor) unregister(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, subscriptionID)
	for key, subs := range s.symbolIndex {
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(s.symbolIndex, key)
		}
	}
}

// ─── Introspection ─────────────────────────────────────────────────────────────

// RunnerStatus is one row of the status report.
type RunnerStatus struct {
	SubscriptionID string
	UserID         string
	StrategyID     string
	Alive          bool
	Failed         bool
	DryRun         bool
}

// ActiveSubscriptions lists the registered subscription ids.
func (s *Supervisor) ActiveSubscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runners))
	for id := range s.runners {
		ids = append(ids, id)
	}
	return ids
}

// Status reports every managed runner.
func (s *Supervisor) Status() []RunnerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunnerStatus, 0, len(s.runners))
	for id, m := range s.runners {
		st := RunnerStatus{
			SubscriptionID: id,
			UserID:         m.req.UserID,
			StrategyID:     m.req.StrategyID,
			Failed:         m.failed,
			DryRun:         m.req.DryRun,
		}
		if m.run != nil {
			st.Alive = m.run.IsAlive()
		}
		out = append(out, st)
	}
	return out
}

// IsDryRun reports the dry-run flag for a subscription.
func (s *Supervisor) IsDryRun(subscriptionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.runners[subscriptionID]; ok {
		return m.req.DryRun
	}
	return false
}

// ─── Market data fan-out ───────────────────────────────────────────────────────

// DistributeMarketData pushes a tick to every subscriber of its symbol.
// The feed is never blocked; slow runners lose their oldest queued tick.
func (s *Supervisor) DistributeMarketData(tick types.Tick) {
	s.mu.RLock()
	subs := s.symbolIndex[tick.Key()]
	targets := make([]*runner.Runner, 0, len(subs))
	for id := range subs {
		if m, ok := s.runners[id]; ok && m.run != nil && m.run.IsAlive() {
			targets = append(targets, m.run)
		}
	}
	s.mu.RUnlock()

	for _, run := range targets {
		run.EnqueueTick(tick)
	}
}

// ─── Background tasks ──────────────────────────────────────────────────────────

// drain pumps one runner's results into the shared channel. Kill-switch
// triggers are handled here: activate the subscription switch, then stop the
// runner. Final STATUS state snapshots are kept for restarts.
func (s *Supervisor) drain(m *managed, run *runner.Runner) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-run.Done():
			// Flush anything still queued, then exit.
			for {
				select {
				case res := <-run.Results():
					s.route(m, run, res)
				default:
					return
				}
			}
		case res := <-run.Results():
			s.route(m, run, res)
		}
	}
}

func (s *Supervisor) route(m *managed, run *runner.Runner, res runner.Result) {
	switch res.Type {
	case runner.ResultKillSwitchTrigger:
		log.Warn().
			Str("subscription", res.SubscriptionID).
			Str("limit", string(res.Decision.LimitType)).
			Str("reason", res.Decision.Reason).
			Msg("🛑 Risk breach, tripping subscription kill switch")
		if err := s.kill.ActivateForStrategy(s.ctx, res.SubscriptionID, res.Decision.Reason, "risk_manager"); err != nil {
			log.Error().Err(err).Msg("Kill-switch activation failed")
		}
		s.notify(fmt.Sprintf("Kill switch tripped for %s: %s", res.SubscriptionID, res.Decision.Reason))
		go func() {
			if err := s.StopStrategy(res.SubscriptionID, stopTimeout); err != nil {
				log.Error().Err(err).Str("subscription", res.SubscriptionID).Msg("Stop after kill trigger failed")
			}
		}()
	case runner.ResultStatus:
		if res.State != nil {
			s.mu.Lock()
			m.lastState = res.State
			s.mu.Unlock()
		}
	case runner.ResultError:
		log.Error().
			Str("subscription", res.SubscriptionID).
			Str("error", res.Err).
			Msg("Strategy error")
	}

	select {
	case s.results <- res:
	default:
		log.Warn().Str("type", string(res.Type)).Msg("Result channel full, dropping")
	}
}

// healthLoop restarts runners that should be running but died.
func (s *Supervisor) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Supervisor) checkHealth() {
	s.mu.RLock()
	var dead []*managed
	for _, m := range s.runners {
		if m.failed || m.run == nil {
			continue
		}
		if m.run.ShouldBeRunning() && !m.run.IsAlive() {
			dead = append(dead, m)
		}
	}
	s.mu.RUnlock()

	for _, m := range dead {
		s.restart(m)
	}
}

// restart applies the bounded exponential backoff policy. Attempts are
// counted in a rolling window; exceeding the budget marks the subscription
// failed for good.
func (s *Supervisor) restart(m *managed) {
	now := time.Now()

	s.mu.Lock()
	kept := m.failures[:0]
	for _, t := range m.failures {
		if now.Sub(t) < restartWindow {
			kept = append(kept, t)
		}
	}
	m.failures = append(kept, now)
	attempt := len(m.failures)
	if attempt > restartBudget {
		m.failed = true
		s.mu.Unlock()
		log.Error().
			Str("subscription", m.req.SubscriptionID).
			Int("attempts", attempt-1).
			Msg("Restart budget exhausted, marking subscription failed")
		s.notify(fmt.Sprintf("Subscription %s failed permanently after %d restarts", m.req.SubscriptionID, attempt-1))
		return
	}
	s.mu.Unlock()

	delay := time.Duration(1<<(attempt-1)) * time.Second
	if delay > restartCapDelay {
		delay = restartCapDelay
	}
	log.Warn().
		Str("subscription", m.req.SubscriptionID).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Runner dead, restarting")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.RLock()
		_, still := s.runners[m.req.SubscriptionID]
		s.mu.RUnlock()
		if !still {
			return
		}
		if err := s.spawn(m); err != nil {
			log.Error().Err(err).Str("subscription", m.req.SubscriptionID).Msg("Restart failed")
		}
	}()
}

// onKillEvent cascades pub/sub events into runner stops within the 1 s
// reaction target.
func (s *Supervisor) onKillEvent(evt killswitch.Event) {
	switch evt.Type {
	case killswitch.EventGlobalStop:
		log.Warn().Str("reason", evt.Reason).Msg("🛑 GLOBAL kill switch, stopping all runners")
		for _, id := range s.ActiveSubscriptions() {
			s.stopAsync(id)
		}
	case killswitch.EventUserStop:
		log.Warn().Str("user", evt.UserID).Msg("Kill switch for user, stopping their runners")
		s.mu.RLock()
		var ids []string
		for id, m := range s.runners {
			if m.req.UserID == evt.UserID {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
		for _, id := range ids {
			s.stopAsync(id)
		}
	case killswitch.EventStrategyStop:
		s.mu.RLock()
		_, ok := s.runners[evt.SubscriptionID]
		s.mu.RUnlock()
		if ok {
			s.stopAsync(evt.SubscriptionID)
		}
	case killswitch.EventGlobalResume, killswitch.EventUserResume:
		log.Info().Str("type", string(evt.Type)).Msg("Kill switch lifted")
	}
}

func (s *Supervisor) stopAsync(subscriptionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.StopStrategy(subscriptionID, stopTimeout); err != nil {
			log.Error().Err(err).Str("subscription", subscriptionID).Msg("Cascaded stop failed")
		}
	}()
}

func (s *Supervisor) notify(message string) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Send(context.Background(), message); err != nil {
			log.Error().Err(err).Msg("Notification failed")
		}
	}()
}
