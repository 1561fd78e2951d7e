package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern for strategies
// ═══════════════════════════════════════════════════════════════════════════════
//
// All strategies implement this interface:
//   OnMarketData(Tick) *Order
//
// The runner calls OnMarketData for each tick; the strategy returns nil or a
// candidate order which then passes through the risk gate.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy is the interface all trading strategies must implement.
//
// OnMarketData must be deterministic given internal state and inputs
// (backtests depend on this), must not block on I/O or sleep, and must not
// mutate context positions directly; the runtime owns reconciliation.
// Lifecycle hooks are idempotent and mutate internal state only.
type Strategy interface {
	// Name returns the strategy identifier
	Name() string

	// Lifecycle hooks
	OnStart()
	OnStop()
	OnPause()
	OnResume()

	// OnMarketData processes a tick and returns a candidate order (or nil)
	OnMarketData(tick types.Tick) *types.Order

	// ApplyConfig sets parameters. Unknown keys are ignored; out-of-range
	// values are clamped to the descriptor's bounds.
	ApplyConfig(cfg map[string]float64)

	// GetState / SetState serialize internal state for restart recovery.
	// The map holds only primitives, lists and maps.
	GetState() map[string]any
	SetState(state map[string]any)
}

// ParamType is the declared type of a configurable parameter.
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// ParamDescriptor describes one configurable strategy parameter. The UI
// renders these and the optimizer samples from them.
type ParamDescriptor struct {
	Name        string
	DisplayName string
	Type        ParamType
	Default     float64
	Min         float64
	Max         float64
	Description string
}

// Clamp forces a value into the descriptor's range, rounding for int params.
func (d ParamDescriptor) Clamp(v float64) float64 {
	if v < d.Min {
		v = d.Min
	}
	if v > d.Max {
		v = d.Max
	}
	if d.Type == ParamInt {
		v = float64(int64(v + 0.5))
	}
	return v
}

// Definition is a registry entry: static strategy metadata plus a factory.
type Definition struct {
	ID          string
	Name        string
	Version     string
	MinCapital  decimal.Decimal
	Symbols     []string
	BarInterval types.Interval
	Params      []ParamDescriptor

	// New builds a fresh instance bound to a context. The context is shared
	// by reference; risk limits in it are read-only for the strategy.
	New func(ctx *types.StrategyContext) Strategy
}

// applyConfig is the shared clamp-and-assign used by the library strategies.
func applyConfig(params []ParamDescriptor, cfg map[string]float64, assign func(name string, v float64)) {
	for _, d := range params {
		v, ok := cfg[d.Name]
		if !ok {
			continue
		}
		assign(d.Name, d.Clamp(v))
	}
}

// stateFloats reads a []float64 back out of a deserialized state value.
// JSON decoding turns lists into []any, so both shapes are accepted.
func stateFloats(v any) []float64 {
	switch vv := v.(type) {
	case []float64:
		out := make([]float64, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]float64, 0, len(vv))
		for _, e := range vv {
			if f, ok := e.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func stateFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func stateBool(v any) bool {
	b, _ := v.(bool)
	return b
}
