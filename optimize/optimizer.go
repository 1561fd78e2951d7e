// Package optimize sweeps strategy parameters with a seeded Monte-Carlo
// sampler and ranks the resulting backtests by a chosen objective.
package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/karthikreddy9595/AlgoTrading-sub000/backtest"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ObjectiveMaxDrawdown ranks inverted: smaller drawdown is better.
const ObjectiveMaxDrawdown = "max_drawdown"

// cornerBudgetShare caps how much of the sample budget corner cases take.
const cornerBudgetShare = 4 // one quarter

// Range is one parameter's sweep definition.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Validate rejects ranges the sampler cannot enumerate. An inverted range
// yields zero values for its parameter, which would leave nothing to sweep.
func (r Range) Validate(name string) error {
	if r.Max < r.Min {
		return fmt.Errorf("range %s: min %g exceeds max %g", name, r.Min, r.Max)
	}
	if r.Step < 0 {
		return fmt.Errorf("range %s: step must not be negative", name)
	}
	return nil
}

// enumerate lists min, min+step, ... up to max with a float tolerance.
func (r Range) enumerate() []float64 {
	if r.Step <= 0 {
		return []float64{r.Min}
	}
	eps := r.Step * 1e-9
	var out []float64
	for v := r.Min; v <= r.Max+eps; v += r.Step {
		out = append(out, v)
	}
	return out
}

// Config is one optimization run.
type Config struct {
	Backtest   backtest.Config
	Ranges     map[string]Range
	NumSamples int
	Objective  string
	Seed       int64

	// Progress, when set, is called after each evaluated sample.
	Progress func(done, total int)
}

// Sample is one evaluated parameter tuple.
type Sample struct {
	Params    map[string]float64
	Metrics   backtest.Metrics
	Objective float64
	Err       string
	IsBest    bool
}

// Result is the ranked outcome of a run.
type Result struct {
	Samples []Sample // sorted best-first
	Best    *Sample  // nil when every sample errored
}

// Run evaluates the sweep over one shared candle series. Candles are loaded
// once by the caller and reused across every sample.
func Run(ctx context.Context, cfg Config, candles []types.Candle) (*Result, error) {
	if len(cfg.Ranges) == 0 {
		return nil, fmt.Errorf("no parameter ranges to sweep")
	}
	if cfg.NumSamples <= 0 {
		return nil, fmt.Errorf("num_samples must be positive")
	}
	for name, r := range cfg.Ranges {
		if err := r.Validate(name); err != nil {
			return nil, err
		}
	}

	tuples := generate(cfg)
	samples := make([]Sample, 0, len(tuples))

	for i, tuple := range tuples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		btCfg := cfg.Backtest
		btCfg.Params = merge(cfg.Backtest.Params, tuple)
		btCfg.Progress = nil

		s := Sample{Params: tuple}
		res, err := backtest.Run(ctx, btCfg, candles)
		if err != nil {
			s.Err = err.Error()
			s.Objective = math.Inf(-1)
		} else {
			s.Metrics = res.Metrics
			s.Objective = res.Metrics.ObjectiveValue(cfg.Objective)
		}
		samples = append(samples, s)

		if cfg.Progress != nil {
			cfg.Progress(i+1, len(tuples))
		}
		runtime.Gosched()
	}

	rank(samples, cfg.Objective)

	result := &Result{Samples: samples}
	for i := range samples {
		if samples[i].IsBest {
			result.Best = &samples[i]
			break
		}
	}

	log.Info().
		Str("strategy", cfg.Backtest.StrategyID).
		Str("objective", cfg.Objective).
		Int("samples", len(samples)).
		Msg("Optimization complete")
	return result, nil
}

// ─── Sample generation ─────────────────────────────────────────────────────────

// generate produces the parameter tuples: exhaustive when the product fits
// the budget, otherwise corners plus seeded random samples without
// duplicates.
func generate(cfg Config) []map[string]float64 {
	names := make([]string, 0, len(cfg.Ranges))
	for name := range cfg.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([][]float64, len(names))
	product := 1
	overflow := false
	for i, name := range names {
		values[i] = cfg.Ranges[name].enumerate()
		if product > cfg.NumSamples {
			overflow = true
		} else {
			product *= len(values[i])
		}
	}

	if !overflow && product <= cfg.NumSamples {
		return exhaustive(names, values)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	seen := make(map[string]struct{})
	var out []map[string]float64

	add := func(tuple map[string]float64) bool {
		key := tupleKey(names, tuple)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		out = append(out, tuple)
		return true
	}

	// Corner cases first: each parameter at its min or max, truncated to a
	// quarter of the budget.
	cornerCap := cfg.NumSamples / cornerBudgetShare
	corners := 1 << len(names)
	for mask := 0; mask < corners && len(out) < cornerCap; mask++ {
		tuple := make(map[string]float64, len(names))
		for i, name := range names {
			vals := values[i]
			if mask&(1<<i) != 0 {
				tuple[name] = vals[len(vals)-1]
			} else {
				tuple[name] = vals[0]
			}
		}
		add(tuple)
	}

	// Uniform random over the enumerated grids, rejecting duplicates.
	attempts := 0
	ceiling := 10 * cfg.NumSamples
	for len(out) < cfg.NumSamples && attempts < ceiling {
		attempts++
		tuple := make(map[string]float64, len(names))
		for i, name := range names {
			vals := values[i]
			tuple[name] = vals[rng.Intn(len(vals))]
		}
		add(tuple)
	}
	return out
}

// exhaustive walks the full cartesian product with an odometer.
func exhaustive(names []string, values [][]float64) []map[string]float64 {
	total := 1
	for _, vals := range values {
		total *= len(vals)
	}
	out := make([]map[string]float64, 0, total)
	idx := make([]int, len(names))
	for {
		tuple := make(map[string]float64, len(names))
		for i, name := range names {
			tuple[name] = values[i][idx[i]]
		}
		out = append(out, tuple)

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(values[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out
		}
	}
}

func tupleKey(names []string, tuple map[string]float64) string {
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%.9g;", name, tuple[name])
	}
	return b.String()
}

func merge(base, override map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// ─── Ranking ───────────────────────────────────────────────────────────────────

// rank sorts samples best-first and flags exactly one non-errored sample as
// best. For max_drawdown smaller is better, so the sign flips.
func rank(samples []Sample, objective string) {
	score := func(s Sample) float64 {
		if s.Err != "" {
			return math.Inf(-1)
		}
		if objective == ObjectiveMaxDrawdown {
			return -s.Objective
		}
		return s.Objective
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return score(samples[i]) > score(samples[j])
	})
	for i := range samples {
		if samples[i].Err == "" {
			samples[i].IsBest = true
			return
		}
	}
}
