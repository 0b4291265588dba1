// Package hillclimb implements a stochastic hill climbing backend for
// bound and nonlinearly constrained problems.
package hillclimb

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/multistart/internal/optimization"
)

const (
	defaultMaxIterations = 20000
	defaultTolerance     = 1e-6
	defaultInitialStep   = 0.1
	defaultMinStep       = 1e-9
	maxStep              = 0.5
	// successWindow is the number of trials between step size updates.
	successWindow = 10
	repairPasses  = 8
)

// Option configures a Climber.
type Option func(*Climber)

// WithSeed sets the base seed of the per-solve random generators. Zero
// selects a time based seed.
func WithSeed(seed uint64) Option {
	return func(c *Climber) {
		c.seed = seed
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Climber) {
		if logger != nil {
			c.logger = logger.Named("hillclimb")
		}
	}
}

// WithMaxIterations caps the number of trial points per solve.
func WithMaxIterations(n int) Option {
	return func(c *Climber) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithTolerance sets the feasibility tolerance.
func WithTolerance(tol float64) Option {
	return func(c *Climber) {
		if tol > 0 {
			c.tolerance = tol
		}
	}
}

// Climber is a randomized local search engine. Each trial perturbs the
// incumbent with Gaussian noise scaled to the box width, repairs violated
// constraints with a linearized projection and keeps the trial when it
// ranks better. The step size follows the one-fifth success rule.
//
// A Climber holds no per-solve state and is safe for concurrent use.
type Climber struct {
	seed          uint64
	logger        *zap.Logger
	maxIterations int
	tolerance     float64
	initialStep   float64
	minStep       float64
}

// New creates a Climber.
func New(opts ...Option) *Climber {
	c := &Climber{
		logger:        zap.NewNop(),
		maxIterations: defaultMaxIterations,
		tolerance:     defaultTolerance,
		initialStep:   defaultInitialStep,
		minStep:       defaultMinStep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.seed == 0 {
		c.seed = uint64(time.Now().UnixNano())
	}
	return c
}

// Supports reports that every constraint kind is accepted.
func (c *Climber) Supports(optimization.ConstraintKind) bool {
	return true
}

// point is a candidate with its cached ranking data.
type point struct {
	x         []float64
	value     float64
	violation float64
}

// Solve searches from x0 within params.TimeLimit. Running out of time is
// not an error: the verdict tells whether the incumbent is usable.
func (c *Climber) Solve(ctx context.Context, p *optimization.Program, x0 []float64, params optimization.LocalSearchParams) (optimization.LocalSearchReport, error) {
	if len(x0) != p.NumVariables {
		return optimization.LocalSearchReport{}, optimization.InvalidInputf("hillclimb.Solve",
			"start point has %d variables, program has %d", len(x0), p.NumVariables)
	}
	if err := ctx.Err(); err != nil {
		return optimization.LocalSearchReport{}, err
	}

	budget := ctx
	if params.TimeLimit > 0 {
		var cancel context.CancelFunc
		budget, cancel = context.WithTimeout(ctx, params.TimeLimit)
		defer cancel()
	}

	sign := 1.0
	if !params.Minimize {
		sign = -1
	}
	rng := rand.New(rand.NewPCG(c.seed, mixBits(x0)))
	widths := stepWidths(p, x0)

	x := p.Clamp(append([]float64(nil), x0...))
	if params.Presolve && p.Violation(x) > c.tolerance {
		x = c.restore(budget, p, x)
	}
	incumbent := c.evaluate(p, sign, x)

	step := c.initialStep
	successes, trials, iterations := 0, 0, 0
	collapsed := false
	candidate := make([]float64, len(x))

	for iterations < c.maxIterations {
		if budget.Err() != nil {
			break
		}
		iterations++

		for i := range candidate {
			candidate[i] = incumbent.x[i] + step*widths[i]*rng.NormFloat64()
		}
		p.Clamp(candidate)
		c.repair(p, candidate)

		trial := c.evaluate(p, sign, candidate)
		if c.better(trial, incumbent) {
			incumbent = point{x: append([]float64(nil), trial.x...), value: trial.value, violation: trial.violation}
			successes++
		}

		trials++
		if trials == successWindow {
			rate := float64(successes) / float64(trials)
			switch {
			case rate > 0.2:
				step = math.Min(step*1.22, maxStep)
			case rate < 0.2:
				step *= 0.82
			}
			successes, trials = 0, 0
			if step < c.minStep {
				collapsed = true
				break
			}
		}
	}

	// Cancellation by the caller is an error; the time budget is not.
	if err := ctx.Err(); err != nil {
		return optimization.LocalSearchReport{}, err
	}

	feasible := incumbent.violation <= c.tolerance && !math.IsInf(incumbent.value, 0)
	verdict := optimization.VerdictInfeasible
	switch {
	case feasible && collapsed:
		verdict = optimization.VerdictOptimal
	case feasible:
		verdict = optimization.VerdictLocalOptimal
	}

	report := optimization.LocalSearchReport{Verdict: verdict}
	if feasible {
		report.OptimalX = incumbent.x
		report.OptimalValue = p.Objective(incumbent.x)
	}

	c.logger.Debug("local search finished",
		zap.String("verdict", verdict.String()),
		zap.Int("iterations", iterations),
		zap.Float64("step", step),
		zap.Float64("violation", incumbent.violation),
		zap.Float64("value", report.OptimalValue),
	)
	return report, nil
}

// evaluate computes the signed objective and violation of x. NaN
// objectives rank as +Inf so they are never accepted.
func (c *Climber) evaluate(p *optimization.Program, sign float64, x []float64) point {
	v := sign * p.Objective(x)
	if math.IsNaN(v) {
		v = math.Inf(1)
	}
	return point{x: x, value: v, violation: p.Violation(x)}
}

// better ranks feasible points by objective and infeasible points by
// violation. Any feasible point beats any infeasible one.
func (c *Climber) better(a, b point) bool {
	af, bf := a.violation <= c.tolerance, b.violation <= c.tolerance
	switch {
	case af && bf:
		return a.value < b.value
	case af != bf:
		return af
	default:
		return a.violation < b.violation
	}
}

// restore moves x toward the feasible region by minimizing the total
// violation with Nelder-Mead inside the box.
func (c *Climber) restore(ctx context.Context, p *optimization.Program, x []float64) []float64 {
	scratch := make([]float64, len(x))
	problem := optimize.Problem{
		Func: func(y []float64) float64 {
			copy(scratch, y)
			return p.Violation(p.Clamp(scratch))
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   c.tolerance * 1e-3,
			Iterations: 100,
		},
		FuncEvaluations: 5000,
	}
	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: 0.2,
	}

	result, err := optimize.Minimize(problem, x, settings, method)
	if result == nil {
		c.logger.Debug("presolve failed", zap.Error(err))
		return x
	}
	restored := p.Clamp(append([]float64(nil), result.X...))
	c.repair(p, restored)
	if p.Violation(restored) < p.Violation(x) {
		return restored
	}
	return x
}

// repair applies a few linearized projection steps onto the violated
// constraints: x -= (g(x) - rhs) * grad g / |grad g|^2.
func (c *Climber) repair(p *optimization.Program, x []float64) {
	if len(p.Constraints) == 0 {
		return
	}
	grad := make([]float64, len(x))
	settings := &fd.Settings{Formula: fd.Central}
	for pass := 0; pass < repairPasses; pass++ {
		moved := false
		for _, nc := range p.Constraints {
			g := nc.Func(x)
			var d float64
			switch nc.Kind {
			case optimization.Upper:
				d = math.Max(0, g-nc.RightHand)
			case optimization.Lower:
				d = math.Min(0, g-nc.RightHand)
			default:
				d = g - nc.RightHand
			}
			if math.Abs(d) <= c.tolerance*0.1 || math.IsNaN(d) {
				continue
			}
			fd.Gradient(grad, nc.Func, x, settings)
			norm2 := floats.Dot(grad, grad)
			if norm2 == 0 || math.IsNaN(norm2) || math.IsInf(norm2, 0) {
				continue
			}
			floats.AddScaled(x, -d/norm2, grad)
			p.Clamp(x)
			moved = true
		}
		if !moved {
			return
		}
	}
}

// stepWidths returns the per-variable scale of the Gaussian steps: the box
// width where finite, otherwise the magnitude of the start coordinate.
func stepWidths(p *optimization.Program, x0 []float64) []float64 {
	w := make([]float64, len(x0))
	for i := range w {
		width := p.Upper[i] - p.Lower[i]
		if math.IsInf(width, 0) || math.IsNaN(width) {
			width = math.Max(1, math.Abs(x0[i]))
		}
		w[i] = width
	}
	return w
}

// mixBits folds the start point into a stream selector so different
// starts explore different sequences under the same seed.
func mixBits(x []float64) uint64 {
	h := uint64(1469598103934665603)
	for _, v := range x {
		h ^= math.Float64bits(v)
		h *= 1099511628211
	}
	return h
}
