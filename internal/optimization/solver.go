package optimization

import (
	"context"
	"strings"
	"time"
)

// LocalSearchTimeLimit is the wall-clock budget given to every randomized
// local search.
const LocalSearchTimeLimit = 10 * time.Second

// Strategy selects the backend a Solver dispatches to.
type Strategy int

const (
	// RandomizedLocalSearch uses the stochastic hill climbing backend.
	RandomizedLocalSearch Strategy = iota
	// SQP uses the sequential quadratic programming backend.
	SQP
)

// String returns the canonical name of the strategy.
func (s Strategy) String() string {
	switch s {
	case RandomizedLocalSearch:
		return "local-search"
	case SQP:
		return "sqp"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local-search", "localsearch", "hill-climbing", "stochastic-hill-climbing":
		return RandomizedLocalSearch, nil
	case "sqp":
		return SQP, nil
	}
	return 0, InvalidInputf("ParseStrategy", "unknown strategy %q", s)
}

// BoundKind tells whether a bound limits a variable from below or above.
type BoundKind int

const (
	// LowerBound requires x[i] >= value.
	LowerBound BoundKind = iota
	// UpperBound requires x[i] <= value.
	UpperBound
)

// String returns the name of the bound kind.
func (k BoundKind) String() string {
	if k == UpperBound {
		return "upper"
	}
	return "lower"
}

// Solver normalizes the two backends behind one registration and result
// contract. A Solver is built for a single problem and start point.
type Solver struct {
	program  *Program
	x0       []float64
	backends Backends
	solved   bool
}

// NewSolver creates a solver for objective starting at x0.
func NewSolver(objective *Function, x0 []float64, backends Backends) (*Solver, error) {
	if objective == nil {
		return nil, InvalidInputf("NewSolver", "objective is nil")
	}
	if len(x0) != objective.Dim() {
		return nil, InvalidInputf("NewSolver", "start point has %d variables, objective expects %d", len(x0), objective.Dim())
	}
	start := make([]float64, len(x0))
	copy(start, x0)
	return &Solver{
		program:  NewProgram(objective.Dim(), objective.Raw()),
		x0:       start,
		backends: backends,
	}, nil
}

// RegisterBound limits variable index from below or above.
func (s *Solver) RegisterBound(kind BoundKind, index int, value float64) error {
	const op = "RegisterBound"
	if s.solved {
		return InvalidConfigurationf(op, "cannot register bounds after solving")
	}
	if index < 0 || index >= s.program.NumVariables {
		return InvalidInputf(op, "variable index %d out of range [0, %d)", index, s.program.NumVariables)
	}
	switch kind {
	case LowerBound:
		s.program.AddLowerBound(index, value)
	case UpperBound:
		s.program.AddUpperBound(index, value)
	default:
		return InvalidInputf(op, "unknown bound kind %d", int(kind))
	}
	return nil
}

// RegisterConstraint forwards c to the engine call matching its kind.
func (s *Solver) RegisterConstraint(c *Constraint) error {
	const op = "RegisterConstraint"
	if s.solved {
		return InvalidConfigurationf(op, "cannot register constraints after solving")
	}
	if c == nil || c.Residual == nil {
		return InvalidInputf(op, "constraint is nil")
	}
	if c.Residual.Dim() != s.program.NumVariables {
		return InvalidInputf(op, "constraint %q has %d variables, problem has %d", c.Name, c.Residual.Dim(), s.program.NumVariables)
	}
	switch c.Kind {
	case Upper:
		s.program.AddUpperBoundConstraint(c.Residual.Raw(), c.RightHand)
	case Lower:
		s.program.AddLowerBoundConstraint(c.Residual.Raw(), c.RightHand)
	case Equal:
		s.program.AddEqualityConstraint(c.Residual.Raw(), c.RightHand)
	default:
		return InvalidInputf(op, "constraint %q has unknown kind %s", c.Name, c.Kind)
	}
	return nil
}

// Solve runs the selected backend and normalizes its report. Failed
// searches return EmptyResult and a nil error; errors are reserved for
// invalid input, invalid configuration, engine breakdown and context
// cancellation.
func (s *Solver) Solve(ctx context.Context, minimize bool, strategy Strategy) (Result, error) {
	const op = "Solve"
	s.solved = true

	switch strategy {
	case RandomizedLocalSearch:
		backend := s.backends.LocalSearch
		if backend == nil {
			return EmptyResult(), InvalidConfigurationf(op, "no backend configured for %s", strategy)
		}
		if err := s.checkSupport(backend.Supports, strategy); err != nil {
			return EmptyResult(), err
		}
		report, err := backend.Solve(ctx, s.program, s.start(), LocalSearchParams{
			TimeLimit: LocalSearchTimeLimit,
			Presolve:  true,
			Minimize:  minimize,
		})
		if err != nil {
			return EmptyResult(), WrapErrorf(err, "%s backend", strategy).WithOperation(op)
		}
		if report.Verdict != VerdictOptimal && report.Verdict != VerdictLocalOptimal {
			return EmptyResult(), nil
		}
		return successful(report.OptimalX, report.OptimalValue), nil

	case SQP:
		if !minimize {
			return EmptyResult(), InvalidConfigurationf(op, "%s supports minimization only", strategy)
		}
		backend := s.backends.SQP
		if backend == nil {
			return EmptyResult(), InvalidConfigurationf(op, "no backend configured for %s", strategy)
		}
		if err := s.checkSupport(backend.Supports, strategy); err != nil {
			return EmptyResult(), err
		}
		report, err := backend.Solve(ctx, s.program, s.start())
		if err != nil {
			return EmptyResult(), WrapErrorf(err, "%s backend", strategy).WithOperation(op)
		}
		if !report.Converged {
			return EmptyResult(), nil
		}
		return successful(report.X, report.Value), nil

	default:
		return EmptyResult(), InvalidInputf(op, "unknown strategy %d", int(strategy))
	}
}

func (s *Solver) checkSupport(supports func(ConstraintKind) bool, strategy Strategy) error {
	for _, k := range s.program.Kinds() {
		if !supports(k) {
			return InvalidConfigurationf("Solve", "%s backend does not support %s constraints", strategy, k)
		}
	}
	return nil
}

func (s *Solver) start() []float64 {
	x := make([]float64, len(s.x0))
	copy(x, s.x0)
	return x
}

func successful(x []float64, value float64) Result {
	out := make([]float64, len(x))
	copy(out, x)
	return Result{Succeeded: true, X: out, Value: value}
}
