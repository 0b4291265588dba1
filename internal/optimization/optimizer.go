package optimization

import (
	"context"
	"time"
)

// Verdict is the status reported by a local search backend.
type Verdict int

const (
	// VerdictUnknown means the backend stopped without a classification.
	VerdictUnknown Verdict = iota
	// VerdictOptimal means the search converged at a feasible point.
	VerdictOptimal
	// VerdictLocalOptimal means the budget ran out with a feasible incumbent.
	VerdictLocalOptimal
	// VerdictInfeasible means no feasible point was found.
	VerdictInfeasible
	// VerdictFailed means the search broke down numerically.
	VerdictFailed
)

// String returns the name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictOptimal:
		return "optimal"
	case VerdictLocalOptimal:
		return "local-optimal"
	case VerdictInfeasible:
		return "infeasible"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LocalSearchParams are the knobs handed to a local search backend.
type LocalSearchParams struct {
	// TimeLimit is the wall-clock budget of the search.
	TimeLimit time.Duration
	// Presolve asks the backend to restore feasibility of the start point
	// before searching.
	Presolve bool
	// Minimize selects the direction of the search.
	Minimize bool
}

// LocalSearchReport is the native outcome of a local search backend.
type LocalSearchReport struct {
	Verdict      Verdict
	OptimalX     []float64
	OptimalValue float64
}

// LocalSearchBackend is a randomized local search engine. It supports
// minimization and maximization under a time budget.
type LocalSearchBackend interface {
	// Supports reports whether the backend accepts constraints of kind k.
	Supports(k ConstraintKind) bool
	// Solve searches from x0 and reports a verdict. An error means the
	// engine could not run at all, not that the search failed.
	Solve(ctx context.Context, p *Program, x0 []float64, params LocalSearchParams) (LocalSearchReport, error)
}

// SQPReport is the native outcome of an SQP backend.
type SQPReport struct {
	Converged bool
	X         []float64
	Value     float64
}

// SQPBackend is a deterministic sequential quadratic programming engine.
// It only minimizes.
type SQPBackend interface {
	// Supports reports whether the backend accepts constraints of kind k.
	Supports(k ConstraintKind) bool
	// Solve minimizes from x0.
	Solve(ctx context.Context, p *Program, x0 []float64) (SQPReport, error)
}

// Backends bundles the engines a Solver can dispatch to. Either field may
// be nil, in which case selecting that strategy is a configuration error.
type Backends struct {
	LocalSearch LocalSearchBackend
	SQP         SQPBackend
}
