package optimization

import (
	"math"
)

// NativeConstraint is a constraint in the form the engines consume: a raw
// residual, a relation and a threshold.
type NativeConstraint struct {
	Func      Func
	Kind      ConstraintKind
	RightHand float64
}

// Program is the engine-side description of a problem: an objective that
// is always minimized or maximized as given, box bounds per variable and a
// list of native constraints. Both backends read the same Program.
type Program struct {
	NumVariables int
	Objective    Func
	Lower        []float64
	Upper        []float64
	Constraints  []NativeConstraint
}

// NewProgram creates a program over n variables with infinite box bounds.
func NewProgram(n int, objective Func) *Program {
	p := &Program{
		NumVariables: n,
		Objective:    objective,
		Lower:        make([]float64, n),
		Upper:        make([]float64, n),
	}
	for i := 0; i < n; i++ {
		p.Lower[i] = math.Inf(-1)
		p.Upper[i] = math.Inf(1)
	}
	return p
}

// AddLowerBound tightens the lower bound of variable i.
func (p *Program) AddLowerBound(i int, v float64) {
	if v > p.Lower[i] {
		p.Lower[i] = v
	}
}

// AddUpperBound tightens the upper bound of variable i.
func (p *Program) AddUpperBound(i int, v float64) {
	if v < p.Upper[i] {
		p.Upper[i] = v
	}
}

// AddUpperBoundConstraint adds f(x) <= rhs.
func (p *Program) AddUpperBoundConstraint(f Func, rhs float64) {
	p.Constraints = append(p.Constraints, NativeConstraint{Func: f, Kind: Upper, RightHand: rhs})
}

// AddLowerBoundConstraint adds f(x) >= rhs.
func (p *Program) AddLowerBoundConstraint(f Func, rhs float64) {
	p.Constraints = append(p.Constraints, NativeConstraint{Func: f, Kind: Lower, RightHand: rhs})
}

// AddEqualityConstraint adds f(x) == rhs.
func (p *Program) AddEqualityConstraint(f Func, rhs float64) {
	p.Constraints = append(p.Constraints, NativeConstraint{Func: f, Kind: Equal, RightHand: rhs})
}

// Kinds returns the distinct constraint kinds used by the program.
func (p *Program) Kinds() []ConstraintKind {
	var seen [3]bool
	var kinds []ConstraintKind
	for _, c := range p.Constraints {
		if c.Kind >= 0 && int(c.Kind) < len(seen) && !seen[c.Kind] {
			seen[c.Kind] = true
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Violation returns the total infeasibility of x: the sum of constraint
// violations plus the distance outside the box.
func (p *Program) Violation(x []float64) float64 {
	var total float64
	for i, v := range x {
		if v < p.Lower[i] {
			total += p.Lower[i] - v
		} else if v > p.Upper[i] {
			total += v - p.Upper[i]
		}
	}
	for _, c := range p.Constraints {
		total += violation(c.Kind, c.Func(x), c.RightHand)
	}
	return total
}

// Feasible reports whether x lies in the box and satisfies every
// constraint within tol.
func (p *Program) Feasible(x []float64, tol float64) bool {
	for i, v := range x {
		if v < p.Lower[i]-tol || v > p.Upper[i]+tol {
			return false
		}
	}
	for _, c := range p.Constraints {
		if violation(c.Kind, c.Func(x), c.RightHand) > tol {
			return false
		}
	}
	return true
}

// Clamp projects x onto the box in place and returns it.
func (p *Program) Clamp(x []float64) []float64 {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], p.Lower[i]), p.Upper[i])
	}
	return x
}
