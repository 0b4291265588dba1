package optimization

import (
	"math"
)

// Bound is one registered variable bound.
type Bound struct {
	Index int       `json:"index"`
	Kind  BoundKind `json:"kind"`
	Value float64   `json:"value"`
}

// Problem is a complete constrained problem definition: objective, bounds,
// constraints and the scale factor applied to the objective before it is
// handed to a solver.
type Problem struct {
	Name        string
	Objective   *Function
	Bounds      []Bound
	Constraints []*Constraint

	scale float64
}

// NewProblem creates a problem over objective with scale factor 1.
func NewProblem(name string, objective *Function) *Problem {
	return &Problem{
		Name:      name,
		Objective: objective,
		scale:     1,
	}
}

// Dim returns the number of variables.
func (p *Problem) Dim() int {
	return p.Objective.Dim()
}

// Scale returns the factor the objective is multiplied by for solving.
func (p *Problem) Scale() float64 {
	if p.scale == 0 {
		return 1
	}
	return p.scale
}

// SetScale sets the objective scale factor. A factor of -1 turns a
// minimizer into a maximizer. Zero and non-finite factors are rejected
// because the solved value could not be mapped back.
func (p *Problem) SetScale(scale float64) error {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return InvalidConfigurationf("SetScale", "scale factor must be finite and non-zero, got %v", scale)
	}
	p.scale = scale
	return nil
}

// AddBound records a bound on variable index.
func (p *Problem) AddBound(kind BoundKind, index int, value float64) error {
	if index < 0 || index >= p.Dim() {
		return InvalidInputf("AddBound", "variable index %d out of range [0, %d)", index, p.Dim())
	}
	p.Bounds = append(p.Bounds, Bound{Index: index, Kind: kind, Value: value})
	return nil
}

// AddBox bounds every variable to [lo, hi].
func (p *Problem) AddBox(lo, hi float64) error {
	for i := 0; i < p.Dim(); i++ {
		if err := p.AddBound(LowerBound, i, lo); err != nil {
			return err
		}
		if err := p.AddBound(UpperBound, i, hi); err != nil {
			return err
		}
	}
	return nil
}

// AddConstraint appends c to the problem.
func (p *Problem) AddConstraint(c *Constraint) error {
	if c == nil || c.Residual == nil {
		return InvalidInputf("AddConstraint", "constraint is nil")
	}
	if c.Residual.Dim() != p.Dim() {
		return InvalidInputf("AddConstraint", "constraint %q has %d variables, problem has %d", c.Name, c.Residual.Dim(), p.Dim())
	}
	p.Constraints = append(p.Constraints, c)
	return nil
}

// Box returns the tightest lower and upper bound per variable. Unbounded
// sides are infinite.
func (p *Problem) Box() (lower, upper []float64) {
	n := p.Dim()
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
	}
	for _, b := range p.Bounds {
		switch b.Kind {
		case LowerBound:
			lower[b.Index] = math.Max(lower[b.Index], b.Value)
		case UpperBound:
			upper[b.Index] = math.Min(upper[b.Index], b.Value)
		}
	}
	return lower, upper
}

// ScaledObjective returns the objective multiplied by the scale factor.
func (p *Problem) ScaledObjective() *Function {
	return p.Objective.Scaled(p.Scale())
}

// Unscale maps a value of the scaled objective back to the original one.
func (p *Problem) Unscale(v float64) float64 {
	return v / p.Scale()
}

// NewSolver builds a Solver for the scaled objective from x0 and registers
// every bound and constraint of the problem.
func (p *Problem) NewSolver(x0 []float64, backends Backends) (*Solver, error) {
	s, err := NewSolver(p.ScaledObjective(), x0, backends)
	if err != nil {
		return nil, err
	}
	for _, b := range p.Bounds {
		if err := s.RegisterBound(b.Kind, b.Index, b.Value); err != nil {
			return nil, err
		}
	}
	for _, c := range p.Constraints {
		if err := s.RegisterConstraint(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Evaluate returns the unscaled objective at x and whether x is feasible
// within tol.
func (p *Problem) Evaluate(x []float64, tol float64) (value float64, feasible bool, err error) {
	value, err = p.Objective.CalcValue(x)
	if err != nil {
		return 0, false, err
	}
	feasible = true
	lower, upper := p.Box()
	for i, v := range x {
		if v < lower[i]-tol || v > upper[i]+tol {
			feasible = false
		}
	}
	for _, c := range p.Constraints {
		ok, err := c.Satisfied(x, tol)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			feasible = false
		}
	}
	return value, feasible, nil
}
