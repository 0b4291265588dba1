// Package catalog holds the named two-variable problems the experiment
// driver can run.
package catalog

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize/functions"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Entry describes one problem of the catalog. Build returns a fresh
// Problem on every call so concurrent solves never share state.
type Entry struct {
	Name        string
	Description string
	Build       func() (*optimization.Problem, error)
}

var entries = map[string]Entry{
	ExpSine: {
		Name:        ExpSine,
		Description: "maximize e^(0.1x)(sin(0.6y)+sin(0.4x-9)) on [1,50]^2 above y=50/x and y=x",
		Build:       NewExpSine,
	},
	RosenbrockDisk: {
		Name:        RosenbrockDisk,
		Description: "minimize the Rosenbrock function on [-1.5,1.5]^2 inside the disk x^2+y^2<=2",
		Build:       NewRosenbrockDisk,
	},
	BealeLine: {
		Name:        BealeLine,
		Description: "minimize the Beale function on [-4.5,4.5]^2 along the line x+y=3",
		Build:       NewBealeLine,
	},
}

// Problem names.
const (
	ExpSine        = "expsine"
	RosenbrockDisk = "rosenbrock-disk"
	BealeLine      = "beale-line"
)

// Lookup returns the catalog entry called name.
func Lookup(name string) (Entry, error) {
	e, ok := entries[name]
	if !ok {
		return Entry{}, optimization.InvalidInputf("Lookup", "unknown problem %q", name)
	}
	return e, nil
}

// Names returns the sorted problem names.
func Names() []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every entry sorted by name.
func Entries() []Entry {
	out := make([]Entry, 0, len(entries))
	for _, name := range Names() {
		out = append(out, entries[name])
	}
	return out
}

// ExpSineObjective is e^(0.1x) * (sin(0.6y) + sin(0.4x - 9)).
func ExpSineObjective(x []float64) float64 {
	return math.Exp(0.1*x[0]) * (math.Sin(0.6*x[1]) + math.Sin(0.4*x[0]-9))
}

// NewExpSine builds the oscillating exponential problem. Its objective is
// maximized by solving with scale factor -1.
func NewExpSine() (*optimization.Problem, error) {
	p := optimization.NewProblem(ExpSine, optimization.NewFunction(optimization.Dimension, ExpSineObjective))
	if err := p.SetScale(-1); err != nil {
		return nil, err
	}
	if err := p.AddBox(1, 50); err != nil {
		return nil, err
	}
	constraints := []*optimization.Constraint{
		optimization.NewConstraint("y - 50/x >= 0", optimization.Lower, 0,
			func(x []float64) float64 { return x[1] - 50/x[0] },
			func(x float64) float64 { return 50 / x }),
		optimization.NewConstraint("y - x >= 0", optimization.Lower, 0,
			func(x []float64) float64 { return x[1] - x[0] },
			func(x float64) float64 { return x }),
	}
	for _, c := range constraints {
		if err := p.AddConstraint(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NewRosenbrockDisk builds the Rosenbrock problem restricted to a disk of
// radius sqrt(2). The unconstrained minimum (1, 1) lies on the boundary.
func NewRosenbrockDisk() (*optimization.Problem, error) {
	p := optimization.NewProblem(RosenbrockDisk,
		optimization.NewFunction(optimization.Dimension, functions.ExtendedRosenbrock{}.Func))
	if err := p.AddBox(-1.5, 1.5); err != nil {
		return nil, err
	}
	disk := optimization.NewConstraint("x^2 + y^2 <= 2", optimization.Upper, 2,
		func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] },
		func(x float64) float64 {
			r := 2 - x*x
			if r < 0 {
				return math.NaN()
			}
			return math.Sqrt(r)
		})
	if err := p.AddConstraint(disk); err != nil {
		return nil, err
	}
	return p, nil
}

// NewBealeLine builds the Beale problem restricted to the line x + y = 3.
func NewBealeLine() (*optimization.Problem, error) {
	p := optimization.NewProblem(BealeLine,
		optimization.NewFunction(optimization.Dimension, functions.Beale{}.Func))
	if err := p.AddBox(-4.5, 4.5); err != nil {
		return nil, err
	}
	line := optimization.NewConstraint("x + y = 3", optimization.Equal, 3,
		func(x []float64) float64 { return x[0] + x[1] },
		func(x float64) float64 { return 3 - x })
	if err := p.AddConstraint(line); err != nil {
		return nil, err
	}
	return p, nil
}
