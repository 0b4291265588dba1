package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemBoundsAndBox(t *testing.T) {
	p := NewProblem("quad", NewFunction(Dimension, sumOfSquares))
	require.NoError(t, p.AddBox(1, 50))
	require.NoError(t, p.AddBound(UpperBound, 1, 40))

	lower, upper := p.Box()
	assert.Equal(t, []float64{1, 1}, lower)
	assert.Equal(t, []float64{50, 40}, upper)

	err := p.AddBound(LowerBound, 2, 0)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	err = p.AddConstraint(nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestProblemSetScale(t *testing.T) {
	p := NewProblem("quad", NewFunction(Dimension, sumOfSquares))
	assert.Equal(t, 1.0, p.Scale())

	for _, bad := range []float64{0, math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := p.SetScale(bad)
		assert.True(t, errors.Is(err, ErrInvalidConfiguration), "scale %v", bad)
	}
	require.NoError(t, p.SetScale(-2))
	assert.Equal(t, -2.0, p.Scale())
}

func TestProblemNegationRoundTrip(t *testing.T) {
	// f peaks at (1, 1) with value 3.
	f := func(x []float64) float64 { return 3 - (x[0]-1)*(x[0]-1) - (x[1]-1)*(x[1]-1) }
	p := NewProblem("peak", NewFunction(Dimension, f))
	require.NoError(t, p.SetScale(-1))

	scaled, err := p.ScaledObjective().CalcValue([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, -3.0, scaled)

	// A minimizer of the scaled objective reports -3; unscaling restores f.
	ls := &fakeLocalSearch{report: LocalSearchReport{Verdict: VerdictOptimal, OptimalX: []float64{1, 1}, OptimalValue: scaled}}
	s, err := p.NewSolver([]float64{0, 0}, Backends{LocalSearch: ls})
	require.NoError(t, err)

	res, err := s.Solve(context.Background(), true, RandomizedLocalSearch)
	require.NoError(t, err)
	assert.Equal(t, -3.0, res.Value)
	assert.Equal(t, 3.0, p.Unscale(res.Value))
	assert.Equal(t, []float64{1, 1}, res.X)

	// The program the engine saw minimizes the negated objective.
	assert.Equal(t, -3.0, ls.program.Objective([]float64{1, 1}))
}

func TestProblemNewSolverRegistersEverything(t *testing.T) {
	p := NewProblem("quad", NewFunction(Dimension, sumOfSquares))
	require.NoError(t, p.AddBox(-1, 1))
	require.NoError(t, p.AddConstraint(NewConstraint("line", Equal, 1,
		func(x []float64) float64 { return x[0] + x[1] }, nil)))

	s, err := p.NewSolver([]float64{0, 0}, Backends{})
	require.NoError(t, err)

	prog := s.program
	assert.Equal(t, []float64{-1, -1}, prog.Lower)
	assert.Equal(t, []float64{1, 1}, prog.Upper)
	require.Len(t, prog.Constraints, 1)
	assert.Equal(t, Equal, prog.Constraints[0].Kind)

	assert.True(t, prog.Feasible([]float64{0.5, 0.5}, 1e-9))
	assert.False(t, prog.Feasible([]float64{0, 0}, 1e-9))
	assert.InDelta(t, 1.0, prog.Violation([]float64{0, 0}), 1e-12)
	assert.InDelta(t, 1.0+1.0, prog.Violation([]float64{2, 0}), 1e-12)

	_, err = p.NewSolver([]float64{0}, Backends{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestProblemEvaluate(t *testing.T) {
	p := NewProblem("quad", NewFunction(Dimension, sumOfSquares))
	require.NoError(t, p.AddBox(0, 10))
	require.NoError(t, p.AddConstraint(NewConstraint("y >= x", Lower, 0,
		func(x []float64) float64 { return x[1] - x[0] }, nil)))

	v, ok, err := p.Evaluate([]float64{1, 2}, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
	assert.True(t, ok)

	_, ok, err = p.Evaluate([]float64{2, 1}, 1e-9)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = p.Evaluate([]float64{2}, 1e-9)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestErrorKinds(t *testing.T) {
	err := InvalidInputf("op", "bad %d", 1)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Equal(t, "op: bad 1", err.Error())

	wrapped := WrapError(err, "outer")
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))
	assert.Equal(t, KindInvalidInput, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	assert.False(t, errors.Is(&Error{Message: "x"}, &Error{Message: "x"}))
	assert.Nil(t, WrapError(nil, "nothing"))
}

func TestProblemUnscaleMagnitudes(t *testing.T) {
	f := func(x []float64) float64 { return x[0] + 2*x[1] }
	x := []float64{1.5, -0.25}

	for _, scale := range []float64{-1, -0.5, 2, 1e3, -7} {
		t.Run(fmt.Sprintf("scale %v", scale), func(t *testing.T) {
			p := NewProblem("linear", NewFunction(Dimension, f))
			require.NoError(t, p.SetScale(scale))

			v, err := p.ScaledObjective().CalcValue(x)
			require.NoError(t, err)
			assert.InDelta(t, f(x), p.Unscale(v), 1e-12)
		})
	}
}
