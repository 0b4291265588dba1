package optimization

import (
	"context"
	"math"
	"testing"
)

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// sumOfSquares is a simple quadratic objective for testing
func sumOfSquares(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// fakeLocalSearch replays a scripted report and records what it was called with.
type fakeLocalSearch struct {
	report      LocalSearchReport
	err         error
	unsupported map[ConstraintKind]bool

	calls   int
	params  LocalSearchParams
	program *Program
	x0      []float64
}

func (f *fakeLocalSearch) Supports(k ConstraintKind) bool {
	return !f.unsupported[k]
}

func (f *fakeLocalSearch) Solve(_ context.Context, p *Program, x0 []float64, params LocalSearchParams) (LocalSearchReport, error) {
	f.calls++
	f.params = params
	f.program = p
	f.x0 = x0
	return f.report, f.err
}

// fakeSQP replays a scripted report and records what it was called with.
type fakeSQP struct {
	report      SQPReport
	err         error
	unsupported map[ConstraintKind]bool

	calls   int
	program *Program
}

func (f *fakeSQP) Supports(k ConstraintKind) bool {
	return !f.unsupported[k]
}

func (f *fakeSQP) Solve(_ context.Context, p *Program, _ []float64) (SQPReport, error) {
	f.calls++
	f.program = p
	return f.report, f.err
}
