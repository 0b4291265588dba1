// Package grid samples a two-variable objective over a rectangle for
// contour display.
package grid

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Range is a closed interval of one axis.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max - Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Grid holds objective values on a regular lattice. Values[i][j] is the
// value at (X[i], Y[j]).
type Grid struct {
	X      []float64   `json:"x"`
	Y      []float64   `json:"y"`
	Values [][]float64 `json:"values"`
	Min    float64     `json:"min"`
	Max    float64     `json:"max"`
}

// Axis returns n+1 evenly spaced points from r.Min to r.Max inclusive.
func Axis(r Range, n int) ([]float64, error) {
	if n <= 0 {
		return nil, optimization.InvalidConfigurationf("Axis", "resolution must be positive, got %d", n)
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) || r.Max < r.Min {
		return nil, optimization.InvalidConfigurationf("Axis", "invalid range [%v, %v]", r.Min, r.Max)
	}
	pts := floats.Span(make([]float64, n+1), r.Min, r.Max)
	// Span accumulates rounding error; pin the far end.
	pts[n] = r.Max
	return pts, nil
}

// SampleGrid evaluates f on a (resolution+1) x (resolution+1) lattice over
// xr x yr. Non-finite values are kept in Values but ignored for Min and
// Max.
func SampleGrid(f *optimization.Function, xr, yr Range, resolution int) (*Grid, error) {
	const op = "SampleGrid"
	if f == nil {
		return nil, optimization.InvalidInputf(op, "nil function")
	}
	if f.Dim() != optimization.Dimension {
		return nil, optimization.InvalidInputf(op, "function has %d variables, want %d", f.Dim(), optimization.Dimension)
	}
	xs, err := Axis(xr, resolution)
	if err != nil {
		return nil, err
	}
	ys, err := Axis(yr, resolution)
	if err != nil {
		return nil, err
	}

	g := &Grid{
		X:      xs,
		Y:      ys,
		Values: make([][]float64, len(xs)),
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}
	pt := make([]float64, 2)
	for i, x := range xs {
		col := make([]float64, len(ys))
		for j, y := range ys {
			pt[0], pt[1] = x, y
			v, err := f.CalcValue(pt)
			if err != nil {
				return nil, err
			}
			col[j] = v
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			g.Min = math.Min(g.Min, v)
			g.Max = math.Max(g.Max, v)
		}
		g.Values[i] = col
	}
	if math.IsInf(g.Min, 1) {
		return nil, optimization.InvalidInputf(op, "objective has no finite value on the grid")
	}
	return g, nil
}

// DeriveContourStep returns the spacing of levels contour lines spanning the
// grid's value range.
func DeriveContourStep(g *Grid, levels int) (float64, error) {
	if levels <= 0 {
		return 0, optimization.InvalidConfigurationf("DeriveContourStep", "level count must be positive, got %d", levels)
	}
	return (g.Max - g.Min) / float64(levels), nil
}

// ContourLevels returns the levels+1 contour values from g.Min to g.Max.
func ContourLevels(g *Grid, levels int) ([]float64, error) {
	step, err := DeriveContourStep(g, levels)
	if err != nil {
		return nil, err
	}
	out := make([]float64, levels+1)
	for k := range out {
		out[k] = g.Min + float64(k)*step
	}
	out[levels] = g.Max
	return out, nil
}

// Labeled reports whether contour level k carries a label when every
// labelStep-th level is labeled.
func Labeled(k, labelStep int) bool {
	if labelStep <= 0 {
		return false
	}
	return k%labelStep == 0
}
