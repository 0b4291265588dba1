// Package visual turns an experiment ensemble into plain data for
// renderers: list rows and a plot payload with the objective surface,
// contour levels, constraint curves and per-experiment markers.
package visual

import (
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/multistart/internal/experiment"
	"github.com/copyleftdev/multistart/internal/grid"
	"github.com/copyleftdev/multistart/internal/optimization"
)

// Options control grid density and contour layout.
type Options struct {
	Resolution   int `json:"resolution"`
	Levels       int `json:"levels"`
	LabelStep    int `json:"label_step"`
	CurveSamples int `json:"curve_samples"`
}

// DefaultOptions returns the layout used by the desktop plot: a 200 step
// grid, 15 contour levels and every second level labeled.
func DefaultOptions() Options {
	return Options{
		Resolution:   200,
		Levels:       15,
		LabelStep:    2,
		CurveSamples: 200,
	}
}

// Row is one line of the experiment list.
type Row struct {
	Index     int    `json:"index"`
	X0        string `json:"x0"`
	X         string `json:"x"`
	Value     string `json:"value"`
	Succeeded bool   `json:"succeeded"`
}

// Level is one contour level.
type Level struct {
	Value   float64 `json:"value"`
	Labeled bool    `json:"labeled"`
	Label   string  `json:"label,omitempty"`
}

// Curve is a constraint boundary sampled over the x range.
type Curve struct {
	Name   string       `json:"name"`
	Kind   string       `json:"kind"`
	Points [][2]float64 `json:"points"`
}

// Marker is the start point of an experiment and, if it succeeded, its end
// point. Renderers draw a segment between the two.
type Marker struct {
	Index int         `json:"index"`
	Start [2]float64  `json:"start"`
	End   *[2]float64 `json:"end,omitempty"`
	Value float64     `json:"value"`
}

// Payload is everything a plot renderer needs.
type Payload struct {
	Problem   string     `json:"problem"`
	XRange    grid.Range `json:"x_range"`
	YRange    grid.Range `json:"y_range"`
	Grid      *grid.Grid `json:"grid"`
	Step      float64    `json:"contour_step"`
	Levels    []Level    `json:"levels"`
	LabelStep int        `json:"label_step"`
	Curves    []Curve    `json:"curves"`
	Markers   []Marker   `json:"markers"`
}

// FormatVector renders v as "[a, b]" with three significant digits.
func FormatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.3g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Rows formats the ensemble as list rows.
func Rows(cases []experiment.Case) []Row {
	rows := make([]Row, len(cases))
	for i, c := range cases {
		rows[i] = Row{
			Index:     i,
			X0:        FormatVector(c.X0),
			X:         FormatVector(c.Result.X),
			Value:     fmt.Sprintf("%.2f", c.Result.Value),
			Succeeded: c.Result.Succeeded,
		}
	}
	return rows
}

// BuildPayload samples the unscaled objective of p over its box and
// collects the constraint curves and experiment markers.
func BuildPayload(p *optimization.Problem, cases []experiment.Case, o Options) (*Payload, error) {
	const op = "BuildPayload"
	if p == nil {
		return nil, optimization.InvalidInputf(op, "nil problem")
	}
	if p.Dim() != optimization.Dimension {
		return nil, optimization.InvalidInputf(op, "problem has %d variables, want %d", p.Dim(), optimization.Dimension)
	}
	if o.CurveSamples < 2 {
		return nil, optimization.InvalidConfigurationf(op, "curve samples must be at least 2, got %d", o.CurveSamples)
	}

	lower, upper := p.Box()
	xr := grid.Range{Min: lower[0], Max: upper[0]}
	yr := grid.Range{Min: lower[1], Max: upper[1]}

	g, err := grid.SampleGrid(p.Objective, xr, yr, o.Resolution)
	if err != nil {
		return nil, err
	}
	step, err := grid.DeriveContourStep(g, o.Levels)
	if err != nil {
		return nil, err
	}
	values, err := grid.ContourLevels(g, o.Levels)
	if err != nil {
		return nil, err
	}
	levels := make([]Level, len(values))
	for k, v := range values {
		levels[k] = Level{Value: v}
		if grid.Labeled(k, o.LabelStep) {
			levels[k].Labeled = true
			levels[k].Label = fmt.Sprintf("%.2f", v)
		}
	}

	curves, err := sampleCurves(p.Constraints, xr, yr, o.CurveSamples)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Problem:   p.Name,
		XRange:    xr,
		YRange:    yr,
		Grid:      g,
		Step:      step,
		Levels:    levels,
		LabelStep: o.LabelStep,
		Curves:    curves,
		Markers:   markers(cases),
	}, nil
}

func sampleCurves(constraints []*optimization.Constraint, xr, yr grid.Range, samples int) ([]Curve, error) {
	xs, err := grid.Axis(xr, samples-1)
	if err != nil {
		return nil, err
	}
	curves := make([]Curve, 0, len(constraints))
	for _, c := range constraints {
		curve := Curve{Name: c.Name, Kind: c.Kind.String(), Points: make([][2]float64, 0, len(xs))}
		for _, x := range xs {
			y := c.BoundingValue(x)
			if math.IsNaN(y) || math.IsInf(y, 0) || y < yr.Min || y > yr.Max {
				continue
			}
			curve.Points = append(curve.Points, [2]float64{x, y})
		}
		curves = append(curves, curve)
	}
	return curves, nil
}

func markers(cases []experiment.Case) []Marker {
	out := make([]Marker, 0, len(cases))
	for i, c := range cases {
		if len(c.X0) < 2 {
			continue
		}
		m := Marker{Index: i, Start: [2]float64{c.X0[0], c.X0[1]}}
		if c.Result.Succeeded && len(c.Result.X) >= 2 {
			end := [2]float64{c.Result.X[0], c.Result.X[1]}
			m.End = &end
			m.Value = c.Result.Value
		}
		out = append(out, m)
	}
	return out
}
