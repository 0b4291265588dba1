package visual

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// maxSurfacePoints caps the surface cells drawn per axis. The payload keeps
// the full grid; the page only needs enough cells to show the contours.
const maxSurfacePoints = 100

// jet approximates the blue to red palette of the desktop heat map.
var jet = []string{
	"#00007f", "#0000d4", "#0020ff", "#0060ff", "#00a0ff",
	"#00e0ff", "#30ffcf", "#70ff8f", "#afff4f", "#efff10",
	"#ffcf00", "#ff9000", "#ff5000", "#ff1300", "#d40000",
	"#7f0000",
}

var curveColors = []string{"#c23531", "#2f4554", "#61a0a8", "#d48265"}

// RenderHTML writes a self-contained echarts page for the payload: the
// surface colored by contour band, constraint curves, and the start and end
// of every experiment joined by a dashed segment.
func RenderHTML(w io.Writer, p *Payload) error {
	if p == nil || p.Grid == nil {
		return optimization.InvalidInputf("RenderHTML", "empty payload")
	}

	surface := charts.NewScatter()
	surface.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "multistart: " + p.Problem,
			Width:     "900px",
			Height:    "800px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    p.Problem,
			Subtitle: fmt.Sprintf("%d experiments, contour step %.2f", len(p.Markers), p.Step),
		}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x", Min: p.XRange.Min, Max: p.XRange.Max}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "y", Min: p.YRange.Min, Max: p.YRange.Max}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Type:       "piecewise",
			Calculable: opts.Bool(true),
			Min:        float32(p.Grid.Min),
			Max:        float32(p.Grid.Max),
			Dimension:  "2",
			Pieces:     pieces(p.Levels),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
	)
	surface.AddSeries("objective", surfaceData(p), charts.WithItemStyleOpts(opts.ItemStyle{Opacity: opts.Float(0.85)}))

	overlay := charts.NewLine()
	for i, c := range p.Curves {
		data := make([]opts.LineData, len(c.Points))
		for k, pt := range c.Points {
			data[k] = opts.LineData{Value: []float64{pt[0], pt[1]}}
		}
		overlay.AddSeries(c.Name, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: curveColors[i%len(curveColors)], Width: 3}),
		)
	}
	for _, m := range p.Markers {
		if m.End == nil {
			continue
		}
		overlay.AddSeries(fmt.Sprintf("path %d", m.Index), []opts.LineData{
			{Value: []float64{m.Start[0], m.Start[1]}},
			{Value: []float64{m.End[0], m.End[1]}},
		},
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "rgba(128,128,128,0.6)", Width: 2, Type: "dashed"}),
		)
	}

	starts, ends := markerData(p.Markers)
	points := charts.NewScatter()
	points.AddSeries("start", starts, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d3d3d3", BorderColor: "#000"}))
	points.AddSeries("end", ends, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#fff", BorderColor: "#000"}))

	surface.Overlap(overlay, points)
	return surface.Render(w)
}

func pieces(levels []Level) []opts.Piece {
	if len(levels) < 2 {
		return nil
	}
	out := make([]opts.Piece, 0, len(levels)-1)
	for k := 0; k+1 < len(levels); k++ {
		out = append(out, opts.Piece{
			Min:   float32(levels[k].Value),
			Max:   float32(levels[k+1].Value),
			Color: jet[k*len(jet)/(len(levels)-1)],
		})
	}
	return out
}

func surfaceData(p *Payload) []opts.ScatterData {
	g := p.Grid
	stride := 1
	if n := len(g.X); n > maxSurfacePoints {
		stride = int(math.Ceil(float64(n) / maxSurfacePoints))
	}
	data := make([]opts.ScatterData, 0, (len(g.X)/stride+1)*(len(g.Y)/stride+1))
	for i := 0; i < len(g.X); i += stride {
		for j := 0; j < len(g.Y); j += stride {
			v := g.Values[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			data = append(data, opts.ScatterData{
				Value:      []float64{g.X[i], g.Y[j], v},
				Symbol:     "rect",
				SymbolSize: 8,
			})
		}
	}
	return data
}

func markerData(markers []Marker) (starts, ends []opts.ScatterData) {
	for _, m := range markers {
		starts = append(starts, opts.ScatterData{
			Name:       fmt.Sprintf("start %d", m.Index),
			Value:      []float64{m.Start[0], m.Start[1]},
			Symbol:     "circle",
			SymbolSize: 8,
		})
		if m.End == nil {
			continue
		}
		ends = append(ends, opts.ScatterData{
			Name:       fmt.Sprintf("end %d: %.2f", m.Index, m.Value),
			Value:      []float64{m.End[0], m.End[1]},
			Symbol:     "triangle",
			SymbolSize: 10,
		})
	}
	return starts, ends
}
