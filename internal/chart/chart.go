// Package chart turns response results into an SVG line chart that can be
// embedded in a page.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/kartoza/funcatlas/internal/atlas"
	chart "github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultWidth  = 1200
	DefaultHeight = 800
)

// Plot holds everything needed to draw one response chart
type Plot struct {
	Response  *atlas.Response
	DT        float64
	StimNeuID string
	Width     int
	Height    int
}

// Render draws the plot as SVG markup
func Render(p Plot) (string, error) {
	if p.Response.Empty() {
		return "", errors.New("no responses to plot")
	}
	if p.DT <= 0 {
		return "", fmt.Errorf("time step must be positive, got %v", p.DT)
	}
	width, height := p.Width, p.Height
	if width == 0 {
		width = DefaultWidth
	}
	if height == 0 {
		height = DefaultHeight
	}

	data := p.Response.Data
	rows, nt := data.Dims()

	xs := make([]float64, nt)
	for i := range xs {
		xs[i] = float64(i) * p.DT
	}

	colors := Colors(rows)
	series := make([]chart.Series, 0, rows)
	for i := 0; i < rows; i++ {
		ys := mat.Row(nil, i, data)
		series = append(series, chart.ContinuousSeries{
			Name:    p.Response.Labels[i].String(),
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: colors[i].WithAlpha(alpha(p.Response.Confidences[i])),
				StrokeWidth: 4,
			},
		})
	}

	yMin, yMax := floats.Min(data.RawMatrix().Data), floats.Max(data.RawMatrix().Data)
	if yMin == yMax {
		yMin, yMax = yMin-1, yMax+1
	}
	xMax := xs[nt-1]
	if nt == 1 {
		xMax = p.DT
	}

	graph := chart.Chart{
		Title:      fmt.Sprintf("Plot: Neural Responses to Stimulated Neuron (%s)", p.StimNeuID),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:  "Time (s)",
			Range: &chart.ContinuousRange{Min: 0, Max: xMax},
		},
		YAxis: chart.YAxis{
			Name:  "Neural Response",
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.SVG, &buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.String(), nil
}

// alpha maps a confidence in [0, 1] to a stroke alpha
func alpha(confidence float64) uint8 {
	c := math.Max(0, math.Min(1, confidence))
	return uint8(math.Round(255 * c))
}
