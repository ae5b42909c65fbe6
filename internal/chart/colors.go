package chart

import (
	"math"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

// rainbow is the stop list of the "rainbow" color scale, evenly spaced on [0, 1]
var rainbow = []drawing.Color{
	{R: 150, G: 0, B: 90, A: 255},
	{R: 0, G: 0, B: 200, A: 255},
	{R: 0, G: 25, B: 255, A: 255},
	{R: 0, G: 152, B: 255, A: 255},
	{R: 44, G: 255, B: 150, A: 255},
	{R: 151, G: 255, B: 0, A: 255},
	{R: 255, G: 234, B: 0, A: 255},
	{R: 255, G: 111, B: 0, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
}

// single is used when there is only one series
var single = drawing.Color{R: 255, G: 0, B: 0, A: 255}

// SampleRainbow interpolates the rainbow scale at pos in [0, 1]
func SampleRainbow(pos float64) drawing.Color {
	pos = math.Max(0, math.Min(1, pos))
	scaled := pos * float64(len(rainbow)-1)
	lo := int(math.Floor(scaled))
	if lo >= len(rainbow)-1 {
		return rainbow[len(rainbow)-1]
	}
	frac := scaled - float64(lo)
	a, b := rainbow[lo], rainbow[lo+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + frac*(float64(y)-float64(x))))
	}
	return drawing.Color{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
}

// Colors returns n colors evenly sampled across the rainbow scale
func Colors(n int) []drawing.Color {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []drawing.Color{single}
	}
	out := make([]drawing.Color, n)
	for i := range out {
		out[i] = SampleRainbow(float64(i) / float64(n-1))
	}
	return out
}
