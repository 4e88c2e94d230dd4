// Package motion computes the position of a shape that travels along a sine
// wave across the shapes canvas.
package motion

import "math"

// Bounds is the drawing area the shape moves in, in canvas pixels.
type Bounds struct {
	Left      int
	Top       int
	Right     int
	Bottom    int
	ShapeSize int
}

// Wave shapes the vertical oscillation.
type Wave struct {
	Amplitude float64
	Frequency float64
}

// DefaultBounds and DefaultWave match the stock shapes demo canvas.
var (
	DefaultBounds = Bounds{Left: 15, Top: 15, Right: 248, Bottom: 278, ShapeSize: 30}
	DefaultWave   = Wave{Amplitude: 100, Frequency: 0.0475}
)

// Generator produces positions along a sine wave that scrolls left to right
// and wraps back once x passes the right edge.
type Generator struct {
	bounds Bounds
	wave   Wave
	x      int
}

// New returns a generator positioned just left of the visible area.
func New(b Bounds, w Wave) *Generator {
	return &Generator{bounds: b, wave: w, x: b.Left - b.ShapeSize}
}

// Start is the x the generator resets to after wrapping.
func (g *Generator) Start() int { return g.bounds.Left - g.bounds.ShapeSize }

// Next advances x by one and returns the new position. Call once per tick.
func (g *Generator) Next() (int, int) {
	g.x++
	if g.x > g.bounds.Right {
		g.x = g.Start()
	}
	return g.x, g.YAt(g.x)
}

// YAt is the height for a given x. The midline uses integer division and only
// the final sum is truncated toward zero.
func (g *Generator) YAt(x int) int {
	mid := (g.bounds.Bottom - g.bounds.Top) / 2
	return int(float64(mid) + g.wave.Amplitude*math.Sin(g.wave.Frequency*float64(x)))
}
