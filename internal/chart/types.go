// Package chart renders the statistics charts as inline SVG.
package chart

// PieSlice is one wedge of a pie chart.
type PieSlice struct {
	Label string
	Value float64
	Color string
}

// Series is one named line of a multi-line chart. Values align with the
// chart's labels.
type Series struct {
	Label  string
	Values []float64
	Color  string
}

// PieOpts customises the pie renderer.
type PieOpts struct {
	Title       string
	Description string
	TextColor   string
	// Donut is the inner radius as a fraction of the outer one; 0 draws a
	// full pie.
	Donut float64
}

// LineOpts customises the multi-line renderer.
type LineOpts struct {
	Title       string
	Description string
	AxisColor   string
	GridColor   string
	Padding     float64
	ShowDots    bool
	TickCount   int
}

// BarOpts customises the grouped bar renderer.
type BarOpts struct {
	Title        string
	Description  string
	SeriesALabel string
	SeriesBLabel string
	ColorA       string
	ColorB       string
	AxisColor    string
	GridColor    string
	Padding      float64
	TickCount    int
}

// Defaults for the statistics charts.
const (
	DefaultWidth   = 720
	DefaultHeight  = 260
	DefaultPadding = 32.0
	DefaultTicks   = 5
)
