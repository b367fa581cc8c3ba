package chart

import (
	"errors"
	"fmt"
	"html/template"
	"math"
	"strings"
)

// ErrNoData is returned when there is nothing to draw; callers show an
// empty state instead of a chart.
var ErrNoData = errors.New("chart: no data")

// Pie renders a pie (or donut) chart with a legend to its right. Slices
// with a non-positive value are skipped.
func Pie(width, height int, slices []PieSlice, opts PieOpts) (template.HTML, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	total := 0.0
	visible := make([]PieSlice, 0, len(slices))
	for _, s := range slices {
		if s.Value > 0 {
			visible = append(visible, s)
			total += s.Value
		}
	}
	if len(visible) == 0 {
		return "", ErrNoData
	}
	textColor := fallback(opts.TextColor, "#475569")

	radius := float64(height)/2 - 8
	if radius <= 0 {
		return "", fmt.Errorf("chart: viewport too small")
	}
	cx, cy := radius+8, float64(height)/2
	inner := radius * clamp(opts.Donut, 0, 0.9)

	titleID := makeID(opts.Title, "pie-title")
	descID := makeID(opts.Title, "pie-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Pie chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Distribution"))))

	if len(visible) == 1 {
		// A single 360 degree arc has identical end points and renders as nothing.
		s := visible[0]
		b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"%.2f\" fill=\"%s\"><title>%s</title></circle>", cx, cy, radius, s.Color, template.HTMLEscapeString(sliceTitle(s, total))))
		if inner > 0 {
			b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"%.2f\" fill=\"var(--bg, #fff)\"></circle>", cx, cy, inner))
		}
	} else {
		angle := -math.Pi / 2
		for _, s := range visible {
			sweep := s.Value / total * 2 * math.Pi
			b.WriteString(fmt.Sprintf("<path d=\"%s\" fill=\"%s\"><title>%s</title></path>", wedge(cx, cy, radius, inner, angle, angle+sweep), s.Color, template.HTMLEscapeString(sliceTitle(s, total))))
			angle += sweep
		}
	}

	// Legend
	legendX := cx + radius + 24
	for i, s := range visible {
		y := 20 + float64(i)*18
		if y > float64(height)-8 {
			break
		}
		b.WriteString(fmt.Sprintf("<rect x=\"%.2f\" y=\"%.2f\" width=\"10\" height=\"10\" fill=\"%s\"></rect>", legendX, y-9, s.Color))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"11\" text-anchor=\"start\">%s</text>", legendX+16, y, textColor, template.HTMLEscapeString(sliceTitle(s, total))))
	}

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

func wedge(cx, cy, r, inner, from, to float64) string {
	large := 0
	if to-from > math.Pi {
		large = 1
	}
	x1, y1 := cx+r*math.Cos(from), cy+r*math.Sin(from)
	x2, y2 := cx+r*math.Cos(to), cy+r*math.Sin(to)
	if inner <= 0 {
		return fmt.Sprintf("M%.2f %.2f L%.2f %.2f A%.2f %.2f 0 %d 1 %.2f %.2f Z", cx, cy, x1, y1, r, r, large, x2, y2)
	}
	ix1, iy1 := cx+inner*math.Cos(to), cy+inner*math.Sin(to)
	ix2, iy2 := cx+inner*math.Cos(from), cy+inner*math.Sin(from)
	return fmt.Sprintf("M%.2f %.2f A%.2f %.2f 0 %d 1 %.2f %.2f L%.2f %.2f A%.2f %.2f 0 %d 0 %.2f %.2f Z",
		x1, y1, r, r, large, x2, y2, ix1, iy1, inner, inner, large, ix2, iy2)
}

func sliceTitle(s PieSlice, total float64) string {
	return fmt.Sprintf("%s: %s (%.1f%%)", s.Label, formatTick(s.Value), s.Value/total*100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
