package http

import (
	"errors"
	"fmt"
	"html/template"
	"strconv"

	"finstats/internal/chart"
	"finstats/internal/core"
	"finstats/internal/paging"
	"finstats/internal/statsview"
)

var templateFuncs = template.FuncMap{
	"money": func(m core.Money) string { return m.String() },
	"percent": func(f float64) string {
		return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
	},
	// cssProp marks a generated color as safe CSS; html/template would
	// otherwise reject the parentheses of hsl().
	"cssProp": func(prop, value string) template.CSS {
		return template.CSS(prop + ": " + value)
	},
}

type option struct {
	Value    string
	Label    string
	Selected bool
}

type categoricalData struct {
	Loaded bool
	Window string
	Chart  template.HTML
	Slices []statsview.Slice
	Total  core.Money
}

type seriesData struct {
	Loaded    bool
	Direction string
	Year      int
	Chart     template.HTML
	Keys      []statsview.SeriesKey
}

type varianceRow struct {
	Month  string
	Credit core.Money
	Debit  core.Money
	Net    core.Money
}

type varianceData struct {
	Loaded bool
	Year   int
	Chart  template.HTML
	Rows   []varianceRow
}

type logsData struct {
	Loaded bool
	Page   paging.Page[statsview.LogRow]
}

type pageData struct {
	Mode       core.Mode
	NextMode   core.Mode
	Windows    []option
	Directions []option
	Year       int
	Years      []int

	Categorical categoricalData
	Series      seriesData
	Variance    varianceData
	Logs        logsData
	Notices     []statsview.Notice
	Unreachable bool
}

// chartColors are the axis and text colors per theme.
var chartColors = map[core.Mode]struct{ text, axis, grid string }{
	core.Light: {"#334155", "#475569", "#e2e8f0"},
	core.Dark:  {"#e2e8f0", "#94a3b8", "#334155"},
}

// yearChoices offers the current year and the four before it.
const yearChoices = 5

func newPageData(snap statsview.Snapshot) (pageData, error) {
	f := snap.Filters
	d := pageData{
		Mode:     snap.Mode,
		NextMode: snap.Mode.Toggle(),
		Year:     f.Year,
		Notices:  snap.Notices,
	}
	for _, w := range []core.Window{core.WindowToday, core.WindowMonth, core.WindowYear} {
		d.Windows = append(d.Windows, option{Value: string(w), Label: w.Label(), Selected: w == f.Window})
	}
	for _, dir := range []core.Direction{core.Credit, core.Debit} {
		d.Directions = append(d.Directions, option{Value: string(dir), Label: dir.Label(), Selected: dir == f.Direction})
	}
	for y := snap.Now.Year(); y > snap.Now.Year()-yearChoices; y-- {
		d.Years = append(d.Years, y)
	}

	var err error
	if d.Categorical, err = categoricalSection(snap); err != nil {
		return d, err
	}
	if d.Series, err = seriesSection(snap); err != nil {
		return d, err
	}
	if d.Variance, err = varianceSection(snap); err != nil {
		return d, err
	}
	d.Logs = logsData{Loaded: snap.Loaded[statsview.KeyLogs], Page: snap.Logs}
	return d, nil
}

func categoricalSection(snap statsview.Snapshot) (categoricalData, error) {
	c := categoricalData{
		Loaded: snap.Loaded[statsview.KeyCategorical],
		Window: snap.Filters.Window.Label(),
		Slices: snap.Categorical,
		Total:  snap.CategoricalTotal,
	}
	slices := make([]chart.PieSlice, 0, len(snap.Categorical))
	for _, sl := range snap.Categorical {
		slices = append(slices, chart.PieSlice{Label: sl.Label, Value: sl.Total.Euros(), Color: sl.Color})
	}
	svg, err := chart.Pie(chart.DefaultWidth, chart.DefaultHeight, slices, chart.PieOpts{
		Title:       "Distribution " + c.Window,
		Description: fmt.Sprintf("Share of each category, total %s", c.Total),
		TextColor:   chartColors[snap.Mode].text,
		Donut:       0.55,
	})
	if err != nil && !errors.Is(err, chart.ErrNoData) {
		return c, fmt.Errorf("render distribution chart: %w", err)
	}
	c.Chart = svg
	return c, nil
}

func seriesSection(snap statsview.Snapshot) (seriesData, error) {
	sd := seriesData{
		Loaded:    snap.Loaded[statsview.KeySeries],
		Direction: snap.Filters.Direction.Label(),
		Year:      snap.Filters.Year,
		Keys:      snap.SeriesKeys,
	}
	labels := make([]string, len(snap.Series))
	for i, p := range snap.Series {
		labels[i] = p.PeriodLabel
	}
	lines := make([]chart.Series, 0, len(snap.SeriesKeys))
	for _, k := range snap.SeriesKeys {
		values := make([]float64, len(snap.Series))
		for i, p := range snap.Series {
			values[i] = p.Value(k.Key).Euros()
		}
		lines = append(lines, chart.Series{Label: k.Key, Values: values, Color: k.Color})
	}
	colors := chartColors[snap.Mode]
	svg, err := chart.Lines(chart.DefaultWidth, chart.DefaultHeight, lines, labels, chart.LineOpts{
		Title:       fmt.Sprintf("%s trend %d", sd.Direction, sd.Year),
		Description: "Monthly totals per category",
		AxisColor:   colors.axis,
		GridColor:   colors.grid,
		ShowDots:    true,
	})
	if err != nil && !errors.Is(err, chart.ErrNoData) {
		return sd, fmt.Errorf("render trend chart: %w", err)
	}
	sd.Chart = svg
	return sd, nil
}

func varianceSection(snap statsview.Snapshot) (varianceData, error) {
	vd := varianceData{
		Loaded: snap.Loaded[statsview.KeyVariance],
		Year:   snap.Filters.Year,
	}
	if len(snap.Variance) == 0 {
		return vd, nil
	}
	labels := make([]string, len(snap.Variance))
	credit := make([]float64, len(snap.Variance))
	debit := make([]float64, len(snap.Variance))
	nonZero := false
	for i, p := range snap.Variance {
		labels[i] = p.PeriodLabel
		credit[i] = p.Credit.Euros()
		debit[i] = p.Debit.Euros()
		vd.Rows = append(vd.Rows, varianceRow{Month: p.PeriodLabel, Credit: p.Credit, Debit: p.Debit, Net: p.Net()})
		if !p.Credit.IsZero() || !p.Debit.IsZero() {
			nonZero = true
		}
	}
	if !nonZero {
		return vd, nil
	}
	colors := chartColors[snap.Mode]
	svg, err := chart.Bars(chart.DefaultWidth, chart.DefaultHeight, credit, debit, labels, chart.BarOpts{
		Title:        fmt.Sprintf("Credit vs debit %d", vd.Year),
		Description:  "Monthly credit and debit totals",
		SeriesALabel: core.Credit.Label(),
		SeriesBLabel: core.Debit.Label(),
		ColorA:       snap.CreditColor,
		ColorB:       snap.DebitColor,
		AxisColor:    colors.axis,
		GridColor:    colors.grid,
	})
	if err != nil && !errors.Is(err, chart.ErrNoData) {
		return vd, fmt.Errorf("render variance chart: %w", err)
	}
	vd.Chart = svg
	return vd, nil
}

// Notice returns the failure notice for a display, if any.
func (d pageData) Notice(key string) *statsview.Notice {
	for i := range d.Notices {
		if d.Notices[i].Key == key {
			return &d.Notices[i]
		}
	}
	return nil
}
