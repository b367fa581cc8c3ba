// Package report renders a statistics snapshot for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"finstats/internal/color"
	"finstats/internal/statsview"
)

const barWidth = 24

var (
	purple    = lipgloss.Color("99")
	gray      = lipgloss.Color("245")
	lightGray = lipgloss.Color("241")
	white     = lipgloss.Color("15")
	red       = lipgloss.Color("203")
)

// Renderer writes snapshots to one output. Styles adapt to what the output
// supports, so a pipe or a file gets plain text.
type Renderer struct {
	w  io.Writer
	re *lipgloss.Renderer
}

func New(w io.Writer) *Renderer {
	return &Renderer{w: w, re: lipgloss.NewRenderer(w)}
}

// Render prints every section of s.
func (r *Renderer) Render(s statsview.Snapshot) error {
	title := r.re.NewStyle().Bold(true).Foreground(purple)
	dim := r.re.NewStyle().Foreground(gray)

	var b strings.Builder
	b.WriteString(title.Render("Statistics"))
	b.WriteString(dim.Render(fmt.Sprintf("  %s · %s · %d · %s",
		s.Filters.Window.Label(), s.Filters.Direction.Label(), s.Filters.Year, s.Now.Format("02 Jan 2006 15:04 MST"))))
	b.WriteString("\n")

	for _, n := range s.Notices {
		b.WriteString(r.re.NewStyle().Foreground(red).Render(fmt.Sprintf("! %s: %s", n.Key, n.Message)))
		b.WriteString("\n")
	}

	r.section(&b, "Distribution", r.categorical(s))
	r.section(&b, s.Filters.Direction.Label()+" trend", r.series(s))
	r.section(&b, fmt.Sprintf("Credit vs debit %d", s.Filters.Year), r.variance(s))
	r.section(&b, fmt.Sprintf("Audit log (page %d of %d)", s.Logs.Index, s.Logs.TotalPages), r.logs(s))

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) section(b *strings.Builder, name, body string) {
	b.WriteString("\n")
	b.WriteString(r.re.NewStyle().Bold(true).Foreground(purple).PaddingLeft(2).Render(name))
	b.WriteString(r.re.NewStyle().Bold(false).Render(":"))
	b.WriteString("\n")
	b.WriteString(r.re.NewStyle().Padding(0, 2).Render(body))
	b.WriteString("\n")
}

func (r *Renderer) empty() string {
	return r.re.NewStyle().Foreground(gray).Render("No data")
}

func (r *Renderer) categorical(s statsview.Snapshot) string {
	if len(s.Categorical) == 0 {
		return r.empty()
	}
	rows := make([][]string, 0, len(s.Categorical)+1)
	for _, sl := range s.Categorical {
		n := int(sl.Share*barWidth + 0.5)
		bar := r.re.NewStyle().Foreground(lipgloss.Color(color.Hex(sl.Label, s.Mode))).Render(strings.Repeat("█", n))
		rows = append(rows, []string{sl.Label, sl.Total.String(), fmt.Sprintf("%5.1f%%", sl.Share*100), bar})
	}
	rows = append(rows, []string{"Total", s.CategoricalTotal.String(), "", ""})
	return r.table([]string{"CATEGORY", "AMOUNT", "SHARE", ""}, rows)
}

func (r *Renderer) series(s statsview.Snapshot) string {
	if len(s.Series) == 0 || len(s.SeriesKeys) == 0 {
		return r.empty()
	}
	headers := []string{"MONTH"}
	for _, k := range s.SeriesKeys {
		headers = append(headers, r.re.NewStyle().Foreground(lipgloss.Color(color.Hex(k.Key, s.Mode))).Render(k.Key))
	}
	rows := make([][]string, 0, len(s.Series))
	for _, p := range s.Series {
		row := []string{p.PeriodLabel}
		for _, k := range s.SeriesKeys {
			v := p.Value(k.Key)
			if v.IsZero() {
				row = append(row, "-")
				continue
			}
			row = append(row, v.String())
		}
		rows = append(rows, row)
	}
	return r.table(headers, rows)
}

func (r *Renderer) variance(s statsview.Snapshot) string {
	if len(s.Variance) == 0 {
		return r.empty()
	}
	rows := make([][]string, 0, len(s.Variance))
	for _, p := range s.Variance {
		rows = append(rows, []string{p.PeriodLabel, p.Credit.String(), p.Debit.String(), p.Net().String()})
	}
	return r.table([]string{"MONTH", "CREDIT", "DEBIT", "NET"}, rows)
}

func (r *Renderer) logs(s statsview.Snapshot) string {
	if len(s.Logs.Items) == 0 {
		return r.empty()
	}
	rows := make([][]string, 0, len(s.Logs.Items))
	for i, e := range s.Logs.Items {
		action := r.re.NewStyle().Foreground(lipgloss.Color(e.ActionColor)).Render(e.Action.Description())
		rows = append(rows, []string{
			strconv.Itoa(s.Logs.FirstItem() + i),
			e.TransactionName,
			e.Direction.Label(),
			e.Amount.String(),
			action,
			e.When,
		})
	}
	return r.table([]string{"#", "TRANSACTION", "TYPE", "AMOUNT", "ACTION", "WHEN"}, rows)
}

func (r *Renderer) table(headers []string, rows [][]string) string {
	headerStyle := r.re.NewStyle().Foreground(white).Bold(true).Align(lipgloss.Center)
	cellStyle := r.re.NewStyle().PaddingLeft(1).PaddingRight(1)
	oddRowStyle := cellStyle.Foreground(gray)
	evenRowStyle := cellStyle.Foreground(lightGray)

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = headerStyle.Render(h)
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.re.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle
			}
			if row%2 == 0 {
				return evenRowStyle
			}
			return oddRowStyle
		}).
		Headers(styled...).
		Rows(rows...)
	return t.String()
}

// Summary is a one-line description of s for logs.
func Summary(s statsview.Snapshot) string {
	return fmt.Sprintf("%d categories, %d series, %d log entries, total %s",
		len(s.Categorical), len(s.SeriesKeys), s.Logs.TotalItems, s.CategoricalTotal.String())
}
