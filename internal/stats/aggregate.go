// Package stats turns raw transaction records into the chart-ready shapes
// rendered on the statistics page. Every function here is pure: "now" and
// the filters are parameters, and inputs are never modified.
package stats

import (
	"fmt"
	"sort"
	"time"

	"finstats/internal/core"
)

// Categorical groups the records falling inside window (relative to now) by
// category key and sums their amounts. Slices are returned in the order in
// which each key first appears in records. The result is never nil.
func Categorical(records []core.TransactionRecord, window core.Window, now time.Time) []core.CategoricalSlice {
	start, end := window.Bounds(now)
	out := make([]core.CategoricalSlice, 0)
	index := make(map[string]int)
	for _, r := range records {
		at := r.OccurredAt.In(now.Location())
		if at.Before(start) || !at.Before(end) {
			continue
		}
		i, ok := index[r.CategoryKey]
		if !ok {
			i = len(out)
			index[r.CategoryKey] = i
			out = append(out, core.CategoricalSlice{Label: r.CategoryKey})
		}
		out[i].Total = out[i].Total.Add(r.Amount)
	}
	return out
}

// Series buckets the records of the given direction by calendar month and
// category key. One point is emitted for every month between the earliest and
// the latest month seen, so gaps show up as points with no values. Keys are
// every category key that appears in at least one point, sorted.
func Series(records []core.TransactionRecord, direction core.Direction) ([]core.SeriesPoint, []string) {
	type bucket = map[string]core.Money
	byMonth := make(map[monthKey]bucket)
	keySet := make(map[string]struct{})
	var first, last monthKey
	seen := false
	for _, r := range records {
		if r.Direction != direction {
			continue
		}
		mk := monthOf(r.OccurredAt)
		if !seen || mk.before(first) {
			first = mk
		}
		if !seen || last.before(mk) {
			last = mk
		}
		seen = true
		b, ok := byMonth[mk]
		if !ok {
			b = make(bucket)
			byMonth[mk] = b
		}
		b[r.CategoryKey] = b[r.CategoryKey].Add(r.Amount)
		keySet[r.CategoryKey] = struct{}{}
	}

	points := make([]core.SeriesPoint, 0)
	keys := make([]string, 0, len(keySet))
	if !seen {
		return points, keys
	}
	for mk := first; !last.before(mk); mk = mk.next() {
		values := byMonth[mk]
		if values == nil {
			values = make(bucket)
		}
		points = append(points, core.SeriesPoint{PeriodLabel: mk.label(), Values: values})
	}
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return points, keys
}

// Variance returns exactly twelve points, January through December of year,
// with credit and debit totals per month. Months without records are zero.
func Variance(records []core.TransactionRecord, year int) []core.VariancePoint {
	points := make([]core.VariancePoint, 12)
	for i := range points {
		points[i].PeriodLabel = core.MonthLabels[i]
	}
	for _, r := range records {
		if r.OccurredAt.Year() != year {
			continue
		}
		p := &points[int(r.OccurredAt.Month())-1]
		switch r.Direction {
		case core.Credit:
			p.Credit = p.Credit.Add(r.Amount)
		case core.Debit:
			p.Debit = p.Debit.Add(r.Amount)
		}
	}
	return points
}

// Total sums the amounts of all slices.
func Total(slices []core.CategoricalSlice) core.Money {
	var total core.Money
	for _, s := range slices {
		total = total.Add(s.Total)
	}
	return total
}

type monthKey struct {
	year  int
	month time.Month
}

func monthOf(t time.Time) monthKey {
	return monthKey{year: t.Year(), month: t.Month()}
}

func (m monthKey) before(o monthKey) bool {
	if m.year != o.year {
		return m.year < o.year
	}
	return m.month < o.month
}

func (m monthKey) next() monthKey {
	if m.month == time.December {
		return monthKey{year: m.year + 1, month: time.January}
	}
	return monthKey{year: m.year, month: m.month + 1}
}

func (m monthKey) label() string {
	return fmt.Sprintf("%s %d", core.MonthLabels[m.month-1], m.year)
}
