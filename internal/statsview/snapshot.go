package statsview

import (
	"sort"
	"time"

	"finstats/internal/color"
	"finstats/internal/core"
	"finstats/internal/fetch"
	"finstats/internal/paging"
	"finstats/internal/stats"
)

// LogTimeLayout renders audit timestamps like "5 Mar 2026, 9:07 pm".
const LogTimeLayout = "2 Jan 2006, 3:04 pm"

// Snapshot is a render-ready copy of the view for one display mode.
type Snapshot struct {
	Mode    core.Mode
	Filters Filters
	Now     time.Time

	Categorical      []Slice
	CategoricalTotal core.Money
	Series           []core.SeriesPoint
	SeriesKeys       []SeriesKey
	Variance         []core.VariancePoint
	CreditColor      string
	DebitColor       string
	Logs             paging.Page[LogRow]

	// Loaded reports per query key whether data has ever been applied.
	Loaded map[string]bool
	// Notices are the failures of the latest request per display, in
	// display order.
	Notices []Notice
	// Unauthorized means the session is no longer valid; the caller must
	// send the user to the entry route.
	Unauthorized bool
	Stats        fetch.Stats
}

type Slice struct {
	Label string
	Total core.Money
	Color string
	// Share is the slice's fraction of the total, for labels only.
	Share float64
}

type SeriesKey struct {
	Key   string
	Color string
}

type LogRow struct {
	core.AuditLogEntry
	When        string
	ActionColor string
}

type Notice struct {
	Key     string
	Kind    fetch.Kind
	Message string
}

// Snapshot copies the current state, assigning colors for mode.
func (v *View) Snapshot(mode core.Mode) Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		Mode:         mode,
		Filters:      v.filters,
		Now:          v.now(),
		Series:       append([]core.SeriesPoint(nil), v.series...),
		Variance:     append([]core.VariancePoint(nil), v.variance...),
		CreditColor:  color.For(core.Credit.Label(), mode),
		DebitColor:   color.For(core.Debit.Label(), mode),
		Loaded:       make(map[string]bool, len(v.loaded)),
		Unauthorized: v.unauthorized,
		Stats:        v.coord.Stats(),
	}

	s.CategoricalTotal = stats.Total(v.categorical)
	s.Categorical = make([]Slice, 0, len(v.categorical))
	for _, c := range v.categorical {
		sl := Slice{Label: c.Label, Total: c.Total, Color: color.For(c.Label, mode)}
		if s.CategoricalTotal.Cents > 0 {
			sl.Share = float64(c.Total.Cents) / float64(s.CategoricalTotal.Cents)
		}
		s.Categorical = append(s.Categorical, sl)
	}

	s.SeriesKeys = make([]SeriesKey, 0, len(v.seriesKeys))
	for _, k := range v.seriesKeys {
		s.SeriesKeys = append(s.SeriesKeys, SeriesKey{Key: k, Color: color.For(k, mode)})
	}

	page := v.logPage()
	rows := make([]LogRow, 0, len(page.Items))
	for _, e := range page.Items {
		rows = append(rows, LogRow{
			AuditLogEntry: e,
			When:          e.OccurredAt.In(v.cfg.Location).Format(LogTimeLayout),
			ActionColor:   color.Action(e.Action),
		})
	}
	s.Logs = paging.Page[LogRow]{
		Index:      page.Index,
		Items:      rows,
		TotalPages: page.TotalPages,
		TotalItems: page.TotalItems,
		Size:       page.Size,
	}

	for k, ok := range v.loaded {
		s.Loaded[k] = ok
	}
	for k, kind := range v.failures {
		s.Notices = append(s.Notices, Notice{Key: k, Kind: kind, Message: kind.Message()})
	}
	sort.Slice(s.Notices, func(i, j int) bool {
		return keyOrder(s.Notices[i].Key) < keyOrder(s.Notices[j].Key)
	})
	return s
}

func keyOrder(key string) int {
	for i, k := range Keys {
		if k == key {
			return i
		}
	}
	return len(Keys)
}
