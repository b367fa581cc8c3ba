// Package statsview is the statistics page's state: the active filters, the
// derived chart data and the audit log, kept current through a fetch
// coordinator so that a filter change always wins over the responses of the
// filters it replaced.
package statsview

import (
	"context"
	"sync"
	"time"

	"finstats/internal/core"
	"finstats/internal/fetch"
	"finstats/internal/log"
	"finstats/internal/paging"
	"finstats/internal/source"
	"finstats/internal/stats"
)

// Query keys, one per independently refreshed display.
const (
	KeyCategorical = "categorical"
	KeySeries      = "series"
	KeyVariance    = "variance"
	KeyLogs        = "logs"
)

// Keys lists every display in render order.
var Keys = []string{KeyCategorical, KeySeries, KeyVariance, KeyLogs}

const defaultFetchTimeout = 30 * time.Second

// Filters is the user-controlled state of the page.
type Filters struct {
	Window    core.Window
	Direction core.Direction
	Year      int
	Page      int
}

type Config struct {
	// Location is the display time zone; window bounds and log timestamps
	// use it. Nil means UTC.
	Location *time.Location
	// ClockSkew is added to the local clock to approximate the server's.
	ClockSkew time.Duration
	// FetchTimeout bounds a single load independently of the page request
	// that issued it. Zero means thirty seconds.
	FetchTimeout time.Duration
	// Now replaces the clock in tests.
	Now func() time.Time
}

type View struct {
	src    source.Source
	coord  *fetch.Coordinator
	cfg    Config
	logger *log.Logger

	mu           sync.Mutex
	filters      Filters
	categorical  []core.CategoricalSlice
	series       []core.SeriesPoint
	seriesKeys   []string
	variance     []core.VariancePoint
	logs         []core.AuditLogEntry
	loaded       map[string]bool
	failures     map[string]fetch.Kind
	unauthorized bool
}

func New(src source.Source, cfg Config, logger *log.Logger) *View {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	v := &View{
		src:      src,
		coord:    fetch.New(logger),
		cfg:      cfg,
		logger:   logger.WithComponent(log.ComponentView),
		loaded:   make(map[string]bool),
		failures: make(map[string]fetch.Kind),
	}
	v.coord.OnFailure(v.fail)
	v.filters = Filters{
		Window:    core.WindowMonth,
		Direction: core.Debit,
		Year:      v.now().Year(),
		Page:      1,
	}
	return v
}

// Filters returns the active filters.
func (v *View) Filters() Filters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filters
}

// Stats exposes the coordinator counters.
func (v *View) Stats() fetch.Stats {
	return v.coord.Stats()
}

// Load issues a request for every display with the current filters.
func (v *View) Load(ctx context.Context) []*fetch.Pending {
	v.mu.Lock()
	defer v.mu.Unlock()
	return []*fetch.Pending{
		v.issueCategorical(ctx),
		v.issueSeries(ctx),
		v.issueVariance(ctx),
		v.issueLogs(ctx),
	}
}

// SetWindow switches the categorical window and refetches the distribution.
func (v *View) SetWindow(ctx context.Context, w core.Window) (*fetch.Pending, error) {
	if !w.IsValid() {
		return nil, core.ErrInvalidWindow
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters.Window = w
	v.logger.DebugContext(ctx, "Window changed", log.FieldWindow, string(w))
	return v.issueCategorical(ctx), nil
}

// SetDirection switches the trend's direction and refetches it.
func (v *View) SetDirection(ctx context.Context, d core.Direction) (*fetch.Pending, error) {
	if !d.IsValid() {
		return nil, core.ErrInvalidDirection
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters.Direction = d
	v.logger.DebugContext(ctx, "Direction changed", log.FieldDirection, string(d))
	return v.issueSeries(ctx), nil
}

// SetYear switches the year of the trend and variance charts.
func (v *View) SetYear(ctx context.Context, year int) []*fetch.Pending {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters.Year = year
	v.logger.DebugContext(ctx, "Year changed", log.FieldYear, year)
	return []*fetch.Pending{v.issueSeries(ctx), v.issueVariance(ctx)}
}

// SetPage selects the audit log page. It is clamped when rendered.
func (v *View) SetPage(page int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters.Page = page
}

// RefreshLogs refetches the audit log only.
func (v *View) RefreshLogs(ctx context.Context) *fetch.Pending {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.issueLogs(ctx)
}

// Reset drops all derived data and outstanding requests. Failures normally
// keep the last good data; Reset is the explicit way to clear it.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range Keys {
		v.coord.CancelStalePriorTo(k)
	}
	v.categorical, v.series, v.seriesKeys, v.variance, v.logs = nil, nil, nil, nil, nil
	clear(v.loaded)
	clear(v.failures)
	v.unauthorized = false
}

func (v *View) now() time.Time {
	return v.cfg.Now().Add(v.cfg.ClockSkew).In(v.cfg.Location)
}

// loadContext detaches a load from the page request that issued it, so a
// render that stops waiting does not abort the load; a newer request for
// the same key is what supersedes it.
func (v *View) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), v.cfg.FetchTimeout)
}

// The issue methods must be called with v.mu held.

func (v *View) issueCategorical(ctx context.Context) *fetch.Pending {
	q := source.CategoricalQuery{Window: v.filters.Window, Now: v.now()}
	return fetch.Request(ctx, v.coord, KeyCategorical,
		func(ctx context.Context) ([]core.TransactionRecord, error) {
			lctx, cancel := v.loadContext(ctx)
			defer cancel()
			return v.src.ReadCategorical(lctx, q)
		},
		func(records []core.TransactionRecord) {
			slices := stats.Categorical(records, q.Window, q.Now)
			v.mu.Lock()
			defer v.mu.Unlock()
			v.categorical = slices
			v.succeed(KeyCategorical)
		})
}

func (v *View) issueSeries(ctx context.Context) *fetch.Pending {
	q := source.SeriesQuery{Direction: v.filters.Direction, Year: v.filters.Year}
	return fetch.Request(ctx, v.coord, KeySeries,
		func(ctx context.Context) ([]core.TransactionRecord, error) {
			lctx, cancel := v.loadContext(ctx)
			defer cancel()
			return v.src.ReadSeries(lctx, q)
		},
		func(records []core.TransactionRecord) {
			points, keys := stats.Series(source.Select(records, q.Match), q.Direction)
			v.mu.Lock()
			defer v.mu.Unlock()
			v.series, v.seriesKeys = points, keys
			v.succeed(KeySeries)
		})
}

func (v *View) issueVariance(ctx context.Context) *fetch.Pending {
	q := source.VarianceQuery{Year: v.filters.Year}
	return fetch.Request(ctx, v.coord, KeyVariance,
		func(ctx context.Context) ([]core.TransactionRecord, error) {
			lctx, cancel := v.loadContext(ctx)
			defer cancel()
			return v.src.ReadVariance(lctx, q)
		},
		func(records []core.TransactionRecord) {
			points := stats.Variance(records, q.Year)
			v.mu.Lock()
			defer v.mu.Unlock()
			v.variance = points
			v.succeed(KeyVariance)
		})
}

func (v *View) issueLogs(ctx context.Context) *fetch.Pending {
	return fetch.Request(ctx, v.coord, KeyLogs,
		func(ctx context.Context) ([]core.AuditLogEntry, error) {
			lctx, cancel := v.loadContext(ctx)
			defer cancel()
			return v.src.ListAuditLog(lctx)
		},
		func(entries []core.AuditLogEntry) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.logs = entries
			v.succeed(KeyLogs)
		})
}

// succeed must be called with v.mu held.
func (v *View) succeed(key string) {
	v.loaded[key] = true
	delete(v.failures, key)
}

// fail runs for failures of current requests only. Derived data is kept.
func (v *View) fail(e *fetch.Error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e.Kind == fetch.KindUnauthorized {
		v.unauthorized = true
	}
	v.failures[e.Key] = e.Kind
}

// logPage must be called with v.mu held.
func (v *View) logPage() paging.Page[core.AuditLogEntry] {
	return paging.Paginate(v.logs, paging.PageSize, v.filters.Page)
}
