package statsview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstats/internal/core"
	"finstats/internal/fetch"
	"finstats/internal/log"
	"finstats/internal/source"
	"finstats/internal/source/memory"
)

var (
	ist = time.FixedZone("IST", 5*3600+1800)
	now = time.Date(2026, 3, 15, 10, 0, 0, 0, ist)
)

func fixedNow() time.Time { return now }

func rec(name string, dir core.Direction, cents int64, at time.Time) core.TransactionRecord {
	return core.TransactionRecord{
		ID:          fmt.Sprintf("%s-%d", name, at.Unix()),
		Name:        name,
		Direction:   dir,
		Amount:      core.Money{Cents: cents},
		OccurredAt:  at,
		CategoryKey: name,
	}
}

func newMemoryView(t *testing.T) (*View, *memory.Store) {
	t.Helper()
	records := []core.TransactionRecord{
		rec("Rent", core.Debit, 80000, time.Date(2026, 3, 1, 9, 0, 0, 0, ist)),
		rec("Food", core.Debit, 1250, time.Date(2026, 3, 15, 8, 0, 0, 0, ist)),
		rec("Salary", core.Credit, 300000, time.Date(2026, 2, 27, 9, 0, 0, 0, ist)),
		rec("Food", core.Debit, 900, time.Date(2026, 1, 3, 9, 0, 0, 0, ist)),
	}
	logs := make([]core.AuditLogEntry, 20)
	for i := range logs {
		logs[i] = core.AuditLogEntry{
			ID:              fmt.Sprint(i),
			TransactionName: "Food",
			Direction:       core.Debit,
			Amount:          core.Money{Cents: int64(i * 100)},
			Action:          core.ActionCreated,
			OccurredAt:      now.Add(-time.Duration(i) * time.Hour),
		}
	}
	store := memory.New(records, logs)
	return New(store, Config{Location: ist, Now: fixedNow}, log.Nop()), store
}

func waitAll(t *testing.T, pendings ...*fetch.Pending) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fetch.Wait(ctx, pendings...))
}

func TestLoadFillsEveryDisplay(t *testing.T) {
	v, _ := newMemoryView(t)
	waitAll(t, v.Load(context.Background())...)

	s := v.Snapshot(core.Light)
	assert.Equal(t, Filters{Window: core.WindowMonth, Direction: core.Debit, Year: 2026, Page: 1}, s.Filters)

	require.Len(t, s.Categorical, 2)
	assert.Equal(t, "Rent", s.Categorical[0].Label)
	assert.Equal(t, core.Money{Cents: 81250}, s.CategoricalTotal)
	assert.Equal(t, "hsl(", s.Categorical[0].Color[:4])

	require.Len(t, s.Series, 3, "JAN..MAR")
	assert.Equal(t, []SeriesKey{
		{Key: "Food", Color: s.SeriesKeys[0].Color},
		{Key: "Rent", Color: s.SeriesKeys[1].Color},
	}, s.SeriesKeys)
	assert.True(t, s.Series[1].Value("Food").IsZero(), "FEB has no debit")

	require.Len(t, s.Variance, 12)
	assert.Equal(t, int64(300000), s.Variance[1].Credit.Cents)

	assert.Equal(t, 3, s.Logs.TotalPages)
	assert.Len(t, s.Logs.Items, 8)
	assert.Equal(t, "15 Mar 2026, 10:00 am", s.Logs.Items[0].When)
	assert.Empty(t, s.Notices)
	for _, k := range Keys {
		assert.True(t, s.Loaded[k], k)
	}
}

func TestSetPageClamps(t *testing.T) {
	v, _ := newMemoryView(t)
	waitAll(t, v.Load(context.Background())...)

	v.SetPage(5)
	s := v.Snapshot(core.Dark)
	assert.Equal(t, 3, s.Logs.Index)
	assert.Len(t, s.Logs.Items, 4)
	assert.Equal(t, "16", s.Logs.Items[0].ID)
}

func TestSetWindowAndDirection(t *testing.T) {
	v, _ := newMemoryView(t)
	ctx := context.Background()
	waitAll(t, v.Load(ctx)...)

	p, err := v.SetWindow(ctx, core.WindowToday)
	require.NoError(t, err)
	waitAll(t, p)
	s := v.Snapshot(core.Light)
	require.Len(t, s.Categorical, 1)
	assert.Equal(t, "Food", s.Categorical[0].Label)

	p, err = v.SetDirection(ctx, core.Credit)
	require.NoError(t, err)
	waitAll(t, p)
	s = v.Snapshot(core.Light)
	require.Len(t, s.SeriesKeys, 1)
	assert.Equal(t, "Salary", s.SeriesKeys[0].Key)

	_, err = v.SetWindow(ctx, "WEEK")
	assert.ErrorIs(t, err, core.ErrInvalidWindow)
	_, err = v.SetDirection(ctx, "SIDEWAYS")
	assert.ErrorIs(t, err, core.ErrInvalidDirection)
}

func TestSetYear(t *testing.T) {
	v, _ := newMemoryView(t)
	ctx := context.Background()
	waitAll(t, v.SetYear(ctx, 2025)...)

	s := v.Snapshot(core.Light)
	assert.Equal(t, 2025, s.Filters.Year)
	assert.Empty(t, s.Series)
	require.Len(t, s.Variance, 12)
	for _, p := range s.Variance {
		assert.True(t, p.Credit.IsZero() && p.Debit.IsZero())
	}
}

func TestClockSkewShiftsWindow(t *testing.T) {
	store := memory.New([]core.TransactionRecord{
		rec("Late", core.Debit, 100, time.Date(2026, 3, 16, 0, 30, 0, 0, ist)),
	}, nil)
	v := New(store, Config{Location: ist, Now: func() time.Time {
		return time.Date(2026, 3, 15, 23, 55, 0, 0, ist)
	}, ClockSkew: 10 * time.Minute}, log.Nop())

	p, err := v.SetWindow(context.Background(), core.WindowToday)
	require.NoError(t, err)
	waitAll(t, p)
	assert.Len(t, v.Snapshot(core.Light).Categorical, 1)
}

// gatedSource answers categorical reads per window, each blocking on its
// own gate so tests choose the completion order.
type gatedSource struct {
	*memory.Store
	mu    sync.Mutex
	gates map[core.Window]chan struct{}
	errs  map[string]error
}

func newGatedSource(store *memory.Store) *gatedSource {
	return &gatedSource{Store: store, gates: map[core.Window]chan struct{}{}, errs: map[string]error{}}
}

func (g *gatedSource) gate(w core.Window) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[w]
	if !ok {
		ch = make(chan struct{})
		g.gates[w] = ch
	}
	return ch
}

func (g *gatedSource) fail(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[key] = err
}

func (g *gatedSource) errFor(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs[key]
}

func (g *gatedSource) ReadCategorical(ctx context.Context, q source.CategoricalQuery) ([]core.TransactionRecord, error) {
	<-g.gate(q.Window)
	if err := g.errFor(KeyCategorical); err != nil {
		return nil, err
	}
	return g.Store.ReadCategorical(ctx, q)
}

func (g *gatedSource) ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	if err := g.errFor(KeyLogs); err != nil {
		return nil, err
	}
	return g.Store.ListAuditLog(ctx)
}

func (g *gatedSource) ReadVariance(ctx context.Context, q source.VarianceQuery) ([]core.TransactionRecord, error) {
	if err := g.errFor(KeyVariance); err != nil {
		return nil, err
	}
	return g.Store.ReadVariance(ctx, q)
}

func TestMonthThenYearRace(t *testing.T) {
	_, store := newMemoryView(t)
	src := newGatedSource(store)
	v := New(src, Config{Location: ist, Now: fixedNow}, log.Nop())
	ctx := context.Background()

	pMonth, err := v.SetWindow(ctx, core.WindowMonth)
	require.NoError(t, err)
	pYear, err := v.SetWindow(ctx, core.WindowYear)
	require.NoError(t, err)

	close(src.gate(core.WindowYear))
	waitAll(t, pYear)
	close(src.gate(core.WindowMonth))
	waitAll(t, pMonth)

	s := v.Snapshot(core.Light)
	assert.Equal(t, core.WindowYear, s.Filters.Window)
	labels := make([]string, 0, len(s.Categorical))
	for _, sl := range s.Categorical {
		labels = append(labels, sl.Label)
	}
	assert.ElementsMatch(t, []string{"Rent", "Food", "Salary"}, labels, "YEAR data, not MONTH")
	assert.True(t, pMonth.Stale())
	assert.Equal(t, uint64(1), s.Stats.Discarded)
}

func TestFailureKeepsStaleData(t *testing.T) {
	_, store := newMemoryView(t)
	src := newGatedSource(store)
	close(src.gate(core.WindowMonth))
	close(src.gate(core.WindowYear))
	v := New(src, Config{Location: ist, Now: fixedNow}, log.Nop())
	ctx := context.Background()
	waitAll(t, v.Load(ctx)...)
	before := v.Snapshot(core.Light)
	require.Len(t, before.Categorical, 2)

	src.fail(KeyCategorical, &source.StatusError{Status: 500, Body: "boom"})
	p, err := v.SetWindow(ctx, core.WindowYear)
	require.NoError(t, err)
	waitAll(t, p)

	s := v.Snapshot(core.Light)
	assert.Equal(t, before.Categorical, s.Categorical)
	require.Len(t, s.Notices, 1)
	assert.Equal(t, KeyCategorical, s.Notices[0].Key)
	assert.Equal(t, fetch.KindServer, s.Notices[0].Kind)
	assert.NotEmpty(t, s.Notices[0].Message)
	assert.False(t, s.Unauthorized)

	// A later success clears the notice.
	src.fail(KeyCategorical, nil)
	p, _ = v.SetWindow(ctx, core.WindowMonth)
	waitAll(t, p)
	assert.Empty(t, v.Snapshot(core.Light).Notices)
}

func TestUnauthorizedOnAnyDisplayRedirects(t *testing.T) {
	for _, key := range []string{KeyLogs, KeyVariance} {
		t.Run(key, func(t *testing.T) {
			_, store := newMemoryView(t)
			src := newGatedSource(store)
			close(src.gate(core.WindowMonth))
			src.fail(key, &source.StatusError{Status: 401})
			v := New(src, Config{Location: ist, Now: fixedNow}, log.Nop())

			waitAll(t, v.Load(context.Background())...)
			s := v.Snapshot(core.Light)
			assert.True(t, s.Unauthorized)
			require.Len(t, s.Notices, 1)
			assert.Equal(t, fetch.KindUnauthorized, s.Notices[0].Kind)
		})
	}
}

func TestResetClearsDataAndSupersedesPending(t *testing.T) {
	_, store := newMemoryView(t)
	src := newGatedSource(store)
	src.fail(KeyLogs, errors.New("unreachable"))
	v := New(src, Config{Location: ist, Now: fixedNow}, log.Nop())
	ctx := context.Background()

	pendings := v.Load(ctx)
	waitAll(t, pendings[1:]...)
	require.NotEmpty(t, v.Snapshot(core.Light).Notices)

	v.Reset()
	close(src.gate(core.WindowMonth))
	waitAll(t, pendings[0])

	s := v.Snapshot(core.Light)
	assert.True(t, pendings[0].Stale())
	assert.Empty(t, s.Categorical)
	assert.Empty(t, s.Series)
	assert.Empty(t, s.Notices)
	assert.False(t, s.Loaded[KeySeries])
}
