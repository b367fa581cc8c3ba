package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstats/internal/cache"
	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source"
)

func newClient(t *testing.T, h http.HandlerFunc, c cache.Cache[[]byte]) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL + "/", Token: "static", Cache: c}, log.Nop())
	require.NoError(t, err)
	return client
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"}, log.Nop())
	assert.Error(t, err)
}

func TestReadCategoricalBuildsWindowQuery(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, ist)

	tests := []struct {
		window core.Window
		query  string
	}{
		{core.WindowToday, "type=TODAY"},
		{core.WindowMonth, "month=3&type=MONTH&year=2026"},
		{core.WindowYear, "type=YEAR&year=2026"},
	}
	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			var gotQuery, gotAuth string
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/transactions/pie", r.URL.Path)
				gotQuery = r.URL.RawQuery
				gotAuth = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(`[{"transactionName":"Rent","amount":800.10},{"transactionName":"Food","amount":"12.5"}]`))
			}, nil)

			recs, err := c.ReadCategorical(context.Background(), source.CategoricalQuery{Window: tt.window, Now: now})
			require.NoError(t, err)
			assert.Equal(t, tt.query, gotQuery)
			assert.Equal(t, "Bearer static", gotAuth)
			require.Len(t, recs, 2)
			assert.Equal(t, core.Money{Cents: 80010}, recs[0].Amount)
			assert.Equal(t, "Food", recs[1].CategoryKey)

			start, end := tt.window.Bounds(now)
			assert.False(t, recs[0].OccurredAt.Before(start))
			assert.True(t, recs[0].OccurredAt.Before(end))
		})
	}
}

func TestContextTokenOverridesStatic(t *testing.T) {
	var gotAuth string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"valid":true}`))
	}, nil)

	ok, err := c.CheckSession(WithToken(context.Background(), "user-token"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bearer user-token", gotAuth)
}

func TestReadSeriesAnchorsMonths(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/yearly-summary", r.URL.Path)
		assert.Equal(t, "DEBIT", r.URL.Query().Get("transactionType"))
		assert.Equal(t, "2026", r.URL.Query().Get("year"))
		_, _ = w.Write([]byte(`[
			{"month":1,"transactions":[{"transactionName":"Rent","amount":800}]},
			{"month":3,"transactions":[{"transactionName":"Rent","amount":800},{"transactionName":"Food","amount":20.25}]}
		]`))
	}, nil)

	recs, err := c.ReadSeries(context.Background(), source.SeriesQuery{Direction: core.Debit, Year: 2026})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, time.January, recs[0].OccurredAt.Month())
	assert.Equal(t, time.March, recs[2].OccurredAt.Month())
	assert.Equal(t, core.Debit, recs[2].Direction)
	assert.Equal(t, int64(2025), recs[2].Amount.Cents)
}

func TestReadVarianceSplitsSides(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"month":2,"creditAmount":1000,"debitAmount":250.5},{"month":4,"creditAmount":0,"debitAmount":10}]`))
	}, nil)

	recs, err := c.ReadVariance(context.Background(), source.VarianceQuery{Year: 2026})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, core.Credit, recs[0].Direction)
	assert.Equal(t, "Credit", recs[0].Name)
	assert.Equal(t, int64(25050), recs[1].Amount.Cents)
	assert.Equal(t, time.April, recs[2].OccurredAt.Month())
}

func TestListAuditLog(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":7,"transactionName":"Rent","transactionType":"DEBIT","amount":800,"action":"Created a new transaction","createdAt":"2026-03-15T10:30:00"},
			{"id":"x1","transactionName":"Food","transactionType":"DEBIT","amount":5,"action":"DELETE","createdAt":"2026-03-14T08:00:00Z"}
		]`))
	}, nil)
	c.loc = time.FixedZone("IST", 5*3600+1800)

	entries, err := c.ListAuditLog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "7", entries[0].ID)
	assert.Equal(t, core.ActionCreated, entries[0].Action)
	assert.Equal(t, 5*3600+1800, offsetOf(entries[0].OccurredAt))
	assert.Equal(t, "x1", entries[1].ID)
	assert.Equal(t, core.ActionDeleted, entries[1].Action)
}

func offsetOf(t time.Time) int {
	_, off := t.Zone()
	return off
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"expired"}`, source.ErrUnauthorized},
		{"server", http.StatusInternalServerError, `boom`, source.ErrServer},
		{"not found", http.StatusNotFound, ``, source.ErrServer},
		{"malformed json", http.StatusOK, `{"not":"a list"`, source.ErrMalformed},
		{"wrong shape", http.StatusOK, `[{"transactionName":"","amount":1}]`, source.ErrMalformed},
		{"negative amount", http.StatusOK, `[{"transactionName":"A","amount":-1}]`, source.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)
			_, err := c.ReadCategorical(context.Background(), source.CategoricalQuery{Window: core.WindowToday, Now: time.Now()})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url}, log.Nop())
	require.NoError(t, err)
	_, err = c.ListAuditLog(context.Background())
	assert.ErrorIs(t, err, source.ErrNetwork)
}

func TestCancelledRequestIsNotNetworkError(t *testing.T) {
	block := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	}, nil)
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListAuditLog(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, source.ErrNetwork)
}

func TestDeadlineIsNetworkError(t *testing.T) {
	block := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-block:
		}
	}, nil)
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ListAuditLog(ctx)
	assert.ErrorIs(t, err, source.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{"valid", http.StatusOK, `{"valid":true}`, true, nil},
		{"invalid", http.StatusOK, `{"valid":false}`, false, nil},
		{"unauthorized", http.StatusUnauthorized, ``, false, nil},
		{"missing field", http.StatusOK, `{}`, false, source.ErrMalformed},
		{"server error", http.StatusBadGateway, ``, false, source.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/session-check", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)
			got, err := c.CheckSession(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregatesAreCachedPerToken(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"month":1,"creditAmount":1,"debitAmount":1}]`))
	}, cache.NewLRUCache[[]byte](10, time.Minute))

	ctx := context.Background()
	q := source.VarianceQuery{Year: 2026}
	for range 3 {
		_, err := c.ReadVariance(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.ReadVariance(WithToken(ctx, "other"), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "a different session must not share entries")

	c.Purge()
	_, err = c.ReadVariance(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	// Logs bypass the cache.
	for range 2 {
		_, _ = c.ListAuditLog(ctx)
	}
	assert.Equal(t, int32(5), calls.Load())
}
