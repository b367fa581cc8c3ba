package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/middleware/ratelimit"
	"finstats/internal/source"
	"finstats/internal/source/memory"
)

var (
	testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
)

// flakySource fails session checks while down is set.
type flakySource struct {
	*memory.Store
	down atomic.Bool
}

func (f *flakySource) CheckSession(ctx context.Context) (bool, error) {
	if f.down.Load() {
		return false, fmt.Errorf("%w: check session: connection refused", source.ErrNetwork)
	}
	return f.Store.CheckSession(ctx)
}

func testStore() *memory.Store {
	at := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	records := []core.TransactionRecord{
		{ID: "1", Name: "Rent", Direction: core.Debit, Amount: core.Money{Cents: 80000}, OccurredAt: at(1, 9), CategoryKey: "Rent"},
		{ID: "2", Name: "Food", Direction: core.Debit, Amount: core.Money{Cents: 1250}, OccurredAt: at(14, 8), CategoryKey: "Food"},
		{ID: "3", Name: "Salary", Direction: core.Credit, Amount: core.Money{Cents: 300000}, OccurredAt: time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC), CategoryKey: "Salary"},
	}
	logs := make([]core.AuditLogEntry, 10)
	for i := range logs {
		logs[i] = core.AuditLogEntry{
			ID:              fmt.Sprint(i),
			TransactionName: fmt.Sprintf("Entry %02d", i),
			Direction:       core.Debit,
			Amount:          core.Money{Cents: int64(100 * (i + 1))},
			Action:          core.ActionCreated,
			OccurredAt:      testNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return memory.New(records, logs)
}

func newTestServer(t *testing.T, src source.Source, mutate ...func(*Options)) *Server {
	t.Helper()
	opts := Options{
		RequestTimeout: 2 * time.Second,
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv := NewServer(":0", src, opts, log.Nop())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	require.NotNil(t, srv.templates)
	return srv
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

// signIn posts the login form and returns the session cookie.
func signIn(t *testing.T, srv *Server, token string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(url.Values{"token": {token}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := do(srv, req)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/statistics", rr.Header().Get("Location"))
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie {
			require.NotEmpty(t, c.Value)
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func get(path string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func post(path string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func htmx(req *http.Request) *http.Request {
	req.Header.Set("HX-Request", "true")
	return req
}

func TestHealthReadyMetrics(t *testing.T) {
	srv := newTestServer(t, testStore())

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, get(path))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	}

	var ready struct {
		Status string         `json:"status"`
		Checks map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(do(srv, get("/readyz")).Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["templates"])

	rr := do(srv, get("/metrics"))
	assert.Equal(t, http.StatusOK, rr.Code)
	for _, name := range []string{"http_requests_total", "fetch_requests_issued_total", "sessions_active 0", "uptime_seconds"} {
		assert.Contains(t, rr.Body.String(), name)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t, testStore())
	rr := do(srv, get("/healthz"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestIndexRedirectsToStatistics(t *testing.T) {
	srv := newTestServer(t, testStore())
	rr := do(srv, get("/"))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/statistics", rr.Header().Get("Location"))
}

func TestStatisticsWithoutSessionGoesToLogin(t *testing.T) {
	srv := newTestServer(t, testStore())

	rr := do(srv, get("/statistics"))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = do(srv, htmx(post("/statistics/window", url.Values{"window": {"YEAR"}})))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("HX-Redirect"))
}

func TestLoginPage(t *testing.T) {
	srv := newTestServer(t, testStore(), func(o *Options) { o.RequireToken = true })

	rr := do(srv, get("/login"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Sign in")

	rr = do(srv, post("/login", url.Values{"token": {"   "}}))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "valid access token")
}

func TestStatisticsPageRendersEveryDisplay(t *testing.T) {
	srv := newTestServer(t, testStore())
	cookie := signIn(t, srv, "")

	rr := do(srv, get("/statistics", cookie))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Contains(t, body, `data-theme="light"`)
	assert.Contains(t, body, "Distribution")
	assert.Contains(t, body, "Rent")
	assert.Contains(t, body, "800.00")
	assert.Contains(t, body, "812.50")
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, "Entry 00")
	assert.NotContains(t, body, "Entry 08")
	assert.Contains(t, body, "Page 1 of 2")
	assert.NotContains(t, body, "ZgotmplZ")
}

func TestPartialsSwapSections(t *testing.T) {
	srv := newTestServer(t, testStore())
	cookie := signIn(t, srv, "")
	require.Equal(t, http.StatusOK, do(srv, get("/statistics", cookie)).Code)

	rr := do(srv, htmx(post("/statistics/window", url.Values{"window": {"TODAY"}}, cookie)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rr.Body.String()), `<section id="categorical"`))
	assert.Contains(t, rr.Body.String(), "No data")

	rr = do(srv, htmx(post("/statistics/direction", url.Values{"direction": {"CREDIT"}}, cookie)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Salary")

	rr = do(srv, htmx(post("/statistics/year", url.Values{"year": {"2025"}}, cookie)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `id="trends"`)

	rr = do(srv, htmx(get("/statistics/logs?page=2", cookie)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Entry 08")
	assert.Contains(t, rr.Body.String(), "Page 2 of 2")

	rr = do(srv, htmx(post("/statistics/logs/refresh", nil, cookie)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Page 2 of 2")
}

func TestPartialsRejectBadInput(t *testing.T) {
	srv := newTestServer(t, testStore())
	cookie := signIn(t, srv, "")
	require.Equal(t, http.StatusOK, do(srv, get("/statistics", cookie)).Code)

	assert.Equal(t, http.StatusBadRequest, do(srv, post("/statistics/window", url.Values{"window": {"WEEK"}}, cookie)).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, post("/statistics/direction", url.Values{"direction": {"SIDEWAYS"}}, cookie)).Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, post("/statistics/year", url.Values{"year": {"twenty"}}, cookie)).Code)
}

func TestInvalidSessionRedirectsToLogin(t *testing.T) {
	store := testStore()
	srv := newTestServer(t, store)
	cookie := signIn(t, srv, "")

	store.SetSession(false)
	rr := do(srv, get("/statistics", cookie))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	// The session was dropped along with the redirect.
	rr = do(srv, get("/statistics", cookie))
	assert.Equal(t, "/login", rr.Header().Get("Location"))
	assert.Equal(t, 0, srv.sessions.size())
}

func TestUnreachableUntilRefresh(t *testing.T) {
	src := &flakySource{Store: testStore()}
	srv := newTestServer(t, src)
	cookie := signIn(t, srv, "")

	src.down.Store(true)
	rr := do(srv, get("/statistics", cookie))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "Server unreachable")

	// Unreachable holds even after the server comes back.
	src.down.Store(false)
	rr = do(srv, get("/statistics", cookie))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	// Partials are sent to the full page while the guard is not alive.
	rr = do(srv, htmx(post("/statistics/window", url.Values{"window": {"YEAR"}}, cookie)))
	assert.Equal(t, "/statistics", rr.Header().Get("HX-Redirect"))

	rr = do(srv, post("/session/refresh", nil, cookie))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/statistics", rr.Header().Get("Location"))

	rr = do(srv, get("/statistics", cookie))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t, testStore())
	cookie := signIn(t, srv, "")
	require.Equal(t, 1, srv.sessions.size())

	rr := do(srv, post("/logout", nil, cookie))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
	assert.Equal(t, 0, srv.sessions.size())
}

func TestThemeToggle(t *testing.T) {
	srv := newTestServer(t, testStore())
	cookie := signIn(t, srv, "")

	rr := do(srv, htmx(post("/statistics/theme", nil, cookie)))
	assert.Equal(t, "true", rr.Header().Get("HX-Refresh"))
	var theme *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == themeCookie {
			theme = c
		}
	}
	require.NotNil(t, theme)
	assert.Equal(t, "dark", theme.Value)

	rr = do(srv, get("/statistics", cookie, theme))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `data-theme="dark"`)
}

func TestAPIStatistics(t *testing.T) {
	srv := newTestServer(t, testStore())

	rr := do(srv, get("/api/statistics"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	cookie := signIn(t, srv, "")
	rr = do(srv, get("/api/statistics", cookie))
	require.Equal(t, http.StatusOK, rr.Code)

	var snap apiSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "MONTH", snap.Window)
	assert.Equal(t, "DEBIT", snap.Direction)
	assert.Equal(t, 2026, snap.Year)
	assert.Equal(t, int64(81250), snap.Total)
	require.Len(t, snap.Categorical, 2)
	assert.Equal(t, "Rent", snap.Categorical[0].Label)
	assert.Len(t, snap.Variance, 12)
	assert.Len(t, snap.Logs, 8)
	assert.Equal(t, 2, snap.TotalPages)
	assert.Empty(t, snap.Notices)
	assert.NotZero(t, snap.Stats.Applied)
}

func TestRateLimitOnFilterChanges(t *testing.T) {
	srv := newTestServer(t, testStore(), func(o *Options) {
		o.RateLimit = ratelimit.Config{RequestsPerMinute: 3, Methods: []string{http.MethodPost}}
	})
	cookie := signIn(t, srv, "")
	require.Equal(t, http.StatusOK, do(srv, get("/statistics", cookie)).Code)

	form := url.Values{"window": {"YEAR"}}
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(srv, post("/statistics/window", form, cookie)).Code)
	}
	rr := do(srv, htmx(post("/statistics/window", form, cookie)))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "none", rr.Header().Get("HX-Reswap"))

	// Reads are not throttled.
	assert.Equal(t, http.StatusOK, do(srv, get("/statistics", cookie)).Code)
}

func TestRefreshAllReloadsLiveSessions(t *testing.T) {
	store := testStore()
	srv := newTestServer(t, store)
	live := signIn(t, srv, "")
	require.Equal(t, http.StatusOK, do(srv, get("/statistics", live)).Code)
	signIn(t, srv, "") // never visited, still Checking

	assert.Equal(t, 1, srv.RefreshAll(context.Background()))
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t, testStore())
	rr := do(srv, get("/static/style.css"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=3600")
}

func TestSuspiciousMethodBlocked(t *testing.T) {
	srv := newTestServer(t, testStore())
	rr := do(srv, httptest.NewRequest("TRACE", "/statistics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
