package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finstats/internal/core"
	"finstats/internal/fetch"
	"finstats/internal/guard"
	"finstats/internal/log"
	"finstats/internal/middleware/trace"
	"finstats/internal/statsview"
)

const statisticsRoute = "/statistics"

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// pinger is implemented by backends with a cheap connectivity check.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch p, ok := s.src.(pinger); {
	case s.src == nil:
		checks["source"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	case ok:
		if err := p.Ping(ctx); err != nil {
			checks["source"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["source"] = "ok"
		}
	default:
		checks["source"] = "ok"
	}

	checks["sessions"] = s.sessions.size()
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var fs fetch.Stats
	for _, sess := range s.sessions.all() {
		st := sess.view.Stats()
		fs.Issued += st.Issued
		fs.Applied += st.Applied
		fs.Discarded += st.Discarded
		fs.Failed += st.Failed
	}
	tm := s.traceMiddleware.GetMetrics()
	rl := s.rateLimiter.GetMetrics()
	sec := s.securityDetector.GetMetrics()

	var b bytes.Buffer
	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_response_time_avg_microseconds", "gauge", "Mean response time", tm.AverageResponseTime)
	metric("fetch_requests_issued_total", "counter", "Loads issued by open sessions", fs.Issued)
	metric("fetch_responses_applied_total", "counter", "Loads whose result was applied", fs.Applied)
	metric("fetch_responses_discarded_total", "counter", "Loads superseded by a newer request", fs.Discarded)
	metric("fetch_failures_total", "counter", "Current loads that failed", fs.Failed)
	metric("sessions_active", "gauge", "Open sessions", s.sessions.size())
	metric("rate_limit_hits_total", "counter", "Requests refused by the rate limiter", rl.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rl.ClientCount)
	metric("suspicious_requests_total", "counter", "Suspicious requests detected", sec.SuspiciousRequests)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.startedAt).Seconds()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Bytes())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, statisticsRoute, http.StatusFound)
}

// handleLoginPage renders the entry route. It never checks the session; an
// existing session's pending check is superseded so it cannot redirect
// away from the form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(r); ok {
		sess.guard.Navigate(sess.ctx(r.Context()), guard.EntryRoute)
	}
	s.render(w, r, http.StatusOK, "login.html", loginData{Mode: s.mode(r), RequireToken: s.opts.RequireToken})
}

type loginData struct {
	Mode         core.Mode
	RequireToken bool
	Error        string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		logger.WarnContext(r.Context(), "Parse form error", log.FieldError, err.Error())
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	token := sanitizeInput(r.PostForm.Get("token"))
	if len(token) > maxTokenLen || (s.opts.RequireToken && token == "") {
		s.render(w, r, http.StatusUnprocessableEntity, "login.html", loginData{
			Mode:         s.mode(r),
			RequireToken: s.opts.RequireToken,
			Error:        "Please enter a valid access token.",
		})
		return
	}

	if old, ok := s.session(r); ok {
		s.sessions.drop(old)
	}
	sess := s.sessions.create(token)
	s.setCookie(w, sessionCookie, sess.id, int(s.opts.SessionTTL.Seconds()))
	logger.InfoContext(r.Context(), "Session started", log.FieldOperation, log.OpStartup)
	redirect(w, r, statisticsRoute)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(r); ok {
		s.sessions.drop(sess)
	}
	s.clearSessionCookie(w)
	redirect(w, r, guard.EntryRoute)
}

// handleStatistics is the guarded page. Every visit runs the liveness
// check and reissues all loads, then renders whatever arrived within the
// request timeout.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.navigate(w, r, statisticsRoute)
	if !ok {
		return
	}
	ctx := sess.ctx(r.Context())
	s.wait(ctx, sess.view.Load(ctx)...)
	s.renderView(w, r, sess, "statistics.html")
}

func (s *Server) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.alive(w, r)
	if !ok {
		return
	}
	win, err := core.ParseWindow(r.FormValue("window"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := sess.view.SetWindow(sess.ctx(r.Context()), win)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.wait(r.Context(), p)
	s.renderView(w, r, sess, "categorical")
}

func (s *Server) handleSetDirection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.alive(w, r)
	if !ok {
		return
	}
	dir, err := core.ParseDirection(r.FormValue("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := sess.view.SetDirection(sess.ctx(r.Context()), dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.wait(r.Context(), p)
	s.renderView(w, r, sess, "series")
}

func (s *Server) handleSetYear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.alive(w, r)
	if !ok {
		return
	}
	year, err := strconv.Atoi(strings.TrimSpace(r.FormValue("year")))
	if err != nil || year < 1970 || year > 9999 {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}
	s.wait(r.Context(), sess.view.SetYear(sess.ctx(r.Context()), year)...)
	s.renderView(w, r, sess, "trends")
}

// handleLogsPage switches the audit log page locally; no data is fetched.
func (s *Server) handleLogsPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.alive(w, r)
	if !ok {
		return
	}
	sess.view.SetPage(parsePage(r))
	s.renderView(w, r, sess, "logs")
}

func (s *Server) handleRefreshLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.alive(w, r)
	if !ok {
		return
	}
	s.wait(r.Context(), sess.view.RefreshLogs(sess.ctx(r.Context())))
	s.renderView(w, r, sess, "logs")
}

// handleToggleTheme flips the display mode. Colors are assigned per mode,
// so the whole page re-renders.
func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	next := s.mode(r).Toggle()
	s.setCookie(w, themeCookie, string(next), 365*24*3600)
	if isHTMX(r) {
		w.Header().Set("HX-Refresh", "true")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, statisticsRoute, http.StatusSeeOther)
}

// handleSessionRefresh is the manual retry out of Unreachable.
func (s *Server) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		redirect(w, r, guard.EntryRoute)
		return
	}
	d := sess.guard.Refresh(sess.ctx(r.Context()))
	if !s.follow(w, r, sess, d) {
		return
	}
	redirect(w, r, statisticsRoute)
}

func (s *Server) handleAPIStatistics(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "not signed in", Redirect: guard.EntryRoute})
		return
	}
	ctx := sess.ctx(r.Context())
	d := sess.guard.Navigate(ctx, r.URL.Path)
	switch {
	case d.Redirect != "":
		s.sessions.drop(sess)
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "session expired", Redirect: d.Redirect})
		return
	case !d.Allowed():
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "session check failed", State: d.State.String()})
		return
	}

	s.wait(ctx, sess.view.Load(ctx)...)
	snap := sess.view.Snapshot(s.mode(r))
	if snap.Unauthorized {
		s.sessions.drop(sess)
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "session expired", Redirect: guard.EntryRoute})
		return
	}
	writeJSON(w, http.StatusOK, newAPISnapshot(snap))
}

// navigate runs the guard for a page route. It returns false when it has
// already answered the request with a redirect or the unreachable page.
func (s *Server) navigate(w http.ResponseWriter, r *http.Request, route string) (*session, bool) {
	sess, ok := s.session(r)
	if !ok {
		redirect(w, r, guard.EntryRoute)
		return nil, false
	}
	d := sess.guard.Navigate(sess.ctx(r.Context()), route)
	return sess, s.follow(w, r, sess, d)
}

// follow applies a guard decision. A redirect ends the session; anything
// but Alive renders the unreachable notice with its manual retry.
func (s *Server) follow(w http.ResponseWriter, r *http.Request, sess *session, d guard.Decision) bool {
	if d.Redirect != "" {
		s.sessions.drop(sess)
		s.clearSessionCookie(w)
		redirect(w, r, d.Redirect)
		return false
	}
	if !d.Allowed() {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Statistics unavailable", log.FieldLiveness, d.State.String())
		s.render(w, r, http.StatusServiceUnavailable, "unreachable.html", struct{ Mode core.Mode }{s.mode(r)})
		return false
	}
	return true
}

// alive admits partial requests only for sessions that passed the guard;
// anything else is sent through the full page, which runs the guard.
func (s *Server) alive(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.session(r)
	if !ok {
		redirect(w, r, guard.EntryRoute)
		return nil, false
	}
	if sess.guard.State() != guard.Alive {
		redirect(w, r, statisticsRoute)
		return nil, false
	}
	return sess, true
}

// wait blocks until the loads settle or the request timeout passes; late
// loads still land in the view for the next render.
func (s *Server) wait(ctx context.Context, pendings ...*fetch.Pending) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	if err := fetch.Wait(ctx, pendings...); err != nil {
		log.FromContext(ctx).DebugContext(ctx, "Rendering before every load settled", log.FieldError, err.Error())
	}
}

// renderView renders a page or partial from the session's view, or sends
// the user to the entry route when a load came back unauthorized.
func (s *Server) renderView(w http.ResponseWriter, r *http.Request, sess *session, name string) {
	snap := sess.view.Snapshot(s.mode(r))
	if snap.Unauthorized {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Session rejected by the server, signing out")
		s.sessions.drop(sess)
		s.clearSessionCookie(w)
		redirect(w, r, guard.EntryRoute)
		return
	}
	data, err := newPageData(snap)
	if err != nil {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Chart rendering failed",
			err, log.ComponentView, log.OpRender, log.NewFields().WithRequestID(trace.RequestID(r)))
		http.Error(w, "failed to render statistics", http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, name, data)
}

// render executes a template into a buffer so a failure still yields a
// clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	logger := log.FromContext(r.Context())
	if s.templates == nil {
		logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path, log.FieldComponent, log.ComponentTemplate)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		logger.ErrorContext(r.Context(), "Template execution failed", log.FieldError, err.Error(), "template", name)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type apiError struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
	State    string `json:"state,omitempty"`
}

type apiSlice struct {
	Label string  `json:"label"`
	Total string  `json:"total"`
	Cents int64   `json:"cents"`
	Color string  `json:"color"`
	Share float64 `json:"share"`
}

type apiSeriesPoint struct {
	Period string           `json:"period"`
	Values map[string]int64 `json:"values"`
}

type apiVariancePoint struct {
	Period string `json:"period"`
	Credit int64  `json:"credit"`
	Debit  int64  `json:"debit"`
}

type apiLogEntry struct {
	ID          string `json:"id"`
	Transaction string `json:"transaction"`
	Direction   string `json:"direction"`
	Cents       int64  `json:"cents"`
	Action      string `json:"action"`
	When        string `json:"when"`
	Color       string `json:"color"`
}

type apiNotice struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type apiSnapshot struct {
	Mode        string             `json:"mode"`
	Window      string             `json:"window"`
	Direction   string             `json:"direction"`
	Year        int                `json:"year"`
	Categorical []apiSlice         `json:"categorical"`
	Total       int64              `json:"total_cents"`
	Series      []apiSeriesPoint   `json:"series"`
	Variance    []apiVariancePoint `json:"variance"`
	Logs        []apiLogEntry      `json:"logs"`
	Page        int                `json:"page"`
	TotalPages  int                `json:"total_pages"`
	Loaded      map[string]bool    `json:"loaded"`
	Notices     []apiNotice        `json:"notices"`
	Stats       fetch.Stats        `json:"stats"`
}

func newAPISnapshot(snap statsview.Snapshot) apiSnapshot {
	out := apiSnapshot{
		Mode:        string(snap.Mode),
		Window:      string(snap.Filters.Window),
		Direction:   string(snap.Filters.Direction),
		Year:        snap.Filters.Year,
		Total:       snap.CategoricalTotal.Cents,
		Categorical: make([]apiSlice, 0, len(snap.Categorical)),
		Series:      make([]apiSeriesPoint, 0, len(snap.Series)),
		Variance:    make([]apiVariancePoint, 0, len(snap.Variance)),
		Logs:        make([]apiLogEntry, 0, len(snap.Logs.Items)),
		Page:        snap.Logs.Index,
		TotalPages:  snap.Logs.TotalPages,
		Loaded:      snap.Loaded,
		Notices:     make([]apiNotice, 0, len(snap.Notices)),
		Stats:       snap.Stats,
	}
	for _, sl := range snap.Categorical {
		out.Categorical = append(out.Categorical, apiSlice{
			Label: sl.Label, Total: sl.Total.String(), Cents: sl.Total.Cents, Color: sl.Color, Share: sl.Share,
		})
	}
	for _, p := range snap.Series {
		values := make(map[string]int64, len(p.Values))
		for k, m := range p.Values {
			values[k] = m.Cents
		}
		out.Series = append(out.Series, apiSeriesPoint{Period: p.PeriodLabel, Values: values})
	}
	for _, p := range snap.Variance {
		out.Variance = append(out.Variance, apiVariancePoint{Period: p.PeriodLabel, Credit: p.Credit.Cents, Debit: p.Debit.Cents})
	}
	for _, row := range snap.Logs.Items {
		out.Logs = append(out.Logs, apiLogEntry{
			ID:          row.ID,
			Transaction: row.TransactionName,
			Direction:   string(row.Direction),
			Cents:       row.Amount.Cents,
			Action:      row.Action.Description(),
			When:        row.When,
			Color:       row.ActionColor,
		})
	}
	for _, n := range snap.Notices {
		out.Notices = append(out.Notices, apiNotice{Key: n.Key, Kind: n.Kind.String(), Message: n.Message})
	}
	return out
}
