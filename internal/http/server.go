// Package http serves the statistics UI: a login entry route, the guarded
// statistics page with HTMX partials, and a JSON snapshot endpoint.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"finstats/internal/core"
	"finstats/internal/guard"
	"finstats/internal/log"
	"finstats/internal/middleware/ratelimit"
	"finstats/internal/middleware/security"
	"finstats/internal/middleware/trace"
	"finstats/internal/source"
	"finstats/internal/statsview"
	appweb "finstats/web"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultSessionTTL      = 12 * time.Hour
	defaultMaxSessions     = 1000
	sessionCleanupInterval = 10 * time.Minute
	staticMaxAge           = 3600
)

// Options configure the server. Zero values take defaults.
type Options struct {
	// RequestTimeout bounds how long a render waits for its loads; loads
	// that finish later are still applied for the next render.
	RequestTimeout time.Duration
	// SessionCheckTimeout bounds one liveness check.
	SessionCheckTimeout time.Duration
	ClockSkew           time.Duration
	Location            *time.Location
	DefaultMode         core.Mode
	// RequireToken rejects sign-ins without a token; the api backend
	// needs one.
	RequireToken  bool
	SessionTTL    time.Duration
	MaxSessions   int
	RateLimit     ratelimit.Config
	SecureCookies bool
	// Now replaces the clock in tests.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DefaultMode != core.Dark {
		o.DefaultMode = core.Light
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = defaultSessionTTL
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = defaultMaxSessions
	}
	if o.RateLimit.RequestsPerMinute <= 0 {
		o.RateLimit = ratelimit.DefaultConfig()
	}
}

type Server struct {
	http.Server
	templates *template.Template
	src       source.Source
	opts      Options
	logger    *log.Logger
	startedAt time.Time

	sessions         *sessionRegistry
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server.
func NewServer(addr string, src source.Source, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	opts.defaults()
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		src:       src,
		opts:      opts,
		logger:    logger,
		startedAt: time.Now(),
		sessions: newSessionRegistry(src, opts.MaxSessions, opts.SessionTTL,
			guard.Options{Timeout: opts.SessionCheckTimeout},
			statsview.Config{Location: opts.Location, ClockSkew: opts.ClockSkew, Now: opts.Now},
			logger),
		rateLimiter:      ratelimit.NewLimiter(opts.RateLimit, logger),
		securityDetector: security.NewDetector(logger),
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", log.FieldError, err.Error(), log.FieldComponent, log.ComponentTemplate)
	}
	s.templates = t

	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET "+guard.EntryRoute, s.handleLoginPage)
	mux.HandleFunc("POST "+guard.EntryRoute, s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("POST /statistics/window", s.handleSetWindow)
	mux.HandleFunc("POST /statistics/direction", s.handleSetDirection)
	mux.HandleFunc("POST /statistics/year", s.handleSetYear)
	mux.HandleFunc("GET /statistics/logs", s.handleLogsPage)
	mux.HandleFunc("POST /statistics/logs/refresh", s.handleRefreshLogs)
	mux.HandleFunc("POST /statistics/theme", s.handleToggleTheme)
	mux.HandleFunc("POST /session/refresh", s.handleSessionRefresh)
	mux.HandleFunc("GET /api/statistics", s.handleAPIStatistics)

	var h http.Handler = mux
	h = security.NoStore(h)
	h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimit)(h)
	h = log.ComponentMiddleware(log.ComponentHTTP)(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(logger)(h)
	h = s.traceMiddleware.Middleware(h)
	h = s.securityDetector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// RefreshAll reissues every load of every live session. It is the reaction
// to a data change notification; each reload is a new request generation,
// so it cannot overwrite a newer filter change.
func (s *Server) RefreshAll(ctx context.Context) int {
	n := 0
	for _, sess := range s.sessions.all() {
		if sess.guard.State() != guard.Alive {
			continue
		}
		sess.view.Load(sess.ctx(ctx))
		n++
	}
	return n
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.sessions.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	if isHTMX(r) {
		// HTMX ignores non-2xx bodies unless told otherwise; show a notice.
		w.Header().Set("HX-Reswap", "none")
	}
	http.Error(w, "Too many requests. Please wait a minute and try again.", http.StatusTooManyRequests)
}
