package http

import (
	"context"
	"time"

	"github.com/google/uuid"

	"finstats/internal/cache"
	"finstats/internal/guard"
	"finstats/internal/log"
	"finstats/internal/source"
	"finstats/internal/source/api"
	"finstats/internal/statsview"
)

// session is one signed-in browser: its liveness guard and its statistics
// view. Both outlive single requests.
type session struct {
	id    string
	token string
	guard *guard.Guard
	view  *statsview.View
}

// ctx attaches the session's API token so detached loads and checks carry it.
func (s *session) ctx(parent context.Context) context.Context {
	if s.token == "" {
		return parent
	}
	return api.WithToken(parent, s.token)
}

type sessionRegistry struct {
	items   *cache.LRUCache[*session]
	manager *cache.Manager
	src     source.Source
	guard   guard.Options
	view    statsview.Config
	logger  *log.Logger
}

func newSessionRegistry(src source.Source, maxSessions int, ttl time.Duration, g guard.Options, v statsview.Config, logger *log.Logger) *sessionRegistry {
	items := cache.NewLRUCache[*session](maxSessions, ttl)
	manager := cache.NewManager(logger)
	manager.Register(items)
	manager.StartCleanup(sessionCleanupInterval)
	return &sessionRegistry{
		items:   items,
		manager: manager,
		src:     src,
		guard:   g,
		view:    v,
		logger:  logger,
	}
}

// create registers a new session for token.
func (r *sessionRegistry) create(token string) *session {
	id := uuid.NewString()
	logger := r.logger.With("session", id[:8])

	opts := r.guard
	opts.OnTransition = func(from, to guard.State) {
		logger.Debug("Liveness changed", "from", from.String(), log.FieldLiveness, to.String())
	}
	s := &session{
		id:    id,
		token: token,
		guard: guard.New(r.src, opts, logger),
		view:  statsview.New(r.src, r.view, logger),
	}
	r.items.Set(id, s)
	return s
}

// get returns the session and extends its idle lifetime.
func (r *sessionRegistry) get(id string) (*session, bool) {
	if id == "" {
		return nil, false
	}
	s, ok := r.items.Get(id)
	if !ok {
		return nil, false
	}
	r.items.Set(id, s)
	return s, true
}

// drop forgets the session and discards its in-flight loads.
func (r *sessionRegistry) drop(s *session) {
	if s == nil {
		return
	}
	s.view.Reset()
	r.items.Delete(s.id)
}

func (r *sessionRegistry) all() []*session {
	return r.items.Values()
}

func (r *sessionRegistry) size() int {
	return r.items.Size()
}

func (r *sessionRegistry) stop() {
	r.manager.Stop()
}
