// Package guard gates the authenticated area behind a session liveness check.
//
// The guard is a small state machine:
//
//	Checking -> Alive        session check reported a valid session
//	Checking -> Unreachable  the check failed for any reason other than an invalid session
//	Alive    -> Checking     navigation to another guarded route
//	Unreachable -> Checking  manual Refresh only
//
// The entry route bypasses the check and yields PassThrough. A check that
// reports an invalid session redirects to the entry route and never enters
// Alive or Unreachable.
package guard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"finstats/internal/log"
	"finstats/internal/source"
)

// EntryRoute is the unauthenticated entry point.
const EntryRoute = "/login"

const defaultTimeout = 5 * time.Second

type State int

const (
	Checking State = iota
	Alive
	Unreachable
	PassThrough
)

func (s State) String() string {
	switch s {
	case Checking:
		return "CHECKING"
	case Alive:
		return "ALIVE"
	case Unreachable:
		return "UNREACHABLE"
	case PassThrough:
		return "PASS_THROUGH"
	}
	return "UNKNOWN"
}

// Decision is what the caller should do with a navigation.
type Decision struct {
	State State
	// Redirect is set when the session is invalid; the caller must navigate
	// there instead of rendering the guarded route.
	Redirect string
}

// Allowed reports whether the route may be rendered.
func (d Decision) Allowed() bool {
	return d.Redirect == "" && (d.State == Alive || d.State == PassThrough)
}

type Options struct {
	// Timeout bounds one session check. Zero means five seconds.
	Timeout time.Duration
	// OnTransition is called with the guard lock held for every state change.
	OnTransition func(from, to State)
}

type Guard struct {
	checker source.SessionChecker
	timeout time.Duration
	notify  func(from, to State)
	logger  *log.Logger

	mu    sync.Mutex
	state State
	// epoch changes whenever a pending check stops being relevant; a check
	// only applies its outcome if the epoch it started under is current.
	epoch uint64

	flights singleflight.Group
}

func New(checker source.SessionChecker, opts Options, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Guard{
		checker: checker,
		timeout: timeout,
		notify:  opts.OnTransition,
		logger:  logger.WithComponent(log.ComponentGuard),
		state:   Checking,
	}
}

// State returns the current liveness state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Navigate decides whether route may be shown. The entry route passes
// through without a check. From Unreachable the state is kept until Refresh.
// Otherwise the guard moves to Checking and waits for a session check;
// concurrent navigations share one check.
func (g *Guard) Navigate(ctx context.Context, route string) Decision {
	g.mu.Lock()
	if route == EntryRoute {
		g.epoch++
		g.transition(PassThrough)
		g.mu.Unlock()
		g.logger.DebugContext(ctx, "Entry route passes through", log.FieldRoute, route)
		return Decision{State: PassThrough}
	}
	if g.state == Unreachable {
		g.mu.Unlock()
		return Decision{State: Unreachable}
	}
	g.transition(Checking)
	epoch := g.epoch
	g.mu.Unlock()

	return g.await(ctx, epoch, route)
}

// Refresh is the manual recovery action and the only way out of
// Unreachable. It joins a check already in flight and returns Alive
// without checking when the session is already known to be alive.
func (g *Guard) Refresh(ctx context.Context) Decision {
	g.mu.Lock()
	if g.state == Alive {
		g.mu.Unlock()
		return Decision{State: Alive}
	}
	g.transition(Checking)
	epoch := g.epoch
	g.mu.Unlock()

	return g.await(ctx, epoch, "")
}

func (g *Guard) await(ctx context.Context, epoch uint64, route string) Decision {
	ch := g.flights.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		return g.check(ctx, epoch, route), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Decision)
	case <-ctx.Done():
		// The check keeps running and still applies its outcome.
		return Decision{State: g.State()}
	}
}

// check runs one session check and applies its outcome if epoch is still
// current. It detaches from the caller's cancellation so a caller giving up
// cannot strand the guard in Checking, but keeps its values (the session
// token travels in the context).
func (g *Guard) check(ctx context.Context, epoch uint64, route string) Decision {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	valid, err := g.checker.CheckSession(cctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	fields := log.NewFields().WithOperation(log.OpCheck)
	fields[log.FieldDuration] = time.Since(start).Milliseconds()
	if route != "" {
		fields[log.FieldRoute] = route
	}

	if g.epoch != epoch {
		g.logger.DebugContext(ctx, "Session check superseded", fields.ToSlice()...)
		return Decision{State: g.state}
	}

	switch {
	case err == nil && valid:
		g.transition(Alive)
		return Decision{State: Alive}
	case err == nil, errors.Is(err, source.ErrUnauthorized):
		// Leaving for the entry route; further results for this epoch are moot.
		g.epoch++
		g.transition(PassThrough)
		g.logger.InfoContext(ctx, "Session invalid, redirecting", fields.ToSlice()...)
		return Decision{State: PassThrough, Redirect: EntryRoute}
	default:
		g.transition(Unreachable)
		g.logger.WarnContext(ctx, "Session check failed", fields.WithError(err).ToSlice()...)
		return Decision{State: Unreachable}
	}
}

// transition must be called with g.mu held.
func (g *Guard) transition(to State) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	g.logger.Debug("Liveness state changed", "from", from.String(), log.FieldLiveness, to.String())
	if g.notify != nil {
		g.notify(from, to)
	}
}
