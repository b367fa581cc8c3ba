// Package fetch coordinates asynchronous loads per logical query so that only
// the most recently issued request for a query key ever reaches visible state.
package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"finstats/internal/log"
)

// Coordinator hands out a generation number per query key on every request.
// A completed load is applied only if its generation is still the newest for
// its key; everything else is discarded, whatever the completion order.
type Coordinator struct {
	mu   sync.Mutex
	gens map[string]uint64

	// apply serializes result application so deliver callbacks never run
	// concurrently and the generation check and apply are atomic.
	apply sync.Mutex

	issued    atomic.Uint64
	applied   atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64

	onFailure func(*Error)

	logger *log.Logger
}

// Stats are lifetime counters, exposed for logs and the JSON endpoint.
type Stats struct {
	Issued    uint64 `json:"issued"`
	Applied   uint64 `json:"applied"`
	Discarded uint64 `json:"discarded"`
	Failed    uint64 `json:"failed"`
}

func New(logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Coordinator{
		gens:   make(map[string]uint64),
		logger: logger.WithComponent(log.ComponentFetch),
	}
}

// OnFailure registers fn to run for every failure of a current request,
// serialized with deliveries. Canceled requests are not reported. It must be
// called before the first Request.
func (c *Coordinator) OnFailure(fn func(*Error)) {
	c.onFailure = fn
}

// Pending tracks one issued request.
type Pending struct {
	key  string
	gen  uint64
	done chan struct{}

	// Written once before done is closed.
	err     error
	applied bool
	stale   bool
}

func (p *Pending) Key() string { return p.key }

func (p *Pending) Generation() uint64 { return p.gen }

func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the classified failure of a current request, or nil. A stale
// request never reports an error. Only valid after Done is closed.
func (p *Pending) Err() error { return p.err }

// Applied reports whether deliver ran. Only valid after Done is closed.
func (p *Pending) Applied() bool { return p.applied }

// Stale reports whether the result was discarded because a newer request
// for the same key had been issued. Only valid after Done is closed.
func (p *Pending) Stale() bool { return p.stale }

// Request starts load in its own goroutine under a new generation for key.
// When load succeeds and the generation is still current, deliver receives
// the value. Failures are classified into *Error; they are never retried.
func Request[T any](ctx context.Context, c *Coordinator, key string, load func(context.Context) (T, error), deliver func(T)) *Pending {
	p := &Pending{key: key, gen: c.next(key), done: make(chan struct{})}
	c.issued.Add(1)

	go func() {
		defer close(p.done)
		v, err := load(ctx)
		c.settle(ctx, p, err, func() { deliver(v) })
	}()
	return p
}

// CancelStalePriorTo supersedes every outstanding request for key; their
// results will be discarded when they arrive. It returns the generation a
// request issued now would have to beat.
func (c *Coordinator) CancelStalePriorTo(key string) uint64 {
	gen := c.next(key)
	c.logger.Debug("Outstanding requests superseded", log.NewFields().WithQuery(key, gen).ToSlice()...)
	return gen
}

// Current returns the newest generation issued for key.
func (c *Coordinator) Current(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Issued:    c.issued.Load(),
		Applied:   c.applied.Load(),
		Discarded: c.discarded.Load(),
		Failed:    c.failed.Load(),
	}
}

// Wait blocks until every pending request completed or ctx is done. It
// returns ctx's error in the latter case; request failures are read from
// each Pending.
func Wait(ctx context.Context, pendings ...*Pending) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pendings {
		if p == nil {
			continue
		}
		g.Go(func() error {
			select {
			case <-p.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func (c *Coordinator) next(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	return c.gens[key]
}

func (c *Coordinator) isCurrent(key string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key] == gen
}

func (c *Coordinator) settle(ctx context.Context, p *Pending, err error, deliver func()) {
	c.apply.Lock()
	defer c.apply.Unlock()

	fields := log.NewFields().WithQuery(p.key, p.gen)
	if !c.isCurrent(p.key, p.gen) {
		p.stale = true
		c.discarded.Add(1)
		c.logger.DebugContext(ctx, "Stale response discarded", fields.WithOperation(log.OpDiscard).ToSlice()...)
		return
	}

	if err != nil {
		kind := Classify(err)
		fe := &Error{Key: p.key, Kind: kind, Err: err}
		p.err = fe
		if kind == KindCanceled {
			return
		}
		c.failed.Add(1)
		fields[log.FieldErrorKind] = kind.String()
		c.logger.WarnContext(ctx, "Request failed", fields.WithError(err).ToSlice()...)
		if c.onFailure != nil {
			c.onFailure(fe)
		}
		return
	}

	deliver()
	p.applied = true
	c.applied.Add(1)
	c.logger.DebugContext(ctx, "Response applied", fields.WithOperation(log.OpApply).ToSlice()...)
}
