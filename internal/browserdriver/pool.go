package browserdriver

import "context"

// Factory opens a new browser session.
type Factory func(ctx context.Context) (Driver, error)

// SessionPool caps the number of concurrently open browser sessions across
// all tasks (default 5, per spec §4.6's orchestrator concurrency note). It
// does not reuse Driver instances between tasks — each Acquire opens a fresh
// session, and the release func only frees the slot (closing the Driver is
// the caller's job) — it only bounds concurrency.
type SessionPool struct {
	sem     chan struct{}
	factory Factory
}

// NewSessionPool creates a pool that allows at most maxConcurrent sessions
// open at once. maxConcurrent below 1 is treated as 1.
func NewSessionPool(maxConcurrent int, factory Factory) *SessionPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &SessionPool{
		sem:     make(chan struct{}, maxConcurrent),
		factory: factory,
	}
}

// Acquire blocks until a slot is free (or ctx is cancelled), then opens a new
// session via the pool's factory. The returned release func must be called
// exactly once to free the slot, whether or not the caller also calls
// Driver.Close.
func (p *SessionPool) Acquire(ctx context.Context) (Driver, func(), error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	}

	driver, err := p.factory(ctx)
	if err != nil {
		<-p.sem
		return nil, func() {}, err
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		<-p.sem
	}
	return driver, release, nil
}

// InUse reports how many sessions are currently checked out. Intended for
// telemetry gauges, not for synchronization decisions.
func (p *SessionPool) InUse() int {
	return len(p.sem)
}

// Capacity returns the pool's configured concurrency limit.
func (p *SessionPool) Capacity() int {
	return cap(p.sem)
}
