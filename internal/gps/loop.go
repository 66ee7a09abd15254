package gps

import (
	"context"
	"time"
)

// DefaultTickInterval is the engine cadence.
const DefaultTickInterval = time.Millisecond

// Loop owns an Engine: it runs Begin, then Tick on a fixed cadence, and runs
// submitted requests between ticks.
type Loop struct {
	engine   *Engine
	interval time.Duration
	reqs     chan request
}

type request struct {
	fn   func(*Engine)
	done chan struct{}
}

func NewLoop(e *Engine, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Loop{engine: e, interval: interval, reqs: make(chan request)}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	l.engine.Begin()

	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-l.reqs:
			r.fn(l.engine)
			close(r.done)
		case <-t.C:
			l.engine.Tick()
		}
	}
}

// Do runs fn on the loop goroutine and waits for it. Profile changes hold
// the loop for the whole UBX exchange, so callers should allow a few
// seconds. A cancelled ctx abandons the wait, not fn.
func (l *Loop) Do(ctx context.Context, fn func(*Engine)) error {
	r := request{fn: fn, done: make(chan struct{})}
	select {
	case l.reqs <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Engine exposes the engine for goroutine-safe reads such as Snapshot.
func (l *Loop) Engine() *Engine { return l.engine }
