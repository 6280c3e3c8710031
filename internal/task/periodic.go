// Package task provides a repeating background operation with cooperative,
// low-latency cancellation.
package task

import (
	"context"
	"sync"
	"time"

	"cryostat_controller/internal/logger"
)

// TickFunc is one iteration of a periodic task. A non-nil error is logged
// and the loop proceeds to the next iteration; it never terminates the task.
type TickFunc func(ctx context.Context) error

// Periodic runs a TickFunc on a fixed interval in its own goroutine.
//
// Start is idempotent, Stop blocks until the goroutine has fully exited, and
// the inter-tick wait is interruptible so shutdown latency is bounded by
// scheduling overhead rather than by the interval.
type Periodic struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      *logger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewPeriodic builds a stopped task. The name tags log output.
func NewPeriodic(name string, interval time.Duration, tick TickFunc, log *logger.Logger) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log.Named(name),
	}
}

// Start launches the background loop. Calling Start on a running task is a
// no-op; a duplicate loop is never spawned.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.cancel = cancel
	go p.run(ctx, p.stop, p.done)
}

// Stop requests termination and blocks until the loop has fully exited.
// Safe to call from any goroutine and safe to call repeatedly; concurrent
// callers all return only after the loop is gone. An in-flight tick is
// allowed to complete (its context is cancelled to hurry it along).
func (p *Periodic) Stop() {
	p.mu.Lock()
	if !p.running {
		done := p.done
		p.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	p.running = false
	stop, done, cancel := p.stop, p.done, p.cancel
	p.mu.Unlock()

	cancel()
	close(stop)
	<-done
}

// Running reports whether the loop is currently active.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Periodic) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	p.log.Debugw("task started", "interval", p.interval)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		// A stop request observed between ticks wins over the next tick.
		select {
		case <-stop:
			p.log.Debugw("task stopped")
			return
		default:
		}

		if err := p.tick(ctx); err != nil {
			p.log.Errorw("task iteration failed", "err", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)

		select {
		case <-stop:
			p.log.Debugw("task stopped")
			return
		case <-timer.C:
		}
	}
}
