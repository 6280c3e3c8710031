// Package stability implements the concurrent sampling pipeline: a periodic
// poller feeding sliding windows, and a detector that judges whether the
// sampled signal has stopped drifting.
package stability

import (
	"context"
	"math"
	"time"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/task"
	"cryostat_controller/internal/window"
)

// Poller periodically reads a sensor and appends the value to one or more
// sliding windows within the same tick. Read failures and NaN readings are
// logged, skipped and retried on the next tick; they never stop the loop.
type Poller struct {
	task    *task.Periodic
	sensor  instrument.Sensor
	windows []*window.SlidingWindow
	log     *logger.Logger

	// onSample runs after a successful append, with the accepted value.
	onSample func(v float64)
	// onReadError runs when a read fails or yields NaN.
	onReadError func(err error)
}

// NewPoller builds a stopped poller over the given sensor and target windows.
func NewPoller(name string, interval time.Duration, sensor instrument.Sensor,
	log *logger.Logger, windows ...*window.SlidingWindow) *Poller {

	p := &Poller{
		sensor:  sensor,
		windows: windows,
		log:     log.Named(name),
	}
	p.task = task.NewPeriodic(name, interval, p.tick, log)
	return p
}

// OnSample registers a hook invoked with every accepted reading. Must be set
// before Start.
func (p *Poller) OnSample(fn func(v float64)) { p.onSample = fn }

// OnReadError registers a hook invoked for every skipped reading. Must be
// set before Start.
func (p *Poller) OnReadError(fn func(err error)) { p.onReadError = fn }

// Start launches the poll loop. Idempotent.
func (p *Poller) Start() { p.task.Start() }

// Stop halts the loop and blocks until it has exited. No sample is appended
// after Stop returns.
func (p *Poller) Stop() { p.task.Stop() }

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool { return p.task.Running() }

func (p *Poller) tick(ctx context.Context) error {
	v, err := p.sensor.Temperature(ctx)
	if err != nil {
		// Transient by contract at this boundary: retried next tick.
		p.log.Warnw("sensor read failed, retrying next tick", "err", err)
		p.reportReadError(err)
		return nil
	}
	if math.IsNaN(v) {
		p.log.Warnw("sensor returned NaN, sample discarded")
		p.reportReadError(instrument.Transient("read", errNaNReading))
		return nil
	}
	for _, w := range p.windows {
		w.Append(v)
	}
	if p.onSample != nil {
		p.onSample(v)
	}
	return nil
}

func (p *Poller) reportReadError(err error) {
	if p.onReadError != nil {
		p.onReadError(err)
	}
}
