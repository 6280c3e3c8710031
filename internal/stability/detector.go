package stability

import (
	"context"
	"errors"
	"sync"
	"time"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/window"
)

var (
	// ErrStabilityTimeout is the primary, expected abort signal for
	// calibration: the detector did not reach STABLE within the caller's
	// bound.
	ErrStabilityTimeout = errors.New("stability: timed out waiting for signal to stabilize")

	errNaNReading = errors.New("NaN reading")
)

// rSquaredThreshold is the minimum fit quality for a trend to count as a
// genuine (non-)drift rather than noise.
const rSquaredThreshold = 0.95

// Status is a point-in-time copy of the detector's verdict.
type Status struct {
	Stable      bool
	StableSince time.Time // zero unless Stable
	Drift       float64   // |slope| * full_time, kelvin
	RSquared    float64
	Tolerance   float64
	WindowFull  bool
	LastValue   float64
	UpdatedAt   time.Time
}

// TransitionFunc observes STABLE/UNSTABLE transitions. Called outside the
// detector lock.
type TransitionFunc func(stable bool, since time.Time, drift, rSquared float64)

// Detector extends a Poller with a linear-regression stability criterion
// evaluated after every sample. The signal is STABLE when the total
// predicted drift over the configured minimum window span stays within
// tolerance and the fit is good (R² > 0.95).
//
// On the transition into STABLE the moment of stabilization is back-dated to
// the start of the qualifying window and all waiters are woken. On falling
// out of STABLE the stability window is cleared so stale pre-drift samples
// cannot contaminate the next fit.
type Detector struct {
	poller *Poller
	win    *window.SlidingWindow
	log    *logger.Logger
	now    func() time.Time

	// maxKelvin, when positive, is the overtemperature ceiling.
	maxKelvin  float64
	onOvertemp func(v float64)

	mu           sync.Mutex
	tolerance    float64
	stable       bool
	stableSince  time.Time
	stableCh     chan struct{} // armed (open) while UNSTABLE, closed on STABLE
	lastDrift    float64
	lastR2       float64
	lastValue    float64
	lastEval     time.Time
	onTransition TransitionFunc
	onSample     func(v float64)
}

// Config carries detector construction parameters.
type Config struct {
	Name      string
	Interval  time.Duration
	Tolerance float64 // kelvin over the full window span
	MaxKelvin float64 // 0 disables the overtemperature guard
}

// NewDetector wires a detector over its stability window. Extra windows
// receive the same samples in the same tick (e.g. a longer plotting window).
func NewDetector(cfg Config, sensor instrument.Sensor, stabilityWindow *window.SlidingWindow,
	log *logger.Logger, extra ...*window.SlidingWindow) *Detector {

	d := &Detector{
		win:       stabilityWindow,
		log:       log.Named(cfg.Name),
		now:       time.Now,
		maxKelvin: cfg.MaxKelvin,
		tolerance: cfg.Tolerance,
		stableCh:  make(chan struct{}),
	}
	windows := append([]*window.SlidingWindow{stabilityWindow}, extra...)
	d.poller = NewPoller(cfg.Name, cfg.Interval, sensor, log, windows...)
	d.poller.OnSample(d.observe)
	return d
}

// Start launches the sampling loop. Idempotent.
func (d *Detector) Start() { d.poller.Start() }

// Stop halts sampling and blocks until the loop has exited.
func (d *Detector) Stop() { d.poller.Stop() }

// Running reports whether sampling is active.
func (d *Detector) Running() bool { return d.poller.Running() }

// OnReadError forwards to the underlying poller. Must be set before Start.
func (d *Detector) OnReadError(fn func(err error)) { d.poller.OnReadError(fn) }

// OnTransition registers a hook for STABLE/UNSTABLE transitions. Must be set
// before Start.
func (d *Detector) OnTransition(fn TransitionFunc) {
	d.mu.Lock()
	d.onTransition = fn
	d.mu.Unlock()
}

// OnOvertemp registers a hook invoked whenever a reading exceeds the
// configured ceiling. Must be set before Start.
func (d *Detector) OnOvertemp(fn func(v float64)) { d.onOvertemp = fn }

// OnSample registers a hook invoked with every accepted reading, after the
// stability verdict has been updated. Must be set before Start.
func (d *Detector) OnSample(fn func(v float64)) { d.onSample = fn }

// SetTolerance updates the stability tolerance. The new value applies from
// the next evaluation; it does not retroactively change the current verdict.
func (d *Detector) SetTolerance(tol float64) {
	d.mu.Lock()
	d.tolerance = tol
	d.mu.Unlock()
}

// Tolerance returns the currently configured stability tolerance.
func (d *Detector) Tolerance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tolerance
}

// Status returns a copy of the current verdict.
func (d *Detector) Status() Status {
	full := d.win.IsFull()
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Stable:      d.stable,
		StableSince: d.stableSince,
		Drift:       d.lastDrift,
		RSquared:    d.lastR2,
		Tolerance:   d.tolerance,
		WindowFull:  full,
		LastValue:   d.lastValue,
		UpdatedAt:   d.lastEval,
	}
}

// observe runs after each successful append to the stability window.
func (d *Detector) observe(v float64) {
	d.evaluate(v)
	if d.onSample != nil {
		d.onSample(v)
	}
}

func (d *Detector) evaluate(v float64) {
	if d.maxKelvin > 0 && v > d.maxKelvin {
		d.log.Warnw("maximum temperature exceeded", "kelvin", v, "max_kelvin", d.maxKelvin)
		if d.onOvertemp != nil {
			d.onOvertemp(v)
		}
	}

	now := d.now()
	if !d.win.IsFull() {
		d.mu.Lock()
		d.lastValue = v
		d.lastEval = now
		d.mu.Unlock()
		return
	}

	fit, ok := linearFit(d.win.Snapshot())
	if !ok {
		return
	}
	fullTime := d.win.FullTime()
	dr := drift(fit.Slope, fullTime)

	d.mu.Lock()
	d.lastValue = v
	d.lastEval = now
	d.lastDrift = dr
	d.lastR2 = fit.RSquared
	isStable := dr <= d.tolerance && fit.RSquared > rSquaredThreshold

	var transitioned, lost bool
	var fireSince time.Time
	switch {
	case isStable && !d.stable:
		d.stable = true
		// Back-dated to the start of the qualifying window.
		d.stableSince = now.Add(-fullTime)
		close(d.stableCh)
		transitioned, fireSince = true, d.stableSince
		d.log.Infow("signal stable", "drift", dr, "r_squared", fit.RSquared,
			"tolerance", d.tolerance, "stable_since", d.stableSince)
	case !isStable && d.stable:
		d.stable = false
		d.stableSince = time.Time{}
		d.stableCh = make(chan struct{})
		transitioned, lost = true, true
		d.log.Infow("signal lost stability", "drift", dr, "r_squared", fit.RSquared,
			"tolerance", d.tolerance)
	}
	fire := d.onTransition
	d.mu.Unlock()

	if !transitioned {
		return
	}
	if lost {
		// Stale pre-drift samples must not contaminate the next fit,
		// whether or not anyone observes transitions.
		d.win.Clear()
	}
	if fire != nil {
		fire(!lost, fireSince, dr, fit.RSquared)
	}
}

// WaitForStability blocks until the detector is STABLE, the timeout expires,
// or ctx is cancelled. A zero timeout means no bound: the call may block
// indefinitely (until ctx cancellation). If the detector is already STABLE
// the call returns immediately. Any number of callers may wait concurrently;
// all are woken by the same transition broadcast.
func (d *Detector) WaitForStability(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.stable {
		d.mu.Unlock()
		return nil
	}
	ch := d.stableCh
	d.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ch:
		return nil
	case <-timeoutCh:
		return ErrStabilityTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
