package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/stability"
)

// ErrNotImplemented marks the integral/derivative tuning extension point.
var ErrNotImplemented = errors.New("control: integral/derivative calibration is not implemented")

// Gain search bounds: the proportional gain starts at gainStart and doubles
// until it stabilizes the loop or reaches gainLimit; the committed gain is
// derated by gainDerate and clipped to [0, gainLimit].
const (
	gainStart  = 5.0
	gainLimit  = 1e4
	gainDerate = 0.6

	// manualOutputPercent is the fixed open-loop output used during the
	// range sweep, as a percentage of full scale.
	manualOutputPercent = 50.0

	// defaultSettleDelay lets the hardware latch a committed range change
	// before stability is assessed. Not tied to the stability window.
	defaultSettleDelay = 5 * time.Second
)

// StabilityWaiter is the detector-side contract the calibrator blocks on.
// The calibration tolerance is threaded in for the duration of one procedure;
// the previously configured tolerance is restored on exit.
type StabilityWaiter interface {
	Tolerance() float64
	SetTolerance(tol float64)
	WaitForStability(ctx context.Context, timeout time.Duration) error
}

// RangeOutcome records whether the signal stabilized on one heater range.
type RangeOutcome struct {
	Range  instrument.HeaterRange `json:"range"`
	Stable bool                   `json:"stable"`
}

// Calibrator sweeps heater output ranges and searches for a stabilizing
// proportional gain. Both procedures require an active session on the owning
// controller and force the heater into the safe OFF state on every exit
// path, including aborts.
type Calibrator struct {
	controller *Controller
	heater     instrument.Heater
	waiter     StabilityWaiter
	log        *logger.Logger

	// waitTimeout bounds each wait for stability; zero means unbounded,
	// in which case a calibration call may block indefinitely.
	waitTimeout time.Duration
	settleDelay time.Duration
}

// NewCalibrator builds a calibrator over the controller's detector and
// heater. waitTimeout bounds every individual stability wait (zero
// disables the bound).
func NewCalibrator(controller *Controller, heater instrument.Heater, waiter StabilityWaiter,
	waitTimeout time.Duration, log *logger.Logger) *Calibrator {

	return &Calibrator{
		controller:  controller,
		heater:      heater,
		waiter:      waiter,
		log:         log.Named("calibrator"),
		waitTimeout: waitTimeout,
		settleDelay: defaultSettleDelay,
	}
}

// CalibrateRanges drives the heater open-loop at a fixed 50% manual output
// and tests each hardware output range in enumeration order, skipping "off".
// A range passes when the signal stabilizes within tolerance; the first
// timeout records a failed range and aborts the sweep. The partial result is
// returned so the caller can inspect how far the sweep progressed.
func (c *Calibrator) CalibrateRanges(ctx context.Context, tolerance float64) ([]RangeOutcome, error) {
	if err := c.controller.requireSession(); err != nil {
		return nil, err
	}
	defer c.forceHeaterOff(ctx)

	prev := c.waiter.Tolerance()
	defer c.waiter.SetTolerance(prev)
	c.waiter.SetTolerance(tolerance)

	err := instrument.WriteSession(ctx, c.heater, func(h instrument.Heater) error {
		if err := h.SetMode(ctx, instrument.ModeOpenLoop); err != nil {
			return err
		}
		return h.SetManualValue(ctx, manualOutputPercent)
	})
	if err != nil {
		return nil, fmt.Errorf("configure open loop: %w", err)
	}

	var outcomes []RangeOutcome
	for _, r := range instrument.Ranges {
		if r == instrument.RangeOff {
			continue
		}
		err := instrument.WriteSession(ctx, c.heater, func(h instrument.Heater) error {
			return h.SetRange(ctx, r)
		})
		if err != nil {
			return outcomes, fmt.Errorf("set range %s: %w", r, err)
		}
		if err := c.settle(ctx); err != nil {
			return outcomes, err
		}

		c.log.Infow("waiting for stability", "range", r, "tolerance", tolerance)
		switch err := c.waiter.WaitForStability(ctx, c.waitTimeout); {
		case err == nil:
			c.log.Infow("range stabilized", "range", r)
			outcomes = append(outcomes, RangeOutcome{Range: r, Stable: true})
		case errors.Is(err, stability.ErrStabilityTimeout):
			// Sweep aborts on the first range that fails to stabilize;
			// remaining ranges stay untested.
			c.log.Warnw("range did not stabilize, aborting sweep", "range", r)
			outcomes = append(outcomes, RangeOutcome{Range: r, Stable: false})
			return outcomes, nil
		default:
			return outcomes, err
		}
	}
	return outcomes, nil
}

// CalibrateP searches for a proportional gain that stabilizes the closed
// loop at the given setpoint. Starting at 5.0 the gain doubles until the
// signal stabilizes or the gain reaches 1e4; the first success is trusted.
// The committed gain is 0.6 times the last tried value, clipped to [0, 1e4].
func (c *Calibrator) CalibrateP(ctx context.Context, setpoint, tolerance float64) (float64, error) {
	if err := c.controller.requireSession(); err != nil {
		return 0, err
	}
	defer c.forceHeaterOff(ctx)

	prev := c.waiter.Tolerance()
	defer c.waiter.SetTolerance(prev)
	c.waiter.SetTolerance(tolerance)

	err := instrument.WriteSession(ctx, c.heater, func(h instrument.Heater) error {
		if err := h.SetMode(ctx, instrument.ModeClosedLoop); err != nil {
			return err
		}
		return h.SetSetpoint(ctx, setpoint)
	})
	if err != nil {
		return 0, fmt.Errorf("configure closed loop: %w", err)
	}

	p := gainStart
	for p < gainLimit {
		err := instrument.WriteSession(ctx, c.heater, func(h instrument.Heater) error {
			return h.SetP(ctx, p)
		})
		if err != nil {
			return 0, fmt.Errorf("set gain %v: %w", p, err)
		}

		c.log.Infow("waiting for stability", "p", p, "setpoint", setpoint)
		werr := c.waiter.WaitForStability(ctx, c.waitTimeout)
		if werr == nil {
			break
		}
		if !errors.Is(werr, stability.ErrStabilityTimeout) {
			return 0, werr
		}
		p *= 2
	}

	gain := clip(p*gainDerate, 0, gainLimit)
	err = instrument.WriteSession(ctx, c.heater, func(h instrument.Heater) error {
		return h.SetP(ctx, gain)
	})
	if err != nil {
		return 0, fmt.Errorf("commit gain %v: %w", gain, err)
	}
	c.log.Infow("gain search finished", "last_p", p, "gain", gain)
	return gain, nil
}

// CalibrateI is the integral/derivative tuning extension point. Deliberately
// unimplemented.
func (c *Calibrator) CalibrateI(ctx context.Context, setpoint, tolerance float64) error {
	return ErrNotImplemented
}

// settle waits the fixed hardware latch delay, honoring cancellation.
func (c *Calibrator) settle(ctx context.Context) error {
	if c.settleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.settleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forceHeaterOff is the unconditional teardown: mode off, range off, manual
// output zero. Runs detached from cancellation so an aborted calibration
// still leaves the heater safe.
func (c *Calibrator) forceHeaterOff(ctx context.Context) {
	if err := instrument.TurnOff(context.WithoutCancel(ctx), c.heater); err != nil {
		c.log.Errorw("failed to force heater off", "err", err)
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
