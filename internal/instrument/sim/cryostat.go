// Package sim provides an in-memory cryostat implementing the instrument
// contracts. It lets the monitor and the calibration procedures run without
// hardware: each sensor stage relaxes toward its equilibrium with a
// first-order model, and the sample heater shifts the mixing chamber
// equilibrium.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cryostat_controller/internal/instrument"
)

// Stage base temperatures in Kelvin, no heating applied.
const (
	basePT1K   = 50.0
	basePT2K   = 4.0
	baseStillK = 0.9
	baseMxcK   = 0.010

	// timeConstant is the first-order relaxation time of every stage.
	timeConstant = 10 * time.Second

	// riseKelvinPerWatt converts sample heater power into a mixing
	// chamber equilibrium shift.
	riseKelvinPerWatt = 20.0

	// heaterResistanceOhm models the sample heater load.
	heaterResistanceOhm = 120.0
)

// rangeMaxAmps maps each output range to its full-scale current.
var rangeMaxAmps = map[instrument.HeaterRange]float64{
	instrument.RangeOff:   0,
	instrument.Range31uA:  31.6e-6,
	instrument.Range100uA: 100e-6,
	instrument.Range316uA: 316e-6,
	instrument.Range1mA:   1e-3,
	instrument.Range3mA:   3.16e-3,
	instrument.Range10mA:  10e-3,
	instrument.Range31mA:  31.6e-3,
	instrument.Range100mA: 100e-3,
}

// heaterParams is one full parameter set of the sample heater.
type heaterParams struct {
	mode        instrument.HeaterMode
	rng         instrument.HeaterRange
	p, i, d     float64
	setpoint    float64
	manualValue float64 // percent of full-scale current
}

// Cryostat simulates the fridge. The zero value is not usable; construct it
// with New.
type Cryostat struct {
	mu sync.Mutex

	// temperatures holds the current Kelvin value per sensor name.
	temperatures map[string]float64
	// staged writes become active only on Commit.
	staged    heaterParams
	committed heaterParams

	autoscan bool
	channel  int

	lastStep time.Time
	now      func() time.Time
}

// New builds a cryostat settled at base temperatures, heater off and
// autoscan enabled.
func New() *Cryostat {
	return NewWithClock(time.Now)
}

// NewWithClock injects the time source, for tests that advance virtual time.
func NewWithClock(now func() time.Time) *Cryostat {
	off := heaterParams{mode: instrument.ModeOff, rng: instrument.RangeOff}
	return &Cryostat{
		temperatures: map[string]float64{
			"pt1":   basePT1K,
			"pt2":   basePT2K,
			"still": baseStillK,
			"mxc":   baseMxcK,
		},
		staged:    off,
		committed: off,
		autoscan:  true,
		channel:   instrument.SensorChannels["mxc"],
		lastStep:  now(),
		now:       now,
	}
}

// step advances every stage toward its equilibrium by the time elapsed since
// the previous step. Callers hold c.mu.
func (c *Cryostat) step() {
	now := c.now()
	dt := now.Sub(c.lastStep).Seconds()
	if dt <= 0 {
		return
	}
	c.lastStep = now

	decay := 1 - math.Exp(-dt/timeConstant.Seconds())
	for name, cur := range c.temperatures {
		eq := c.equilibrium(name)
		c.temperatures[name] = cur + (eq-cur)*decay
	}
}

// equilibrium returns the steady-state temperature of one stage under the
// committed heater settings. Only the mixing chamber feels the sample heater.
func (c *Cryostat) equilibrium(sensor string) float64 {
	base := map[string]float64{
		"pt1":   basePT1K,
		"pt2":   basePT2K,
		"still": baseStillK,
		"mxc":   baseMxcK,
	}[sensor]
	if sensor != "mxc" {
		return base
	}

	h := c.committed
	maxAmps := rangeMaxAmps[h.rng]
	switch h.mode {
	case instrument.ModeOpenLoop:
		amps := maxAmps * h.manualValue / 100
		return base + amps*amps*heaterResistanceOhm*riseKelvinPerWatt
	case instrument.ModeClosedLoop:
		// An ideal controller holds the setpoint when the range can
		// deliver enough power.
		if h.rng == instrument.RangeOff || h.p <= 0 {
			return base
		}
		maxRise := maxAmps * maxAmps * heaterResistanceOhm * riseKelvinPerWatt
		return math.Min(h.setpoint, base+maxRise)
	default:
		return base
	}
}

// Sensor returns the reader for the named stage (pt1, pt2, still, mxc).
func (c *Cryostat) Sensor(name string) (instrument.Sensor, error) {
	if _, ok := instrument.SensorChannels[name]; !ok {
		return nil, fmt.Errorf("sim: unknown sensor %q", name)
	}
	return &sensor{c: c, name: name}, nil
}

type sensor struct {
	c    *Cryostat
	name string
}

func (s *sensor) Temperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.step()
	return s.c.temperatures[s.name], nil
}

// Heater returns the staged-write sample heater.
func (c *Cryostat) Heater() instrument.Heater {
	return &heater{c: c}
}

type heater struct {
	c *Cryostat
}

func (h *heater) stage(ctx context.Context, fn func(*heaterParams)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	fn(&h.c.staged)
	return nil
}

func (h *heater) SetMode(ctx context.Context, m instrument.HeaterMode) error {
	return h.stage(ctx, func(p *heaterParams) { p.mode = m })
}

func (h *heater) SetRange(ctx context.Context, r instrument.HeaterRange) error {
	if _, ok := rangeMaxAmps[r]; !ok {
		return fmt.Errorf("sim: unknown heater range %q", r)
	}
	return h.stage(ctx, func(p *heaterParams) { p.rng = r })
}

func (h *heater) SetP(ctx context.Context, v float64) error {
	return h.stage(ctx, func(p *heaterParams) { p.p = v })
}

func (h *heater) SetI(ctx context.Context, v float64) error {
	return h.stage(ctx, func(p *heaterParams) { p.i = v })
}

func (h *heater) SetD(ctx context.Context, v float64) error {
	return h.stage(ctx, func(p *heaterParams) { p.d = v })
}

func (h *heater) SetSetpoint(ctx context.Context, v float64) error {
	return h.stage(ctx, func(p *heaterParams) { p.setpoint = v })
}

func (h *heater) SetManualValue(ctx context.Context, v float64) error {
	return h.stage(ctx, func(p *heaterParams) { p.manualValue = v })
}

// Commit latches the staged parameters. The thermal state is stepped first
// so the old settings apply up to the commit instant.
func (h *heater) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.step()
	h.c.committed = h.c.staged
	return nil
}

// Scanner returns the simulated channel selector.
func (c *Cryostat) Scanner() instrument.Scanner {
	return &scanner{c: c}
}

type scanner struct {
	c *Cryostat
}

func (s *scanner) Autoscan(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.autoscan, nil
}

func (s *scanner) SetAutoscan(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.autoscan = on
	return nil
}

func (s *scanner) SelectChannel(ctx context.Context, sensor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, ok := instrument.SensorChannels[sensor]
	if !ok {
		return fmt.Errorf("sim: unknown sensor %q", sensor)
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.channel = ch
	return nil
}
