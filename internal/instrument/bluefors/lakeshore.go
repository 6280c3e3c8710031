package bluefors

import (
	"context"
	"fmt"

	"cryostat_controller/internal/instrument"
)

// Dotted device prefixes inside the BlueFors API tree.
const (
	lakeshoreDevice = "driver.lakeshore"
	inputsDevice    = lakeshoreDevice + ".status.inputs"
	outputsDevice   = lakeshoreDevice + ".settings.outputs"
	scannerDevice   = lakeshoreDevice + ".status.scanner"
)

// The instrument stores modes and ranges as integer codes.
var heaterModeCodes = map[instrument.HeaterMode]int{
	instrument.ModeOff:        0,
	instrument.ModeMonitorOut: 1,
	instrument.ModeOpenLoop:   2,
	instrument.ModeZone:       3,
	instrument.ModeStill:      4,
	instrument.ModeClosedLoop: 5,
	instrument.ModeWarmUp:     6,
}

var heaterRangeCodes = map[instrument.HeaterRange]int{
	instrument.RangeOff:   0,
	instrument.Range31uA:  1,
	instrument.Range100uA: 2,
	instrument.Range316uA: 3,
	instrument.Range1mA:   4,
	instrument.Range3mA:   5,
	instrument.Range10mA:  6,
	instrument.Range31mA:  7,
	instrument.Range100mA: 8,
}

// Sensor returns a temperature reader for the named input channel
// (pt1, pt2, still, mxc).
func (c *Client) Sensor(name string) (instrument.Sensor, error) {
	ch, ok := instrument.SensorChannels[name]
	if !ok {
		return nil, fmt.Errorf("bluefors: unknown sensor %q", name)
	}
	return &sensor{c: c, target: fmt.Sprintf("%s.channel%d.temperature", inputsDevice, ch)}, nil
}

type sensor struct {
	c      *Client
	target string
}

func (s *sensor) Temperature(ctx context.Context) (float64, error) {
	return s.c.getValue(ctx, s.target)
}

// Heater returns the staged-write heater binding for the named output
// (warm_up, still, sample). Setters stage values on the instrument; Commit
// calls the device write method that latches them.
func (c *Client) Heater(name string) instrument.Heater {
	return &heater{c: c, device: outputsDevice + "." + name}
}

type heater struct {
	c      *Client
	device string
}

func (h *heater) set(ctx context.Context, param string, value any) error {
	return h.c.setValue(ctx, h.device+"."+param, value)
}

func (h *heater) SetMode(ctx context.Context, m instrument.HeaterMode) error {
	code, ok := heaterModeCodes[m]
	if !ok {
		return fmt.Errorf("bluefors: unknown heater mode %q", m)
	}
	return h.set(ctx, "mode", code)
}

func (h *heater) SetRange(ctx context.Context, r instrument.HeaterRange) error {
	code, ok := heaterRangeCodes[r]
	if !ok {
		return fmt.Errorf("bluefors: unknown heater range %q", r)
	}
	return h.set(ctx, "range", code)
}

func (h *heater) SetP(ctx context.Context, p float64) error { return h.set(ctx, "p", p) }
func (h *heater) SetI(ctx context.Context, i float64) error { return h.set(ctx, "i", i) }
func (h *heater) SetD(ctx context.Context, d float64) error { return h.set(ctx, "d", d) }

func (h *heater) SetSetpoint(ctx context.Context, sp float64) error {
	return h.set(ctx, "setpoint", sp)
}

func (h *heater) SetManualValue(ctx context.Context, v float64) error {
	return h.set(ctx, "manual_value", v)
}

func (h *heater) Commit(ctx context.Context) error {
	return h.c.callMethod(ctx, h.device+".write")
}

// Scanner returns the channel selector binding.
func (c *Client) Scanner() instrument.Scanner {
	return &scanner{c: c}
}

type scanner struct {
	c *Client
}

func (s *scanner) Autoscan(ctx context.Context) (bool, error) {
	v, err := s.c.getValue(ctx, scannerDevice+".autoscan")
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s *scanner) SetAutoscan(ctx context.Context, on bool) error {
	code := 0
	if on {
		code = 1
	}
	return s.c.setValue(ctx, scannerDevice+".autoscan", code)
}

func (s *scanner) SelectChannel(ctx context.Context, sensor string) error {
	ch, ok := instrument.SensorChannels[sensor]
	if !ok {
		return fmt.Errorf("bluefors: unknown sensor %q", sensor)
	}
	return s.c.setValue(ctx, scannerDevice+".channel", ch)
}
