// Package instrument defines the contracts the control core drives:
// a temperature sensor, a staged-write heater, and a multiplexed channel
// scanner. Concrete drivers live in subpackages.
package instrument

import "context"

// HeaterMode selects how the heater output is computed.
type HeaterMode string

const (
	ModeOff        HeaterMode = "off"
	ModeMonitorOut HeaterMode = "monitor_out"
	ModeOpenLoop   HeaterMode = "open_loop"
	ModeZone       HeaterMode = "zone"
	ModeStill      HeaterMode = "still"
	ModeClosedLoop HeaterMode = "closed_loop"
	ModeWarmUp     HeaterMode = "warm_up"
)

// HeaterRange is one of the hardware-defined output current ranges.
type HeaterRange string

const (
	RangeOff    HeaterRange = "off"
	Range31uA   HeaterRange = "31.6uA"
	Range100uA  HeaterRange = "100uA"
	Range316uA  HeaterRange = "316uA"
	Range1mA    HeaterRange = "1mA"
	Range3mA    HeaterRange = "3.16mA"
	Range10mA   HeaterRange = "10mA"
	Range31mA   HeaterRange = "31.6mA"
	Range100mA  HeaterRange = "100mA"
)

// Ranges lists all output ranges in hardware enumeration order, the "off"
// range first. Range sweeps iterate this slice and skip RangeOff.
var Ranges = []HeaterRange{
	RangeOff,
	Range31uA,
	Range100uA,
	Range316uA,
	Range1mA,
	Range3mA,
	Range10mA,
	Range31mA,
	Range100mA,
}

// SensorChannels maps sensor names to scanner channel numbers.
var SensorChannels = map[string]int{
	"pt1":   1,
	"pt2":   2,
	"still": 5,
	"mxc":   6,
}

// Sensor reads one scalar temperature. Reads may fail transiently; callers
// at the polling boundary are expected to retry on the next tick.
type Sensor interface {
	Temperature(ctx context.Context) (float64, error)
}

// Heater stages control parameter writes. Staged values only take effect on
// the physical instrument after Commit, emulating the write-then-accept
// protocol of the hardware.
type Heater interface {
	SetMode(ctx context.Context, m HeaterMode) error
	SetRange(ctx context.Context, r HeaterRange) error
	SetP(ctx context.Context, p float64) error
	SetI(ctx context.Context, i float64) error
	SetD(ctx context.Context, d float64) error
	SetSetpoint(ctx context.Context, sp float64) error
	SetManualValue(ctx context.Context, v float64) error
	Commit(ctx context.Context) error
}

// Scanner controls the multiplexed channel selector in front of the sensors.
type Scanner interface {
	Autoscan(ctx context.Context) (bool, error)
	SetAutoscan(ctx context.Context, on bool) error
	SelectChannel(ctx context.Context, sensor string) error
}

// WriteSession stages one or more heater writes through fn and issues a
// single Commit on exit, even when fn fails. The commit error is reported
// only when fn itself succeeded.
func WriteSession(ctx context.Context, h Heater, fn func(Heater) error) error {
	err := fn(h)
	if cerr := h.Commit(ctx); err == nil {
		err = cerr
	}
	return err
}

// TurnOff forces the heater into the safe OFF state: mode off, range off,
// manual output zero, committed in one write session.
func TurnOff(ctx context.Context, h Heater) error {
	return WriteSession(ctx, h, func(h Heater) error {
		if err := h.SetMode(ctx, ModeOff); err != nil {
			return err
		}
		if err := h.SetRange(ctx, RangeOff); err != nil {
			return err
		}
		return h.SetManualValue(ctx, 0)
	})
}
