package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"cryostat_controller/internal/instrument"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func readSensor(t *testing.T, c *Cryostat, name string) float64 {
	t.Helper()
	s, err := c.Sensor(name)
	if err != nil {
		t.Fatalf("Sensor(%s): %v", name, err)
	}
	v, err := s.Temperature(context.Background())
	if err != nil {
		t.Fatalf("Temperature(%s): %v", name, err)
	}
	return v
}

func TestCryostat_SettledAtBaseTemperatures(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := NewWithClock(clk.Now)
	clk.Advance(time.Minute)

	want := map[string]float64{"pt1": 50.0, "pt2": 4.0, "still": 0.9, "mxc": 0.010}
	for name, base := range want {
		if got := readSensor(t, c, name); math.Abs(got-base) > 1e-9 {
			t.Errorf("%s: want %v K, got %v K", name, base, got)
		}
	}
	if _, err := c.Sensor("ruox"); err == nil {
		t.Error("expected error for unknown sensor")
	}
}

func TestCryostat_StagedWritesInertUntilCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newFakeClock()
	c := NewWithClock(clk.Now)
	h := c.Heater()

	if err := h.SetMode(ctx, instrument.ModeOpenLoop); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := h.SetRange(ctx, instrument.Range10mA); err != nil {
		t.Fatalf("SetRange: %v", err)
	}
	if err := h.SetManualValue(ctx, 50); err != nil {
		t.Fatalf("SetManualValue: %v", err)
	}

	clk.Advance(10 * time.Minute)
	if got := readSensor(t, c, "mxc"); math.Abs(got-0.010) > 1e-9 {
		t.Fatalf("mxc moved before commit: %v K", got)
	}

	if err := h.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	clk.Advance(10 * time.Minute)
	after := readSensor(t, c, "mxc")
	if after <= 0.010 {
		t.Fatalf("mxc did not warm after commit: %v K", after)
	}
	// 5 mA into 120 ohm is 3 mW; at 20 K/W that lifts the stage by 60 mK.
	wantEq := 0.010 + 0.005*0.005*heaterResistanceOhm*riseKelvinPerWatt
	if math.Abs(after-wantEq) > 1e-6 {
		t.Fatalf("mxc equilibrium: want %v K, got %v K", wantEq, after)
	}
}

func TestCryostat_TurnOffRelaxesToBase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newFakeClock()
	c := NewWithClock(clk.Now)
	h := c.Heater()

	err := instrument.WriteSession(ctx, h, func(h instrument.Heater) error {
		if err := h.SetMode(ctx, instrument.ModeOpenLoop); err != nil {
			return err
		}
		if err := h.SetRange(ctx, instrument.Range31mA); err != nil {
			return err
		}
		return h.SetManualValue(ctx, 100)
	})
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	clk.Advance(10 * time.Minute)
	if got := readSensor(t, c, "mxc"); got <= 0.010 {
		t.Fatalf("mxc should be heated, got %v K", got)
	}

	if err := instrument.TurnOff(ctx, h); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	clk.Advance(10 * time.Minute)
	if got := readSensor(t, c, "mxc"); math.Abs(got-0.010) > 1e-6 {
		t.Fatalf("mxc should relax to base after turn-off, got %v K", got)
	}
}

func TestCryostat_ClosedLoopHoldsSetpointWithinRangePower(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newFakeClock()
	c := NewWithClock(clk.Now)
	h := c.Heater()

	configure := func(rng instrument.HeaterRange) {
		err := instrument.WriteSession(ctx, h, func(h instrument.Heater) error {
			if err := h.SetMode(ctx, instrument.ModeClosedLoop); err != nil {
				return err
			}
			if err := h.SetRange(ctx, rng); err != nil {
				return err
			}
			if err := h.SetP(ctx, 10); err != nil {
				return err
			}
			return h.SetSetpoint(ctx, 0.100)
		})
		if err != nil {
			t.Fatalf("WriteSession: %v", err)
		}
	}

	configure(instrument.Range10mA)
	clk.Advance(10 * time.Minute)
	if got := readSensor(t, c, "mxc"); math.Abs(got-0.100) > 1e-6 {
		t.Fatalf("closed loop should hold the setpoint, got %v K", got)
	}

	// A tiny range cannot supply enough power to reach 100 mK.
	configure(instrument.Range31uA)
	clk.Advance(10 * time.Minute)
	if got := readSensor(t, c, "mxc"); got >= 0.050 {
		t.Fatalf("31.6uA range should undershoot the setpoint, got %v K", got)
	}
}

func TestCryostat_ScannerSelectionAndAutoscan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New()
	sc := c.Scanner()

	on, err := sc.Autoscan(ctx)
	if err != nil || !on {
		t.Fatalf("autoscan: want on, got %v (err %v)", on, err)
	}
	if err := sc.SetAutoscan(ctx, false); err != nil {
		t.Fatalf("SetAutoscan: %v", err)
	}
	if on, _ = sc.Autoscan(ctx); on {
		t.Fatal("autoscan should be off")
	}

	if err := sc.SelectChannel(ctx, "still"); err != nil {
		t.Fatalf("SelectChannel: %v", err)
	}
	if err := sc.SelectChannel(ctx, "bogus"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
