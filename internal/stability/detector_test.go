package stability

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/window"
)

// fakeClock drives both the window and the detector on virtual time.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

const (
	testTTL       = 10 * time.Minute
	testFullTime  = 5 * time.Minute
	testTolerance = 1e-3
)

// newTestDetector builds a detector on virtual time whose sampling loop is
// never started; samples are injected through feed.
func newTestDetector(t *testing.T, tolerance float64) (*Detector, *window.SlidingWindow, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	w, err := window.NewWithClock(testTTL, testFullTime, clk.Now)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	d := NewDetector(Config{
		Name:      "detector-test",
		Interval:  time.Second,
		Tolerance: tolerance,
	}, nil, w, logger.Get(logger.ErrorLevel))
	d.now = clk.Now
	return d, w, clk
}

// feed appends a value and runs one detector evaluation, then advances the
// clock by step.
func feed(d *Detector, w *window.SlidingWindow, clk *fakeClock, v float64, step time.Duration) {
	w.Append(v)
	d.observe(v)
	clk.Advance(step)
}

func TestConstantSignalBecomesStable(t *testing.T) {
	t.Parallel()

	d, w, clk := newTestDetector(t, testTolerance)

	var since, transitionNow time.Time
	d.OnTransition(func(stable bool, s time.Time, drift, r2 float64) {
		if stable && transitionNow.IsZero() {
			since = s
			transitionNow = clk.Now()
		}
	})

	step := 5 * time.Second
	for i := 0; i < 100; i++ {
		feed(d, w, clk, 4.000, step)
	}

	st := d.Status()
	if !st.Stable {
		t.Fatalf("constant signal not stable: %+v", st)
	}
	if transitionNow.IsZero() {
		t.Fatal("transition hook never fired")
	}
	// stable_since is back-dated to the start of the qualifying window,
	// relative to the moment of transition.
	want := transitionNow.Add(-testFullTime)
	if diff := since.Sub(want); diff < -step || diff > step {
		t.Fatalf("stable_since %v, want %v ± %v", since, want, step)
	}
	if st.RSquared <= rSquaredThreshold {
		t.Fatalf("constant fit R²=%v, want > %v", st.RSquared, rSquaredThreshold)
	}
}

func TestDriftingSignalNeverStable(t *testing.T) {
	t.Parallel()

	d, w, clk := newTestDetector(t, testTolerance)

	// Slope chosen so |k| * full_time greatly exceeds tolerance.
	slope := 10 * testTolerance / testFullTime.Seconds()
	step := 5 * time.Second
	for i := 0; i < 200; i++ {
		v := 4.0 + slope*float64(i)*step.Seconds()
		feed(d, w, clk, v, step)
	}

	st := d.Status()
	if st.Stable {
		t.Fatalf("drifting signal reported stable: %+v", st)
	}
	if !st.WindowFull {
		t.Fatal("window never filled; test is not exercising the criterion")
	}
	if st.Drift <= testTolerance {
		t.Fatalf("drift %v unexpectedly within tolerance %v", st.Drift, testTolerance)
	}
}

func TestNoisyDriftRejectedByFitQuality(t *testing.T) {
	t.Parallel()

	d, w, clk := newTestDetector(t, 10.0) // generous drift tolerance

	// Alternating signal: tiny slope but terrible fit.
	step := 5 * time.Second
	for i := 0; i < 100; i++ {
		v := 4.0
		if i%2 == 0 {
			v = 6.0
		}
		feed(d, w, clk, v, step)
	}

	st := d.Status()
	if st.Stable {
		t.Fatalf("poorly fit signal reported stable: R²=%v", st.RSquared)
	}
	if st.RSquared > rSquaredThreshold {
		t.Fatalf("alternating signal R²=%v, expected below threshold", st.RSquared)
	}
}

func TestStabilityLossClearsWindowAndState(t *testing.T) {
	t.Parallel()

	d, w, clk := newTestDetector(t, testTolerance)

	var transitions []bool
	d.OnTransition(func(stable bool, since time.Time, drift, r2 float64) {
		transitions = append(transitions, stable)
	})

	step := 5 * time.Second
	for i := 0; i < 100; i++ {
		feed(d, w, clk, 4.000, step)
	}
	if !d.Status().Stable {
		t.Fatal("precondition failed: detector not stable after constant run")
	}
	preStepCount := w.Len()

	// Step change large enough to break the fit criterion.
	for i := 0; i < 10 && d.Status().Stable; i++ {
		feed(d, w, clk, 40.0, step)
	}

	st := d.Status()
	if st.Stable {
		t.Fatal("detector still stable after step change")
	}
	if !st.StableSince.IsZero() {
		t.Fatalf("stable_since not unset on loss: %v", st.StableSince)
	}
	snap := w.Snapshot()
	if len(snap) >= preStepCount {
		t.Fatalf("window not cleared on stability loss: %d samples retained", len(snap))
	}
	for _, s := range snap {
		if s.Value == 4.000 {
			t.Fatalf("pre-step sample survived clear(): %+v", s)
		}
	}
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Fatalf("unexpected transition sequence: %v", transitions)
	}
}

func TestStabilityLossClearsWindowWithoutHooks(t *testing.T) {
	t.Parallel()

	// No OnTransition hook registered: the calibrator path only ever
	// waits, so the clear must not depend on an observer.
	d, w, clk := newTestDetector(t, testTolerance)

	step := 5 * time.Second
	for i := 0; i < 100; i++ {
		feed(d, w, clk, 4.000, step)
	}
	if !d.Status().Stable {
		t.Fatal("precondition failed: detector not stable after constant run")
	}

	for i := 0; i < 10 && d.Status().Stable; i++ {
		feed(d, w, clk, 40.0, step)
	}
	if d.Status().Stable {
		t.Fatal("detector still stable after step change")
	}

	for _, s := range w.Snapshot() {
		if s.Value == 4.000 {
			t.Fatalf("pre-step sample survived the loss transition: %+v", s)
		}
	}
}

func TestWaitForStability(t *testing.T) {
	t.Parallel()

	t.Run("times out when signal never fires", func(t *testing.T) {
		t.Parallel()
		d, _, _ := newTestDetector(t, testTolerance)
		err := d.WaitForStability(context.Background(), 20*time.Millisecond)
		if !errors.Is(err, ErrStabilityTimeout) {
			t.Fatalf("want ErrStabilityTimeout, got %v", err)
		}
	})

	t.Run("returns immediately when already stable", func(t *testing.T) {
		t.Parallel()
		d, w, clk := newTestDetector(t, testTolerance)
		for i := 0; i < 100; i++ {
			feed(d, w, clk, 4.0, 5*time.Second)
		}
		start := time.Now()
		if err := d.WaitForStability(context.Background(), time.Minute); err != nil {
			t.Fatalf("WaitForStability: %v", err)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Fatal("wait did not return immediately for an already-stable detector")
		}
	})

	t.Run("broadcast wakes all concurrent waiters", func(t *testing.T) {
		t.Parallel()
		d, w, clk := newTestDetector(t, testTolerance)

		const waiters = 5
		results := make(chan error, waiters)
		var ready sync.WaitGroup
		for i := 0; i < waiters; i++ {
			ready.Add(1)
			go func() {
				ready.Done()
				results <- d.WaitForStability(context.Background(), 5*time.Second)
			}()
		}
		ready.Wait()

		for i := 0; i < 100; i++ {
			feed(d, w, clk, 4.0, 5*time.Second)
		}

		for i := 0; i < waiters; i++ {
			select {
			case err := <-results:
				if err != nil {
					t.Fatalf("waiter %d: %v", i, err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("waiter %d never woke", i)
			}
		}
	})

	t.Run("context cancellation unblocks the wait", func(t *testing.T) {
		t.Parallel()
		d, _, _ := newTestDetector(t, testTolerance)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := d.WaitForStability(ctx, 0) // unbounded timeout
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	})
}

func TestOvertempHookFires(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	w, err := window.NewWithClock(testTTL, testFullTime, clk.Now)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	d := NewDetector(Config{
		Name:      "overtemp-test",
		Interval:  time.Second,
		Tolerance: testTolerance,
		MaxKelvin: 1.5,
	}, nil, w, logger.Get(logger.ErrorLevel))
	d.now = clk.Now

	var hot []float64
	d.OnOvertemp(func(v float64) { hot = append(hot, v) })

	feed(d, w, clk, 1.0, time.Second)
	feed(d, w, clk, 1.6, time.Second)
	feed(d, w, clk, 1.4, time.Second)

	if len(hot) != 1 || hot[0] != 1.6 {
		t.Fatalf("overtemp hook calls: %v", hot)
	}
}

func TestToleranceUpdateAppliesOnNextEvaluation(t *testing.T) {
	t.Parallel()

	d, w, clk := newTestDetector(t, 1e-9) // impossibly tight

	step := 5 * time.Second
	// Mild slope: drift well below 1e-3 but above 1e-9.
	slope := 1e-5 / testFullTime.Seconds()
	for i := 0; i < 100; i++ {
		feed(d, w, clk, 4.0+slope*float64(i)*step.Seconds(), step)
	}
	if d.Status().Stable {
		t.Fatal("stable under impossibly tight tolerance")
	}

	d.SetTolerance(testTolerance)
	for i := 100; i < 120; i++ {
		feed(d, w, clk, 4.0+slope*float64(i)*step.Seconds(), step)
	}
	if !d.Status().Stable {
		st := d.Status()
		t.Fatalf("not stable after relaxing tolerance: drift=%v r2=%v", st.Drift, st.RSquared)
	}
}

func TestLinearFit(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mk := func(vals []float64, step time.Duration) []window.Sample {
		out := make([]window.Sample, len(vals))
		for i, v := range vals {
			out[i] = window.Sample{At: base.Add(time.Duration(i) * step), Value: v}
		}
		return out
	}

	t.Run("exact line recovers slope with perfect fit", func(t *testing.T) {
		t.Parallel()
		fit, ok := linearFit(mk([]float64{1, 3, 5, 7, 9}, time.Second))
		if !ok {
			t.Fatal("fit failed")
		}
		if math.Abs(fit.Slope-2) > 1e-12 {
			t.Fatalf("slope: want 2, got %v", fit.Slope)
		}
		if math.Abs(fit.RSquared-1) > 1e-12 {
			t.Fatalf("R²: want 1, got %v", fit.RSquared)
		}
	})

	t.Run("constant signal has zero slope and R² of one", func(t *testing.T) {
		t.Parallel()
		fit, ok := linearFit(mk([]float64{4, 4, 4, 4}, time.Second))
		if !ok {
			t.Fatal("fit failed")
		}
		if fit.Slope != 0 {
			t.Fatalf("slope: want 0, got %v", fit.Slope)
		}
		if fit.RSquared != 1 {
			t.Fatalf("R²: want 1, got %v", fit.RSquared)
		}
	})

	t.Run("too few samples", func(t *testing.T) {
		t.Parallel()
		if _, ok := linearFit(mk([]float64{4}, time.Second)); ok {
			t.Fatal("fit accepted a single sample")
		}
	})

	t.Run("NaN sample rejects the fit", func(t *testing.T) {
		t.Parallel()
		if _, ok := linearFit(mk([]float64{1, math.NaN(), 3}, time.Second)); ok {
			t.Fatal("fit accepted NaN")
		}
	})
}
