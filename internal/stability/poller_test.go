package stability

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/window"
)

// scriptedSensor returns values (or errors) in sequence, repeating the last
// entry once exhausted.
type scriptedSensor struct {
	mu     sync.Mutex
	values []float64
	errs   []error
	i      int
	reads  int
}

func (s *scriptedSensor) Temperature(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	idx := s.i
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	} else {
		s.i++
	}
	if s.errs != nil && s.errs[idx] != nil {
		return 0, s.errs[idx]
	}
	return s.values[idx], nil
}

func (s *scriptedSensor) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func mustWindow(t *testing.T) *window.SlidingWindow {
	t.Helper()
	w, err := window.New(10*time.Minute, 5*time.Minute)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	return w
}

func TestPoller_AppendsToAllWindowsInSameTick(t *testing.T) {
	w1 := mustWindow(t)
	w2 := mustWindow(t)
	sensor := &scriptedSensor{values: []float64{3.5}}

	p := NewPoller("multi-window", time.Millisecond, sensor, logger.Get(logger.ErrorLevel), w1, w2)
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	n1, n2 := w1.Len(), w2.Len()
	if n1 == 0 {
		t.Fatal("no samples appended")
	}
	if n1 != n2 {
		t.Fatalf("windows diverged: %d vs %d samples", n1, n2)
	}
}

func TestPoller_ReadFailureSkippedAndRetried(t *testing.T) {
	w := mustWindow(t)
	readErr := instrument.Transient("read", errors.New("api hiccup"))
	sensor := &scriptedSensor{
		values: []float64{0, 2.0},
		errs:   []error{readErr, nil},
	}

	var failures []error
	var mu sync.Mutex
	p := NewPoller("flaky", time.Millisecond, sensor, logger.Get(logger.ErrorLevel), w)
	p.OnReadError(func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	if sensor.readCount() < 2 {
		t.Fatal("loop did not survive the failing read")
	}
	if w.Len() == 0 {
		t.Fatal("no sample appended after the read recovered")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || !instrument.IsTransient(failures[0]) {
		t.Fatalf("unexpected failure reports: %v", failures)
	}
	for _, s := range w.Snapshot() {
		if s.Value != 2.0 {
			t.Fatalf("failed read leaked into window: %+v", s)
		}
	}
}

func TestPoller_NaNReadingDiscarded(t *testing.T) {
	w := mustWindow(t)
	sensor := &scriptedSensor{values: []float64{math.NaN(), 4.2}}

	p := NewPoller("nan", time.Millisecond, sensor, logger.Get(logger.ErrorLevel), w)
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	snap := w.Snapshot()
	if len(snap) == 0 {
		t.Fatal("no samples appended")
	}
	for _, s := range snap {
		if math.IsNaN(s.Value) {
			t.Fatal("NaN sample reached the window")
		}
	}
}

func TestPoller_NoSampleAfterStopReturns(t *testing.T) {
	w := mustWindow(t)
	sensor := &scriptedSensor{values: []float64{1.0}}

	p := NewPoller("stop", time.Millisecond, sensor, logger.Get(logger.ErrorLevel), w)
	p.Start()
	time.Sleep(10 * time.Millisecond)
	p.Stop()

	n := w.Len()
	time.Sleep(20 * time.Millisecond)
	if got := w.Len(); got != n {
		t.Fatalf("samples appended after Stop returned: %d -> %d", n, got)
	}
}
