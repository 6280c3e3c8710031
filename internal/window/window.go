// Package window implements a time-bounded sample buffer with eviction and
// summary statistics, shared between a single polling writer and multiple
// readers.
package window

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrInvalidConfig is returned when full_time is not strictly below ttl.
	ErrInvalidConfig = errors.New("window: full_time must be strictly less than ttl")
	// ErrInsufficientData is returned when a statistic needs more samples
	// than are currently retained. Recoverable: retry once more samples land.
	ErrInsufficientData = errors.New("window: not enough samples")
	// ErrNaNSample is returned when a retained NaN sample would corrupt a
	// statistic. The caller must not feed the result into control decisions.
	ErrNaNSample = errors.New("window: retained sample is NaN")
)

// Sample is a single timestamped reading. Immutable once recorded.
type Sample struct {
	At    time.Time
	Value float64
}

// SlidingWindow retains samples no older than ttl. It is considered full once
// the retained samples cover at least fullTime. Safe for concurrent use.
type SlidingWindow struct {
	mu       sync.Mutex
	ttl      time.Duration
	fullTime time.Duration
	samples  []Sample
	now      func() time.Time
}

// New validates the configuration and returns an empty window.
func New(ttl, fullTime time.Duration) (*SlidingWindow, error) {
	return NewWithClock(ttl, fullTime, time.Now)
}

// NewWithClock is New with an injected time source, for tests and simulated
// instruments that run on virtual time.
func NewWithClock(ttl, fullTime time.Duration, now func() time.Time) (*SlidingWindow, error) {
	if ttl <= 0 || fullTime <= 0 {
		return nil, fmt.Errorf("%w: ttl=%v full_time=%v", ErrInvalidConfig, ttl, fullTime)
	}
	if fullTime >= ttl {
		return nil, fmt.Errorf("%w: ttl=%v full_time=%v", ErrInvalidConfig, ttl, fullTime)
	}
	return &SlidingWindow{ttl: ttl, fullTime: fullTime, now: now}, nil
}

// TTL returns the maximum sample age retained.
func (w *SlidingWindow) TTL() time.Duration { return w.ttl }

// FullTime returns the minimum span required before the window is usable.
func (w *SlidingWindow) FullTime() time.Duration { return w.fullTime }

// evict drops samples older than ttl from the front. Callers hold w.mu.
func (w *SlidingWindow) evict(now time.Time) {
	i := 0
	for i < len(w.samples) && now.Sub(w.samples[i].At) > w.ttl {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Append records a timestamped sample, evicting stale entries first.
func (w *SlidingWindow) Append(value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.evict(now)
	w.samples = append(w.samples, Sample{At: now, Value: value})
}

// Len returns the number of retained samples.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.samples)
}

// IsFull reports whether the retained samples cover at least fullTime.
func (w *SlidingWindow) IsFull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	if len(w.samples) < 2 {
		return false
	}
	first, last := w.samples[0].At, w.samples[len(w.samples)-1].At
	return last.Sub(first) >= w.fullTime
}

// Span returns max(value) - min(value) over retained samples.
func (w *SlidingWindow) Span() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	if len(w.samples) < 2 {
		return 0, ErrInsufficientData
	}
	lo, hi := w.samples[0].Value, w.samples[0].Value
	for _, s := range w.samples[1:] {
		if s.Value < lo {
			lo = s.Value
		}
		if s.Value > hi {
			hi = s.Value
		}
	}
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return 0, ErrNaNSample
	}
	return hi - lo, nil
}

// Mean returns the arithmetic mean of retained samples.
func (w *SlidingWindow) Mean() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return meanLocked(w.samples)
}

// Std returns the population standard deviation of retained samples.
func (w *SlidingWindow) Std() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	m, err := meanLocked(w.samples)
	if err != nil {
		return 0, err
	}
	var ss float64
	for _, s := range w.samples {
		d := s.Value - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(w.samples))), nil
}

func meanLocked(samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrInsufficientData
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	m := sum / float64(len(samples))
	if math.IsNaN(m) {
		return 0, ErrNaNSample
	}
	return m, nil
}

// Snapshot returns an ordered copy of the retained samples. The copy is
// owned by the caller; mutating it never affects the window.
func (w *SlidingWindow) Snapshot() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Clear discards all retained samples. Used by the stability detector on a
// stability-loss transition so stale pre-drift samples cannot contaminate
// the next fit.
func (w *SlidingWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = w.samples[:0]
}
