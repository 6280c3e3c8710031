package instrument

import (
	"context"
	"errors"
	"testing"
)

// sessionHeater counts commits and records the staged calls.
type sessionHeater struct {
	commits int
	calls   []string
	failSet bool
}

func (h *sessionHeater) SetMode(ctx context.Context, m HeaterMode) error {
	if h.failSet {
		return errors.New("write refused")
	}
	h.calls = append(h.calls, "mode="+string(m))
	return nil
}
func (h *sessionHeater) SetRange(ctx context.Context, r HeaterRange) error {
	h.calls = append(h.calls, "range="+string(r))
	return nil
}
func (h *sessionHeater) SetP(ctx context.Context, p float64) error        { return nil }
func (h *sessionHeater) SetI(ctx context.Context, i float64) error        { return nil }
func (h *sessionHeater) SetD(ctx context.Context, d float64) error        { return nil }
func (h *sessionHeater) SetSetpoint(ctx context.Context, sp float64) error { return nil }
func (h *sessionHeater) SetManualValue(ctx context.Context, v float64) error {
	h.calls = append(h.calls, "manual")
	return nil
}
func (h *sessionHeater) Commit(ctx context.Context) error {
	h.commits++
	return nil
}

func TestWriteSession_CommitsExactlyOnce(t *testing.T) {
	t.Parallel()
	h := &sessionHeater{}
	err := WriteSession(context.Background(), h, func(hh Heater) error {
		_ = hh.SetMode(context.Background(), ModeOpenLoop)
		_ = hh.SetRange(context.Background(), Range1mA)
		return nil
	})
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if h.commits != 1 {
		t.Fatalf("commits: want 1, got %d", h.commits)
	}
}

func TestWriteSession_CommitsEvenWhenBodyFails(t *testing.T) {
	t.Parallel()
	h := &sessionHeater{}
	bodyErr := errors.New("staging failed")
	err := WriteSession(context.Background(), h, func(Heater) error { return bodyErr })
	if !errors.Is(err, bodyErr) {
		t.Fatalf("want body error, got %v", err)
	}
	if h.commits != 1 {
		t.Fatalf("commit skipped on body failure: %d commits", h.commits)
	}
}

func TestTurnOff_StagesSafeStateAndCommits(t *testing.T) {
	t.Parallel()
	h := &sessionHeater{}
	if err := TurnOff(context.Background(), h); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	want := []string{"mode=off", "range=off", "manual"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls: want %v, got %v", want, h.calls)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Fatalf("calls: want %v, got %v", want, h.calls)
		}
	}
	if h.commits != 1 {
		t.Fatalf("commits: want 1, got %d", h.commits)
	}
}

func TestTransientErrorWrapping(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := Transient("read", cause)
	if !IsTransient(err) {
		t.Fatal("Transient not recognized by IsTransient")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not unwrappable")
	}
	wrapped := errors.Join(errors.New("outer"), err)
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient not recognized")
	}
}

func TestRangesEnumerationOrder(t *testing.T) {
	t.Parallel()
	if Ranges[0] != RangeOff {
		t.Fatalf("first range must be off, got %s", Ranges[0])
	}
	if len(Ranges) != 9 {
		t.Fatalf("expected 9 hardware ranges, got %d", len(Ranges))
	}
}
