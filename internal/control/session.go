// Package control coordinates exclusive instrument access and the heater
// calibration procedures built on the stability detector.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
)

var (
	// ErrNoActiveSession flags a session-scoped operation invoked without
	// an active session. Programmer error: fail fast, do not retry.
	ErrNoActiveSession = errors.New("control: operation requires an active session")
	// ErrSessionActive is returned when a second session is opened while
	// one is still holding the scanner.
	ErrSessionActive = errors.New("control: a session is already active")
)

// Controller owns the scanner and exposes scoped sessions that pin the
// multiplexed sensor channel for the duration of a control operation. The
// background stability detector is owned by the caller and runs for the
// controller's entire lifetime, not per session.
type Controller struct {
	scanner instrument.Scanner
	sensor  string
	log     *logger.Logger

	mu     sync.Mutex
	active bool
}

// NewController builds a controller targeting the named sensor channel.
func NewController(scanner instrument.Scanner, sensor string, log *logger.Logger) (*Controller, error) {
	if _, ok := instrument.SensorChannels[sensor]; !ok {
		return nil, fmt.Errorf("control: unknown sensor %q", sensor)
	}
	return &Controller{
		scanner: scanner,
		sensor:  sensor,
		log:     log.Named("control"),
	}, nil
}

// Sensor returns the target sensor channel name.
func (c *Controller) Sensor() string { return c.sensor }

// requireSession guards session-scoped operations.
func (c *Controller) requireSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNoActiveSession
	}
	return nil
}

// Session holds exclusive, scoped ownership of the channel selector. Close
// restores the recorded autoscan setting and must run on every exit path.
type Session struct {
	c            *Controller
	prevAutoscan bool

	mu     sync.Mutex
	closed bool
}

// OpenSession records the current autoscan setting, disables scanning and
// selects the target channel. The caller must Close the session (typically
// via defer) regardless of how the control operation exits.
func (c *Controller) OpenSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.active = true
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}

	prev, err := c.scanner.Autoscan(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("read autoscan: %w", err)
	}
	if err := c.scanner.SetAutoscan(ctx, false); err != nil {
		release()
		return nil, fmt.Errorf("disable autoscan: %w", err)
	}
	if err := c.scanner.SelectChannel(ctx, c.sensor); err != nil {
		// Autoscan was already touched; undo before failing.
		if rerr := c.scanner.SetAutoscan(ctx, prev); rerr != nil {
			c.log.Errorw("autoscan restore failed after select error", "err", rerr)
		}
		release()
		return nil, fmt.Errorf("select channel %q: %w", c.sensor, err)
	}

	c.log.Infow("session opened", "sensor", c.sensor, "prev_autoscan", prev)
	return &Session{c: c, prevAutoscan: prev}, nil
}

// Close restores the previously recorded autoscan setting and releases the
// session. Idempotent; later calls are no-ops. The restore uses a context
// detached from cancellation so teardown proceeds even when the operation
// that owned the session was cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	defer func() {
		s.c.mu.Lock()
		s.c.active = false
		s.c.mu.Unlock()
	}()

	err := s.c.scanner.SetAutoscan(context.WithoutCancel(ctx), s.prevAutoscan)
	if err != nil {
		s.c.log.Errorw("autoscan restore failed on session close", "err", err)
		return fmt.Errorf("restore autoscan: %w", err)
	}
	s.c.log.Infow("session closed", "sensor", s.c.sensor, "autoscan", s.prevAutoscan)
	return nil
}
