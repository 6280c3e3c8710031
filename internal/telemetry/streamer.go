package telemetry

import (
	"context"
	"time"

	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/models"
	"cryostat_controller/internal/task"
)

// Snapshotter is the monitor-side source of the streamed snapshots.
type Snapshotter interface {
	Temperature() models.TemperatureStatus
	Stability() models.StabilityStatus
}

// Streamer periodically publishes the monitor state. Temperature goes out on
// every tick; the stability verdict only when it flips, since that message is
// retained on the broker.
type Streamer struct {
	pub  Publisher
	src  Snapshotter
	log  *logger.Logger
	loop *task.Periodic

	lastStable   bool
	havePrevious bool
}

// NewStreamer builds a streamer ticking at the given interval.
func NewStreamer(pub Publisher, src Snapshotter, interval time.Duration, log *logger.Logger) *Streamer {
	s := &Streamer{
		pub: pub,
		src: src,
		log: log.Named("telemetry"),
	}
	s.loop = task.NewPeriodic("telemetry", interval, s.tick, log)
	return s
}

// Start launches the publishing loop. Safe to call repeatedly.
func (s *Streamer) Start() { s.loop.Start() }

// Stop halts the loop and blocks until the in-flight tick finishes.
func (s *Streamer) Stop() { s.loop.Stop() }

func (s *Streamer) tick(ctx context.Context) error {
	if err := s.pub.PublishTemperature(s.src.Temperature()); err != nil {
		return err
	}

	st := s.src.Stability()
	if s.havePrevious && st.Stable == s.lastStable {
		return nil
	}
	if err := s.pub.PublishStability(st); err != nil {
		return err
	}
	s.lastStable = st.Stable
	s.havePrevious = true
	return nil
}
