package service

import (
	"time"

	"cryostat_controller/internal/models"
	"cryostat_controller/internal/stability"
)

// StatusProvider is the read side of the stability detector.
type StatusProvider interface {
	Status() stability.Status
}

type MonitoringService struct {
	sensor   string
	detector StatusProvider
	stats    WindowStats
}

func NewMonitoringService(sensor string, detector StatusProvider, stats WindowStats) *MonitoringService {
	return &MonitoringService{sensor: sensor, detector: detector, stats: stats}
}

// Temperature returns the latest reading with the statistics window summary.
// Statistics the window cannot compute yet stay nil.
func (s *MonitoringService) Temperature() models.TemperatureStatus {
	st := s.detector.Status()
	out := models.TemperatureStatus{
		Sensor:      s.sensor,
		Kelvin:      st.LastValue,
		SampleCount: s.stats.Len(),
		WindowFull:  s.stats.IsFull(),
		UpdatedAt:   toUTC(st.UpdatedAt),
	}
	if v, err := s.stats.Mean(); err == nil {
		out.MeanKelvin = &v
	}
	if v, err := s.stats.Std(); err == nil {
		out.StdKelvin = &v
	}
	if v, err := s.stats.Span(); err == nil {
		out.SpanKelvin = &v
	}
	return out
}

// Samples returns the statistics window contents as timestamped points,
// oldest first. Empty window yields an empty slice, not nil.
func (s *MonitoringService) Samples() []models.SamplePoint {
	snap := s.stats.Snapshot()
	out := make([]models.SamplePoint, len(snap))
	for i, sm := range snap {
		out[i] = models.SamplePoint{At: sm.At.UTC(), Kelvin: sm.Value}
	}
	return out
}

// Stability returns the detector's current verdict.
func (s *MonitoringService) Stability() models.StabilityStatus {
	st := s.detector.Status()
	out := models.StabilityStatus{
		Sensor:      s.sensor,
		Stable:      st.Stable,
		DriftKelvin: st.Drift,
		RSquared:    st.RSquared,
		Tolerance:   st.Tolerance,
		WindowFull:  st.WindowFull,
		UpdatedAt:   toUTC(st.UpdatedAt),
	}
	if st.Stable {
		since := st.StableSince.UTC()
		out.StableSince = &since
	}
	return out
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
