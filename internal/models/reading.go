package models

import "time"

// TemperatureStatus is the current snapshot of the monitored sensor and its
// sliding window. Statistics fields are omitted until the window holds enough
// samples to compute them.
type TemperatureStatus struct {
	Sensor      string    `json:"sensor"`
	Kelvin      float64   `json:"kelvin"`
	MeanKelvin  *float64  `json:"mean_kelvin,omitempty"`
	StdKelvin   *float64  `json:"std_kelvin,omitempty"`
	SpanKelvin  *float64  `json:"span_kelvin,omitempty"`
	SampleCount int       `json:"sample_count"`
	WindowFull  bool      `json:"window_full"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StabilityStatus reports the detector's current verdict together with the
// last computed fit quality.
type StabilityStatus struct {
	Sensor      string     `json:"sensor"`
	Stable      bool       `json:"stable"`
	StableSince *time.Time `json:"stable_since,omitempty"`
	DriftKelvin float64    `json:"drift_kelvin"`
	RSquared    float64    `json:"r_squared"`
	Tolerance   float64    `json:"tolerance_kelvin"`
	WindowFull  bool       `json:"window_full"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SamplePoint is one timestamped reading exposed to external consumers
// (WebSocket stream, MQTT plot sink).
type SamplePoint struct {
	At     time.Time `json:"at"`
	Kelvin float64   `json:"kelvin"`
}
