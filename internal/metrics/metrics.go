// Package metrics exports the monitor's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TemperatureKelvin is the latest accepted reading per sensor.
	TemperatureKelvin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_temperature_kelvin",
			Help: "Latest temperature reading",
		},
		[]string{"sensor"},
	)

	// WindowSamples is the current sliding window population per sensor.
	WindowSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_window_samples",
			Help: "Number of samples currently held in the stability window",
		},
		[]string{"sensor"},
	)

	// WindowMeanKelvin, WindowStdKelvin and WindowSpanKelvin mirror the
	// statistics window. Unset while the window holds too few samples.
	WindowMeanKelvin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_window_mean_kelvin",
			Help: "Mean temperature over the statistics window",
		},
		[]string{"sensor"},
	)

	WindowStdKelvin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_window_std_kelvin",
			Help: "Temperature standard deviation over the statistics window",
		},
		[]string{"sensor"},
	)

	WindowSpanKelvin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_window_span_kelvin",
			Help: "Temperature max-min span over the statistics window",
		},
		[]string{"sensor"},
	)

	// Stable reports the detector verdict: 1 while STABLE, 0 otherwise.
	Stable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_stable",
			Help: "Whether the monitored signal is currently considered stable",
		},
		[]string{"sensor"},
	)

	// DriftKelvin is the last drift estimate over the full window span.
	DriftKelvin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryostat_drift_kelvin",
			Help: "Last projected temperature drift over the full window span",
		},
		[]string{"sensor"},
	)

	// StabilityTransitions counts verdict flips, labeled by direction.
	StabilityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryostat_stability_transitions_total",
			Help: "Total number of stability verdict transitions",
		},
		[]string{"sensor", "to"},
	)

	// ReadFailures counts discarded sensor reads (transport errors and NaN).
	ReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryostat_read_failures_total",
			Help: "Total number of failed or discarded sensor reads",
		},
		[]string{"sensor"},
	)

	// OvertempEvents counts readings above the configured guard threshold.
	OvertempEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryostat_overtemp_events_total",
			Help: "Total number of readings above the overtemperature threshold",
		},
		[]string{"sensor"},
	)

	// CalibrationRuns counts finished calibration procedures by outcome.
	CalibrationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryostat_calibration_runs_total",
			Help: "Total number of calibration procedures run",
		},
		[]string{"procedure", "outcome"},
	)
)

// boolToGauge maps a verdict onto the 0/1 gauge convention.
func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveStability updates the verdict gauges in one place.
func ObserveStability(sensor string, stable bool, drift float64) {
	Stable.WithLabelValues(sensor).Set(boolToGauge(stable))
	DriftKelvin.WithLabelValues(sensor).Set(drift)
}
