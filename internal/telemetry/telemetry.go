// Package telemetry streams monitor snapshots to an MQTT broker, for the
// lab's plotting and alerting consumers.
package telemetry

import (
	"encoding/json"
	"time"

	"cryostat_controller/internal/models"
)

// TopicTemperature carries periodic temperature points.
const TopicTemperature = "cryostat/temperature"

// TopicStability carries stability verdict changes, retained so late
// subscribers see the current verdict immediately.
const TopicStability = "cryostat/stability"

// Publisher publishes monitor snapshots to the broker.
type Publisher interface {
	// PublishTemperature sends one reading. Returns error if publishing
	// fails (must not crash the monitor loop).
	PublishTemperature(st models.TemperatureStatus) error

	// PublishStability sends the current verdict.
	PublishStability(st models.StabilityStatus) error

	// Close disconnects from the broker.
	Close() error
}

// temperaturePayload is the wire shape of one temperature point.
type temperaturePayload struct {
	Sensor    string  `json:"sensor"`
	Kelvin    float64 `json:"kelvin"`
	Timestamp string  `json:"timestamp"`
}

// FormatTemperaturePayload creates the JSON payload for one reading.
func FormatTemperaturePayload(st models.TemperatureStatus) ([]byte, error) {
	return json.Marshal(temperaturePayload{
		Sensor:    st.Sensor,
		Kelvin:    st.Kelvin,
		Timestamp: st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// FormatStabilityPayload creates the JSON payload for the verdict. The
// models struct already carries JSON tags, so it is sent as-is.
func FormatStabilityPayload(st models.StabilityStatus) ([]byte, error) {
	return json.Marshal(st)
}
