package models

import "time"

// Event types recorded in the operational log.
const (
	EventStability   = "STABILITY"
	EventOvertemp    = "OVERTEMP"
	EventCalibration = "CALIBRATION"
	EventHeater      = "HEATER"
)

// ControlEvent is a single entry in the operational event log.
type ControlEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // STABILITY | OVERTEMP | CALIBRATION | HEATER
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
