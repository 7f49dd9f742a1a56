package model

import "time"

// Severity of an emitted alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertEvent is emitted once per transition into a critical range (or as a
// warning advisory from the pump controller). The core emits and forgets;
// retention is the sink's concern.
type AlertEvent struct {
	Severity  Severity   `json:"severity"`
	Kind      SensorKind `json:"sensor"`
	Value     float64    `json:"value"`
	DeviceID  string     `json:"device_id"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusMessage is a one-shot, user-visible notice (command failures,
// connection hiccups). It never represents persistent error state.
type StatusMessage struct {
	Level     Severity  `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
