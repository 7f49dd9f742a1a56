package model

import "time"

// PumpStatus indicates whether the irrigation pump is on or off.
type PumpStatus string

const (
	PumpOn  PumpStatus = "ON"
	PumpOff PumpStatus = "OFF"
)

// PumpMode selects between the autonomous control loop and manual operation.
type PumpMode string

const (
	ModeAuto   PumpMode = "auto"
	ModeManual PumpMode = "manual"
)

// StateEventKind discriminates the two fields a state-topic message can carry.
type StateEventKind string

const (
	EventPumpStatus StateEventKind = "pumpStatus"
	EventPumpMode   StateEventKind = "pumpMode"
)

// DeviceStateEvent is a normalized pump status or mode change originating
// from the device state topic. It is the only network source allowed to
// mutate pump fields; sensor batches never carry them.
type DeviceStateEvent struct {
	Kind      StateEventKind `json:"kind"`
	Status    PumpStatus     `json:"status,omitempty"`
	Mode      PumpMode       `json:"mode,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
