package model

import "time"

// SensorKind identifies one of the greenhouse sensor channels.
type SensorKind string

const (
	SensorMoisture    SensorKind = "moisture"
	SensorTemperature SensorKind = "temperature"
	SensorHumidity    SensorKind = "humidity"
	SensorLight       SensorKind = "light"
	SensorBattery     SensorKind = "battery"
)

// SensorKinds lists every recognized kind in a fixed order, so callers that
// iterate produce deterministic output.
var SensorKinds = []SensorKind{
	SensorMoisture,
	SensorTemperature,
	SensorHumidity,
	SensorLight,
	SensorBattery,
}

func (k SensorKind) Valid() bool {
	switch k {
	case SensorMoisture, SensorTemperature, SensorHumidity, SensorLight, SensorBattery:
		return true
	}
	return false
}

// SensorReading is a single normalized sensor sample. Readings are folded
// into DeviceState on arrival and never retained individually.
type SensorReading struct {
	Kind      SensorKind `json:"kind"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}
